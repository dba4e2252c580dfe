package node

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/shanmukanaks/protocol/consensus"
	"github.com/shanmukanaks/protocol/exchange"
	"github.com/shanmukanaks/protocol/lightclient"
)

// Publisher is the slice of *nats.Conn the publisher needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// ConnectNATS dials url and keeps reconnecting for the life of the process.
func ConnectNATS(url string, log logrus.FieldLogger) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name("swap-ledger"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.WithError(err).Warn("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.WithField("url", nc.ConnectedUrl()).Info("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return conn, nil
}

// NATSPublisher publishes change notifications as JSON envelopes on
// <prefix>.vault.updated, <prefix>.swap.updated and <prefix>.lightclient.fork.
type NATSPublisher struct {
	conn    Publisher
	prefix  string
	metrics *Metrics
	log     logrus.FieldLogger
	now     func() time.Time
}

func NewNATSPublisher(conn Publisher, prefix string, metrics *Metrics, log logrus.FieldLogger) *NATSPublisher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &NATSPublisher{
		conn:    conn,
		prefix:  prefix,
		metrics: metrics,
		log:     log.WithField("component", "nats_publisher"),
		now:     time.Now,
	}
}

func (p *NATSPublisher) Subject(eventType string) string {
	return p.prefix + "." + eventType
}

func (p *NATSPublisher) VaultUpdated(ctx context.Context, v consensus.DepositVault) error {
	ev, err := vaultEvent(v, p.now())
	if err != nil {
		return err
	}
	return p.publish(ctx, ev)
}

func (p *NATSPublisher) SwapUpdated(ctx context.Context, s consensus.ProposedSwap) error {
	ev, err := swapEvent(s, p.now())
	if err != nil {
		return err
	}
	return p.publish(ctx, ev)
}

func (p *NATSPublisher) ForkDetected(ctx context.Context, f lightclient.Fork) error {
	ev, err := forkEvent(f, p.now())
	if err != nil {
		return err
	}
	return p.publish(ctx, ev)
}

func (p *NATSPublisher) publish(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	subject := p.Subject(ev.Type)
	err = p.conn.Publish(subject, data)
	if p.metrics != nil {
		p.metrics.ObservePublish("nats", err)
	}
	if err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	p.log.WithFields(logrus.Fields{"subject": subject, "event_id": ev.ID}).Debug("event published")
	return nil
}

var _ exchange.Notifier = (*NATSPublisher)(nil)
