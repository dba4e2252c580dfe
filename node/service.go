package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/holiman/uint256"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/shanmukanaks/protocol/exchange"
	"github.com/shanmukanaks/protocol/indexer"
	"github.com/shanmukanaks/protocol/lightclient"
	"github.com/shanmukanaks/protocol/node/store"
	"github.com/shanmukanaks/protocol/token"
	"github.com/shanmukanaks/protocol/verifier"
)

const shutdownTimeout = 5 * time.Second

// ForkAlerter is told about every fork the watchtower finds.
type ForkAlerter interface {
	ForkDetected(ctx context.Context, f lightclient.Fork) error
}

// Service wires the ledger to its store, light client, notification sinks
// and HTTP surface.
type Service struct {
	cfg Config
	log logrus.FieldLogger

	db       *store.DB
	ledger   *token.Ledger
	client   *lightclient.Client
	chain    *lightclient.HeaderChain
	ex       *exchange.Exchange
	registry *prometheus.Registry
	metrics  *Metrics
	hub      *EventHub
	nc       *nats.Conn
	gdb      *gorm.DB
	index    *indexer.Indexer
	tower    *lightclient.Watchtower
	api      *APIServer
	alerters []ForkAlerter
}

func NewService(cfg Config, log logrus.FieldLogger) (s *Service, err error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	s = &Service{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			_ = s.Close()
		}
	}()

	s.registry = prometheus.NewRegistry()
	s.metrics = NewMetrics(s.registry)

	s.db, err = store.Open(cfg.DataDir, cfg.ChainIDHex())
	if err != nil {
		return nil, err
	}
	if err := s.openLightClient(); err != nil {
		return nil, err
	}

	exCfg, err := cfg.Exchange.Exchange()
	if err != nil {
		return nil, err
	}
	registry := verifier.NewRegistry()
	var backend verifier.Backend = verifier.MockVerifier{}
	if cfg.Exchange.Verifier == "digest" {
		backend = verifier.DigestVerifier{}
	}
	if err := registry.Register(exCfg.VerificationKey, backend); err != nil {
		return nil, err
	}

	s.ledger = token.NewLedger(cfg.Exchange.TokenSymbol, log)
	s.hub = NewEventHub(s.metrics, log)
	s.alerters = append(s.alerters, s.hub)
	opts := []exchange.Option{
		exchange.WithLogger(log),
		exchange.WithObserver(s.metrics),
		exchange.WithNotifier(s.hub),
	}
	if cfg.NATS.URL != "" {
		s.nc, err = ConnectNATS(cfg.NATS.URL, log)
		if err != nil {
			return nil, err
		}
		pub := NewNATSPublisher(s.nc, cfg.NATS.SubjectPrefix, s.metrics, log)
		opts = append(opts, exchange.WithNotifier(pub))
		s.alerters = append(s.alerters, pub)
	}
	if cfg.Indexer.DSN != "" {
		s.gdb, err = indexer.OpenPostgres(cfg.Indexer.DSN)
		if err != nil {
			return nil, err
		}
		s.index = indexer.New(indexer.NewGormRepository(s.gdb), log)
		opts = append(opts, exchange.WithNotifier(s.index))
	}

	s.ex, err = exchange.New(exCfg, s.db, s.ledger.Account(exCfg.Address), registry, s.client, opts...)
	if err != nil {
		return nil, err
	}

	towerCfg := lightclient.DefaultWatchtowerConfig()
	towerCfg.PollInterval = cfg.LightClient.WatchtowerInterval
	s.tower = lightclient.NewWatchtower(towerCfg, lightclient.NewCommittedView(s.client, s.chain), s.chain, s.raiseForkAlert, log)

	deps := APIDeps{
		Exchange:    s.ex,
		LightClient: s.client,
		Chain:       s.chain,
		Hub:         s.hub,
		Metrics:     s.metrics,
		Gatherer:    s.registry,
	}
	if s.index != nil {
		deps.Index = s.index
	}
	s.api = NewAPIServer(cfg.API.BindAddr, deps, log)

	s.observeStartup()
	return s, nil
}

// openLightClient rebuilds the header chain from disk and restores the
// committed root, seeding it with the checkpoint-only root on first start.
func (s *Service) openLightClient() error {
	params, checkpoint, leaf, err := s.cfg.LightClient.Checkpoint()
	if err != nil {
		return err
	}
	s.chain, err = lightclient.NewHeaderChain(params, checkpoint, leaf, nil)
	if err != nil {
		return err
	}
	seedRoot := s.chain.Root()

	first, headers, err := s.db.LoadHeaders()
	if err != nil {
		return err
	}
	if len(headers) > 0 {
		if first != leaf.Height+1 {
			return fmt.Errorf("stored headers start at %d, checkpoint is %d", first, leaf.Height)
		}
		if _, err := s.chain.ConnectHeaders(headers); err != nil {
			return fmt.Errorf("replay stored headers: %w", err)
		}
	}
	s.chain.SetSink(s.db)

	root, ok, err := s.db.LightClientRoot()
	if err != nil {
		return err
	}
	if !ok {
		root = seedRoot
		if err := s.db.SaveLightClientRoot(root); err != nil {
			return err
		}
	}
	s.client = lightclient.NewClient(lightclient.ClientConfig{
		BaseHeight:  leaf.Height,
		InitialRoot: root,
		Store:       s.db,
		Logger:      s.log,
	})
	return nil
}

func (s *Service) observeStartup() {
	s.metrics.ObserveHeaderTip(s.chain.Tip().Height)
	snap, err := s.ex.Snapshot()
	if err != nil {
		s.log.WithError(err).Warn("initial ledger snapshot failed")
		return
	}
	fees, err := uint256.FromDecimal(snap.AccumulatedFees)
	if err != nil {
		fees = new(uint256.Int)
	}
	s.metrics.ObserveLedger(snap.VaultCommitments, snap.SwapCommitments, fees)
	s.log.WithFields(logrus.Fields{
		"vaults":    snap.VaultCommitments,
		"swaps":     snap.SwapCommitments,
		"fees":      snap.AccumulatedFees,
		"chain_tip": s.chain.Tip().Height,
		"data_dir":  s.db.ChainDir(),
	}).Info("ledger opened")
}

func (s *Service) raiseForkAlert(ctx context.Context, f lightclient.Fork) error {
	s.metrics.ObserveFork(f.Kind)
	s.log.WithFields(logrus.Fields{
		"kind":              f.Kind.String(),
		"lc_tip_height":     f.LightClientTip.Height,
		"engine_tip_height": f.EngineTip.Height,
	}).Warn("light client diverges from the header chain")
	var errs []error
	for _, a := range s.alerters {
		if err := a.ForkDetected(ctx, f); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Service) Exchange() *exchange.Exchange          { return s.ex }
func (s *Service) Ledger() *token.Ledger                 { return s.ledger }
func (s *Service) LightClient() *lightclient.Client      { return s.client }
func (s *Service) Chain() *lightclient.HeaderChain       { return s.chain }
func (s *Service) Watchtower() *lightclient.Watchtower   { return s.tower }
func (s *Service) Indexer() *indexer.Indexer             { return s.index }
func (s *Service) API() *APIServer                       { return s.api }
func (s *Service) MetricsRegistry() *prometheus.Registry { return s.registry }

// Run listens on the configured address and serves until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	l, err := net.Listen("tcp", s.cfg.API.BindAddr)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	return s.Serve(ctx, l)
}

// Serve runs the API on l and the watchtower until ctx is done or either
// fails.
func (s *Service) Serve(ctx context.Context, l net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errc := make(chan error, 2)
	go func() { errc <- s.api.Serve(l) }()
	go func() { errc <- s.tower.Run(ctx) }()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errc:
		if errors.Is(runErr, context.Canceled) {
			runErr = nil
		}
	}
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	s.hub.Close()
	if err := s.api.Stop(shutdownCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("api shutdown: %w", err)
	}
	s.log.Info("service stopped")
	return runErr
}

func (s *Service) Close() error {
	var errs []error
	if s.nc != nil {
		s.nc.Close()
	}
	if s.gdb != nil {
		if sqlDB, err := s.gdb.DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		}
	}
	if s.db != nil {
		errs = append(errs, s.db.Close())
		s.db = nil
	}
	return errors.Join(errs...)
}
