package node

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shanmukanaks/protocol/consensus"
	"github.com/shanmukanaks/protocol/lightclient"
)

type published struct {
	subject string
	data    []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, published{subject: subject, data: data})
	return nil
}

func newTestPublisher(t *testing.T) (*NATSPublisher, *fakePublisher, *Metrics) {
	t.Helper()
	m := NewMetrics(prometheus.NewRegistry())
	fake := &fakePublisher{}
	p := NewNATSPublisher(fake, "swapledger.regtest", m, nil)
	p.now = func() time.Time { return time.Unix(1_700_000_123, 0) }
	return p, fake, m
}

func TestNATSPublisherSubjects(t *testing.T) {
	p, fake, m := newTestPublisher(t)
	ctx := context.Background()

	v := consensus.DepositVault{VaultIndex: 3, ExpectedSats: 50_000}
	v.DepositAmount.SetUint64(997_000)
	require.NoError(t, p.VaultUpdated(ctx, v))
	require.NoError(t, p.SwapUpdated(ctx, consensus.ProposedSwap{SwapIndex: 1, State: consensus.SwapStateProved}))
	require.NoError(t, p.ForkDetected(ctx, lightclient.Fork{Kind: lightclient.ForkMissingBlocks}))

	require.Len(t, fake.msgs, 3)
	assert.Equal(t, "swapledger.regtest.vault.updated", fake.msgs[0].subject)
	assert.Equal(t, "swapledger.regtest.swap.updated", fake.msgs[1].subject)
	assert.Equal(t, "swapledger.regtest.lightclient.fork", fake.msgs[2].subject)

	var ev Event
	require.NoError(t, json.Unmarshal(fake.msgs[0].data, &ev))
	assert.Equal(t, EventVaultUpdated, ev.Type)
	assert.Equal(t, int64(1_700_000_123), ev.Timestamp)
	var got consensus.DepositVault
	require.NoError(t, json.Unmarshal(ev.Data, &got))
	want, err := consensus.HashVault(&v)
	require.NoError(t, err)
	h, err := consensus.HashVault(&got)
	require.NoError(t, err)
	assert.Equal(t, want, h)

	ids := map[string]bool{}
	for _, msg := range fake.msgs {
		var e Event
		require.NoError(t, json.Unmarshal(msg.data, &e))
		ids[e.ID] = true
	}
	assert.Len(t, ids, 3, "event ids are unique")
	assert.Equal(t, float64(3), testutil.ToFloat64(m.Published.WithLabelValues("nats", "ok")))
}

func TestNATSPublisherErrors(t *testing.T) {
	p, fake, m := newTestPublisher(t)
	fake.err = errors.New("nats: connection closed")

	err := p.SwapUpdated(context.Background(), consensus.ProposedSwap{})
	require.ErrorIs(t, err, fake.err)
	assert.Contains(t, err.Error(), "swapledger.regtest.swap.updated")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Published.WithLabelValues("nats", "error")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fake.err = nil
	require.ErrorIs(t, p.VaultUpdated(ctx, consensus.DepositVault{}), context.Canceled)
	assert.Empty(t, fake.msgs)
}
