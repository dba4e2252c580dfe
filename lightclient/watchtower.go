package lightclient

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/shanmukanaks/protocol/consensus"
)

// ChainView is a source of canonical block leaves above a checkpoint at
// BaseHeight.
type ChainView interface {
	BaseHeight() uint32
	ChainTip(ctx context.Context) (consensus.BlockLeaf, bool, error)
	HasLeaf(ctx context.Context, leafHash [32]byte) (bool, error)
}

// ForkResolver brings the light client back onto the engine chain.
type ForkResolver func(ctx context.Context, f Fork) error

type WatchtowerConfig struct {
	PollInterval      time.Duration
	MaxAttempts       int
	BaseRetryDelay    time.Duration
	MaxRetryDelay     time.Duration
	RetryJitter       time.Duration
	BackoffMultiplier float64
}

func DefaultWatchtowerConfig() WatchtowerConfig {
	return WatchtowerConfig{
		PollInterval:      30 * time.Second,
		MaxAttempts:       5,
		BaseRetryDelay:    time.Second,
		MaxRetryDelay:     time.Minute,
		RetryJitter:       500 * time.Millisecond,
		BackoffMultiplier: 2,
	}
}

// Watchtower polls the light client and the data engine and hands any fork
// it finds to a resolver, retrying with capped exponential backoff.
type Watchtower struct {
	cfg        WatchtowerConfig
	lc         ChainView
	engine     ChainView
	resolve    ForkResolver
	log        logrus.FieldLogger
	jitter     func(time.Duration) time.Duration
	sleep      func(context.Context, time.Duration) error
	processing atomic.Bool
}

func NewWatchtower(cfg WatchtowerConfig, lc, engine ChainView, resolve ForkResolver, log logrus.FieldLogger) *Watchtower {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Watchtower{
		cfg:     cfg,
		lc:      lc,
		engine:  engine,
		resolve: resolve,
		log:     log.WithField("component", "fork_watchtower"),
		jitter: func(bound time.Duration) time.Duration {
			return time.Duration(rand.Int64N(int64(bound) + 1))
		},
		sleep: sleepContext,
	}
}

// Check runs a single fork detection round.
func (w *Watchtower) Check(ctx context.Context) (Fork, error) {
	lcTip, ok, err := w.lc.ChainTip(ctx)
	if err != nil {
		return Fork{}, fmt.Errorf("light client tip: %w", err)
	}
	// A light client holding only its checkpoint has nothing to compare.
	if !ok || lcTip.Height <= w.lc.BaseHeight() {
		return Fork{Kind: ForkNone}, nil
	}
	engineTip, ok, err := w.engine.ChainTip(ctx)
	if err != nil {
		return Fork{}, fmt.Errorf("engine tip: %w", err)
	}
	if !ok {
		return Fork{Kind: ForkNone, LightClientTip: lcTip}, nil
	}
	return DetectFork(lcTip, engineTip, func(h [32]byte) (bool, error) {
		return w.engine.HasLeaf(ctx, h)
	})
}

// Run polls until ctx is cancelled. Only one fork is processed at a time.
func (w *Watchtower) Run(ctx context.Context) error {
	interval := w.cfg.PollInterval
	if interval <= 0 {
		interval = DefaultWatchtowerConfig().PollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	w.log.WithField("interval", interval.String()).Info("fork watchtower started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if w.processing.Load() {
			w.log.Debug("already processing a fork, skipping check")
			continue
		}
		f, err := w.Check(ctx)
		if err != nil {
			w.log.WithError(err).Error("fork detection failed")
			continue
		}
		if f.Kind == ForkNone {
			w.log.Debug("no fork detected")
			continue
		}
		w.processing.Store(true)
		if err := w.ResolveWithRetry(ctx, f); err != nil {
			w.log.WithError(err).Error("fork processing failed")
		}
		w.processing.Store(false)
	}
}

// ResolveWithRetry calls the resolver up to MaxAttempts times.
func (w *Watchtower) ResolveWithRetry(ctx context.Context, f Fork) error {
	fields := logrus.Fields{
		"kind":              f.Kind.String(),
		"lc_tip_height":     f.LightClientTip.Height,
		"engine_tip_height": f.EngineTip.Height,
	}
	attempts := w.cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := Backoff(w.cfg.BaseRetryDelay, attempt-1, w.cfg.BackoffMultiplier, w.cfg.MaxRetryDelay, w.cfg.RetryJitter, w.jitter)
			if err := w.sleep(ctx, delay); err != nil {
				return err
			}
		}
		lastErr = w.resolve(ctx, f)
		if lastErr == nil {
			w.log.WithFields(fields).WithField("attempt", attempt+1).Info("fork resolved")
			return nil
		}
		w.log.WithFields(fields).WithError(lastErr).WithField("attempt", attempt+1).Warn("fork resolution attempt failed")
	}
	return errors.Join(fmt.Errorf("fork resolution gave up after %d attempts", attempts), lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
