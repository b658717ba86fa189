package keeper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ramm/native/ramm"
	"ramm/observability/metrics"
)

// Ratcheter advances the virtual counters of an asset.
type Ratcheter interface {
	Mints(ctx context.Context) ([]string, error)
	Ratchet(ctx context.Context, mint string) (*ramm.State, bool, error)
}

// Pruner drops idempotency keys older than a cutoff.
type Pruner interface {
	PruneIdempotencyKeys(ctx context.Context, cutoff time.Time) (int64, error)
}

// Keeper periodically ratchets every initialised asset so reference prices
// drift even when nobody trades.
type Keeper struct {
	target    Ratcheter
	interval  time.Duration
	logger    *slog.Logger
	now       func() time.Time
	pruner    Pruner
	retention time.Duration
	once      sync.Once
}

// Option configures a Keeper.
type Option func(*Keeper)

// WithLogger installs a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(k *Keeper) {
		if l != nil {
			k.logger = l
		}
	}
}

// WithClock overrides the clock used for metrics and pruning cutoffs.
func WithClock(now func() time.Time) Option {
	return func(k *Keeper) {
		if now != nil {
			k.now = now
		}
	}
}

// WithPruner forgets idempotency keys older than retention on every tick.
func WithPruner(p Pruner, retention time.Duration) Option {
	return func(k *Keeper) {
		k.pruner = p
		k.retention = retention
	}
}

// New constructs a keeper instance.
func New(target Ratcheter, interval time.Duration, opts ...Option) (*Keeper, error) {
	if target == nil {
		return nil, fmt.Errorf("ratchet target required")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be positive")
	}
	k := &Keeper{target: target, interval: interval, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(k)
		}
	}
	return k, nil
}

// Run blocks, ratcheting on every interval until the context is cancelled.
func (k *Keeper) Run(ctx context.Context) error {
	if k == nil {
		return fmt.Errorf("keeper not configured")
	}
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()
	k.once.Do(func() {
		k.logger.Info("rammd: ratchet keeper started", slog.Duration("interval", k.interval))
	})
	for {
		if err := k.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			k.logger.Warn("rammd: keeper tick error", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick ratchets every asset once. A failing asset does not stop the pass; the
// first failure is returned after all assets were attempted.
func (k *Keeper) Tick(ctx context.Context) error {
	if k == nil {
		return fmt.Errorf("keeper not configured")
	}
	start := time.Now()
	defer func() { metrics.Keeper().ObserveTick(time.Since(start)) }()

	mints, err := k.target.Mints(ctx)
	if err != nil {
		return fmt.Errorf("list assets: %w", err)
	}
	var first error
	for _, mint := range mints {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		st, applied, err := k.target.Ratchet(ctx, mint)
		if err != nil {
			metrics.Keeper().IncFailure(mint)
			k.logger.Warn("rammd: ratchet failed", slog.String("mint", mint), slog.String("error", err.Error()))
			if first == nil {
				first = fmt.Errorf("ratchet %s: %w", mint, err)
			}
			continue
		}
		metrics.Keeper().ObserveRatchet(mint, applied, k.now())
		if applied {
			k.logger.Debug("rammd: ratchet applied",
				slog.String("mint", mint),
				slog.String("virtual_issuance", st.VirtualIssuance.Dec()),
				slog.String("virtual_redemption", st.VirtualRedemption.Dec()))
		}
	}
	if k.pruner != nil && k.retention > 0 {
		if pruned, err := k.pruner.PruneIdempotencyKeys(ctx, k.now().Add(-k.retention)); err != nil {
			k.logger.Warn("rammd: prune idempotency keys", slog.String("error", err.Error()))
		} else if pruned > 0 {
			k.logger.Info("rammd: pruned idempotency keys", slog.Int64("count", pruned))
		}
	}
	return first
}
