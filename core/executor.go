package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ramm/core/events"
	"ramm/core/state"
	"ramm/crypto"
	"ramm/native/ramm"
	"ramm/observability"
	telemetry "ramm/observability/otel"
	"ramm/storage"
)

// Executor serialises every engine operation against a single database. Each
// call runs inside a storage overlay that is committed only when the whole
// operation succeeds, so a failed issue or redeem leaves no trace. Events are
// emitted after the commit.
type Executor struct {
	mu      sync.Mutex
	db      storage.Database
	emitter events.Emitter
	now     func() time.Time
	logger  *slog.Logger
	metrics *observability.RAMMMetrics
	tracer  trace.Tracer
}

// NewExecutor wraps db. The database must outlive the executor.
func NewExecutor(db storage.Database) *Executor {
	return &Executor{
		db:      db,
		emitter: events.NoopEmitter{},
		now:     time.Now,
		logger:  slog.Default(),
		metrics: observability.RAMM(),
		tracer:  telemetry.Tracer("ramm/core"),
	}
}

// SetEmitter routes committed events to emitter.
func (x *Executor) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	x.emitter = emitter
}

// SetClock overrides the clock used for ratchet watermarks.
func (x *Executor) SetClock(now func() time.Time) {
	if now != nil {
		x.now = now
	}
}

func (x *Executor) SetLogger(logger *slog.Logger) {
	if logger != nil {
		x.logger = logger
	}
}

// Snapshot is a consistent view of an asset and its vaults.
type Snapshot struct {
	State             *ramm.State
	IssuanceVault     crypto.Address
	RedemptionVault   crypto.Address
	IssuanceBalance   uint64
	RedemptionBalance uint64
	Supply            uint64
	// Bounds is nil while the claim supply is zero.
	Bounds        *ramm.Bounds
	ReferenceBuy  string
	ReferenceSell string
	Paused        bool
}

// tx bundles the collaborators bound to one overlay.
type tx struct {
	ledger *state.Ledger
	store  *ramm.KVStore
	pauses *pauseTable
	now    func() time.Time
}

func (t *tx) engine(mint string) *ramm.Engine {
	engine := ramm.NewEngine(mint, ramm.ModuleAuthority(), ramm.Host{
		Settlement: t.ledger,
		Claims:     t.ledger,
		Vaults:     t.ledger,
	})
	engine.SetState(t.store)
	engine.SetPauses(t.pauses)
	engine.SetClock(t.now)
	return engine
}

// run executes fn inside a fresh overlay. When commit is false the overlay is
// always discarded.
func (x *Executor) run(ctx context.Context, op, mint string, commit bool, fn func(*tx) ([]events.Event, error)) (err error) {
	ctx, span := x.tracer.Start(ctx, "ramm."+op, trace.WithAttributes(
		attribute.String("ramm.operation", op),
		attribute.String("ramm.mint", strings.ToUpper(strings.TrimSpace(mint))),
	))
	start := time.Now()
	defer func() {
		x.metrics.Observe(op, mint, time.Since(start), err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			x.logger.WarnContext(ctx, "ramm operation failed",
				slog.String("operation", op),
				slog.String("mint", mint),
				slog.String("error", err.Error()))
		}
		span.End()
	}()
	if err := ctx.Err(); err != nil {
		return err
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	overlay := storage.NewOverlay(x.db)
	kv := storage.NewKV(overlay)
	t := &tx{
		ledger: state.NewLedger(kv),
		store:  ramm.NewKVStore(kv),
		pauses: newPauseTable(kv),
		now:    x.now,
	}
	emitted, err := fn(t)
	if err != nil {
		overlay.Discard()
		return err
	}
	if commit {
		if err := overlay.Commit(); err != nil {
			return fmt.Errorf("commit %s: %w", op, err)
		}
	} else {
		overlay.Discard()
	}
	for _, evt := range emitted {
		x.emitter.Emit(evt)
	}
	return nil
}

// InitAsset creates the pricing state for mint, registers both vaults under
// the module authority and grants it mint authority over the claim token.
func (x *Executor) InitAsset(ctx context.Context, mint string, params ramm.Params) (*ramm.State, error) {
	var out *ramm.State
	err := x.run(ctx, "init", mint, true, func(t *tx) ([]events.Event, error) {
		engine := t.engine(mint)
		created, err := engine.Init(params)
		if err != nil {
			return nil, err
		}
		authority := ramm.ModuleAuthority()
		for _, kind := range []crypto.VaultKind{crypto.IssuanceVault, crypto.RedemptionVault} {
			if err := t.ledger.RegisterVault(crypto.DeriveVault(kind, created.Mint), authority); err != nil {
				return nil, err
			}
		}
		if err := t.ledger.SetMintAuthority(created.Mint, authority); err != nil {
			return nil, err
		}
		out = created
		return []events.Event{events.AssetInitialised{
			Mint:             created.Mint,
			BufferBps:        created.Params.BufferBps,
			RatchetBpsPerDay: created.Params.RatchetBpsPerDay,
			MCR:              created.Params.MinimumCapitalRequirement.Dec(),
			Bootstrap:        created.Params.Bootstrap,
			Timestamp:        created.LastRatchet,
		}}, nil
	})
	if err != nil {
		return nil, err
	}
	x.logger.InfoContext(ctx, "ramm asset initialised", slog.String("mint", out.Mint))
	return out, nil
}

// Issue deposits amount of settlement from caller and mints claim tokens.
func (x *Executor) Issue(ctx context.Context, caller crypto.Address, mint string, amount uint64) (*ramm.Trade, error) {
	return x.trade(ctx, "issue", caller, mint, amount)
}

// Redeem burns amount of claim tokens from caller and pays out settlement.
func (x *Executor) Redeem(ctx context.Context, caller crypto.Address, mint string, amount uint64) (*ramm.Trade, error) {
	return x.trade(ctx, "redeem", caller, mint, amount)
}

func (x *Executor) trade(ctx context.Context, op string, caller crypto.Address, mint string, amount uint64) (*ramm.Trade, error) {
	var out *ramm.Trade
	err := x.run(ctx, op, mint, true, func(t *tx) ([]events.Event, error) {
		engine := t.engine(mint)
		accounts := ramm.AccountsFor(caller, mint)
		var (
			trade  *ramm.Trade
			err    error
			kind   = events.TypeIssued
			reason = events.SupplyReasonMint
			delta  uint64
		)
		if op == "redeem" {
			trade, err = engine.Redeem(accounts, amount)
			kind, reason = events.TypeRedeemed, events.SupplyReasonBurn
		} else {
			trade, err = engine.Issue(accounts, amount)
		}
		if err != nil {
			return nil, err
		}
		if op == "redeem" {
			delta = trade.AmountIn
		} else {
			delta = trade.AmountOut
		}
		supply, err := t.ledger.ClaimSupply(trade.Mint)
		if err != nil {
			return nil, err
		}
		x.recordAsset(ctx, t, engine)
		out = trade
		return []events.Event{
			events.Trade{
				Kind:      kind,
				Mint:      trade.Mint,
				Account:   trade.Account.String(),
				Price:     trade.Price,
				AmountIn:  trade.AmountIn,
				AmountOut: trade.AmountOut,
				BookValue: trade.Bounds.BookValue,
				Floor:     trade.Bounds.Floor,
				Ceil:      trade.Bounds.Ceil,
				Bootstrap: trade.Bootstrap,
			},
			events.TokenSupply{Token: trade.Mint, Total: supply, Delta: delta, Reason: reason},
		}, nil
	})
	if err != nil {
		return nil, err
	}
	x.logger.InfoContext(ctx, "ramm trade executed",
		slog.String("operation", op),
		slog.String("mint", out.Mint),
		slog.Uint64("price", out.Price),
		slog.Uint64("amountIn", out.AmountIn),
		slog.Uint64("amountOut", out.AmountOut))
	return out, nil
}

// Ratchet advances the virtual counters of mint. It reports false when no
// time elapsed since the last ratchet.
func (x *Executor) Ratchet(ctx context.Context, mint string) (*ramm.State, bool, error) {
	var (
		out     *ramm.State
		applied bool
	)
	err := x.run(ctx, "ratchet", mint, true, func(t *tx) ([]events.Event, error) {
		engine := t.engine(mint)
		next, changed, err := engine.Ratchet()
		if err != nil {
			return nil, err
		}
		out, applied = next, changed
		if !changed {
			return nil, nil
		}
		x.recordAsset(ctx, t, engine)
		return []events.Event{events.Ratcheted{
			Mint:              next.Mint,
			VirtualIssuance:   next.VirtualIssuance.Dec(),
			VirtualRedemption: next.VirtualRedemption.Dec(),
			Timestamp:         next.LastRatchet,
		}}, nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, applied, nil
}

// QuoteIssue previews an issue without changing state.
func (x *Executor) QuoteIssue(ctx context.Context, mint string, amount uint64) (*ramm.Quote, error) {
	return x.quote(ctx, "quote_issue", mint, amount, false)
}

// QuoteRedeem previews a redemption without changing state.
func (x *Executor) QuoteRedeem(ctx context.Context, mint string, amount uint64) (*ramm.Quote, error) {
	return x.quote(ctx, "quote_redeem", mint, amount, true)
}

func (x *Executor) quote(ctx context.Context, op, mint string, amount uint64, redeem bool) (*ramm.Quote, error) {
	var out *ramm.Quote
	err := x.run(ctx, op, mint, false, func(t *tx) ([]events.Event, error) {
		engine := t.engine(mint)
		var (
			quote *ramm.Quote
			err   error
		)
		if redeem {
			quote, err = engine.QuoteRedeem(amount)
		} else {
			quote, err = engine.QuoteIssue(amount)
		}
		if err != nil {
			return nil, err
		}
		out = quote
		return []events.Event{events.Quoted{
			Redeem:    redeem,
			Mint:      engine.Mint(),
			Price:     quote.Price,
			AmountIn:  quote.AmountIn,
			AmountOut: quote.AmountOut,
		}}, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// State returns the persisted pricing state of mint.
func (x *Executor) State(ctx context.Context, mint string) (*ramm.State, error) {
	var out *ramm.State
	err := x.run(ctx, "state", mint, false, func(t *tx) ([]events.Event, error) {
		st, err := t.engine(mint).State()
		out = st
		return nil, err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Snapshot returns the state of mint together with its vault balances and
// book value.
func (x *Executor) Snapshot(ctx context.Context, mint string) (*Snapshot, error) {
	var out *Snapshot
	err := x.run(ctx, "snapshot", mint, false, func(t *tx) ([]events.Event, error) {
		snap, err := snapshot(t, t.engine(mint))
		out = snap
		return nil, err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func snapshot(t *tx, engine *ramm.Engine) (*Snapshot, error) {
	st, err := engine.State()
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{
		State:           st,
		IssuanceVault:   crypto.DeriveVault(crypto.IssuanceVault, st.Mint),
		RedemptionVault: crypto.DeriveVault(crypto.RedemptionVault, st.Mint),
		Paused:          t.pauses.IsPaused(ramm.ModuleName),
	}
	if snap.IssuanceBalance, err = t.ledger.SettlementBalance(snap.IssuanceVault); err != nil {
		return nil, err
	}
	if snap.RedemptionBalance, err = t.ledger.SettlementBalance(snap.RedemptionVault); err != nil {
		return nil, err
	}
	if snap.Supply, err = t.ledger.ClaimSupply(st.Mint); err != nil {
		return nil, err
	}
	if snap.Supply > 0 {
		bounds, err := ramm.BookValue(snap.IssuanceBalance, snap.RedemptionBalance, snap.Supply, st.Params.BufferBps)
		switch {
		case err == nil:
			snap.Bounds = &bounds
		case errors.Is(err, ramm.ErrOverflow):
			// Bounds stay nil while the book value exceeds u64.
		default:
			return nil, err
		}
	}
	buy, sell, err := st.ReferencePrices()
	if err != nil {
		return nil, err
	}
	snap.ReferenceBuy, snap.ReferenceSell = buy.Dec(), sell.Dec()
	return snap, nil
}

// recordAsset refreshes the asset gauges. Failures are logged and never
// affect the operation being recorded.
func (x *Executor) recordAsset(ctx context.Context, t *tx, engine *ramm.Engine) {
	snap, err := snapshot(t, engine)
	if err != nil {
		x.logger.WarnContext(ctx, "ramm asset metrics skipped",
			slog.String("mint", engine.Mint()),
			slog.String("error", err.Error()))
		return
	}
	var book uint64
	if snap.Bounds != nil {
		book = snap.Bounds.BookValue
	}
	x.metrics.RecordAsset(snap.State.Mint, book, snap.IssuanceBalance, snap.RedemptionBalance, snap.Supply,
		toFloat(snap.State.VirtualIssuance), toFloat(snap.State.VirtualRedemption))
}

func toFloat(v *uint256.Int) float64 {
	f, _ := new(big.Float).SetInt(v.ToBig()).Float64()
	return f
}

// Mints lists every initialised asset.
func (x *Executor) Mints(ctx context.Context) ([]string, error) {
	var out []string
	err := x.run(ctx, "mints", "", false, func(t *tx) ([]events.Event, error) {
		mints, err := t.store.Mints()
		out = mints
		return nil, err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Credit funds addr with settlement from outside the engine.
func (x *Executor) Credit(ctx context.Context, addr crypto.Address, amount uint64) (uint64, error) {
	var balance uint64
	err := x.run(ctx, "credit", "", true, func(t *tx) ([]events.Event, error) {
		next, err := t.ledger.Credit(addr, amount)
		if err != nil {
			return nil, err
		}
		balance = next
		return []events.Event{events.SettlementCredited{Account: addr.String(), Amount: amount, Balance: next}}, nil
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// Balances reports the settlement balance of addr and its claim balance for
// each supplied mint.
func (x *Executor) Balances(ctx context.Context, addr crypto.Address, mints ...string) (uint64, map[string]uint64, error) {
	var (
		settlement uint64
		claims     = make(map[string]uint64, len(mints))
	)
	err := x.run(ctx, "balances", "", false, func(t *tx) ([]events.Event, error) {
		var err error
		if settlement, err = t.ledger.SettlementBalance(addr); err != nil {
			return nil, err
		}
		for _, mint := range mints {
			normalized := strings.ToUpper(strings.TrimSpace(mint))
			balance, err := t.ledger.ClaimBalance(normalized, addr)
			if err != nil {
				return nil, err
			}
			claims[normalized] = balance
		}
		return nil, nil
	})
	if err != nil {
		return 0, nil, err
	}
	return settlement, claims, nil
}

// SetPaused toggles the pause switch guarding issue and redeem.
func (x *Executor) SetPaused(ctx context.Context, paused bool) error {
	err := x.run(ctx, "pause", "", true, func(t *tx) ([]events.Event, error) {
		if err := t.pauses.Set(ramm.ModuleName, paused); err != nil {
			return nil, err
		}
		return []events.Event{events.PauseChanged{Module: ramm.ModuleName, Paused: paused}}, nil
	})
	if err != nil {
		return err
	}
	x.metrics.SetPause(paused)
	return nil
}

// Paused reports whether issue and redeem are paused.
func (x *Executor) Paused(ctx context.Context) (bool, error) {
	var paused bool
	err := x.run(ctx, "paused", "", false, func(t *tx) ([]events.Event, error) {
		paused = t.pauses.IsPaused(ramm.ModuleName)
		return nil, nil
	})
	return paused, err
}
