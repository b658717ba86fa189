package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"ramm/config"
	"ramm/core"
	"ramm/core/events"
	"ramm/crypto"
	"ramm/native/ramm"
	"ramm/storage"
)

// simulator replays a scenario against an in-process executor driven by a
// stepped clock.
type simulator struct {
	exec     *core.Executor
	recorder *events.Recorder
	seen     int
	now      time.Time
	mint     string
	out      io.Writer
	events   bool
}

func runSimulate(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("simulate", stderr)
	scenarioPath := fs.String("scenario", "", "Path to a TOML scenario")
	levelDir := fs.String("leveldb", "", "Persist simulated state in a LevelDB directory instead of memory")
	showEvents := fs.Bool("events", false, "Print events emitted by each step")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(*scenarioPath) == "" {
		fmt.Fprintln(stderr, "Usage: rammctl simulate -scenario file.toml [-leveldb dir] [-events]")
		return 1
	}
	sc, err := config.LoadScenario(*scenarioPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	var db storage.Database
	if *levelDir != "" {
		ldb, err := storage.NewLevelDB(*levelDir)
		if err != nil {
			fmt.Fprintf(stderr, "Error: open leveldb: %v\n", err)
			return 1
		}
		db = ldb
	} else {
		db = storage.NewMemDB()
	}
	defer db.Close()

	if err := simulate(ctx, db, sc, stdout, *showEvents); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// simulate initialises the scenario asset (reusing it when the store already
// holds one) and runs every step, stopping at the first unexpected outcome.
func simulate(ctx context.Context, db storage.Database, sc *config.Scenario, out io.Writer, showEvents bool) error {
	start := time.Now().UTC().Truncate(time.Second)
	if sc.Start > 0 {
		start = time.Unix(sc.Start, 0).UTC()
	}
	sim := &simulator{
		exec:     core.NewExecutor(db),
		recorder: &events.Recorder{},
		now:      start,
		mint:     strings.ToUpper(strings.TrimSpace(sc.Mint)),
		out:      out,
		events:   showEvents,
	}
	sim.exec.SetEmitter(sim.recorder)
	sim.exec.SetClock(func() time.Time { return sim.now })
	sim.exec.SetLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))

	params, err := sc.Asset.Params()
	if err != nil {
		return err
	}
	if _, err := sim.exec.InitAsset(ctx, sim.mint, params); err != nil {
		if !errors.Is(err, ramm.ErrAlreadyInitialised) {
			return fmt.Errorf("init %s: %w", sim.mint, err)
		}
		fmt.Fprintf(out, "asset %s already initialised, continuing from stored state\n", sim.mint)
	} else {
		fmt.Fprintf(out, "asset %s initialised buffer=%dbps ratchet=%dbps/day mcr=%s bootstrap=%t\n",
			sim.mint, params.BufferBps, params.RatchetBpsPerDay, params.MinimumCapitalRequirement.Dec(), params.Bootstrap)
	}
	sim.flushEvents()

	for i, step := range sc.Steps {
		result, err := sim.step(ctx, step)
		label := fmt.Sprintf("[%02d] t=%s %-15s", i+1, sim.now.Format(time.RFC3339), step.Action)
		switch {
		case step.ExpectError != "" && err == nil:
			fmt.Fprintf(out, "%s %s\n", label, result)
			return fmt.Errorf("step %d: expected error containing %q", i+1, step.ExpectError)
		case step.ExpectError != "" && !strings.Contains(err.Error(), step.ExpectError):
			fmt.Fprintf(out, "%s error: %v\n", label, err)
			return fmt.Errorf("step %d: expected error containing %q, got %w", i+1, step.ExpectError, err)
		case step.ExpectError != "":
			fmt.Fprintf(out, "%s rejected as expected: %v\n", label, err)
		case err != nil:
			fmt.Fprintf(out, "%s error: %v\n", label, err)
			return fmt.Errorf("step %d (%s): %w", i+1, step.Action, err)
		default:
			fmt.Fprintf(out, "%s %s\n", label, result)
		}
		sim.flushEvents()
	}
	return nil
}

func (s *simulator) step(ctx context.Context, step config.Step) (string, error) {
	amount, _ := strconv.ParseUint(strings.TrimSpace(step.Amount), 10, 64)
	switch step.Action {
	case config.ActionCredit:
		addr, err := resolveAccount(step.Account)
		if err != nil {
			return "", err
		}
		balance, err := s.exec.Credit(ctx, addr, amount)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s settlement=%d", step.Account, balance), nil
	case config.ActionFundRedemption:
		vault := crypto.DeriveVault(crypto.RedemptionVault, s.mint)
		balance, err := s.exec.Credit(ctx, vault, amount)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("redemption vault=%d", balance), nil
	case config.ActionIssue, config.ActionRedeem:
		addr, err := resolveAccount(step.Account)
		if err != nil {
			return "", err
		}
		var trade *ramm.Trade
		if step.Action == config.ActionIssue {
			trade, err = s.exec.Issue(ctx, addr, s.mint, amount)
		} else {
			trade, err = s.exec.Redeem(ctx, addr, s.mint, amount)
		}
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s in=%d out=%d price=%s%s", step.Account, trade.AmountIn, trade.AmountOut,
			formatFixed(trade.Price), bootstrapNote(trade.Bootstrap)), nil
	case config.ActionQuoteIssue, config.ActionQuoteRedeem:
		var (
			quote *ramm.Quote
			err   error
		)
		if step.Action == config.ActionQuoteIssue {
			quote, err = s.exec.QuoteIssue(ctx, s.mint, amount)
		} else {
			quote, err = s.exec.QuoteRedeem(ctx, s.mint, amount)
		}
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("in=%d out=%d price=%s%s", quote.AmountIn, quote.AmountOut,
			formatFixed(quote.Price), bootstrapNote(quote.Bootstrap)), nil
	case config.ActionRatchet:
		st, applied, err := s.exec.Ratchet(ctx, s.mint)
		if err != nil {
			return "", err
		}
		if !applied {
			return "no change", nil
		}
		return fmt.Sprintf("virtual issuance=%s redemption=%s", st.VirtualIssuance.Dec(), st.VirtualRedemption.Dec()), nil
	case config.ActionAdvance:
		d, err := time.ParseDuration(strings.TrimSpace(step.Advance))
		if err != nil {
			return "", err
		}
		s.now = s.now.Add(d)
		return "clock +" + d.String(), nil
	case config.ActionPause, config.ActionResume:
		paused := step.Action == config.ActionPause
		if err := s.exec.SetPaused(ctx, paused); err != nil {
			return "", err
		}
		return fmt.Sprintf("paused=%t", paused), nil
	case config.ActionState:
		snap, err := s.exec.Snapshot(ctx, s.mint)
		if err != nil {
			return "", err
		}
		return describeSnapshot(snap), nil
	default:
		return "", fmt.Errorf("unknown action %q", step.Action)
	}
}

func (s *simulator) flushEvents() {
	recorded := s.recorder.Events()
	if s.events {
		for _, evt := range recorded[s.seen:] {
			fmt.Fprintf(s.out, "     event %s\n", events.Render(evt))
		}
	}
	s.seen = len(recorded)
}

// resolveAccount accepts a bech32 address or a label that is derived into a
// stable holder address.
func resolveAccount(value string) (crypto.Address, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return crypto.Address{}, fmt.Errorf("account required")
	}
	if addr, err := crypto.DecodeAddress(value); err == nil {
		return addr, nil
	}
	return crypto.DeriveAccount(value), nil
}

func describeSnapshot(snap *core.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "supply=%d issuance=%d redemption=%d vI=%s vR=%s buy=%s sell=%s",
		snap.Supply, snap.IssuanceBalance, snap.RedemptionBalance,
		snap.State.VirtualIssuance.Dec(), snap.State.VirtualRedemption.Dec(),
		snap.ReferenceBuy, snap.ReferenceSell)
	if snap.Bounds != nil {
		fmt.Fprintf(&b, " bv=%s floor=%s ceil=%s",
			formatFixed(snap.Bounds.BookValue), formatFixed(snap.Bounds.Floor), formatFixed(snap.Bounds.Ceil))
	}
	if snap.Paused {
		b.WriteString(" paused")
	}
	return b.String()
}

// formatFixed renders a 1e9-scaled price as a decimal.
func formatFixed(v uint64) string {
	return fmt.Sprintf("%d.%09d", v/ramm.Scale, v%ramm.Scale)
}

func bootstrapNote(bootstrap bool) string {
	if bootstrap {
		return " (bootstrap)"
	}
	return ""
}
