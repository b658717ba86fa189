package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"ramm/config"
)

const defaultProfile = "rammctl.toml"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

// globals holds the options shared by every subcommand.
type globals struct {
	profile  string
	endpoint string
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("rammctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var g globals
	fs.StringVar(&g.profile, "config", defaultProfilePath(), "Path to the rammctl profile")
	fs.StringVar(&g.endpoint, "endpoint", "", "Override the rammd endpoint from the profile")
	fs.Usage = func() { printUsage(stderr) }
	if err := fs.Parse(args); err != nil {
		return 1
	}
	args = fs.Args()
	if len(args) == 0 {
		printUsage(stderr)
		return 1
	}

	command, rest := args[0], args[1:]
	if command == "simulate" {
		return runSimulate(ctx, rest, stdout, stderr)
	}
	if command == "help" {
		printUsage(stdout)
		return 0
	}

	handler, ok := commands[command]
	if !ok {
		fmt.Fprintf(stderr, "Unknown command %q\n", command)
		printUsage(stderr)
		return 1
	}
	cfg, err := config.Load(g.profile)
	if err != nil {
		fmt.Fprintf(stderr, "Error: load profile: %v\n", err)
		return 1
	}
	if g.endpoint != "" {
		cfg.Endpoint = strings.TrimRight(g.endpoint, "/")
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
	}
	c, err := newClient(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	out, err := handler(ctx, c, cfg, rest, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	pretty, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, string(pretty))
	return 0
}

func defaultProfilePath() string {
	if path := strings.TrimSpace(os.Getenv("RAMMCTL_CONFIG")); path != "" {
		return path
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "ramm", defaultProfile)
	}
	return defaultProfile
}

type commandFunc func(ctx context.Context, c *client, cfg *config.Config, args []string, stderr io.Writer) (any, error)

var commands = map[string]commandFunc{
	"assets":       cmdAssets,
	"state":        cmdState,
	"account":      cmdAccount,
	"receipts":     cmdReceipts,
	"quote-issue":  cmdQuote(false),
	"quote-redeem": cmdQuote(true),
	"issue":        cmdTrade("issue"),
	"redeem":       cmdTrade("redeem"),
	"ratchet":      cmdRatchet,
	"init":         cmdInit,
	"credit":       cmdCredit,
	"pause":        cmdPause,
	"export":       cmdExport,
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

// positional parses flags and requires exactly n positional arguments.
func positional(fs *flag.FlagSet, args []string, usage string, n int) ([]string, error) {
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() != n {
		return nil, fmt.Errorf("usage: rammctl %s %s", fs.Name(), usage)
	}
	return fs.Args(), nil
}

func mintPath(mint string, suffix string) string {
	return "/v1/assets/" + url.PathEscape(strings.ToUpper(strings.TrimSpace(mint))) + suffix
}

func requireAmount(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if _, err := strconv.ParseUint(raw, 10, 64); err != nil {
		return "", fmt.Errorf("invalid amount %q", raw)
	}
	return raw, nil
}

func cmdAssets(ctx context.Context, c *client, _ *config.Config, args []string, stderr io.Writer) (any, error) {
	if _, err := positional(newFlagSet("assets", stderr), args, "", 0); err != nil {
		return nil, err
	}
	var out any
	_, err := c.do(ctx, request{method: "GET", path: "/v1/assets"}, &out)
	return out, err
}

func cmdState(ctx context.Context, c *client, _ *config.Config, args []string, stderr io.Writer) (any, error) {
	pos, err := positional(newFlagSet("state", stderr), args, "<mint>", 1)
	if err != nil {
		return nil, err
	}
	var out any
	_, err = c.do(ctx, request{method: "GET", path: mintPath(pos[0], "")}, &out)
	return out, err
}

func cmdAccount(ctx context.Context, c *client, cfg *config.Config, args []string, stderr io.Writer) (any, error) {
	fs := newFlagSet("account", stderr)
	mints := fs.String("mints", "", "Comma-separated mints to report (default: all)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 1 {
		return nil, fmt.Errorf("usage: rammctl account [-mints A,B] [address]")
	}
	addr := cfg.Account
	if fs.NArg() == 1 {
		addr = fs.Arg(0)
	}
	if strings.TrimSpace(addr) == "" {
		return nil, fmt.Errorf("address required (argument or profile Account)")
	}
	path := "/v1/accounts/" + url.PathEscape(strings.TrimSpace(addr))
	if *mints != "" {
		path += "?mints=" + url.QueryEscape(*mints)
	}
	var out any
	_, err := c.do(ctx, request{method: "GET", path: path}, &out)
	return out, err
}

func cmdReceipts(ctx context.Context, c *client, _ *config.Config, args []string, stderr io.Writer) (any, error) {
	fs := newFlagSet("receipts", stderr)
	limit := fs.Int("limit", 20, "Maximum receipts to return")
	pos, err := positional(fs, args, "[-limit n] <mint>", 1)
	if err != nil {
		return nil, err
	}
	var out any
	_, err = c.do(ctx, request{method: "GET", path: mintPath(pos[0], "/receipts?limit="+strconv.Itoa(*limit))}, &out)
	return out, err
}

func cmdQuote(redeem bool) commandFunc {
	name, suffix := "quote-issue", "/quote/issue"
	if redeem {
		name, suffix = "quote-redeem", "/quote/redeem"
	}
	return func(ctx context.Context, c *client, _ *config.Config, args []string, stderr io.Writer) (any, error) {
		pos, err := positional(newFlagSet(name, stderr), args, "<mint> <amount>", 2)
		if err != nil {
			return nil, err
		}
		amount, err := requireAmount(pos[1])
		if err != nil {
			return nil, err
		}
		var out any
		_, err = c.do(ctx, request{method: "POST", path: mintPath(pos[0], suffix), body: map[string]string{"amount": amount}}, &out)
		return out, err
	}
}

func cmdTrade(op string) commandFunc {
	return func(ctx context.Context, c *client, cfg *config.Config, args []string, stderr io.Writer) (any, error) {
		fs := newFlagSet(op, stderr)
		account := fs.String("account", "", "Holder account (default: profile Account)")
		key := fs.String("idempotency-key", "", "Idempotency-Key header for safe retries")
		pos, err := positional(fs, args, "[-account addr] [-idempotency-key k] <mint> <amount>", 2)
		if err != nil {
			return nil, err
		}
		amount, err := requireAmount(pos[1])
		if err != nil {
			return nil, err
		}
		holder := strings.TrimSpace(*account)
		if holder == "" {
			holder = strings.TrimSpace(cfg.Account)
		}
		if holder == "" {
			return nil, fmt.Errorf("account required (-account or profile Account)")
		}
		var out map[string]any
		header, err := c.do(ctx, request{
			method:  "POST",
			path:    mintPath(pos[0], "/"+op),
			body:    map[string]string{"account": holder, "amount": amount},
			auth:    true,
			headers: map[string]string{"Idempotency-Key": strings.TrimSpace(*key)},
		}, &out)
		if err != nil {
			return nil, err
		}
		if header.Get("Idempotent-Replay") == "true" {
			fmt.Fprintln(stderr, "note: replayed stored receipt for idempotency key")
		}
		return out, nil
	}
}

func cmdRatchet(ctx context.Context, c *client, _ *config.Config, args []string, stderr io.Writer) (any, error) {
	pos, err := positional(newFlagSet("ratchet", stderr), args, "<mint>", 1)
	if err != nil {
		return nil, err
	}
	var out any
	_, err = c.do(ctx, request{method: "POST", path: mintPath(pos[0], "/ratchet")}, &out)
	return out, err
}

func cmdInit(ctx context.Context, c *client, _ *config.Config, args []string, stderr io.Writer) (any, error) {
	fs := newFlagSet("init", stderr)
	buffer := fs.Uint("buffer-bps", 500, "Buffer around book value in basis points")
	ratchet := fs.Uint("ratchet-bps", 0, "Daily ratchet rate in basis points")
	mcr := fs.String("mcr", "0", "Minimum capital requirement (fixed point, 1e9 = 1.0)")
	bootstrap := fs.Bool("bootstrap", true, "Allow the first issue at the virtual reference price")
	pos, err := positional(fs, args, "[flags] <mint>", 1)
	if err != nil {
		return nil, err
	}
	if *buffer > 10_000 || *ratchet > 10_000 {
		return nil, fmt.Errorf("basis points must not exceed 10000")
	}
	var out any
	_, err = c.do(ctx, request{
		method: "POST",
		path:   "/admin/assets",
		body: map[string]any{
			"mint":             strings.TrimSpace(pos[0]),
			"bufferBps":        *buffer,
			"ratchetBpsPerDay": *ratchet,
			"mcr":              strings.TrimSpace(*mcr),
			"bootstrap":        *bootstrap,
		},
		auth: true,
	}, &out)
	return out, err
}

func cmdCredit(ctx context.Context, c *client, _ *config.Config, args []string, stderr io.Writer) (any, error) {
	pos, err := positional(newFlagSet("credit", stderr), args, "<address> <amount>", 2)
	if err != nil {
		return nil, err
	}
	amount, err := requireAmount(pos[1])
	if err != nil {
		return nil, err
	}
	var out any
	_, err = c.do(ctx, request{
		method: "POST",
		path:   "/admin/accounts/" + url.PathEscape(strings.TrimSpace(pos[0])) + "/credit",
		body:   map[string]string{"amount": amount},
		auth:   true,
	}, &out)
	return out, err
}

func cmdPause(ctx context.Context, c *client, _ *config.Config, args []string, stderr io.Writer) (any, error) {
	fs := newFlagSet("pause", stderr)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	var out any
	switch fs.NArg() {
	case 0:
		_, err := c.do(ctx, request{method: "GET", path: "/admin/pause", auth: true}, &out)
		return out, err
	case 1:
		var paused bool
		switch strings.ToLower(fs.Arg(0)) {
		case "on", "true":
			paused = true
		case "off", "false":
			paused = false
		default:
			return nil, fmt.Errorf("usage: rammctl pause [on|off]")
		}
		_, err := c.do(ctx, request{method: "PUT", path: "/admin/pause", body: map[string]bool{"paused": paused}, auth: true}, &out)
		return out, err
	default:
		return nil, fmt.Errorf("usage: rammctl pause [on|off]")
	}
}

func cmdExport(ctx context.Context, c *client, _ *config.Config, args []string, stderr io.Writer) (any, error) {
	fs := newFlagSet("export", stderr)
	format := fs.String("format", "csv", "Export format: csv or parquet")
	from := fs.Int64("from", 0, "Window start as a unix timestamp")
	to := fs.Int64("to", 0, "Window end as a unix timestamp (default: now)")
	outPath := fs.String("out", "", "Destination file (required)")
	pos, err := positional(fs, args, "[-format csv|parquet] [-from ts] [-to ts] -out file <mint>", 1)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(*outPath) == "" {
		return nil, fmt.Errorf("-out is required")
	}
	query := url.Values{}
	query.Set("format", strings.ToLower(strings.TrimSpace(*format)))
	if *from > 0 {
		query.Set("from", strconv.FormatInt(*from, 10))
	}
	if *to > 0 {
		query.Set("to", strconv.FormatInt(*to, 10))
	}
	tmp := *outPath + ".partial"
	f, err := os.Create(tmp)
	if err != nil {
		return nil, err
	}
	path := "/admin/assets/" + url.PathEscape(strings.ToUpper(strings.TrimSpace(pos[0]))) + "/export?" + query.Encode()
	_, err = c.do(ctx, request{method: "GET", path: path, auth: true}, f)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return nil, err
	}
	if err := os.Rename(tmp, *outPath); err != nil {
		return nil, err
	}
	info, err := os.Stat(*outPath)
	if err != nil {
		return nil, err
	}
	return map[string]any{"file": *outPath, "format": query.Get("format"), "bytes": info.Size()}, nil
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `Usage: rammctl [-config profile.toml] [-endpoint url] <command> [args]

Commands:
  assets                                   List initialised assets
  state <mint>                             Show asset state, vaults and bounds
  account [-mints A,B] [address]           Show settlement and claim balances
  receipts [-limit n] <mint>               List recent operation receipts
  quote-issue <mint> <amount>              Preview an issue
  quote-redeem <mint> <amount>             Preview a redeem
  issue [-account a] [-idempotency-key k] <mint> <amount>
  redeem [-account a] [-idempotency-key k] <mint> <amount>
  ratchet <mint>                           Apply the time-based ratchet
  init [-buffer-bps n] [-ratchet-bps n] [-mcr v] [-bootstrap=false] <mint>
  credit <address> <amount>                Fund a settlement account (admin)
  pause [on|off]                           Show or set the issue/redeem pause (admin)
  export [-format csv|parquet] [-from ts] [-to ts] -out file <mint>
                                           Download receipts for a window (admin)
  simulate -scenario file.toml [-leveldb dir]
                                           Run a scenario against an in-process engine

Authenticated commands read the bearer token from the profile TokenEnv
variable (default RAMM_ADMIN_TOKEN) or prompt for it.`)
}
