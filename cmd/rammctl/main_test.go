package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ramm/core"
	"ramm/crypto"
	"ramm/services/rammd/server"
	rammstorage "ramm/services/rammd/storage"
	"ramm/storage"
)

const testToken = "operator-secret"

type cli struct {
	t       *testing.T
	profile string
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	now := time.Unix(1_700_000_000, 0)
	exec := core.NewExecutor(storage.NewMemDB())
	exec.SetClock(func() time.Time { return now })
	hub := server.NewHub()
	exec.SetEmitter(hub)

	dsn, err := rammstorage.FileDSN(filepath.Join(t.TempDir(), "receipts.sqlite"))
	if err != nil {
		t.Fatalf("dsn: %v", err)
	}
	store, err := rammstorage.Open(dsn)
	if err != nil {
		t.Fatalf("open receipts: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	auth, err := server.NewAuthenticator(server.AuthConfig{BearerToken: testToken}, nil)
	if err != nil {
		t.Fatalf("auth: %v", err)
	}
	srv, err := server.New(server.Config{TLS: server.TLSConfig{Disabled: true}}, exec, store, hub, auth, nil, nil)
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(hub.Close)

	t.Setenv("RAMMCTL_TEST_TOKEN", testToken)
	profile := filepath.Join(t.TempDir(), "rammctl.toml")
	contents := fmt.Sprintf("Endpoint = %q\nTokenEnv = \"RAMMCTL_TEST_TOKEN\"\nTimeoutSeconds = 5\n", ts.URL)
	if err := os.WriteFile(profile, []byte(contents), 0o600); err != nil {
		t.Fatalf("write profile: %v", err)
	}
	return &cli{t: t, profile: profile}
}

func (c *cli) run(args ...string) (int, string, string) {
	c.t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), append([]string{"-config", c.profile}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func (c *cli) mustRun(args ...string) string {
	c.t.Helper()
	code, stdout, stderr := c.run(args...)
	if code != 0 {
		c.t.Fatalf("rammctl %v exited %d: %s", args, code, stderr)
	}
	return stdout
}

func receiptLine(out string) string {
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, `"receipt":`) {
			return strings.TrimSpace(line)
		}
	}
	return ""
}

func TestCommandsAgainstDaemon(t *testing.T) {
	c := newCLI(t)
	alice := crypto.DeriveAccount("alice").String()

	out := c.mustRun("init", "-ratchet-bps", "400", "acr")
	if !strings.Contains(out, `"mint": "ACR"`) {
		t.Fatalf("unexpected init output: %s", out)
	}
	out = c.mustRun("credit", alice, "10000000000")
	if !strings.Contains(out, `"settlement": "10000000000"`) {
		t.Fatalf("unexpected credit output: %s", out)
	}
	out = c.mustRun("quote-issue", "acr", "2100000000")
	if !strings.Contains(out, `"amountOut": "2000000000"`) {
		t.Fatalf("unexpected quote output: %s", out)
	}

	code, out, stderr := c.run("issue", "-account", alice, "-idempotency-key", "k1", "acr", "2100000000")
	if code != 0 {
		t.Fatalf("issue failed: %s", stderr)
	}
	if !strings.Contains(out, `"amountOut": "2000000000"`) || strings.Contains(stderr, "replayed") {
		t.Fatalf("unexpected issue output: %s / %s", out, stderr)
	}
	code, replay, stderr := c.run("issue", "-account", alice, "-idempotency-key", "k1", "acr", "2100000000")
	if code != 0 || !strings.Contains(stderr, "replayed") {
		t.Fatalf("expected idempotent replay, got %d %s", code, stderr)
	}
	if id := receiptLine(out); id == "" || receiptLine(replay) != id {
		t.Fatalf("replay must return the stored receipt:\n%s\n%s", replay, out)
	}

	out = c.mustRun("account", alice)
	if !strings.Contains(out, `"settlement": "7900000000"`) || !strings.Contains(out, `"ACR": "2000000000"`) {
		t.Fatalf("unexpected account output: %s", out)
	}
	out = c.mustRun("state", "acr")
	if !strings.Contains(out, `"supply": "2000000000"`) {
		t.Fatalf("unexpected state output: %s", out)
	}
	out = c.mustRun("receipts", "-limit", "5", "acr")
	if strings.Count(out, `"operation": "issue"`) != 1 {
		t.Fatalf("expected one stored receipt: %s", out)
	}

	exportPath := filepath.Join(t.TempDir(), "receipts.csv")
	out = c.mustRun("export", "-out", exportPath, "acr")
	if !strings.Contains(out, `"format": "csv"`) {
		t.Fatalf("unexpected export output: %s", out)
	}
	exported, err := os.ReadFile(exportPath)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	if lines := strings.Split(strings.TrimSpace(string(exported)), "\n"); len(lines) != 2 || !strings.HasPrefix(lines[0], "receipt_id,") || !strings.Contains(lines[1], ",issue,ACR,") {
		t.Fatalf("unexpected export contents:\n%s", exported)
	}

	c.mustRun("pause", "on")
	code, _, stderr = c.run("redeem", "-account", alice, "acr", "100")
	if code == 0 || !strings.Contains(stderr, "(paused)") {
		t.Fatalf("expected paused rejection, got %d %s", code, stderr)
	}
	out = c.mustRun("pause")
	if !strings.Contains(out, `"paused": true`) {
		t.Fatalf("unexpected pause output: %s", out)
	}
	c.mustRun("pause", "off")

	out = c.mustRun("ratchet", "acr")
	if !strings.Contains(out, `"applied": false`) {
		t.Fatalf("ratchet at the same instant must not apply: %s", out)
	}
}

func TestCommandErrors(t *testing.T) {
	c := newCLI(t)
	code, _, stderr := c.run("state", "nope")
	if code == 0 || !strings.Contains(stderr, "404 (asset_not_found)") {
		t.Fatalf("expected not found, got %d %s", code, stderr)
	}
	if code, _, _ := c.run("issue", "acr", "100"); code == 0 {
		t.Fatalf("issue without account must fail")
	}
	if code, _, _ := c.run("quote-issue", "acr", "-5"); code == 0 {
		t.Fatalf("negative amount must fail")
	}
	if code, _, _ := c.run("pause", "maybe"); code == 0 {
		t.Fatalf("invalid pause argument must fail")
	}
	if code, _, stderr := c.run("frobnicate"); code == 0 || !strings.Contains(stderr, "Unknown command") {
		t.Fatalf("unknown command must fail: %s", stderr)
	}
}

func TestEndpointOverride(t *testing.T) {
	c := newCLI(t)
	code, _, stderr := c.run("-endpoint", "ftp://example.org", "assets")
	if code == 0 || !strings.Contains(stderr, "scheme") {
		t.Fatalf("expected endpoint validation failure, got %d %s", code, stderr)
	}
}
