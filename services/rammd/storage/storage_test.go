package storage

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestReceiptRoundTrip(t *testing.T) {
	store := openTestDB(t)
	ctx := context.Background()
	saved, err := store.SaveReceipt(ctx, "", Receipt{
		Operation: "issue",
		Mint:      "acr",
		Account:   "ramm1alice",
		Price:     1_050_000_000,
		AmountIn:  2_100_000_000,
		AmountOut: 2_000_000_000,
		Bootstrap: true,
		CreatedAt: time.Unix(1_700_000_000, 0),
	})
	if err != nil {
		t.Fatalf("save receipt: %v", err)
	}
	if saved.ID == "" || saved.Mint != "ACR" {
		t.Fatalf("unexpected saved receipt %+v", saved)
	}
	loaded, err := store.Receipt(ctx, saved.ID)
	if err != nil {
		t.Fatalf("load receipt: %v", err)
	}
	if loaded != saved {
		t.Fatalf("receipt mismatch: got %+v want %+v", loaded, saved)
	}
	if _, err := store.Receipt(ctx, "missing"); !errors.Is(err, ErrReceiptNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestReceiptStoresFullUint64Range(t *testing.T) {
	store := openTestDB(t)
	ctx := context.Background()
	saved, err := store.SaveReceipt(ctx, "", Receipt{Operation: "redeem", Mint: "ACR", AmountIn: ^uint64(0)})
	if err != nil {
		t.Fatalf("save receipt: %v", err)
	}
	loaded, err := store.Receipt(ctx, saved.ID)
	if err != nil {
		t.Fatalf("load receipt: %v", err)
	}
	if loaded.AmountIn != ^uint64(0) {
		t.Fatalf("amount truncated: %d", loaded.AmountIn)
	}
}

func TestIdempotentReplay(t *testing.T) {
	store := openTestDB(t)
	ctx := context.Background()
	if _, ok, err := store.Replay(ctx, "k1", "issue", "acr", "ramm1alice"); err != nil || ok {
		t.Fatalf("unused key should not replay: ok=%v err=%v", ok, err)
	}
	saved, err := store.SaveReceipt(ctx, "k1", Receipt{Operation: "issue", Mint: "ACR", Account: "ramm1alice", AmountIn: 5})
	if err != nil {
		t.Fatalf("save receipt: %v", err)
	}
	replayed, ok, err := store.Replay(ctx, "k1", "issue", "acr", "ramm1alice")
	if err != nil || !ok {
		t.Fatalf("expected replay: ok=%v err=%v", ok, err)
	}
	if replayed.ID != saved.ID {
		t.Fatalf("replayed %s want %s", replayed.ID, saved.ID)
	}
	if _, _, err := store.Replay(ctx, "k1", "redeem", "ACR", "ramm1alice"); !errors.Is(err, ErrIdempotencyConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if _, err := store.SaveReceipt(ctx, "k1", Receipt{Operation: "issue", Mint: "ACR", Account: "ramm1alice"}); err == nil {
		t.Fatalf("expected duplicate key to fail")
	}
	receipts, err := store.ListReceipts(ctx, "ACR", 10)
	if err != nil {
		t.Fatalf("list receipts: %v", err)
	}
	if len(receipts) != 1 {
		t.Fatalf("failed save must not leave a receipt, got %d", len(receipts))
	}
}

func TestListAndPrune(t *testing.T) {
	store := openTestDB(t)
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)
	for i := 0; i < 3; i++ {
		if _, err := store.SaveReceipt(ctx, "key-"+string(rune('a'+i)), Receipt{
			Operation: "issue",
			Mint:      "ACR",
			Account:   "ramm1alice",
			AmountIn:  uint64(i + 1),
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}); err != nil {
			t.Fatalf("save receipt %d: %v", i, err)
		}
	}
	receipts, err := store.ListReceipts(ctx, "acr", 2)
	if err != nil {
		t.Fatalf("list receipts: %v", err)
	}
	if len(receipts) != 2 || receipts[0].AmountIn != 3 || receipts[1].AmountIn != 2 {
		t.Fatalf("unexpected receipts %+v", receipts)
	}
	pruned, err := store.PruneIdempotencyKeys(ctx, base.Add(90*time.Minute))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if pruned != 2 {
		t.Fatalf("expected two pruned keys, got %d", pruned)
	}
	if _, ok, err := store.Replay(ctx, "key-a", "issue", "ACR", "ramm1alice"); err != nil || ok {
		t.Fatalf("pruned key should not replay: ok=%v err=%v", ok, err)
	}
}

func seedWindow(t *testing.T, store *Storage) time.Time {
	t.Helper()
	base := time.Unix(1_700_000_000, 0).UTC()
	for i, mint := range []string{"ACR", "ACR", "BTA", "ACR"} {
		_, err := store.SaveReceipt(context.Background(), "", Receipt{
			Operation: "issue",
			Mint:      mint,
			Account:   "ramm1alice",
			Price:     1_050_000_000,
			AmountIn:  uint64(i+1) * 1_000,
			AmountOut: uint64(i+1) * 900,
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		})
		if err != nil {
			t.Fatalf("seed receipt %d: %v", i, err)
		}
	}
	return base
}

func TestReceiptsBetween(t *testing.T) {
	store := openTestDB(t)
	base := seedWindow(t, store)
	got, err := store.ReceiptsBetween(context.Background(), "acr", base, base.Add(3*time.Hour))
	if err != nil {
		t.Fatalf("receipts between: %v", err)
	}
	if len(got) != 2 || got[0].AmountIn != 1_000 || got[1].AmountIn != 2_000 {
		t.Fatalf("unexpected window %+v", got)
	}
	if _, err := store.ReceiptsBetween(context.Background(), "ACR", base, base); err == nil {
		t.Fatalf("expected empty window to be rejected")
	}
}

func TestWriteReceiptsCSV(t *testing.T) {
	store := openTestDB(t)
	base := seedWindow(t, store)
	receipts, err := store.ReceiptsBetween(context.Background(), "ACR", base, base.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("receipts between: %v", err)
	}
	var buf bytes.Buffer
	if err := WriteReceipts(&buf, ExportCSV, receipts); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 4 || records[0][0] != "receipt_id" {
		t.Fatalf("unexpected csv %v", records)
	}
	if records[3][5] != "4000" || records[3][8] != base.Add(3*time.Hour).Format(time.RFC3339) {
		t.Fatalf("unexpected last row %v", records[3])
	}
}

func TestWriteReceiptsParquet(t *testing.T) {
	store := openTestDB(t)
	base := seedWindow(t, store)
	receipts, err := store.ReceiptsBetween(context.Background(), "ACR", base, base.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("receipts between: %v", err)
	}
	var buf bytes.Buffer
	if err := WriteReceipts(&buf, ExportParquet, receipts); err != nil {
		t.Fatalf("write parquet: %v", err)
	}
	raw := buf.Bytes()
	if len(raw) < 8 || !bytes.Equal(raw[:4], []byte("PAR1")) || !bytes.Equal(raw[len(raw)-4:], []byte("PAR1")) {
		t.Fatalf("output is not a parquet file (%d bytes)", len(raw))
	}
	if err := WriteReceipts(&buf, "xlsx", receipts); err == nil {
		t.Fatalf("expected unsupported format error")
	}
}

func TestFileDSNRequiresPath(t *testing.T) {
	if _, err := FileDSN("  "); !errors.Is(err, ErrPathRequired) {
		t.Fatalf("expected ErrPathRequired, got %v", err)
	}
	if _, err := Open(""); !errors.Is(err, ErrPathRequired) {
		t.Fatalf("expected ErrPathRequired, got %v", err)
	}
}

func TestFileDSN(t *testing.T) {
	dsn, err := FileDSN("receipts.sqlite")
	if err != nil {
		t.Fatalf("dsn: %v", err)
	}
	if !strings.HasPrefix(dsn, "file:/") || !strings.Contains(dsn, "journal_mode(WAL)") {
		t.Fatalf("expected absolute WAL dsn, got %q", dsn)
	}

	dsn, err = FileDSN(" " + MemoryPath + " ")
	if err != nil {
		t.Fatalf("memory dsn: %v", err)
	}
	if !strings.Contains(dsn, "mode=memory") {
		t.Fatalf("expected in-memory dsn, got %q", dsn)
	}
	store, err := Open(dsn)
	if err != nil {
		t.Fatalf("open memory storage: %v", err)
	}
	defer store.Close()
	if _, err := store.SaveReceipt(context.Background(), "", Receipt{Operation: "issue", Mint: "MEM", Account: "acct", Price: 1, AmountIn: 1, AmountOut: 1}); err != nil {
		t.Fatalf("save receipt: %v", err)
	}
	receipts, err := store.ListReceipts(context.Background(), "MEM", 10)
	if err != nil || len(receipts) != 1 {
		t.Fatalf("expected one receipt, got %d (%v)", len(receipts), err)
	}
}

func openTestDB(t *testing.T) *Storage {
	t.Helper()
	dsn, err := FileDSN(filepath.Join(t.TempDir(), "receipts.sqlite"))
	if err != nil {
		t.Fatalf("dsn: %v", err)
	}
	store, err := Open(dsn)
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}
