package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/glebarez/sqlite"
	"github.com/google/uuid"
)

var (
	// ErrPathRequired is returned when the backing store path is missing.
	ErrPathRequired = errors.New("rammd storage path must be configured")
	// ErrReceiptNotFound is returned when no receipt matches the lookup.
	ErrReceiptNotFound = errors.New("receipt not found")
	// ErrIdempotencyConflict is returned when an idempotency key is reused for
	// a different operation or account.
	ErrIdempotencyConflict = errors.New("idempotency key reused for a different request")
)

// Storage persists operation receipts and idempotency keys for rammd.
type Storage struct {
	db  *sql.DB
	now func() time.Time
}

// Receipt records an executed issue, redeem or ratchet.
type Receipt struct {
	ID        string
	Operation string
	Mint      string
	Account   string
	Price     uint64
	AmountIn  uint64
	AmountOut uint64
	Bootstrap bool
	CreatedAt time.Time
}

// Open initialises the backing store using a sqlite DSN.
func Open(dsn string) (*Storage, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, ErrPathRequired
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Storage{db: db, now: time.Now}, nil
}

// DB exposes the underlying handle so the engine state can share the file.
func (s *Storage) DB() *sql.DB {
	if s == nil {
		return nil
	}
	return s.db
}

// Close releases database resources.
func (s *Storage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveReceipt assigns an id to rec and stores it. When key is non-empty the
// receipt is bound to it in the same transaction.
func (s *Storage) SaveReceipt(ctx context.Context, key string, rec Receipt) (Receipt, error) {
	if s == nil {
		return Receipt{}, fmt.Errorf("storage not configured")
	}
	rec.ID = uuid.NewString()
	rec.Mint = strings.ToUpper(strings.TrimSpace(rec.Mint))
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	rec.CreatedAt = rec.CreatedAt.UTC().Truncate(time.Second)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Receipt{}, fmt.Errorf("begin receipt tx: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `
        INSERT INTO receipts(id, operation, mint, account, price, amount_in, amount_out, bootstrap, created_at)
        VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
    `, rec.ID, rec.Operation, rec.Mint, rec.Account,
		formatUint(rec.Price), formatUint(rec.AmountIn), formatUint(rec.AmountOut),
		rec.Bootstrap, rec.CreatedAt.Unix()); err != nil {
		return Receipt{}, fmt.Errorf("insert receipt: %w", err)
	}
	if key = strings.TrimSpace(key); key != "" {
		if _, err := tx.ExecContext(ctx, `
            INSERT INTO idempotency_keys(key, receipt_id, created_at) VALUES(?, ?, ?)
        `, key, rec.ID, rec.CreatedAt.Unix()); err != nil {
			return Receipt{}, fmt.Errorf("bind idempotency key: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return Receipt{}, fmt.Errorf("commit receipt: %w", err)
	}
	return rec, nil
}

// Replay returns the receipt bound to key. The boolean is false when the key
// has not been used. A key bound to another operation, mint or account yields
// ErrIdempotencyConflict.
func (s *Storage) Replay(ctx context.Context, key, operation, mint, account string) (Receipt, bool, error) {
	if s == nil {
		return Receipt{}, false, fmt.Errorf("storage not configured")
	}
	row := s.db.QueryRowContext(ctx, `
        SELECT r.id, r.operation, r.mint, r.account, r.price, r.amount_in, r.amount_out, r.bootstrap, r.created_at
        FROM idempotency_keys k JOIN receipts r ON r.id = k.receipt_id
        WHERE k.key = ?
    `, strings.TrimSpace(key))
	rec, err := scanReceipt(row)
	if errors.Is(err, ErrReceiptNotFound) {
		return Receipt{}, false, nil
	}
	if err != nil {
		return Receipt{}, false, err
	}
	if rec.Operation != operation || rec.Mint != strings.ToUpper(strings.TrimSpace(mint)) || rec.Account != account {
		return Receipt{}, false, ErrIdempotencyConflict
	}
	return rec, true, nil
}

// Receipt loads a receipt by id.
func (s *Storage) Receipt(ctx context.Context, id string) (Receipt, error) {
	if s == nil {
		return Receipt{}, fmt.Errorf("storage not configured")
	}
	row := s.db.QueryRowContext(ctx, `
        SELECT id, operation, mint, account, price, amount_in, amount_out, bootstrap, created_at
        FROM receipts WHERE id = ?
    `, strings.TrimSpace(id))
	return scanReceipt(row)
}

// ListReceipts returns the newest receipts for mint, at most limit rows.
func (s *Storage) ListReceipts(ctx context.Context, mint string, limit int) ([]Receipt, error) {
	if s == nil {
		return nil, fmt.Errorf("storage not configured")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, operation, mint, account, price, amount_in, amount_out, bootstrap, created_at
        FROM receipts WHERE mint = ?
        ORDER BY created_at DESC, rowid DESC
        LIMIT ?
    `, strings.ToUpper(strings.TrimSpace(mint)), limit)
	if err != nil {
		return nil, fmt.Errorf("query receipts: %w", err)
	}
	defer rows.Close()
	out := make([]Receipt, 0)
	for rows.Next() {
		rec, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate receipts: %w", err)
	}
	return out, nil
}

// ReceiptsBetween returns the receipts for mint created in [start, end),
// oldest first.
func (s *Storage) ReceiptsBetween(ctx context.Context, mint string, start, end time.Time) ([]Receipt, error) {
	if s == nil {
		return nil, fmt.Errorf("storage not configured")
	}
	if !end.After(start) {
		return nil, fmt.Errorf("export window end must be after start")
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, operation, mint, account, price, amount_in, amount_out, bootstrap, created_at
        FROM receipts WHERE mint = ? AND created_at >= ? AND created_at < ?
        ORDER BY created_at ASC, rowid ASC
    `, strings.ToUpper(strings.TrimSpace(mint)), start.UTC().Unix(), end.UTC().Unix())
	if err != nil {
		return nil, fmt.Errorf("query receipts: %w", err)
	}
	defer rows.Close()
	out := make([]Receipt, 0)
	for rows.Next() {
		rec, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate receipts: %w", err)
	}
	return out, nil
}

// PruneIdempotencyKeys forgets keys created before cutoff. Receipts are kept.
func (s *Storage) PruneIdempotencyKeys(ctx context.Context, cutoff time.Time) (int64, error) {
	if s == nil {
		return 0, fmt.Errorf("storage not configured")
	}
	result, err := s.db.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE created_at < ?`, cutoff.UTC().Unix())
	if err != nil {
		return 0, fmt.Errorf("prune idempotency keys: %w", err)
	}
	return result.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanReceipt(row scanner) (Receipt, error) {
	var (
		rec                  Receipt
		price, amtIn, amtOut string
		created              int64
	)
	if err := row.Scan(&rec.ID, &rec.Operation, &rec.Mint, &rec.Account, &price, &amtIn, &amtOut, &rec.Bootstrap, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Receipt{}, ErrReceiptNotFound
		}
		return Receipt{}, fmt.Errorf("scan receipt: %w", err)
	}
	var err error
	if rec.Price, err = parseUint(price); err != nil {
		return Receipt{}, err
	}
	if rec.AmountIn, err = parseUint(amtIn); err != nil {
		return Receipt{}, err
	}
	if rec.AmountOut, err = parseUint(amtOut); err != nil {
		return Receipt{}, err
	}
	rec.CreatedAt = time.Unix(created, 0).UTC()
	return rec, nil
}

// Amounts are stored as text; sqlite integers are signed 64-bit.
func formatUint(v uint64) string { return strconv.FormatUint(v, 10) }

func parseUint(v string) (uint64, error) {
	out, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("decode receipt amount %q: %w", v, err)
	}
	return out, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS receipts (
    id TEXT PRIMARY KEY,
    operation TEXT NOT NULL,
    mint TEXT NOT NULL,
    account TEXT NOT NULL,
    price TEXT NOT NULL,
    amount_in TEXT NOT NULL,
    amount_out TEXT NOT NULL,
    bootstrap BOOLEAN NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_receipts_mint_created ON receipts(mint, created_at);

CREATE TABLE IF NOT EXISTS idempotency_keys (
    key TEXT PRIMARY KEY,
    receipt_id TEXT NOT NULL REFERENCES receipts(id),
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_idempotency_keys_created ON idempotency_keys(created_at);
`
