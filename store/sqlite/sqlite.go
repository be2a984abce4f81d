/*
Package sqlite provides the SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements engine.Store and engine.TxStore using SQLite. In production,
  the same patterns apply to PostgreSQL - only minor SQL dialect
  differences.

KEY TABLES:
  showings:           Event instances with capacity bookkeeping
  reservations:       Bookings, version column for optimistic concurrency
  reservation_log:    Append-only per-reservation audit lines
  trust_records:      One row per blocked customer email
  vouchers:           Stored-value instruments (decimal values as TEXT)
  voucher_usage:      Append-only redemption history
  capacity_overrides: Admin capacity replacements

CONCURRENCY:
  Uses sync.RWMutex for thread-safety; the mutex also serializes the
  read-modify-write cycles inside UpdateReservation/UpdateShowing and
  the conditional decrement, which is what makes them atomic here. The
  version column still guards against writers that bypass this process.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - engine/store.go: Interface definitions and contracts
  - engine/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/booking-engine/engine"
)

// Store implements engine.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS showings (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		starts_at TEXT NOT NULL,
		capacity INTEGER NOT NULL,
		remaining INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS reservations (
		id TEXT PRIMARY KEY,
		showing_id TEXT NOT NULL,
		email TEXT NOT NULL,
		party_size INTEGER NOT NULL,
		status TEXT NOT NULL,
		payment_status TEXT NOT NULL,
		option_expires_at TEXT,
		payment_due_at TEXT,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_reservations_showing
		ON reservations(showing_id);
	CREATE INDEX IF NOT EXISTS idx_reservations_email
		ON reservations(email);

	-- Hot path for the sweepers: status + payment sub-state
	CREATE INDEX IF NOT EXISTS idx_reservations_status_payment
		ON reservations(status, payment_status);

	-- Append-only; ordering within a reservation comes from rowid
	CREATE TABLE IF NOT EXISTS reservation_log (
		reservation_id TEXT NOT NULL,
		at TEXT NOT NULL,
		actor TEXT NOT NULL,
		message TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_reservation_log_reservation
		ON reservation_log(reservation_id);

	CREATE TABLE IF NOT EXISTS trust_records (
		email TEXT PRIMARY KEY,
		blocked_at TEXT NOT NULL,
		blocked_by TEXT NOT NULL,
		reason TEXT NOT NULL,
		no_show_count INTEGER NOT NULL
	);

	-- Decimal values stored as TEXT; arithmetic happens in Go only
	CREATE TABLE IF NOT EXISTS vouchers (
		code TEXT PRIMARY KEY,
		initial_value TEXT NOT NULL,
		remaining_value TEXT NOT NULL,
		pending_payment BOOLEAN NOT NULL DEFAULT FALSE,
		expires_at TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS voucher_usage (
		code TEXT NOT NULL,
		reservation_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_voucher_usage_code
		ON voucher_usage(code);

	CREATE TABLE IF NOT EXISTS capacity_overrides (
		showing_id TEXT PRIMARY KEY,
		original_capacity INTEGER NOT NULL,
		override_capacity INTEGER NOT NULL,
		reason TEXT NOT NULL,
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx is satisfied by both *sql.DB and *sql.Tx so every query helper
// can run inside or outside a transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var _ engine.TxStore = (*Store)(nil)

// =============================================================================
// SHOWINGS
// =============================================================================

// SaveShowing inserts or replaces a showing.
func (s *Store) SaveShowing(ctx context.Context, sh engine.Showing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveShowing(ctx, s.db, sh)
}

func (s *Store) saveShowing(ctx context.Context, db dbtx, sh engine.Showing) error {
	query := `
		INSERT INTO showings (id, name, starts_at, capacity, remaining, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			starts_at = excluded.starts_at,
			capacity = excluded.capacity,
			remaining = excluded.remaining
	`
	_, err := db.ExecContext(ctx, query,
		sh.ID, sh.Name,
		sh.StartsAt.Format(time.RFC3339),
		sh.Capacity, sh.Remaining,
		sh.CreatedAt.Format(time.RFC3339),
	)
	return err
}

// GetShowing retrieves a showing, (nil, nil) when absent.
func (s *Store) GetShowing(ctx context.Context, id engine.ShowingID) (*engine.Showing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getShowing(ctx, s.db, id)
}

func (s *Store) getShowing(ctx context.Context, db dbtx, id engine.ShowingID) (*engine.Showing, error) {
	var sh engine.Showing
	var startsAt, createdAt string

	err := db.QueryRowContext(ctx,
		"SELECT id, name, starts_at, capacity, remaining, created_at FROM showings WHERE id = ?",
		id,
	).Scan(&sh.ID, &sh.Name, &startsAt, &sh.Capacity, &sh.Remaining, &createdAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	sh.StartsAt, _ = time.Parse(time.RFC3339, startsAt)
	sh.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &sh, nil
}

// ListShowings returns all showings ordered by start time.
func (s *Store) ListShowings(ctx context.Context) ([]engine.Showing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listShowings(ctx, s.db)
}

func (s *Store) listShowings(ctx context.Context, db dbtx) ([]engine.Showing, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT id, name, starts_at, capacity, remaining, created_at FROM showings ORDER BY starts_at ASC, id ASC",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var showings []engine.Showing
	for rows.Next() {
		var sh engine.Showing
		var startsAt, createdAt string
		if err := rows.Scan(&sh.ID, &sh.Name, &startsAt, &sh.Capacity, &sh.Remaining, &createdAt); err != nil {
			return nil, err
		}
		sh.StartsAt, _ = time.Parse(time.RFC3339, startsAt)
		sh.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		showings = append(showings, sh)
	}
	return showings, rows.Err()
}

// UpdateShowing applies a mutation function to one showing. Writes are
// serialized by the store mutex, so read-then-write here is atomic.
func (s *Store) UpdateShowing(ctx context.Context, id engine.ShowingID, fn func(*engine.Showing) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateShowing(ctx, s.db, id, fn)
}

func (s *Store) updateShowing(ctx context.Context, db dbtx, id engine.ShowingID, fn func(*engine.Showing) error) error {
	sh, err := s.getShowing(ctx, db, id)
	if err != nil {
		return err
	}
	if sh == nil {
		return &engine.NotFoundError{Kind: "showing", ID: string(id)}
	}
	if err := fn(sh); err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		"UPDATE showings SET name = ?, starts_at = ?, capacity = ?, remaining = ? WHERE id = ?",
		sh.Name, sh.StartsAt.Format(time.RFC3339), sh.Capacity, sh.Remaining, id,
	)
	return err
}

// =============================================================================
// RESERVATIONS
// =============================================================================

const reservationColumns = `id, showing_id, email, party_size, status, payment_status,
	option_expires_at, payment_due_at, version, created_at, updated_at`

// CreateReservation inserts a new reservation and its initial log lines.
func (s *Store) CreateReservation(ctx context.Context, r engine.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createReservation(ctx, s.db, r)
}

func (s *Store) createReservation(ctx context.Context, db dbtx, r engine.Reservation) error {
	query := `
		INSERT INTO reservations
		(id, showing_id, email, party_size, status, payment_status,
		 option_expires_at, payment_due_at, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.ExecContext(ctx, query,
		r.ID, r.ShowingID, r.Email, r.PartySize,
		r.Status, r.PaymentStatus,
		nullTime(r.OptionExpiresAt), nullTime(r.PaymentDueAt),
		r.Version,
		r.CreatedAt.Format(time.RFC3339), r.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return engine.ErrConcurrentModification
		}
		return fmt.Errorf("failed to create reservation: %w", err)
	}
	for _, e := range r.Log {
		if err := s.appendReservationLog(ctx, db, r.ID, e); err != nil {
			return err
		}
	}
	return nil
}

// GetReservation retrieves a reservation with its log, (nil, nil) when absent.
func (s *Store) GetReservation(ctx context.Context, id engine.ReservationID) (*engine.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getReservation(ctx, s.db, id)
}

func (s *Store) getReservation(ctx context.Context, db dbtx, id engine.ReservationID) (*engine.Reservation, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT "+reservationColumns+" FROM reservations WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	r, err := scanReservation(rows)
	if err != nil {
		return nil, err
	}
	rows.Close()

	r.Log, err = s.loadLog(ctx, db, id)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// ListReservations returns reservations matching the filter, oldest first.
// Filtering runs in Go through ReservationFilter.Matches so the semantics
// cannot diverge from the in-memory store.
func (s *Store) ListReservations(ctx context.Context, f engine.ReservationFilter) ([]engine.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listReservations(ctx, s.db, f)
}

func (s *Store) listReservations(ctx context.Context, db dbtx, f engine.ReservationFilter) ([]engine.Reservation, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT "+reservationColumns+" FROM reservations ORDER BY created_at ASC, id ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		if f.Matches(r) {
			out = append(out, *r)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := s.attachLogs(ctx, db, out); err != nil {
		return nil, err
	}
	return out, nil
}

func scanReservation(rows *sql.Rows) (*engine.Reservation, error) {
	var (
		r                           engine.Reservation
		optionExpiresAt, paymentDue sql.NullString
		createdAt, updatedAt        string
	)
	err := rows.Scan(
		&r.ID, &r.ShowingID, &r.Email, &r.PartySize,
		&r.Status, &r.PaymentStatus,
		&optionExpiresAt, &paymentDue, &r.Version,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan reservation: %w", err)
	}
	r.OptionExpiresAt = parseNullTime(optionExpiresAt)
	r.PaymentDueAt = parseNullTime(paymentDue)
	r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	r.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &r, nil
}

func (s *Store) loadLog(ctx context.Context, db dbtx, id engine.ReservationID) ([]engine.LogEntry, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT at, actor, message FROM reservation_log WHERE reservation_id = ? ORDER BY rowid ASC", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var log []engine.LogEntry
	for rows.Next() {
		var e engine.LogEntry
		var at string
		if err := rows.Scan(&at, &e.Actor, &e.Message); err != nil {
			return nil, err
		}
		e.At, _ = time.Parse(time.RFC3339, at)
		log = append(log, e)
	}
	return log, rows.Err()
}

// attachLogs fills the Log slices of a reservation batch in one query.
func (s *Store) attachLogs(ctx context.Context, db dbtx, rs []engine.Reservation) error {
	if len(rs) == 0 {
		return nil
	}
	index := make(map[engine.ReservationID]*engine.Reservation, len(rs))
	args := make([]any, 0, len(rs))
	for i := range rs {
		index[rs[i].ID] = &rs[i]
		args = append(args, rs[i].ID)
	}

	query := "SELECT reservation_id, at, actor, message FROM reservation_log WHERE reservation_id IN (?" +
		strings.Repeat(",?", len(rs)-1) + ") ORDER BY rowid ASC"
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var id engine.ReservationID
		var e engine.LogEntry
		var at string
		if err := rows.Scan(&id, &at, &e.Actor, &e.Message); err != nil {
			return err
		}
		if r, ok := index[id]; ok {
			e.At, _ = time.Parse(time.RFC3339, at)
			r.Log = append(r.Log, e)
		}
	}
	return rows.Err()
}

// UpdateReservation applies a mutation function and writes the record
// back with a version check. A lost version race returns
// ErrConcurrentModification.
func (s *Store) UpdateReservation(ctx context.Context, id engine.ReservationID, fn func(*engine.Reservation) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateReservation(ctx, s.db, id, fn)
}

func (s *Store) updateReservation(ctx context.Context, db dbtx, id engine.ReservationID, fn func(*engine.Reservation) error) error {
	r, err := s.getReservation(ctx, db, id)
	if err != nil {
		return err
	}
	if r == nil {
		return &engine.NotFoundError{Kind: "reservation", ID: string(id)}
	}
	prevVersion := r.Version
	if err := fn(r); err != nil {
		return err
	}

	query := `
		UPDATE reservations SET
			showing_id = ?, email = ?, party_size = ?,
			status = ?, payment_status = ?,
			option_expires_at = ?, payment_due_at = ?,
			version = ?, updated_at = ?
		WHERE id = ? AND version = ?
	`
	res, err := db.ExecContext(ctx, query,
		r.ShowingID, r.Email, r.PartySize,
		r.Status, r.PaymentStatus,
		nullTime(r.OptionExpiresAt), nullTime(r.PaymentDueAt),
		prevVersion+1, r.UpdatedAt.Format(time.RFC3339),
		id, prevVersion,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return engine.ErrConcurrentModification
	}
	return nil
}

// AppendReservationLog adds one log line; the log table is append-only.
func (s *Store) AppendReservationLog(ctx context.Context, id engine.ReservationID, e engine.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendReservationLog(ctx, s.db, id, e)
}

func (s *Store) appendReservationLog(ctx context.Context, db dbtx, id engine.ReservationID, e engine.LogEntry) error {
	_, err := db.ExecContext(ctx,
		"INSERT INTO reservation_log (reservation_id, at, actor, message) VALUES (?, ?, ?, ?)",
		id, e.At.Format(time.RFC3339), e.Actor, e.Message,
	)
	return err
}

// DeleteReservation removes a reservation and its log lines.
func (s *Store) DeleteReservation(ctx context.Context, id engine.ReservationID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteReservation(ctx, s.db, id)
}

func (s *Store) deleteReservation(ctx context.Context, db dbtx, id engine.ReservationID) error {
	if _, err := db.ExecContext(ctx, "DELETE FROM reservation_log WHERE reservation_id = ?", id); err != nil {
		return err
	}
	_, err := db.ExecContext(ctx, "DELETE FROM reservations WHERE id = ?", id)
	return err
}

// =============================================================================
// TRUST RECORDS
// =============================================================================

// GetTrustRecord retrieves the block record for an email, (nil, nil) when absent.
func (s *Store) GetTrustRecord(ctx context.Context, email string) (*engine.TrustRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getTrustRecord(ctx, s.db, email)
}

func (s *Store) getTrustRecord(ctx context.Context, db dbtx, email string) (*engine.TrustRecord, error) {
	var rec engine.TrustRecord
	var blockedAt string

	err := db.QueryRowContext(ctx,
		"SELECT email, blocked_at, blocked_by, reason, no_show_count FROM trust_records WHERE email = ?",
		email,
	).Scan(&rec.Email, &blockedAt, &rec.BlockedBy, &rec.Reason, &rec.NoShowCount)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec.BlockedAt, _ = time.Parse(time.RFC3339, blockedAt)
	return &rec, nil
}

// SaveTrustRecord inserts or replaces the single block record for an email.
func (s *Store) SaveTrustRecord(ctx context.Context, rec engine.TrustRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveTrustRecord(ctx, s.db, rec)
}

func (s *Store) saveTrustRecord(ctx context.Context, db dbtx, rec engine.TrustRecord) error {
	query := `
		INSERT INTO trust_records (email, blocked_at, blocked_by, reason, no_show_count)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(email) DO UPDATE SET
			blocked_at = excluded.blocked_at,
			blocked_by = excluded.blocked_by,
			reason = excluded.reason,
			no_show_count = excluded.no_show_count
	`
	_, err := db.ExecContext(ctx, query,
		rec.Email, rec.BlockedAt.Format(time.RFC3339),
		rec.BlockedBy, rec.Reason, rec.NoShowCount,
	)
	return err
}

// DeleteTrustRecord removes the block record (unblock).
func (s *Store) DeleteTrustRecord(ctx context.Context, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteTrustRecord(ctx, s.db, email)
}

func (s *Store) deleteTrustRecord(ctx context.Context, db dbtx, email string) error {
	_, err := db.ExecContext(ctx, "DELETE FROM trust_records WHERE email = ?", email)
	return err
}

// CountNoShows returns the lifetime no-show count for an email.
func (s *Store) CountNoShows(ctx context.Context, email string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countNoShows(ctx, s.db, email)
}

func (s *Store) countNoShows(ctx context.Context, db dbtx, email string) (int, error) {
	var count int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM reservations WHERE email = ? AND status = ?",
		email, engine.StatusNoShow,
	).Scan(&count)
	return count, err
}

// =============================================================================
// VOUCHERS
// =============================================================================

// CreateVoucher inserts a voucher; an existing code fails.
func (s *Store) CreateVoucher(ctx context.Context, v engine.Voucher) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createVoucher(ctx, s.db, v)
}

func (s *Store) createVoucher(ctx context.Context, db dbtx, v engine.Voucher) error {
	query := `
		INSERT INTO vouchers (code, initial_value, remaining_value, pending_payment, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := db.ExecContext(ctx, query,
		v.Code, v.InitialValue.String(), v.RemainingValue.String(),
		v.PendingPayment, nullTime(v.ExpiresAt),
		v.CreatedAt.Format(time.RFC3339),
	)
	if err != nil && isUniqueConstraintError(err) {
		return engine.ErrConcurrentModification
	}
	return err
}

// SaveVoucher inserts or replaces a voucher (flag changes like activation).
func (s *Store) SaveVoucher(ctx context.Context, v engine.Voucher) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveVoucher(ctx, s.db, v)
}

func (s *Store) saveVoucher(ctx context.Context, db dbtx, v engine.Voucher) error {
	query := `
		INSERT INTO vouchers (code, initial_value, remaining_value, pending_payment, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET
			initial_value = excluded.initial_value,
			remaining_value = excluded.remaining_value,
			pending_payment = excluded.pending_payment,
			expires_at = excluded.expires_at
	`
	_, err := db.ExecContext(ctx, query,
		v.Code, v.InitialValue.String(), v.RemainingValue.String(),
		v.PendingPayment, nullTime(v.ExpiresAt),
		v.CreatedAt.Format(time.RFC3339),
	)
	return err
}

// GetVoucher retrieves a voucher with its usage history, (nil, nil) when absent.
func (s *Store) GetVoucher(ctx context.Context, code string) (*engine.Voucher, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getVoucher(ctx, s.db, code)
}

func (s *Store) getVoucher(ctx context.Context, db dbtx, code string) (*engine.Voucher, error) {
	var v engine.Voucher
	var initial, remaining, createdAt string
	var expiresAt sql.NullString

	err := db.QueryRowContext(ctx,
		"SELECT code, initial_value, remaining_value, pending_payment, expires_at, created_at FROM vouchers WHERE code = ?",
		code,
	).Scan(&v.Code, &initial, &remaining, &v.PendingPayment, &expiresAt, &createdAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	v.InitialValue, err = decimal.NewFromString(initial)
	if err != nil {
		return nil, fmt.Errorf("voucher %s: bad initial value %q: %w", code, initial, err)
	}
	v.RemainingValue, err = decimal.NewFromString(remaining)
	if err != nil {
		return nil, fmt.Errorf("voucher %s: bad remaining value %q: %w", code, remaining, err)
	}
	v.ExpiresAt = parseNullTime(expiresAt)
	v.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)

	v.Usage, err = s.loadVoucherUsage(ctx, db, code)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *Store) loadVoucherUsage(ctx context.Context, db dbtx, code string) ([]engine.VoucherUse, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT reservation_id, amount, at FROM voucher_usage WHERE code = ? ORDER BY rowid ASC", code)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var usage []engine.VoucherUse
	for rows.Next() {
		var u engine.VoucherUse
		var amount, at string
		if err := rows.Scan(&u.ReservationID, &amount, &at); err != nil {
			return nil, err
		}
		u.Amount, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("voucher %s: bad usage amount %q: %w", code, amount, err)
		}
		u.At, _ = time.Parse(time.RFC3339, at)
		usage = append(usage, u)
	}
	return usage, rows.Err()
}

// ListVouchers returns all vouchers ordered by code.
func (s *Store) ListVouchers(ctx context.Context) ([]engine.Voucher, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listVouchers(ctx, s.db)
}

func (s *Store) listVouchers(ctx context.Context, db dbtx) ([]engine.Voucher, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT code FROM vouchers ORDER BY code ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	out := make([]engine.Voucher, 0, len(codes))
	for _, code := range codes {
		v, err := s.getVoucher(ctx, db, code)
		if err != nil {
			return nil, err
		}
		if v != nil {
			out = append(out, *v)
		}
	}
	return out, nil
}

// DecrementVoucher writes newValue only if the stored remaining value
// still equals expected. The store mutex serializes the check with the
// write.
func (s *Store) DecrementVoucher(ctx context.Context, code string, expected, newValue decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.decrementVoucher(ctx, s.db, code, expected, newValue)
}

func (s *Store) decrementVoucher(ctx context.Context, db dbtx, code string, expected, newValue decimal.Decimal) error {
	var stored string
	err := db.QueryRowContext(ctx,
		"SELECT remaining_value FROM vouchers WHERE code = ?", code,
	).Scan(&stored)
	if err == sql.ErrNoRows {
		return &engine.NotFoundError{Kind: "voucher", ID: code}
	}
	if err != nil {
		return err
	}
	current, err := decimal.NewFromString(stored)
	if err != nil {
		return fmt.Errorf("voucher %s: bad remaining value %q: %w", code, stored, err)
	}
	if !current.Equal(expected) {
		return engine.ErrConcurrentModification
	}
	_, err = db.ExecContext(ctx,
		"UPDATE vouchers SET remaining_value = ? WHERE code = ?",
		newValue.String(), code,
	)
	return err
}

// AppendVoucherUse adds one redemption line; usage is append-only.
func (s *Store) AppendVoucherUse(ctx context.Context, code string, use engine.VoucherUse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendVoucherUse(ctx, s.db, code, use)
}

func (s *Store) appendVoucherUse(ctx context.Context, db dbtx, code string, use engine.VoucherUse) error {
	_, err := db.ExecContext(ctx,
		"INSERT INTO voucher_usage (code, reservation_id, amount, at) VALUES (?, ?, ?, ?)",
		code, use.ReservationID, use.Amount.String(), use.At.Format(time.RFC3339),
	)
	return err
}

// =============================================================================
// CAPACITY OVERRIDES
// =============================================================================

// SaveOverride inserts or replaces the override for a showing.
func (s *Store) SaveOverride(ctx context.Context, o engine.CapacityOverride) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveOverride(ctx, s.db, o)
}

func (s *Store) saveOverride(ctx context.Context, db dbtx, o engine.CapacityOverride) error {
	query := `
		INSERT INTO capacity_overrides (showing_id, original_capacity, override_capacity, reason, enabled, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(showing_id) DO UPDATE SET
			original_capacity = excluded.original_capacity,
			override_capacity = excluded.override_capacity,
			reason = excluded.reason,
			enabled = excluded.enabled
	`
	_, err := db.ExecContext(ctx, query,
		o.ShowingID, o.OriginalCapacity, o.OverrideCapacity,
		o.Reason, o.Enabled, o.CreatedAt.Format(time.RFC3339),
	)
	return err
}

// GetOverride retrieves the override for a showing, (nil, nil) when absent.
func (s *Store) GetOverride(ctx context.Context, id engine.ShowingID) (*engine.CapacityOverride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getOverride(ctx, s.db, id)
}

func (s *Store) getOverride(ctx context.Context, db dbtx, id engine.ShowingID) (*engine.CapacityOverride, error) {
	var o engine.CapacityOverride
	var createdAt string

	err := db.QueryRowContext(ctx,
		"SELECT showing_id, original_capacity, override_capacity, reason, enabled, created_at FROM capacity_overrides WHERE showing_id = ?",
		id,
	).Scan(&o.ShowingID, &o.OriginalCapacity, &o.OverrideCapacity, &o.Reason, &o.Enabled, &createdAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	o.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &o, nil
}

// DeleteOverride removes the override record.
func (s *Store) DeleteOverride(ctx context.Context, id engine.ShowingID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteOverride(ctx, s.db, id)
}

func (s *Store) deleteOverride(ctx context.Context, db dbtx, id engine.ShowingID) error {
	_, err := db.ExecContext(ctx, "DELETE FROM capacity_overrides WHERE showing_id = ?", id)
	return err
}

// =============================================================================
// TRANSACTIONS (engine.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store engine.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	view := &txStore{tx: sqlTx, parent: s}
	if err := fn(view); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore routes Store calls through the open transaction. The parent's
// mutex is already held by WithTx.
type txStore struct {
	tx     *sql.Tx
	parent *Store
}

var _ engine.Store = (*txStore)(nil)

func (ts *txStore) SaveShowing(ctx context.Context, sh engine.Showing) error {
	return ts.parent.saveShowing(ctx, ts.tx, sh)
}

func (ts *txStore) GetShowing(ctx context.Context, id engine.ShowingID) (*engine.Showing, error) {
	return ts.parent.getShowing(ctx, ts.tx, id)
}

func (ts *txStore) ListShowings(ctx context.Context) ([]engine.Showing, error) {
	return ts.parent.listShowings(ctx, ts.tx)
}

func (ts *txStore) UpdateShowing(ctx context.Context, id engine.ShowingID, fn func(*engine.Showing) error) error {
	return ts.parent.updateShowing(ctx, ts.tx, id, fn)
}

func (ts *txStore) CreateReservation(ctx context.Context, r engine.Reservation) error {
	return ts.parent.createReservation(ctx, ts.tx, r)
}

func (ts *txStore) GetReservation(ctx context.Context, id engine.ReservationID) (*engine.Reservation, error) {
	return ts.parent.getReservation(ctx, ts.tx, id)
}

func (ts *txStore) ListReservations(ctx context.Context, f engine.ReservationFilter) ([]engine.Reservation, error) {
	return ts.parent.listReservations(ctx, ts.tx, f)
}

func (ts *txStore) UpdateReservation(ctx context.Context, id engine.ReservationID, fn func(*engine.Reservation) error) error {
	return ts.parent.updateReservation(ctx, ts.tx, id, fn)
}

func (ts *txStore) AppendReservationLog(ctx context.Context, id engine.ReservationID, e engine.LogEntry) error {
	return ts.parent.appendReservationLog(ctx, ts.tx, id, e)
}

func (ts *txStore) DeleteReservation(ctx context.Context, id engine.ReservationID) error {
	return ts.parent.deleteReservation(ctx, ts.tx, id)
}

func (ts *txStore) GetTrustRecord(ctx context.Context, email string) (*engine.TrustRecord, error) {
	return ts.parent.getTrustRecord(ctx, ts.tx, email)
}

func (ts *txStore) SaveTrustRecord(ctx context.Context, rec engine.TrustRecord) error {
	return ts.parent.saveTrustRecord(ctx, ts.tx, rec)
}

func (ts *txStore) DeleteTrustRecord(ctx context.Context, email string) error {
	return ts.parent.deleteTrustRecord(ctx, ts.tx, email)
}

func (ts *txStore) CountNoShows(ctx context.Context, email string) (int, error) {
	return ts.parent.countNoShows(ctx, ts.tx, email)
}

func (ts *txStore) CreateVoucher(ctx context.Context, v engine.Voucher) error {
	return ts.parent.createVoucher(ctx, ts.tx, v)
}

func (ts *txStore) SaveVoucher(ctx context.Context, v engine.Voucher) error {
	return ts.parent.saveVoucher(ctx, ts.tx, v)
}

func (ts *txStore) GetVoucher(ctx context.Context, code string) (*engine.Voucher, error) {
	return ts.parent.getVoucher(ctx, ts.tx, code)
}

func (ts *txStore) ListVouchers(ctx context.Context) ([]engine.Voucher, error) {
	return ts.parent.listVouchers(ctx, ts.tx)
}

func (ts *txStore) DecrementVoucher(ctx context.Context, code string, expected, newValue decimal.Decimal) error {
	return ts.parent.decrementVoucher(ctx, ts.tx, code, expected, newValue)
}

func (ts *txStore) AppendVoucherUse(ctx context.Context, code string, use engine.VoucherUse) error {
	return ts.parent.appendVoucherUse(ctx, ts.tx, code, use)
}

func (ts *txStore) SaveOverride(ctx context.Context, o engine.CapacityOverride) error {
	return ts.parent.saveOverride(ctx, ts.tx, o)
}

func (ts *txStore) GetOverride(ctx context.Context, id engine.ShowingID) (*engine.CapacityOverride, error) {
	return ts.parent.getOverride(ctx, ts.tx, id)
}

func (ts *txStore) DeleteOverride(ctx context.Context, id engine.ShowingID) error {
	return ts.parent.deleteOverride(ctx, ts.tx, id)
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{
		"reservation_log", "reservations", "showings",
		"trust_records", "voucher_usage", "vouchers", "capacity_overrides",
	}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

func nullTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (contains(err.Error(), "UNIQUE constraint failed") ||
		contains(err.Error(), "duplicate key"))
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
