/*
Package sqlite provides the SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  One Store implements every persistence contract the engine has:

  booking.Store:            reservations, CAS transitions, overlap counts
  booking.Catalog:          the bookable service catalog
  booking.CustomerDirectory: read-only customer lookups
  schedule.Store:           working hours and blocked intervals
  payment.Store:            payments, CAS transitions
  refund.Store:             refund requests, CAS transitions
  audit.Sink:               append-only audit log
  payment.LoyaltyAwarder:   idempotent loyalty credits

NO-OVERLAP ENFORCEMENT:
  SQLite cannot express an interval-exclusion constraint, so the
  invariant rests on two layers: WithTx serializes the availability
  check against concurrent creates, and CreateReservation re-counts
  overlapping rows immediately before insert as a backstop.

CAS TRANSITIONS:
  Every status change is "UPDATE ... WHERE id = ? AND status = ?" with
  a RowsAffected check. Zero rows means another writer transitioned the
  row first and the caller's move becomes a logged no-op.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/booking.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - booking/store.go: interface definitions and concurrency contract
  - store/memory: in-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/booking-engine/audit"
	"github.com/warp/booking-engine/booking"
	"github.com/warp/booking-engine/payment"
	"github.com/warp/booking-engine/refund"
	"github.com/warp/booking-engine/schedule"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// runner is satisfied by both *sql.DB and *sql.Tx so the query helpers
// work inside and outside transactions.
type runner interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows a single writer; a second pooled connection would also
	// give ":memory:" databases a separate, empty schema.
	db.SetMaxOpenConns(1)

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
	-- Bookable services
	CREATE TABLE IF NOT EXISTS services (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		duration_sec INTEGER NOT NULL,
		price_cents INTEGER NOT NULL,
		currency TEXT NOT NULL,
		loyalty_points INTEGER NOT NULL DEFAULT 0,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Customers (read-mostly identity records)
	CREATE TABLE IF NOT EXISTS customers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Reservations
	CREATE TABLE IF NOT EXISTS reservations (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		service_id TEXT NOT NULL REFERENCES services(id),
		start_at TEXT NOT NULL,
		end_at TEXT NOT NULL,
		status TEXT NOT NULL,
		cancel_reason TEXT,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Overlap counting (hot path: every create)
	CREATE INDEX IF NOT EXISTS idx_reservations_span
		ON reservations(start_at, end_at) WHERE status != 'CANCELLED';
	CREATE INDEX IF NOT EXISTS idx_reservations_status
		ON reservations(status);
	CREATE INDEX IF NOT EXISTS idx_reservations_customer
		ON reservations(customer_id);
	-- Sweeper scan
	CREATE INDEX IF NOT EXISTS idx_reservations_pending_created
		ON reservations(created_at) WHERE status = 'PENDING';

	-- Payments
	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		reservation_id TEXT NOT NULL REFERENCES reservations(id),
		amount_cents INTEGER NOT NULL,
		currency TEXT NOT NULL,
		status TEXT NOT NULL,
		provider TEXT NOT NULL,
		session_id TEXT NOT NULL UNIQUE,
		transaction_id TEXT,
		checkout_url TEXT,
		message TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- CRITICAL: at most one live (non-failed) payment per reservation
	CREATE UNIQUE INDEX IF NOT EXISTS idx_payments_one_live
		ON payments(reservation_id) WHERE status != 'FAILED';
	CREATE INDEX IF NOT EXISTS idx_payments_reservation
		ON payments(reservation_id, created_at DESC);

	-- Refund requests
	CREATE TABLE IF NOT EXISTS refund_requests (
		id TEXT PRIMARY KEY,
		reservation_id TEXT NOT NULL REFERENCES reservations(id),
		customer_id TEXT NOT NULL,
		reason TEXT,
		attachment TEXT,
		status TEXT NOT NULL,
		decided_by TEXT,
		decision_note TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- CRITICAL: at most one open request per reservation
	CREATE UNIQUE INDEX IF NOT EXISTS idx_refund_requests_one_pending
		ON refund_requests(reservation_id) WHERE status = 'PENDING';
	CREATE INDEX IF NOT EXISTS idx_refund_requests_status
		ON refund_requests(status);

	-- Working hours: exactly one row per weekday (0 = Sunday)
	CREATE TABLE IF NOT EXISTS working_hours (
		weekday INTEGER PRIMARY KEY,
		open_min INTEGER NOT NULL,
		close_min INTEGER NOT NULL,
		closed BOOLEAN NOT NULL DEFAULT FALSE,
		updated_at TEXT NOT NULL
	);

	-- Blocked intervals
	CREATE TABLE IF NOT EXISTS blocked_intervals (
		id TEXT PRIMARY KEY,
		start_at TEXT NOT NULL,
		end_at TEXT NOT NULL,
		reason TEXT,
		created_by TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_blocked_intervals_span
		ON blocked_intervals(start_at, end_at);

	-- Audit log (append-only)
	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		actor TEXT NOT NULL,
		action TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		details_json TEXT,
		at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_entity
		ON audit_log(entity_type, entity_id);

	-- Loyalty awards, idempotent by reference
	CREATE TABLE IF NOT EXISTS loyalty_awards (
		reference TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		points INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_loyalty_customer
		ON loyalty_awards(customer_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// RESERVATION STORE (booking.Store interface)
// =============================================================================

const reservationColumns = `
	r.id, r.customer_id, r.service_id, r.start_at, r.status, r.cancel_reason,
	r.version, r.created_at, r.updated_at,
	s.id, s.name, s.duration_sec, s.price_cents, s.currency, s.loyalty_points,
	s.active, s.created_at, s.updated_at`

// CreateReservation inserts a PENDING reservation, re-counting overlaps
// immediately before insert as the backstop behind WithTx.
func (s *Store) CreateReservation(ctx context.Context, r booking.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.createReservation(ctx, s.db, r)
}

func (s *Store) createReservation(ctx context.Context, db runner, r booking.Reservation) error {
	end := r.End()

	var count int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reservations
		 WHERE status != 'CANCELLED' AND start_at < ? AND end_at > ?`,
		end.UTC().Format(time.RFC3339), r.Start.UTC().Format(time.RFC3339),
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("failed to count overlaps: %w", err)
	}
	if count > 0 {
		return &booking.ConflictError{
			Reason:   booking.ConflictSlotTaken,
			Interval: booking.Interval{Start: r.Start, End: end},
		}
	}

	_, err = db.ExecContext(ctx,
		`INSERT INTO reservations
		 (id, customer_id, service_id, start_at, end_at, status, cancel_reason, version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.CustomerID, r.ServiceID,
		r.Start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339),
		r.Status, nullString(r.CancelReason), 1,
		r.CreatedAt.UTC().Format(time.RFC3339), r.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert reservation: %w", err)
	}
	return nil
}

// GetReservation returns a reservation with its service joined in, or
// nil when absent.
func (s *Store) GetReservation(ctx context.Context, id booking.ReservationID) (*booking.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.getReservation(ctx, s.db, id)
}

func (s *Store) getReservation(ctx context.Context, db runner, id booking.ReservationID) (*booking.Reservation, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+reservationColumns+`
		 FROM reservations r JOIN services s ON s.id = r.service_id
		 WHERE r.id = ?`, id)
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
	return &r, nil
}

// ListOverlapping returns non-cancelled reservations intersecting
// [from, to) with half-open semantics.
func (s *Store) ListOverlapping(ctx context.Context, from, to time.Time) ([]booking.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.listOverlapping(ctx, s.db, from, to)
}

func (s *Store) listOverlapping(ctx context.Context, db runner, from, to time.Time) ([]booking.Reservation, error) {
	return s.queryReservations(ctx, db,
		`SELECT `+reservationColumns+`
		 FROM reservations r JOIN services s ON s.id = r.service_id
		 WHERE r.status != 'CANCELLED' AND r.start_at < ? AND r.end_at > ?
		 ORDER BY r.start_at ASC`,
		to.UTC().Format(time.RFC3339), from.UTC().Format(time.RFC3339))
}

// UpdateReservationStatus CAS-transitions id from `from` to `to`.
func (s *Store) UpdateReservationStatus(ctx context.Context, id booking.ReservationID, from, to booking.ReservationStatus, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.casReservation(ctx, s.db, id, from, to, reason)
}

func (s *Store) casReservation(ctx context.Context, db runner, id booking.ReservationID, from, to booking.ReservationStatus, reason string) (bool, error) {
	res, err := db.ExecContext(ctx,
		`UPDATE reservations
		 SET status = ?, cancel_reason = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND status = ?`,
		to, nullString(reason), time.Now().UTC().Format(time.RFC3339), id, from,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update reservation status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ListPendingCreatedBefore returns PENDING reservations created strictly
// before the cutoff, oldest first.
func (s *Store) ListPendingCreatedBefore(ctx context.Context, cutoff time.Time) ([]booking.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryReservations(ctx, s.db,
		`SELECT `+reservationColumns+`
		 FROM reservations r JOIN services s ON s.id = r.service_id
		 WHERE r.status = 'PENDING' AND r.created_at < ?
		 ORDER BY r.created_at ASC`,
		cutoff.UTC().Format(time.RFC3339))
}

func (s *Store) ListReservationsByCustomer(ctx context.Context, id booking.CustomerID) ([]booking.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryReservations(ctx, s.db,
		`SELECT `+reservationColumns+`
		 FROM reservations r JOIN services s ON s.id = r.service_id
		 WHERE r.customer_id = ?
		 ORDER BY r.start_at DESC`, id)
}

func (s *Store) ListReservationsByStatus(ctx context.Context, status booking.ReservationStatus) ([]booking.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryReservations(ctx, s.db,
		`SELECT `+reservationColumns+`
		 FROM reservations r JOIN services s ON s.id = r.service_id
		 WHERE r.status = ?
		 ORDER BY r.start_at ASC`, status)
}

func (s *Store) ListReservationsBetween(ctx context.Context, from, to time.Time) ([]booking.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryReservations(ctx, s.db,
		`SELECT `+reservationColumns+`
		 FROM reservations r JOIN services s ON s.id = r.service_id
		 WHERE r.start_at >= ? AND r.start_at < ?
		 ORDER BY r.start_at ASC`,
		from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339))
}

func (s *Store) queryReservations(ctx context.Context, db runner, query string, args ...any) ([]booking.Reservation, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reservations: %w", err)
	}
	defer rows.Close()

	var reservations []booking.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		reservations = append(reservations, r)
	}
	return reservations, rows.Err()
}

func scanReservation(rows *sql.Rows) (booking.Reservation, error) {
	var (
		r            booking.Reservation
		startAt      string
		cancelReason sql.NullString
		createdAt    string
		updatedAt    string

		svcDuration  int64
		svcCents     int64
		svcCurrency  string
		svcCreatedAt string
		svcUpdatedAt string
	)

	err := rows.Scan(
		&r.ID, &r.CustomerID, &r.ServiceID, &startAt, &r.Status, &cancelReason,
		&r.Version, &createdAt, &updatedAt,
		&r.Service.ID, &r.Service.Name, &svcDuration, &svcCents, &svcCurrency,
		&r.Service.LoyaltyPoints, &r.Service.Active, &svcCreatedAt, &svcUpdatedAt,
	)
	if err != nil {
		return r, fmt.Errorf("failed to scan reservation: %w", err)
	}

	r.Start, _ = time.Parse(time.RFC3339, startAt)
	r.CancelReason = cancelReason.String
	r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	r.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	r.Service.Duration = time.Duration(svcDuration) * time.Second
	r.Service.Price = booking.NewMoneyFromCents(svcCents, svcCurrency)
	r.Service.CreatedAt, _ = time.Parse(time.RFC3339, svcCreatedAt)
	r.Service.UpdatedAt, _ = time.Parse(time.RFC3339, svcUpdatedAt)

	return r, nil
}

// =============================================================================
// TRANSACTIONAL STORE (booking.Store WithTx)
// =============================================================================

// WithTx executes fn inside a database transaction, serialized against
// every other write through the store mutex. This is what makes
// check-then-insert atomic.
func (s *Store) WithTx(ctx context.Context, fn func(booking.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx, parent: s}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore is the booking.Store view inside an open transaction. It
// delegates to the parent's helpers without re-locking.
type txStore struct {
	tx     *sql.Tx
	parent *Store
}

func (ts *txStore) CreateReservation(ctx context.Context, r booking.Reservation) error {
	return ts.parent.createReservation(ctx, ts.tx, r)
}

func (ts *txStore) GetReservation(ctx context.Context, id booking.ReservationID) (*booking.Reservation, error) {
	return ts.parent.getReservation(ctx, ts.tx, id)
}

func (ts *txStore) ListOverlapping(ctx context.Context, from, to time.Time) ([]booking.Reservation, error) {
	return ts.parent.listOverlapping(ctx, ts.tx, from, to)
}

func (ts *txStore) UpdateReservationStatus(ctx context.Context, id booking.ReservationID, from, to booking.ReservationStatus, reason string) (bool, error) {
	return ts.parent.casReservation(ctx, ts.tx, id, from, to, reason)
}

func (ts *txStore) ListPendingCreatedBefore(ctx context.Context, cutoff time.Time) ([]booking.Reservation, error) {
	return ts.parent.queryReservations(ctx, ts.tx,
		`SELECT `+reservationColumns+`
		 FROM reservations r JOIN services s ON s.id = r.service_id
		 WHERE r.status = 'PENDING' AND r.created_at < ?
		 ORDER BY r.created_at ASC`,
		cutoff.UTC().Format(time.RFC3339))
}

func (ts *txStore) ListReservationsByCustomer(ctx context.Context, id booking.CustomerID) ([]booking.Reservation, error) {
	return ts.parent.queryReservations(ctx, ts.tx,
		`SELECT `+reservationColumns+`
		 FROM reservations r JOIN services s ON s.id = r.service_id
		 WHERE r.customer_id = ?
		 ORDER BY r.start_at DESC`, id)
}

func (ts *txStore) ListReservationsByStatus(ctx context.Context, status booking.ReservationStatus) ([]booking.Reservation, error) {
	return ts.parent.queryReservations(ctx, ts.tx,
		`SELECT `+reservationColumns+`
		 FROM reservations r JOIN services s ON s.id = r.service_id
		 WHERE r.status = ?
		 ORDER BY r.start_at ASC`, status)
}

func (ts *txStore) ListReservationsBetween(ctx context.Context, from, to time.Time) ([]booking.Reservation, error) {
	return ts.parent.queryReservations(ctx, ts.tx,
		`SELECT `+reservationColumns+`
		 FROM reservations r JOIN services s ON s.id = r.service_id
		 WHERE r.start_at >= ? AND r.start_at < ?
		 ORDER BY r.start_at ASC`,
		from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339))
}

// WithTx on an open transaction runs fn in the same transaction.
func (ts *txStore) WithTx(ctx context.Context, fn func(booking.Store) error) error {
	return fn(ts)
}

// =============================================================================
// SERVICE CATALOG (booking.Catalog interface)
// =============================================================================

func (s *Store) GetServiceItem(ctx context.Context, id booking.ServiceID) (*booking.ServiceItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		item      booking.ServiceItem
		duration  int64
		cents     int64
		currency  string
		createdAt string
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, duration_sec, price_cents, currency, loyalty_points, active, created_at, updated_at
		 FROM services WHERE id = ?`, id,
	).Scan(&item.ID, &item.Name, &duration, &cents, &currency, &item.LoyaltyPoints, &item.Active, &createdAt, &updatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	item.Duration = time.Duration(duration) * time.Second
	item.Price = booking.NewMoneyFromCents(cents, currency)
	item.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	item.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &item, nil
}

func (s *Store) ListServiceItems(ctx context.Context, activeOnly bool) ([]booking.ServiceItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, name, duration_sec, price_cents, currency, loyalty_points, active, created_at, updated_at
	          FROM services ORDER BY name`
	if activeOnly {
		query = `SELECT id, name, duration_sec, price_cents, currency, loyalty_points, active, created_at, updated_at
		         FROM services WHERE active = TRUE ORDER BY name`
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []booking.ServiceItem
	for rows.Next() {
		var (
			item      booking.ServiceItem
			duration  int64
			cents     int64
			currency  string
			createdAt string
			updatedAt string
		)
		if err := rows.Scan(&item.ID, &item.Name, &duration, &cents, &currency,
			&item.LoyaltyPoints, &item.Active, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		item.Duration = time.Duration(duration) * time.Second
		item.Price = booking.NewMoneyFromCents(cents, currency)
		item.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		item.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *Store) SaveServiceItem(ctx context.Context, item booking.ServiceItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO services (id, name, duration_sec, price_cents, currency, loyalty_points, active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			duration_sec = excluded.duration_sec,
			price_cents = excluded.price_cents,
			currency = excluded.currency,
			loyalty_points = excluded.loyalty_points,
			active = excluded.active,
			updated_at = excluded.updated_at`,
		item.ID, item.Name, int64(item.Duration/time.Second),
		item.Price.Cents(), item.Price.Currency,
		item.LoyaltyPoints, item.Active, now, now,
	)
	return err
}

// =============================================================================
// CUSTOMER DIRECTORY (booking.CustomerDirectory interface)
// =============================================================================

func (s *Store) CustomerByID(ctx context.Context, id booking.CustomerID) (*booking.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var c booking.Customer
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, email FROM customers WHERE id = ?", id,
	).Scan(&c.ID, &c.Name, &c.Email)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// SaveCustomer upserts a customer record.
func (s *Store) SaveCustomer(ctx context.Context, c booking.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO customers (id, name, email, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email`,
		c.ID, c.Name, c.Email, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// =============================================================================
// SCHEDULE STORE (schedule.Store interface)
// =============================================================================

func (s *Store) UpsertWorkingHours(ctx context.Context, wh schedule.WorkingHours) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO working_hours (weekday, open_min, close_min, closed, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(weekday) DO UPDATE SET
			open_min = excluded.open_min,
			close_min = excluded.close_min,
			closed = excluded.closed,
			updated_at = excluded.updated_at`,
		int(wh.Weekday), wh.Open.Minutes, wh.Close.Minutes, wh.Closed,
		time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) WorkingHoursFor(ctx context.Context, day time.Weekday) (*schedule.WorkingHours, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		wh        schedule.WorkingHours
		weekday   int
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT weekday, open_min, close_min, closed, updated_at FROM working_hours WHERE weekday = ?",
		int(day),
	).Scan(&weekday, &wh.Open.Minutes, &wh.Close.Minutes, &wh.Closed, &updatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	wh.Weekday = time.Weekday(weekday)
	wh.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &wh, nil
}

func (s *Store) ListWorkingHours(ctx context.Context) ([]schedule.WorkingHours, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT weekday, open_min, close_min, closed, updated_at FROM working_hours ORDER BY weekday")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hours []schedule.WorkingHours
	for rows.Next() {
		var (
			wh        schedule.WorkingHours
			weekday   int
			updatedAt string
		)
		if err := rows.Scan(&weekday, &wh.Open.Minutes, &wh.Close.Minutes, &wh.Closed, &updatedAt); err != nil {
			return nil, err
		}
		wh.Weekday = time.Weekday(weekday)
		wh.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		hours = append(hours, wh)
	}
	return hours, rows.Err()
}

func (s *Store) AddBlockedInterval(ctx context.Context, b schedule.BlockedInterval) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO blocked_intervals (id, start_at, end_at, reason, created_by, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		b.ID, b.Start.UTC().Format(time.RFC3339), b.End.UTC().Format(time.RFC3339),
		nullString(b.Reason), nullString(b.CreatedBy),
		time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) DeleteBlockedInterval(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM blocked_intervals WHERE id = ?", id)
	return err
}

func (s *Store) BlockedIntervalsOverlapping(ctx context.Context, from, to time.Time) ([]schedule.BlockedInterval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, start_at, end_at, reason, created_by, created_at
		 FROM blocked_intervals
		 WHERE start_at < ? AND end_at > ?
		 ORDER BY start_at ASC`,
		to.UTC().Format(time.RFC3339), from.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var blocks []schedule.BlockedInterval
	for rows.Next() {
		var (
			b                 schedule.BlockedInterval
			startAt, endAt    string
			reason, createdBy sql.NullString
			createdAt         string
		)
		if err := rows.Scan(&b.ID, &startAt, &endAt, &reason, &createdBy, &createdAt); err != nil {
			return nil, err
		}
		b.Start, _ = time.Parse(time.RFC3339, startAt)
		b.End, _ = time.Parse(time.RFC3339, endAt)
		b.Reason = reason.String
		b.CreatedBy = createdBy.String
		b.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		blocks = append(blocks, b)
	}
	return blocks, rows.Err()
}

// =============================================================================
// PAYMENT STORE (payment.Store interface)
// =============================================================================

const paymentColumns = `id, reservation_id, amount_cents, currency, status, provider,
	session_id, transaction_id, checkout_url, message, created_at, updated_at`

func (s *Store) CreatePayment(ctx context.Context, p payment.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO payments (`+paymentColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.ReservationID, p.Amount.Cents(), p.Amount.Currency,
		p.Status, p.Provider, p.SessionID,
		nullString(p.TransactionID), nullString(p.CheckoutURL), nullString(p.Message),
		p.CreatedAt.UTC().Format(time.RFC3339), p.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("reservation %s: %w", p.ReservationID, booking.ErrPaymentExists)
		}
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

func (s *Store) GetPayment(ctx context.Context, id booking.PaymentID) (*payment.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryPayment(ctx, "SELECT "+paymentColumns+" FROM payments WHERE id = ?", id)
}

func (s *Store) PaymentBySession(ctx context.Context, sessionID string) (*payment.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryPayment(ctx, "SELECT "+paymentColumns+" FROM payments WHERE session_id = ?", sessionID)
}

func (s *Store) LatestPaymentByReservation(ctx context.Context, id booking.ReservationID) (*payment.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryPayment(ctx,
		`SELECT `+paymentColumns+` FROM payments
		 WHERE reservation_id = ?
		 ORDER BY created_at DESC, id DESC LIMIT 1`, id)
}

func (s *Store) UpdatePaymentStatus(ctx context.Context, id booking.PaymentID, from, to payment.Status, transactionID, message string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE payments
		 SET status = ?, transaction_id = ?, message = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		to, nullString(transactionID), nullString(message),
		time.Now().UTC().Format(time.RFC3339), id, from,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update payment status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) ListPaymentsByStatus(ctx context.Context, status payment.Status) ([]payment.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+paymentColumns+" FROM payments WHERE status = ? ORDER BY created_at ASC", status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []payment.Payment
	for rows.Next() {
		p, err := scanPayment(rows.Scan)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func (s *Store) queryPayment(ctx context.Context, query string, args ...any) (*payment.Payment, error) {
	row := s.db.QueryRowContext(ctx, query, args...)
	p, err := scanPayment(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func scanPayment(scan func(...any) error) (payment.Payment, error) {
	var (
		p                               payment.Payment
		cents                           int64
		currency                        string
		transactionID, checkoutURL, msg sql.NullString
		createdAt, updatedAt            string
	)
	err := scan(
		&p.ID, &p.ReservationID, &cents, &currency, &p.Status, &p.Provider,
		&p.SessionID, &transactionID, &checkoutURL, &msg, &createdAt, &updatedAt,
	)
	if err != nil {
		return p, err
	}

	p.Amount = booking.NewMoneyFromCents(cents, currency)
	p.TransactionID = transactionID.String
	p.CheckoutURL = checkoutURL.String
	p.Message = msg.String
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	p.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return p, nil
}

// =============================================================================
// REFUND REQUEST STORE (refund.Store interface)
// =============================================================================

const refundColumns = `id, reservation_id, customer_id, reason, attachment, status,
	decided_by, decision_note, created_at, updated_at`

func (s *Store) CreateRequest(ctx context.Context, r refund.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO refund_requests (`+refundColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ReservationID, r.CustomerID, nullString(r.Reason), nullString(r.Attachment), r.Status,
		nullString(r.DecidedBy), nullString(r.DecisionNote),
		r.CreatedAt.UTC().Format(time.RFC3339), r.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("reservation %s: %w", r.ReservationID, booking.ErrDuplicateRefundRequest)
		}
		return fmt.Errorf("failed to insert refund request: %w", err)
	}
	return nil
}

func (s *Store) GetRequest(ctx context.Context, id string) (*refund.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryRefundRequest(ctx, "SELECT "+refundColumns+" FROM refund_requests WHERE id = ?", id)
}

func (s *Store) PendingRequestByReservation(ctx context.Context, id booking.ReservationID) (*refund.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryRefundRequest(ctx,
		"SELECT "+refundColumns+" FROM refund_requests WHERE reservation_id = ? AND status = 'PENDING'", id)
}

func (s *Store) UpdateRequestStatus(ctx context.Context, id string, from, to refund.Status, decidedBy, note string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE refund_requests
		 SET status = ?, decided_by = ?, decision_note = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		to, nullString(decidedBy), nullString(note),
		time.Now().UTC().Format(time.RFC3339), id, from,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update refund request status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) ListRequestsByStatus(ctx context.Context, status refund.Status) ([]refund.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+refundColumns+" FROM refund_requests WHERE status = ? ORDER BY created_at ASC", status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var requests []refund.Request
	for rows.Next() {
		r, err := scanRefundRequest(rows.Scan)
		if err != nil {
			return nil, err
		}
		requests = append(requests, r)
	}
	return requests, rows.Err()
}

func (s *Store) queryRefundRequest(ctx context.Context, query string, args ...any) (*refund.Request, error) {
	row := s.db.QueryRowContext(ctx, query, args...)
	r, err := scanRefundRequest(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func scanRefundRequest(scan func(...any) error) (refund.Request, error) {
	var (
		r                                   refund.Request
		reason, attachment, decidedBy, note sql.NullString
		createdAt, updatedAt                string
	)
	err := scan(
		&r.ID, &r.ReservationID, &r.CustomerID, &reason, &attachment, &r.Status,
		&decidedBy, &note, &createdAt, &updatedAt,
	)
	if err != nil {
		return r, err
	}

	r.Reason = reason.String
	r.Attachment = attachment.String
	r.DecidedBy = decidedBy.String
	r.DecisionNote = note.String
	r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	r.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return r, nil
}

// =============================================================================
// AUDIT SINK (audit.Sink interface)
// =============================================================================

func (s *Store) Record(ctx context.Context, e audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := e.ID
	if id == "" {
		id = uuid.NewString()
	}
	detailsJSON, _ := json.Marshal(e.Details)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (id, actor, action, entity_type, entity_id, details_json, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, e.Actor, e.Action, e.EntityType, e.EntityID,
		string(detailsJSON), e.At.UTC().Format(time.RFC3339),
	)
	return err
}

// AuditTrail returns the audit entries for one entity, newest first.
func (s *Store) AuditTrail(ctx context.Context, entityType, entityID string) ([]audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, actor, action, entity_type, entity_id, details_json, at
		 FROM audit_log
		 WHERE entity_type = ? AND entity_id = ?
		 ORDER BY at DESC`, entityType, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []audit.Entry
	for rows.Next() {
		var (
			e           audit.Entry
			detailsJSON sql.NullString
			at          string
		)
		if err := rows.Scan(&e.ID, &e.Actor, &e.Action, &e.EntityType, &e.EntityID, &detailsJSON, &at); err != nil {
			return nil, err
		}
		if detailsJSON.Valid && detailsJSON.String != "" {
			json.Unmarshal([]byte(detailsJSON.String), &e.Details)
		}
		e.At, _ = time.Parse(time.RFC3339, at)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// LOYALTY (payment.LoyaltyAwarder interface)
// =============================================================================

// Award credits points to a customer, keyed by reference. A duplicate
// reference is a silent no-op, which is what makes redelivered payment
// callbacks safe.
func (s *Store) Award(ctx context.Context, customerID booking.CustomerID, points int, reference string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO loyalty_awards (reference, customer_id, points, created_at)
		 VALUES (?, ?, ?, ?)`,
		reference, customerID, points, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return nil
		}
		return fmt.Errorf("failed to insert loyalty award: %w", err)
	}
	return nil
}

// LoyaltyBalance returns a customer's accumulated points.
func (s *Store) LoyaltyBalance(ctx context.Context, customerID booking.CustomerID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int
	err := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(points), 0) FROM loyalty_awards WHERE customer_id = ?",
		customerID,
	).Scan(&total)
	return total, err
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{
		"loyalty_awards", "audit_log", "refund_requests", "payments",
		"reservations", "blocked_intervals", "working_hours", "customers", "services",
	}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
