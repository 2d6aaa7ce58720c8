/*
Package sqlite provides the SQLite-backed implementation of every
repository interface in the engine.

PURPOSE:
  One store, all entities: resources, bookings, wallets, power events,
  budget lines, outbox tasks. In production the same patterns apply to
  PostgreSQL - only minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  booking.ResourceStore   Amenity lookup (read path; Save* for seeding)
  booking.BookingStore    Reservation records
  booking.TxRunner        The create/cancel critical section
  wallet.Store            Points balances with a guarded UPDATE
  device.EventStore       Append-only power audit trail
  metering.BudgetLedger   Actual-spend rollup (no-op on missing line)
  notify.OutboxStore      Reminder tasks with a (booking, kind) dedup key

THE CRITICAL SECTION:
  WithTx wraps the availability read and the CONFIRMED insert (plus the
  points debit) in one database transaction under the store's write
  lock. Two concurrent creates for the same slot serialize here; the
  loser sees the winner's row and fails with SlotUnavailable.

WALLET GUARD:
  Debit runs UPDATE ... SET balance = balance - ? WHERE balance >= ?.
  Zero rows affected means overdraw or a missing wallet; the balance is
  never partially changed.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) and foreign keys on.
  The connection pool is capped at one connection: SQLite has a single
  writer anyway, and it keeps ":memory:" databases coherent.

USAGE:
  store, err := sqlite.New("./data/amenity.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - booking/store.go: Interface definitions
  - store/memory: In-memory implementation for tests
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

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/brikk/amenity-engine/booking"
	"github.com/brikk/amenity-engine/device"
	"github.com/brikk/amenity-engine/notify"
	"github.com/brikk/amenity-engine/wallet"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer; also keeps :memory: databases on one connection.
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
	-- Resources (administered externally; read-mostly to the engine)
	CREATE TABLE IF NOT EXISTS resources (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		building_id TEXT NOT NULL,
		points_per_hour INTEGER NOT NULL,
		money_per_hour TEXT NOT NULL,
		power_rating_kw TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_resources_building
		ON resources(building_id);

	-- Bookings (the authoritative reservation record)
	CREATE TABLE IF NOT EXISTS bookings (
		id TEXT PRIMARY KEY,
		resource_id TEXT NOT NULL,
		requester_id TEXT NOT NULL,
		start_at TEXT NOT NULL,
		end_at TEXT NOT NULL,
		rail TEXT NOT NULL,
		status TEXT NOT NULL,
		access_code TEXT NOT NULL,
		charged_points INTEGER NOT NULL DEFAULT 0,
		charged_money TEXT NOT NULL DEFAULT '0',
		created_at TEXT NOT NULL
	);

	-- Hot path: the overlap check on booking creation
	CREATE INDEX IF NOT EXISTS idx_bookings_resource_window
		ON bookings(resource_id, status, start_at, end_at);
	CREATE INDEX IF NOT EXISTS idx_bookings_requester
		ON bookings(requester_id);

	-- Wallets (points rail; balance must never go negative)
	CREATE TABLE IF NOT EXISTS wallets (
		account TEXT PRIMARY KEY,
		balance INTEGER NOT NULL CHECK (balance >= 0)
	);

	-- Power events (append-only audit trail for energy billing)
	CREATE TABLE IF NOT EXISTS power_events (
		id TEXT PRIMARY KEY,
		booking_id TEXT NOT NULL,
		resource_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		at TEXT NOT NULL,
		duration_minutes TEXT,
		energy_kwh TEXT,
		cost TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_power_events_booking
		ON power_events(booking_id, at);

	-- Budget lines (provisioned externally; the engine only increments)
	CREATE TABLE IF NOT EXISTS budget_lines (
		building_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		category TEXT NOT NULL,
		actual_spend TEXT NOT NULL DEFAULT '0',
		PRIMARY KEY (building_id, year, category)
	);

	-- Outbox tasks (reminders; at-least-once with a dedup key)
	CREATE TABLE IF NOT EXISTS outbox_tasks (
		id TEXT PRIMARY KEY,
		booking_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		recipient TEXT NOT NULL,
		title TEXT NOT NULL,
		body TEXT NOT NULL,
		payload_json TEXT,
		due_at TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		done_at TEXT,
		created_at TEXT NOT NULL
	);

	-- Dedup: one task per (booking, kind)
	CREATE UNIQUE INDEX IF NOT EXISTS idx_outbox_dedup
		ON outbox_tasks(booking_id, kind);
	CREATE INDEX IF NOT EXISTS idx_outbox_due
		ON outbox_tasks(due_at) WHERE done_at IS NULL;
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// parseTime rejects anything that is not the RFC3339 text this store
// writes. A row that fails here is corrupt and must not surface as a
// zero time.
func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("corrupt timestamp %q: %w", s, err)
	}
	return t, nil
}

// =============================================================================
// RESOURCE STORE (booking.ResourceStore)
// =============================================================================

// SaveResource upserts a resource. Used by provisioning and seeding,
// not by the engine's own flows.
func (s *Store) SaveResource(ctx context.Context, res booking.Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO resources (id, name, building_id, points_per_hour, money_per_hour, power_rating_kw)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			building_id = excluded.building_id,
			points_per_hour = excluded.points_per_hour,
			money_per_hour = excluded.money_per_hour,
			power_rating_kw = excluded.power_rating_kw
	`
	_, err := s.db.ExecContext(ctx, query,
		res.ID, res.Name, res.BuildingID, res.PointsPerHour,
		res.MoneyPerHour.String(), res.PowerRatingKw.String())
	return err
}

func (s *Store) GetResource(ctx context.Context, id booking.ResourceID) (*booking.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT id, name, building_id, points_per_hour, money_per_hour, power_rating_kw FROM resources WHERE id = ?",
		id)
	res, err := scanResource(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Store) ListResources(ctx context.Context) ([]booking.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryResources(ctx,
		"SELECT id, name, building_id, points_per_hour, money_per_hour, power_rating_kw FROM resources ORDER BY id")
}

func (s *Store) ListResourcesByBuilding(ctx context.Context, buildingID booking.BuildingID) ([]booking.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryResources(ctx,
		"SELECT id, name, building_id, points_per_hour, money_per_hour, power_rating_kw FROM resources WHERE building_id = ? ORDER BY id",
		buildingID)
}

func (s *Store) queryResources(ctx context.Context, query string, args ...any) ([]booking.Resource, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query resources: %w", err)
	}
	defer rows.Close()

	var out []booking.Resource
	for rows.Next() {
		res, err := scanResource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *res)
	}
	return out, rows.Err()
}

func scanResource(row rowScanner) (*booking.Resource, error) {
	var res booking.Resource
	var money, power string
	if err := row.Scan(&res.ID, &res.Name, &res.BuildingID, &res.PointsPerHour, &money, &power); err != nil {
		return nil, err
	}
	res.MoneyPerHour = mustDecimal(money)
	res.PowerRatingKw = mustDecimal(power)
	return &res, nil
}

// =============================================================================
// BOOKING STORE (booking.BookingStore)
// =============================================================================

const bookingColumns = "id, resource_id, requester_id, start_at, end_at, rail, status, access_code, charged_points, charged_money, created_at"

func (s *Store) Insert(ctx context.Context, b booking.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertBooking(ctx, s.db, b)
}

func insertBooking(ctx context.Context, db dbtx, b booking.Booking) error {
	query := `
		INSERT INTO bookings (` + bookingColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.ExecContext(ctx, query,
		b.ID, b.ResourceID, b.RequesterID,
		formatTime(b.Start), formatTime(b.End),
		b.Rail, b.Status, b.AccessCode,
		b.ChargedPoints, b.ChargedMoney.String(),
		formatTime(b.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert booking: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id booking.BookingID) (*booking.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getBooking(ctx, s.db, id)
}

func getBooking(ctx context.Context, db dbtx, id booking.BookingID) (*booking.Booking, error) {
	row := db.QueryRowContext(ctx, "SELECT "+bookingColumns+" FROM bookings WHERE id = ?", id)
	b, err := scanBooking(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Store) FindOverlapping(ctx context.Context, resourceID booking.ResourceID, start, end time.Time) ([]booking.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findOverlapping(ctx, s.db, resourceID, start, end)
}

// findOverlapping implements the half-open interval test in SQL:
// existing.start < end AND existing.end > start, CONFIRMED rows only.
// Timestamps are stored as UTC RFC3339 text, so lexicographic
// comparison matches chronological order.
func findOverlapping(ctx context.Context, db dbtx, resourceID booking.ResourceID, start, end time.Time) ([]booking.Booking, error) {
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE resource_id = ? AND status = ?
		  AND start_at < ? AND end_at > ?
		ORDER BY start_at ASC
	`
	return queryBookings(ctx, db, query, resourceID, booking.StatusConfirmed, formatTime(end), formatTime(start))
}

func (s *Store) UpdateStatus(ctx context.Context, id booking.BookingID, status booking.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateBookingStatus(ctx, s.db, id, status)
}

func updateBookingStatus(ctx context.Context, db dbtx, id booking.BookingID, status booking.Status) error {
	result, err := db.ExecContext(ctx, "UPDATE bookings SET status = ? WHERE id = ?", status, id)
	if err != nil {
		return fmt.Errorf("failed to update booking status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return booking.ErrBookingNotFound
	}
	return nil
}

func (s *Store) ListByRequester(ctx context.Context, requesterID booking.RequesterID) ([]booking.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listByRequester(ctx, s.db, requesterID)
}

func listByRequester(ctx context.Context, db dbtx, requesterID booking.RequesterID) ([]booking.Booking, error) {
	query := "SELECT " + bookingColumns + " FROM bookings WHERE requester_id = ? ORDER BY created_at DESC, id"
	return queryBookings(ctx, db, query, requesterID)
}

func queryBookings(ctx context.Context, db dbtx, query string, args ...any) ([]booking.Booking, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bookings: %w", err)
	}
	defer rows.Close()

	var out []booking.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func scanBooking(row rowScanner) (*booking.Booking, error) {
	var b booking.Booking
	var start, end, created, money string
	err := row.Scan(&b.ID, &b.ResourceID, &b.RequesterID, &start, &end,
		&b.Rail, &b.Status, &b.AccessCode, &b.ChargedPoints, &money, &created)
	if err != nil {
		return nil, err
	}
	if b.Start, err = parseTime(start); err != nil {
		return nil, err
	}
	if b.End, err = parseTime(end); err != nil {
		return nil, err
	}
	if b.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	b.ChargedMoney = mustDecimal(money)
	return &b, nil
}

// =============================================================================
// WALLET STORE (wallet.Store)
// =============================================================================

// SaveWallet upserts a wallet balance. Provisioning and seeding only.
func (s *Store) SaveWallet(ctx context.Context, account string, balance int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO wallets (account, balance) VALUES (?, ?)
		ON CONFLICT(account) DO UPDATE SET balance = excluded.balance
	`, account, balance)
	return err
}

func (s *Store) GetBalance(ctx context.Context, account string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getBalance(ctx, s.db, account)
}

func getBalance(ctx context.Context, db dbtx, account string) (int64, error) {
	var balance int64
	err := db.QueryRowContext(ctx, "SELECT balance FROM wallets WHERE account = ?", account).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, wallet.ErrWalletNotFound
	}
	return balance, err
}

func (s *Store) Debit(ctx context.Context, account string, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return debitWallet(ctx, s.db, account, amount)
}

// debitWallet is the guarded debit: the balance check and the
// subtraction are one statement, so no interleaving can overdraw.
func debitWallet(ctx context.Context, db dbtx, account string, amount int64) error {
	if amount <= 0 {
		return wallet.ErrInvalidAmount
	}

	result, err := db.ExecContext(ctx,
		"UPDATE wallets SET balance = balance - ? WHERE account = ? AND balance >= ?",
		amount, account, amount)
	if err != nil {
		return fmt.Errorf("failed to debit wallet: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		available, gerr := getBalance(ctx, db, account)
		if gerr != nil {
			return gerr
		}
		return &wallet.InsufficientFundsError{Account: account, Required: amount, Available: available}
	}
	return nil
}

func (s *Store) Credit(ctx context.Context, account string, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return creditWallet(ctx, s.db, account, amount)
}

func creditWallet(ctx context.Context, db dbtx, account string, amount int64) error {
	if amount <= 0 {
		return wallet.ErrInvalidAmount
	}
	result, err := db.ExecContext(ctx,
		"UPDATE wallets SET balance = balance + ? WHERE account = ?", amount, account)
	if err != nil {
		return fmt.Errorf("failed to credit wallet: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return wallet.ErrWalletNotFound
	}
	return nil
}

// =============================================================================
// TRANSACTIONS (booking.TxRunner)
// =============================================================================

// WithTx executes fn inside one database transaction under the store's
// write lock. The availability read and the booking insert for a slot
// must both go through the view fn receives; any error rolls everything
// back, including wallet movements.
func (s *Store) WithTx(ctx context.Context, fn func(booking.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txView{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

type txView struct {
	tx *sql.Tx
}

func (v *txView) Bookings() booking.BookingStore { return &txBookings{v.tx} }
func (v *txView) Wallets() wallet.Store          { return &txWallets{v.tx} }

type txBookings struct{ tx *sql.Tx }

func (t *txBookings) Insert(ctx context.Context, b booking.Booking) error {
	return insertBooking(ctx, t.tx, b)
}

func (t *txBookings) Get(ctx context.Context, id booking.BookingID) (*booking.Booking, error) {
	return getBooking(ctx, t.tx, id)
}

func (t *txBookings) FindOverlapping(ctx context.Context, resourceID booking.ResourceID, start, end time.Time) ([]booking.Booking, error) {
	return findOverlapping(ctx, t.tx, resourceID, start, end)
}

func (t *txBookings) UpdateStatus(ctx context.Context, id booking.BookingID, status booking.Status) error {
	return updateBookingStatus(ctx, t.tx, id, status)
}

func (t *txBookings) ListByRequester(ctx context.Context, requesterID booking.RequesterID) ([]booking.Booking, error) {
	return listByRequester(ctx, t.tx, requesterID)
}

type txWallets struct{ tx *sql.Tx }

func (t *txWallets) GetBalance(ctx context.Context, account string) (int64, error) {
	return getBalance(ctx, t.tx, account)
}

func (t *txWallets) Debit(ctx context.Context, account string, amount int64) error {
	return debitWallet(ctx, t.tx, account, amount)
}

func (t *txWallets) Credit(ctx context.Context, account string, amount int64) error {
	return creditWallet(ctx, t.tx, account, amount)
}

// =============================================================================
// POWER EVENTS (device.EventStore)
// =============================================================================

func (s *Store) Append(ctx context.Context, e device.PowerEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var duration, kwh, cost sql.NullString
	if e.Type == device.CommandOff {
		duration = sql.NullString{String: e.DurationMinutes.String(), Valid: true}
		kwh = sql.NullString{String: e.EnergyKwh.String(), Valid: true}
		cost = sql.NullString{String: e.Cost.String(), Valid: true}
	}

	query := `
		INSERT INTO power_events (id, booking_id, resource_id, event_type, at, duration_minutes, energy_kwh, cost)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		e.ID, e.BookingID, e.ResourceID, e.Type, formatTime(e.At), duration, kwh, cost)
	if err != nil {
		return fmt.Errorf("failed to append power event: %w", err)
	}
	return nil
}

func (s *Store) LastOn(ctx context.Context, bookingID string) (*device.PowerEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, booking_id, resource_id, event_type, at, duration_minutes, energy_kwh, cost
		FROM power_events
		WHERE booking_id = ? AND event_type = ?
		ORDER BY at DESC LIMIT 1
	`
	row := s.db.QueryRowContext(ctx, query, bookingID, device.CommandOn)
	e, err := scanPowerEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Store) ListByBooking(ctx context.Context, bookingID string) ([]device.PowerEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, booking_id, resource_id, event_type, at, duration_minutes, energy_kwh, cost
		FROM power_events
		WHERE booking_id = ?
		ORDER BY at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to query power events: %w", err)
	}
	defer rows.Close()

	var out []device.PowerEvent
	for rows.Next() {
		e, err := scanPowerEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func scanPowerEvent(row rowScanner) (*device.PowerEvent, error) {
	var e device.PowerEvent
	var at string
	var duration, kwh, cost sql.NullString
	err := row.Scan(&e.ID, &e.BookingID, &e.ResourceID, &e.Type, &at, &duration, &kwh, &cost)
	if err != nil {
		return nil, err
	}
	if e.At, err = parseTime(at); err != nil {
		return nil, err
	}
	if duration.Valid {
		e.DurationMinutes = mustDecimal(duration.String)
	}
	if kwh.Valid {
		e.EnergyKwh = mustDecimal(kwh.String)
	}
	if cost.Valid {
		e.Cost = mustDecimal(cost.String)
	}
	return &e, nil
}

// =============================================================================
// BUDGET LINES (metering.BudgetLedger)
// =============================================================================

// SaveBudgetLine upserts a budget line. Provisioning and seeding only.
func (s *Store) SaveBudgetLine(ctx context.Context, buildingID string, year int, category string, actualSpend decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO budget_lines (building_id, year, category, actual_spend)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(building_id, year, category) DO UPDATE SET actual_spend = excluded.actual_spend
	`, buildingID, year, category, actualSpend.String())
	return err
}

// GetBudgetLine returns a line's accumulated spend and whether the
// line exists.
func (s *Store) GetBudgetLine(ctx context.Context, buildingID string, year int, category string) (decimal.Decimal, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var spend string
	err := s.db.QueryRowContext(ctx,
		"SELECT actual_spend FROM budget_lines WHERE building_id = ? AND year = ? AND category = ?",
		buildingID, year, category).Scan(&spend)
	if err == sql.ErrNoRows {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}
	return mustDecimal(spend), true, nil
}

// IncrementActualSpend adds to an existing line. A missing line (no
// budget provisioned for that year) is a silent no-op.
func (s *Store) IncrementActualSpend(ctx context.Context, buildingID string, year int, category string, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Amounts are stored as decimal text, so the add happens in Go.
	// The read-modify-write is safe under the store's write lock.
	var current string
	err := s.db.QueryRowContext(ctx,
		"SELECT actual_spend FROM budget_lines WHERE building_id = ? AND year = ? AND category = ?",
		buildingID, year, category).Scan(&current)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}

	next := mustDecimal(current).Add(amount)
	_, err = s.db.ExecContext(ctx,
		"UPDATE budget_lines SET actual_spend = ? WHERE building_id = ? AND year = ? AND category = ?",
		next.String(), buildingID, year, category)
	return err
}

// =============================================================================
// OUTBOX (notify.OutboxStore)
// =============================================================================

func (s *Store) Enqueue(ctx context.Context, task notify.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payloadJSON, err := json.Marshal(task.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode task payload: %w", err)
	}

	query := `
		INSERT INTO outbox_tasks (id, booking_id, kind, recipient, title, body, payload_json, due_at, attempts, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		task.ID, task.BookingID, task.Kind, task.Recipient, task.Title, task.Body,
		string(payloadJSON), formatTime(task.DueAt), task.Attempts, formatTime(task.CreatedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return notify.ErrDuplicateTask
		}
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

func (s *Store) Due(ctx context.Context, now time.Time, limit int) ([]notify.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, booking_id, kind, recipient, title, body, payload_json, due_at, attempts, done_at, created_at
		FROM outbox_tasks
		WHERE done_at IS NULL AND due_at <= ?
		ORDER BY due_at ASC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, formatTime(now), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query outbox: %w", err)
	}
	defer rows.Close()

	var out []notify.Task
	for rows.Next() {
		var task notify.Task
		var payloadJSON, doneAt sql.NullString
		var dueAt, createdAt string
		err := rows.Scan(&task.ID, &task.BookingID, &task.Kind, &task.Recipient,
			&task.Title, &task.Body, &payloadJSON, &dueAt, &task.Attempts, &doneAt, &createdAt)
		if err != nil {
			return nil, err
		}
		if task.DueAt, err = parseTime(dueAt); err != nil {
			return nil, err
		}
		if task.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if doneAt.Valid {
			done, err := parseTime(doneAt.String)
			if err != nil {
				return nil, err
			}
			task.DoneAt = &done
		}
		if payloadJSON.Valid && payloadJSON.String != "" && payloadJSON.String != "null" {
			if err := json.Unmarshal([]byte(payloadJSON.String), &task.Payload); err != nil {
				return nil, fmt.Errorf("failed to decode task payload: %w", err)
			}
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

func (s *Store) MarkDone(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"UPDATE outbox_tasks SET done_at = ? WHERE id = ?", formatTime(at), id)
	return err
}

func (s *Store) MarkAttempt(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"UPDATE outbox_tasks SET attempts = attempts + 1 WHERE id = ?", id)
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
