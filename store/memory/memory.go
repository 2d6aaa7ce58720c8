// Package memory provides an in-memory store implementation (for testing/dev).
//
// One mutex guards the whole store, and WithTx holds it for the full
// callback with snapshot/rollback on error - transactions are
// serializable by construction, which makes this store a reference
// implementation for the no-double-booking critical section.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/brikk/amenity-engine/booking"
	"github.com/brikk/amenity-engine/device"
	"github.com/brikk/amenity-engine/notify"
	"github.com/brikk/amenity-engine/wallet"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type budgetKey struct {
	BuildingID string
	Year       int
	Category   string
}

type dedupKey struct {
	BookingID string
	Kind      notify.Kind
}

type Store struct {
	mu        sync.Mutex
	resources map[booking.ResourceID]booking.Resource
	bookings  map[booking.BookingID]booking.Booking
	wallets   map[string]int64
	events    []device.PowerEvent
	budget    map[budgetKey]decimal.Decimal
	tasks     map[string]notify.Task
	taskKeys  map[dedupKey]string
}

func New() *Store {
	return &Store{
		resources: make(map[booking.ResourceID]booking.Resource),
		bookings:  make(map[booking.BookingID]booking.Booking),
		wallets:   make(map[string]int64),
		budget:    make(map[budgetKey]decimal.Decimal),
		tasks:     make(map[string]notify.Task),
		taskKeys:  make(map[dedupKey]string),
	}
}

// =============================================================================
// SEEDING - Resources, wallets, and budget lines are provisioned
// externally in production; tests and dev seed them here.
// =============================================================================

func (s *Store) PutResource(res booking.Resource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resources[res.ID] = res
}

func (s *Store) PutWallet(account string, balance int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wallets[account] = balance
}

func (s *Store) PutBudgetLine(buildingID string, year int, category string, actualSpend decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.budget[budgetKey{buildingID, year, category}] = actualSpend
}

// BudgetLine returns the accumulated spend on a line, and whether it exists.
func (s *Store) BudgetLine(buildingID string, year int, category string) (decimal.Decimal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.budget[budgetKey{buildingID, year, category}]
	return v, ok
}

// =============================================================================
// RESOURCE STORE (booking.ResourceStore)
// =============================================================================

func (s *Store) GetResource(_ context.Context, id booking.ResourceID) (*booking.Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if res, ok := s.resources[id]; ok {
		out := res
		return &out, nil
	}
	return nil, nil
}

func (s *Store) ListResources(_ context.Context) ([]booking.Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]booking.Resource, 0, len(s.resources))
	for _, res := range s.resources {
		out = append(out, res)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ListResourcesByBuilding(_ context.Context, buildingID booking.BuildingID) ([]booking.Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []booking.Resource
	for _, res := range s.resources {
		if res.BuildingID == buildingID {
			out = append(out, res)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// =============================================================================
// BOOKING STORE (booking.BookingStore) - Locking wrappers
// =============================================================================

func (s *Store) Insert(_ context.Context, b booking.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(b)
}

func (s *Store) Get(_ context.Context, id booking.BookingID) (*booking.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(id)
}

func (s *Store) FindOverlapping(_ context.Context, resourceID booking.ResourceID, start, end time.Time) ([]booking.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findOverlappingLocked(resourceID, start, end)
}

func (s *Store) UpdateStatus(_ context.Context, id booking.BookingID, status booking.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateStatusLocked(id, status)
}

func (s *Store) ListByRequester(_ context.Context, requesterID booking.RequesterID) ([]booking.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []booking.Booking
	for _, b := range s.bookings {
		if b.RequesterID == requesterID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) insertLocked(b booking.Booking) error {
	s.bookings[b.ID] = b
	return nil
}

func (s *Store) getLocked(id booking.BookingID) (*booking.Booking, error) {
	if b, ok := s.bookings[id]; ok {
		out := b
		return &out, nil
	}
	return nil, nil
}

func (s *Store) findOverlappingLocked(resourceID booking.ResourceID, start, end time.Time) ([]booking.Booking, error) {
	var out []booking.Booking
	for _, b := range s.bookings {
		if b.ResourceID != resourceID || b.Status != booking.StatusConfirmed {
			continue
		}
		if booking.Overlaps(start, end, b.Start, b.End) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (s *Store) updateStatusLocked(id booking.BookingID, status booking.Status) error {
	b, ok := s.bookings[id]
	if !ok {
		return booking.ErrBookingNotFound
	}
	b.Status = status
	s.bookings[id] = b
	return nil
}

// =============================================================================
// WALLET STORE (wallet.Store) - Locking wrappers
// =============================================================================

func (s *Store) GetBalance(_ context.Context, account string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getBalanceLocked(account)
}

func (s *Store) Debit(_ context.Context, account string, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.debitLocked(account, amount)
}

func (s *Store) Credit(_ context.Context, account string, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creditLocked(account, amount)
}

func (s *Store) getBalanceLocked(account string) (int64, error) {
	balance, ok := s.wallets[account]
	if !ok {
		return 0, wallet.ErrWalletNotFound
	}
	return balance, nil
}

func (s *Store) debitLocked(account string, amount int64) error {
	if amount <= 0 {
		return wallet.ErrInvalidAmount
	}
	balance, ok := s.wallets[account]
	if !ok {
		return wallet.ErrWalletNotFound
	}
	if balance < amount {
		return &wallet.InsufficientFundsError{Account: account, Required: amount, Available: balance}
	}
	s.wallets[account] = balance - amount
	return nil
}

func (s *Store) creditLocked(account string, amount int64) error {
	if amount <= 0 {
		return wallet.ErrInvalidAmount
	}
	if _, ok := s.wallets[account]; !ok {
		return wallet.ErrWalletNotFound
	}
	s.wallets[account] += amount
	return nil
}

// =============================================================================
// TRANSACTIONS (booking.TxRunner) - Snapshot + rollback under one mutex
// =============================================================================

func (s *Store) WithTx(_ context.Context, fn func(booking.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	view := &txView{store: s}
	if err := fn(view); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	bookings map[booking.BookingID]booking.Booking
	wallets  map[string]int64
}

func (s *Store) snapshot() memorySnapshot {
	bCopy := make(map[booking.BookingID]booking.Booking, len(s.bookings))
	for k, v := range s.bookings {
		bCopy[k] = v
	}
	wCopy := make(map[string]int64, len(s.wallets))
	for k, v := range s.wallets {
		wCopy[k] = v
	}
	return memorySnapshot{bookings: bCopy, wallets: wCopy}
}

func (s *Store) restore(snap memorySnapshot) {
	s.bookings = snap.bookings
	s.wallets = snap.wallets
}

type txView struct {
	store *Store
}

func (v *txView) Bookings() booking.BookingStore { return &txBookings{v.store} }
func (v *txView) Wallets() wallet.Store          { return &txWallets{v.store} }

type txBookings struct{ store *Store }

func (t *txBookings) Insert(_ context.Context, b booking.Booking) error { return t.store.insertLocked(b) }
func (t *txBookings) Get(_ context.Context, id booking.BookingID) (*booking.Booking, error) {
	return t.store.getLocked(id)
}
func (t *txBookings) FindOverlapping(_ context.Context, resourceID booking.ResourceID, start, end time.Time) ([]booking.Booking, error) {
	return t.store.findOverlappingLocked(resourceID, start, end)
}
func (t *txBookings) UpdateStatus(_ context.Context, id booking.BookingID, status booking.Status) error {
	return t.store.updateStatusLocked(id, status)
}
func (t *txBookings) ListByRequester(_ context.Context, requesterID booking.RequesterID) ([]booking.Booking, error) {
	var out []booking.Booking
	for _, b := range t.store.bookings {
		if b.RequesterID == requesterID {
			out = append(out, b)
		}
	}
	return out, nil
}

type txWallets struct{ store *Store }

func (t *txWallets) GetBalance(_ context.Context, account string) (int64, error) {
	return t.store.getBalanceLocked(account)
}
func (t *txWallets) Debit(_ context.Context, account string, amount int64) error {
	return t.store.debitLocked(account, amount)
}
func (t *txWallets) Credit(_ context.Context, account string, amount int64) error {
	return t.store.creditLocked(account, amount)
}

// =============================================================================
// POWER EVENTS (device.EventStore)
// =============================================================================

func (s *Store) Append(_ context.Context, e device.PowerEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *Store) LastOn(_ context.Context, bookingID string) (*device.PowerEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.events) - 1; i >= 0; i-- {
		e := s.events[i]
		if e.BookingID == bookingID && e.Type == device.CommandOn {
			out := e
			return &out, nil
		}
	}
	return nil, nil
}

func (s *Store) ListByBooking(_ context.Context, bookingID string) ([]device.PowerEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []device.PowerEvent
	for _, e := range s.events {
		if e.BookingID == bookingID {
			out = append(out, e)
		}
	}
	return out, nil
}

// =============================================================================
// BUDGET LEDGER (metering.BudgetLedger)
// =============================================================================

// IncrementActualSpend adds to an existing budget line. Incrementing a
// line that was never provisioned is a silent no-op.
func (s *Store) IncrementActualSpend(_ context.Context, buildingID string, year int, category string, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := budgetKey{buildingID, year, category}
	if current, ok := s.budget[k]; ok {
		s.budget[k] = current.Add(amount)
	}
	return nil
}

// =============================================================================
// OUTBOX (notify.OutboxStore)
// =============================================================================

func (s *Store) Enqueue(_ context.Context, task notify.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := dedupKey{task.BookingID, task.Kind}
	if _, ok := s.taskKeys[k]; ok {
		return notify.ErrDuplicateTask
	}
	s.taskKeys[k] = task.ID
	s.tasks[task.ID] = task
	return nil
}

func (s *Store) Due(_ context.Context, now time.Time, limit int) ([]notify.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []notify.Task
	for _, task := range s.tasks {
		if task.DoneAt == nil && !task.DueAt.After(now) {
			out = append(out, task)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueAt.Before(out[j].DueAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) MarkDone(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return nil
	}
	task.DoneAt = &at
	s.tasks[id] = task
	return nil
}

func (s *Store) MarkAttempt(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return nil
	}
	task.Attempts++
	s.tasks[id] = task
	return nil
}
