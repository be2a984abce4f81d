// Package store provides the in-memory Store implementation used by
// tests and development setups. Transactions are simulated with a
// snapshot taken before the function runs and restored on error, the
// same all-or-nothing semantics the SQLite store gets from real
// transactions.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/booking-engine/engine"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Memory struct {
	mu           sync.RWMutex
	showings     map[engine.ShowingID]engine.Showing
	reservations map[engine.ReservationID]engine.Reservation
	trust        map[string]engine.TrustRecord
	vouchers     map[string]engine.Voucher
	overrides    map[engine.ShowingID]engine.CapacityOverride
}

func NewMemory() *Memory {
	return &Memory{
		showings:     make(map[engine.ShowingID]engine.Showing),
		reservations: make(map[engine.ReservationID]engine.Reservation),
		trust:        make(map[string]engine.TrustRecord),
		vouchers:     make(map[string]engine.Voucher),
		overrides:    make(map[engine.ShowingID]engine.CapacityOverride),
	}
}

var _ engine.TxStore = (*Memory)(nil)

// =============================================================================
// COPY HELPERS - Records never alias store-internal state
// =============================================================================

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func copyReservation(r engine.Reservation) engine.Reservation {
	r.OptionExpiresAt = copyTime(r.OptionExpiresAt)
	r.PaymentDueAt = copyTime(r.PaymentDueAt)
	r.Log = append([]engine.LogEntry(nil), r.Log...)
	return r
}

func copyVoucher(v engine.Voucher) engine.Voucher {
	v.ExpiresAt = copyTime(v.ExpiresAt)
	v.Usage = append([]engine.VoucherUse(nil), v.Usage...)
	return v
}

// =============================================================================
// SHOWINGS
// =============================================================================

func (m *Memory) SaveShowing(_ context.Context, s engine.Showing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveShowingLocked(s)
}

func (m *Memory) saveShowingLocked(s engine.Showing) error {
	m.showings[s.ID] = s
	return nil
}

func (m *Memory) GetShowing(_ context.Context, id engine.ShowingID) (*engine.Showing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getShowingLocked(id)
}

func (m *Memory) getShowingLocked(id engine.ShowingID) (*engine.Showing, error) {
	s, ok := m.showings[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *Memory) ListShowings(_ context.Context) ([]engine.Showing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listShowingsLocked()
}

func (m *Memory) listShowingsLocked() ([]engine.Showing, error) {
	out := make([]engine.Showing, 0, len(m.showings))
	for _, s := range m.showings {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) UpdateShowing(_ context.Context, id engine.ShowingID, fn func(*engine.Showing) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateShowingLocked(id, fn)
}

func (m *Memory) updateShowingLocked(id engine.ShowingID, fn func(*engine.Showing) error) error {
	s, ok := m.showings[id]
	if !ok {
		return &engine.NotFoundError{Kind: "showing", ID: string(id)}
	}
	if err := fn(&s); err != nil {
		return err
	}
	m.showings[id] = s
	return nil
}

// =============================================================================
// RESERVATIONS
// =============================================================================

func (m *Memory) CreateReservation(_ context.Context, r engine.Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createReservationLocked(r)
}

func (m *Memory) createReservationLocked(r engine.Reservation) error {
	if _, exists := m.reservations[r.ID]; exists {
		return engine.ErrConcurrentModification
	}
	m.reservations[r.ID] = copyReservation(r)
	return nil
}

func (m *Memory) GetReservation(_ context.Context, id engine.ReservationID) (*engine.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getReservationLocked(id)
}

func (m *Memory) getReservationLocked(id engine.ReservationID) (*engine.Reservation, error) {
	r, ok := m.reservations[id]
	if !ok {
		return nil, nil
	}
	c := copyReservation(r)
	return &c, nil
}

func (m *Memory) ListReservations(_ context.Context, f engine.ReservationFilter) ([]engine.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listReservationsLocked(f)
}

func (m *Memory) listReservationsLocked(f engine.ReservationFilter) ([]engine.Reservation, error) {
	var out []engine.Reservation
	for _, r := range m.reservations {
		if f.Matches(&r) {
			out = append(out, copyReservation(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) UpdateReservation(_ context.Context, id engine.ReservationID, fn func(*engine.Reservation) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateReservationLocked(id, fn)
}

func (m *Memory) updateReservationLocked(id engine.ReservationID, fn func(*engine.Reservation) error) error {
	r, ok := m.reservations[id]
	if !ok {
		return &engine.NotFoundError{Kind: "reservation", ID: string(id)}
	}
	c := copyReservation(r)
	if err := fn(&c); err != nil {
		return err
	}
	c.Version = r.Version + 1
	m.reservations[id] = c
	return nil
}

func (m *Memory) AppendReservationLog(_ context.Context, id engine.ReservationID, e engine.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendReservationLogLocked(id, e)
}

func (m *Memory) appendReservationLogLocked(id engine.ReservationID, e engine.LogEntry) error {
	r, ok := m.reservations[id]
	if !ok {
		return &engine.NotFoundError{Kind: "reservation", ID: string(id)}
	}
	c := copyReservation(r)
	c.Log = append(c.Log, e)
	m.reservations[id] = c
	return nil
}

func (m *Memory) DeleteReservation(_ context.Context, id engine.ReservationID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteReservationLocked(id)
}

func (m *Memory) deleteReservationLocked(id engine.ReservationID) error {
	delete(m.reservations, id)
	return nil
}

// =============================================================================
// TRUST RECORDS
// =============================================================================

func (m *Memory) GetTrustRecord(_ context.Context, email string) (*engine.TrustRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getTrustRecordLocked(email)
}

func (m *Memory) getTrustRecordLocked(email string) (*engine.TrustRecord, error) {
	rec, ok := m.trust[email]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *Memory) SaveTrustRecord(_ context.Context, rec engine.TrustRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveTrustRecordLocked(rec)
}

func (m *Memory) saveTrustRecordLocked(rec engine.TrustRecord) error {
	m.trust[rec.Email] = rec
	return nil
}

func (m *Memory) DeleteTrustRecord(_ context.Context, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteTrustRecordLocked(email)
}

func (m *Memory) deleteTrustRecordLocked(email string) error {
	delete(m.trust, email)
	return nil
}

func (m *Memory) CountNoShows(_ context.Context, email string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.countNoShowsLocked(email)
}

func (m *Memory) countNoShowsLocked(email string) (int, error) {
	count := 0
	for _, r := range m.reservations {
		if r.Email == email && r.Status == engine.StatusNoShow {
			count++
		}
	}
	return count, nil
}

// =============================================================================
// VOUCHERS
// =============================================================================

func (m *Memory) CreateVoucher(_ context.Context, v engine.Voucher) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createVoucherLocked(v)
}

func (m *Memory) createVoucherLocked(v engine.Voucher) error {
	if _, exists := m.vouchers[v.Code]; exists {
		return engine.ErrConcurrentModification
	}
	m.vouchers[v.Code] = copyVoucher(v)
	return nil
}

func (m *Memory) SaveVoucher(_ context.Context, v engine.Voucher) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveVoucherLocked(v)
}

func (m *Memory) saveVoucherLocked(v engine.Voucher) error {
	m.vouchers[v.Code] = copyVoucher(v)
	return nil
}

func (m *Memory) GetVoucher(_ context.Context, code string) (*engine.Voucher, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getVoucherLocked(code)
}

func (m *Memory) getVoucherLocked(code string) (*engine.Voucher, error) {
	v, ok := m.vouchers[code]
	if !ok {
		return nil, nil
	}
	c := copyVoucher(v)
	return &c, nil
}

func (m *Memory) ListVouchers(_ context.Context) ([]engine.Voucher, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listVouchersLocked()
}

func (m *Memory) listVouchersLocked() ([]engine.Voucher, error) {
	out := make([]engine.Voucher, 0, len(m.vouchers))
	for _, v := range m.vouchers {
		out = append(out, copyVoucher(v))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

// DecrementVoucher is the conditional decrement: the write happens only
// if the stored remaining value still equals expected.
func (m *Memory) DecrementVoucher(_ context.Context, code string, expected, newValue decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.decrementVoucherLocked(code, expected, newValue)
}

func (m *Memory) decrementVoucherLocked(code string, expected, newValue decimal.Decimal) error {
	v, ok := m.vouchers[code]
	if !ok {
		return &engine.NotFoundError{Kind: "voucher", ID: code}
	}
	if !v.RemainingValue.Equal(expected) {
		return engine.ErrConcurrentModification
	}
	v.RemainingValue = newValue
	m.vouchers[code] = v
	return nil
}

func (m *Memory) AppendVoucherUse(_ context.Context, code string, use engine.VoucherUse) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendVoucherUseLocked(code, use)
}

func (m *Memory) appendVoucherUseLocked(code string, use engine.VoucherUse) error {
	v, ok := m.vouchers[code]
	if !ok {
		return &engine.NotFoundError{Kind: "voucher", ID: code}
	}
	c := copyVoucher(v)
	c.Usage = append(c.Usage, use)
	m.vouchers[code] = c
	return nil
}

// =============================================================================
// OVERRIDES
// =============================================================================

func (m *Memory) SaveOverride(_ context.Context, o engine.CapacityOverride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveOverrideLocked(o)
}

func (m *Memory) saveOverrideLocked(o engine.CapacityOverride) error {
	m.overrides[o.ShowingID] = o
	return nil
}

func (m *Memory) GetOverride(_ context.Context, id engine.ShowingID) (*engine.CapacityOverride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getOverrideLocked(id)
}

func (m *Memory) getOverrideLocked(id engine.ShowingID) (*engine.CapacityOverride, error) {
	o, ok := m.overrides[id]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (m *Memory) DeleteOverride(_ context.Context, id engine.ShowingID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteOverrideLocked(id)
}

func (m *Memory) deleteOverrideLocked(id engine.ShowingID) error {
	delete(m.overrides, id)
	return nil
}

// Reset wipes all data. Used by demo scenarios and tests.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.showings = make(map[engine.ShowingID]engine.Showing)
	m.reservations = make(map[engine.ReservationID]engine.Reservation)
	m.trust = make(map[string]engine.TrustRecord)
	m.vouchers = make(map[string]engine.Voucher)
	m.overrides = make(map[engine.ShowingID]engine.CapacityOverride)
	return nil
}

// =============================================================================
// TRANSACTIONS - Snapshot and restore on error
// =============================================================================

// WithTx executes fn against a view of the store. The whole store is
// locked for the duration, so the function sees and produces a
// consistent state; on error the pre-transaction snapshot is restored.
func (m *Memory) WithTx(_ context.Context, fn func(engine.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(&txView{m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	showings     map[engine.ShowingID]engine.Showing
	reservations map[engine.ReservationID]engine.Reservation
	trust        map[string]engine.TrustRecord
	vouchers     map[string]engine.Voucher
	overrides    map[engine.ShowingID]engine.CapacityOverride
}

func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		showings:     make(map[engine.ShowingID]engine.Showing, len(m.showings)),
		reservations: make(map[engine.ReservationID]engine.Reservation, len(m.reservations)),
		trust:        make(map[string]engine.TrustRecord, len(m.trust)),
		vouchers:     make(map[string]engine.Voucher, len(m.vouchers)),
		overrides:    make(map[engine.ShowingID]engine.CapacityOverride, len(m.overrides)),
	}
	for k, v := range m.showings {
		s.showings[k] = v
	}
	for k, v := range m.reservations {
		s.reservations[k] = copyReservation(v)
	}
	for k, v := range m.trust {
		s.trust[k] = v
	}
	for k, v := range m.vouchers {
		s.vouchers[k] = copyVoucher(v)
	}
	for k, v := range m.overrides {
		s.overrides[k] = v
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.showings = s.showings
	m.reservations = s.reservations
	m.trust = s.trust
	m.vouchers = s.vouchers
	m.overrides = s.overrides
}

// txView routes Store calls to the already-locked parent.
type txView struct {
	parent *Memory
}

var _ engine.Store = (*txView)(nil)

func (t *txView) SaveShowing(_ context.Context, s engine.Showing) error {
	return t.parent.saveShowingLocked(s)
}

func (t *txView) GetShowing(_ context.Context, id engine.ShowingID) (*engine.Showing, error) {
	return t.parent.getShowingLocked(id)
}

func (t *txView) ListShowings(_ context.Context) ([]engine.Showing, error) {
	return t.parent.listShowingsLocked()
}

func (t *txView) UpdateShowing(_ context.Context, id engine.ShowingID, fn func(*engine.Showing) error) error {
	return t.parent.updateShowingLocked(id, fn)
}

func (t *txView) CreateReservation(_ context.Context, r engine.Reservation) error {
	return t.parent.createReservationLocked(r)
}

func (t *txView) GetReservation(_ context.Context, id engine.ReservationID) (*engine.Reservation, error) {
	return t.parent.getReservationLocked(id)
}

func (t *txView) ListReservations(_ context.Context, f engine.ReservationFilter) ([]engine.Reservation, error) {
	return t.parent.listReservationsLocked(f)
}

func (t *txView) UpdateReservation(_ context.Context, id engine.ReservationID, fn func(*engine.Reservation) error) error {
	return t.parent.updateReservationLocked(id, fn)
}

func (t *txView) AppendReservationLog(_ context.Context, id engine.ReservationID, e engine.LogEntry) error {
	return t.parent.appendReservationLogLocked(id, e)
}

func (t *txView) DeleteReservation(_ context.Context, id engine.ReservationID) error {
	return t.parent.deleteReservationLocked(id)
}

func (t *txView) GetTrustRecord(_ context.Context, email string) (*engine.TrustRecord, error) {
	return t.parent.getTrustRecordLocked(email)
}

func (t *txView) SaveTrustRecord(_ context.Context, rec engine.TrustRecord) error {
	return t.parent.saveTrustRecordLocked(rec)
}

func (t *txView) DeleteTrustRecord(_ context.Context, email string) error {
	return t.parent.deleteTrustRecordLocked(email)
}

func (t *txView) CountNoShows(_ context.Context, email string) (int, error) {
	return t.parent.countNoShowsLocked(email)
}

func (t *txView) CreateVoucher(_ context.Context, v engine.Voucher) error {
	return t.parent.createVoucherLocked(v)
}

func (t *txView) SaveVoucher(_ context.Context, v engine.Voucher) error {
	return t.parent.saveVoucherLocked(v)
}

func (t *txView) GetVoucher(_ context.Context, code string) (*engine.Voucher, error) {
	return t.parent.getVoucherLocked(code)
}

func (t *txView) ListVouchers(_ context.Context) ([]engine.Voucher, error) {
	return t.parent.listVouchersLocked()
}

func (t *txView) DecrementVoucher(_ context.Context, code string, expected, newValue decimal.Decimal) error {
	return t.parent.decrementVoucherLocked(code, expected, newValue)
}

func (t *txView) AppendVoucherUse(_ context.Context, code string, use engine.VoucherUse) error {
	return t.parent.appendVoucherUseLocked(code, use)
}

func (t *txView) SaveOverride(_ context.Context, o engine.CapacityOverride) error {
	return t.parent.saveOverrideLocked(o)
}

func (t *txView) GetOverride(_ context.Context, id engine.ShowingID) (*engine.CapacityOverride, error) {
	return t.parent.getOverrideLocked(id)
}

func (t *txView) DeleteOverride(_ context.Context, id engine.ShowingID) error {
	return t.parent.deleteOverrideLocked(id)
}
