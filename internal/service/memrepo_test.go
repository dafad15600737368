package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mmeshcher/swapstation/internal/diagnostics"
	"github.com/mmeshcher/swapstation/internal/model"
	"github.com/mmeshcher/swapstation/internal/notify"
	"github.com/mmeshcher/swapstation/internal/repository"
	"github.com/mmeshcher/swapstation/internal/sessionstate"
)

// memRepo — хранилище в памяти со сравнением-и-заменой, как у PostgresRepository.
type memRepo struct {
	mu sync.Mutex

	sessions    map[string]model.SwapSession
	created     []string
	inspections map[string]model.Inspection
	invoices    map[string]model.Invoice
	lines       map[string][]model.InvoiceDamageFee
	batteries   map[string]model.Battery
	types       map[string]model.BatteryType
	bookings    map[string]model.Booking
	users       map[string]model.User
	vehicles    map[string]model.Vehicle
	stations    map[string]model.Station
	fees        []model.DamageFee
	pricing     model.ServicePricing

	failBatteryCAS map[string]bool
	advanceErr     error
	getInvoiceErr  error
	getBookingErr  error
	inspectionErr  error
}

func strPtr(s string) *string { return &s }

func newMemRepo() *memRepo {
	lfp := "LFP"
	nmc := "NMC"
	return &memRepo{
		sessions:    map[string]model.SwapSession{},
		inspections: map[string]model.Inspection{},
		invoices:    map[string]model.Invoice{},
		lines:       map[string][]model.InvoiceDamageFee{},
		batteries: map[string]model.Battery{
			"old1": {ID: "old1", Code: "BAT-OLD-1", BatteryTypeID: "bt-lfp", Status: model.BatteryStatusInUse, SOC: 18, Voltage: 48.1, CycleCount: 410},
			"new1": {ID: "new1", Code: "BAT-NEW-1", BatteryTypeID: "bt-lfp", Status: model.BatteryStatusAvailable, SOC: 100},
			"new2": {ID: "new2", Code: "BAT-NEW-2", BatteryTypeID: "bt-lfp", Status: model.BatteryStatusAvailable, SOC: 100},
			"bad1": {ID: "bad1", Code: "BAT-BAD-1", BatteryTypeID: "bt-lfp", Status: model.BatteryStatusFaulty},
		},
		types: map[string]model.BatteryType{
			"bt-lfp": {ID: "bt-lfp", Name: "City 2kWh", Variant: lfp},
		},
		bookings: map[string]model.Booking{
			"bk1":       {ID: "bk1", Status: model.BookingStatusScheduled, UserID: "u1", VehicleID: "v1", BatteryID: "new1", StationID: "st1"},
			"bk2":       {ID: "bk2", Status: model.BookingStatusScheduled, UserID: "u1", VehicleID: "v2", BatteryID: "new2", StationID: "st1"},
			"bk-missed": {ID: "bk-missed", Status: model.BookingStatusMissed, UserID: "u1", VehicleID: "v1", BatteryID: "new2", StationID: "st1"},
		},
		users: map[string]model.User{
			"u1": {ID: "u1", FullName: "Anna Petrova"},
			"u2": {ID: "u2", FullName: "Ivan Sokolov"},
		},
		vehicles: map[string]model.Vehicle{
			"v1": {ID: "v1", UserID: "u1", ModelName: "Scooter S1", Plate: "A001AA", BatteryID: strPtr("old1")},
			"v2": {ID: "v2", UserID: "u1", ModelName: "Scooter S1", Plate: "A002AA"},
			"v3": {ID: "v3", UserID: "u2", ModelName: "Scooter S2", Plate: "B003BB"},
		},
		stations: map[string]model.Station{
			"st1": {ID: "st1", Name: "Central", Address: "Main st. 1"},
		},
		fees: []model.DamageFee{
			{ID: "int-volt", Name: "Cell voltage imbalance", Amount: 20000, Type: model.DamageFeeInternal, Active: true},
			{ID: "ext-scratch", Name: "Scratched casing", Amount: 5000, Type: model.DamageFeeExternal, Active: true},
			{ID: "ext-nmc", Name: "NMC connector damage", Amount: 7000, Type: model.DamageFeeExternal, Variant: &nmc, Active: true},
		},
		pricing:        model.ServicePricing{BasePrice: 50000, SwapDiscountBps: 1000, DamageDiscountBps: 2000},
		failBatteryCAS: map[string]bool{},
	}
}

func (m *memRepo) Close() error { return nil }

func (m *memRepo) GetSession(_ context.Context, id string) (*model.SwapSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, repository.ErrSessionNotFound
	}
	return &s, nil
}

func (m *memRepo) GetActiveSessionByBooking(_ context.Context, bookingID string) (*model.SwapSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.activeByBooking(bookingID); ok {
		return &s, nil
	}
	return nil, repository.ErrSessionNotFound
}

func (m *memRepo) activeByBooking(bookingID string) (model.SwapSession, bool) {
	for _, s := range m.sessions {
		if s.BookingID != nil && *s.BookingID == bookingID &&
			s.Status != model.SessionStatusCompleted && s.Status != model.SessionStatusCancelled {
			return s, true
		}
	}
	return model.SwapSession{}, false
}

func (m *memRepo) GetLastSessionByBooking(_ context.Context, bookingID string) (*model.SwapSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.created) - 1; i >= 0; i-- {
		s := m.sessions[m.created[i]]
		if s.BookingID != nil && *s.BookingID == bookingID {
			return &s, nil
		}
	}
	return nil, repository.ErrSessionNotFound
}

func (m *memRepo) GetActiveSessionByBattery(_ context.Context, batteryID string) (*model.SwapSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.activeByBattery(batteryID, ""); ok {
		return &s, nil
	}
	return nil, repository.ErrSessionNotFound
}

// activeByBattery повторяет уникальный индекс swap_sessions_active_new_battery.
func (m *memRepo) activeByBattery(batteryID, exceptID string) (model.SwapSession, bool) {
	for _, s := range m.sessions {
		if s.ID != exceptID && s.NewBatteryID != nil && *s.NewBatteryID == batteryID && sessionstate.IsActive(s.Status) {
			return s, true
		}
	}
	return model.SwapSession{}, false
}

func (m *memRepo) CreateSession(_ context.Context, s *model.SwapSession, bc *repository.BookingChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.BookingID != nil {
		if _, ok := m.activeByBooking(*s.BookingID); ok {
			return repository.ErrActiveSessionExists
		}
	}
	if s.NewBatteryID != nil {
		if _, ok := m.activeByBattery(*s.NewBatteryID, s.ID); ok {
			return repository.ErrBatteryHeld
		}
	}
	if bc != nil {
		if err := m.checkBooking(*bc); err != nil {
			return err
		}
		m.applyBooking(*bc)
	}
	m.sessions[s.ID] = *s
	m.created = append(m.created, s.ID)
	return nil
}

func (m *memRepo) checkSession(ch repository.SessionChange) error {
	s, ok := m.sessions[ch.ID]
	if !ok {
		return repository.ErrSessionNotFound
	}
	if s.Status != ch.From {
		return fmt.Errorf("%w: session %s", repository.ErrStaleState, ch.ID)
	}
	if ch.NewBatteryID != nil && sessionstate.IsActive(ch.To) {
		if _, ok := m.activeByBattery(*ch.NewBatteryID, ch.ID); ok {
			return repository.ErrBatteryHeld
		}
	}
	return nil
}

func (m *memRepo) applySession(ch repository.SessionChange) *model.SwapSession {
	s := m.sessions[ch.ID]
	s.Status = ch.To
	if ch.OldBatteryID != nil {
		s.OldBatteryID = strPtr(*ch.OldBatteryID)
	}
	if ch.NewBatteryID != nil {
		s.NewBatteryID = strPtr(*ch.NewBatteryID)
	}
	if ch.InvoiceID != nil {
		s.InvoiceID = strPtr(*ch.InvoiceID)
	}
	m.sessions[ch.ID] = s
	return &s
}

func (m *memRepo) checkBooking(ch repository.BookingChange) error {
	b, ok := m.bookings[ch.ID]
	if !ok {
		return repository.ErrBookingNotFound
	}
	if b.Status != ch.From {
		return fmt.Errorf("%w: booking %s", repository.ErrStaleState, ch.ID)
	}
	return nil
}

func (m *memRepo) applyBooking(ch repository.BookingChange) {
	b := m.bookings[ch.ID]
	b.Status = ch.To
	m.bookings[ch.ID] = b
}

func (m *memRepo) checkInvoice(ch repository.InvoiceChange) error {
	inv, ok := m.invoices[ch.ID]
	if !ok {
		return repository.ErrInvoiceNotFound
	}
	if inv.Status != ch.From {
		return fmt.Errorf("%w: invoice %s", repository.ErrStaleState, ch.ID)
	}
	return nil
}

func (m *memRepo) applyInvoice(ch repository.InvoiceChange) {
	inv := m.invoices[ch.ID]
	inv.Status = ch.To
	m.invoices[ch.ID] = inv
}

func (m *memRepo) AdvanceSession(_ context.Context, ch repository.SessionChange) (*model.SwapSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.advanceErr != nil {
		return nil, m.advanceErr
	}
	if err := m.checkSession(ch); err != nil {
		return nil, err
	}
	return m.applySession(ch), nil
}

func (m *memRepo) RecordInspection(_ context.Context, ch repository.SessionChange, ins *model.Inspection) (*model.SwapSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkSession(ch); err != nil {
		return nil, err
	}
	m.inspections[ins.SessionID] = *ins
	return m.applySession(ch), nil
}

func (m *memRepo) GetInspection(_ context.Context, sessionID string) (*model.Inspection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inspectionErr != nil {
		return nil, m.inspectionErr
	}
	ins, ok := m.inspections[sessionID]
	if !ok {
		return nil, repository.ErrInspectionNotFound
	}
	return &ins, nil
}

func (m *memRepo) SettlePayment(_ context.Context, ch repository.SessionChange, ic repository.InvoiceChange, bc *repository.BookingChange) (*model.SwapSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkSession(ch); err != nil {
		return nil, err
	}
	if err := m.checkInvoice(ic); err != nil {
		return nil, err
	}
	if bc != nil {
		if err := m.checkBooking(*bc); err != nil {
			return nil, err
		}
		m.applyBooking(*bc)
	}
	m.applyInvoice(ic)
	return m.applySession(ch), nil
}

func (m *memRepo) CancelSession(_ context.Context, ch repository.SessionChange, ic *repository.InvoiceChange, bc *repository.BookingChange) (*model.SwapSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkSession(ch); err != nil {
		return nil, err
	}
	if ic != nil {
		if err := m.checkInvoice(*ic); err != nil {
			return nil, err
		}
	}
	if bc != nil {
		if err := m.checkBooking(*bc); err != nil {
			return nil, err
		}
	}
	if ic != nil {
		m.applyInvoice(*ic)
	}
	if bc != nil {
		m.applyBooking(*bc)
	}
	return m.applySession(ch), nil
}

func (m *memRepo) CreateInvoice(_ context.Context, ch repository.SessionChange, inv *model.Invoice, lines []model.InvoiceDamageFee) (*model.SwapSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkSession(ch); err != nil {
		return nil, err
	}
	for _, existing := range m.invoices {
		if existing.SwapSessionID != nil && inv.SwapSessionID != nil && *existing.SwapSessionID == *inv.SwapSessionID {
			return nil, repository.ErrStaleState
		}
	}
	m.invoices[inv.ID] = *inv
	m.lines[inv.ID] = append([]model.InvoiceDamageFee(nil), lines...)
	ch.InvoiceID = &inv.ID
	return m.applySession(ch), nil
}

func (m *memRepo) GetInvoice(_ context.Context, id string) (*model.Invoice, []model.InvoiceDamageFee, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getInvoiceErr != nil {
		return nil, nil, m.getInvoiceErr
	}
	inv, ok := m.invoices[id]
	if !ok {
		return nil, nil, repository.ErrInvoiceNotFound
	}
	return &inv, append([]model.InvoiceDamageFee(nil), m.lines[id]...), nil
}

func (m *memRepo) GetBattery(_ context.Context, id string) (*model.Battery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batteries[id]
	if !ok {
		return nil, repository.ErrBatteryNotFound
	}
	return &b, nil
}

func (m *memRepo) GetBatteryByCode(_ context.Context, code string) (*model.Battery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.batteries {
		if b.Code == code {
			return &b, nil
		}
	}
	return nil, repository.ErrBatteryNotFound
}

func (m *memRepo) CompareAndSetBatteryStatus(_ context.Context, id string, from, to model.BatteryStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failBatteryCAS[id] {
		return errors.New("inventory unavailable")
	}
	b, ok := m.batteries[id]
	if !ok {
		return repository.ErrBatteryNotFound
	}
	if b.Status != from {
		return fmt.Errorf("%w: battery %s", repository.ErrStaleState, id)
	}
	b.Status = to
	m.batteries[id] = b
	return nil
}

func (m *memRepo) GetBatteryType(_ context.Context, id string) (*model.BatteryType, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bt, ok := m.types[id]
	if !ok {
		return nil, repository.ErrBatteryTypeNotFound
	}
	return &bt, nil
}

func (m *memRepo) ListDamageFees(_ context.Context, f model.DamageFeeFilter) ([]model.DamageFee, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.DamageFee
	for _, fee := range m.fees {
		if f.Type != "" && fee.Type != f.Type {
			continue
		}
		if f.Variant != "" && fee.Variant != nil && *fee.Variant != f.Variant {
			continue
		}
		if f.ActiveOnly && !fee.Active {
			continue
		}
		out = append(out, fee)
	}
	return out, nil
}

func (m *memRepo) GetBooking(_ context.Context, id string) (*model.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getBookingErr != nil {
		return nil, m.getBookingErr
	}
	b, ok := m.bookings[id]
	if !ok {
		return nil, repository.ErrBookingNotFound
	}
	return &b, nil
}

func (m *memRepo) GetUser(_ context.Context, id string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	return &u, nil
}

func (m *memRepo) GetVehicle(_ context.Context, id string) (*model.Vehicle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vehicles[id]
	if !ok {
		return nil, repository.ErrVehicleNotFound
	}
	return &v, nil
}

func (m *memRepo) GetStation(_ context.Context, id string) (*model.Station, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.stations[id]
	if !ok {
		return nil, repository.ErrStationNotFound
	}
	return &st, nil
}

func (m *memRepo) GetServicePricing(_ context.Context, _, stationID string) (*model.ServicePricing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.stations[stationID]; !ok {
		return nil, repository.ErrStationNotFound
	}
	p := m.pricing
	return &p, nil
}

func (m *memRepo) batteryStatus(id string) model.BatteryStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.batteries[id].Status
}

func (m *memRepo) bookingStatus(id string) model.BookingStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bookings[id].Status
}

type stubDiagnostics struct {
	reports map[string]*diagnostics.Report
	err     error
}

func (d *stubDiagnostics) Inspect(_ context.Context, code string) (*diagnostics.Report, error) {
	if d.err != nil {
		return nil, d.err
	}
	r, ok := d.reports[code]
	if !ok {
		return nil, diagnostics.ErrNoData
	}
	return r, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.EventType
}

func (n *recordingNotifier) Publish(_ context.Context, evt notify.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, evt.Type)
	return nil
}
