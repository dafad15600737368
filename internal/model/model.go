// Package model содержит доменные сущности сервиса станции замены батарей.
package model

import "time"

// BookingStatus описывает статус бронирования замены.
type BookingStatus string

const (
	BookingStatusScheduled  BookingStatus = "scheduled"
	BookingStatusInProgress BookingStatus = "in_progress"
	BookingStatusCompleted  BookingStatus = "completed"
	BookingStatusCanceled   BookingStatus = "canceled"
	BookingStatusMissed     BookingStatus = "missed"
)

// Booking описывает бронирование замены на станции к определённому времени.
type Booking struct {
	ID           string        `json:"id"`
	ScheduleTime time.Time     `json:"scheduleTime"`
	Note         string        `json:"note,omitempty"`
	Status       BookingStatus `json:"status"`
	UserID       string        `json:"userId"`
	VehicleID    string        `json:"vehicleId"`
	BatteryID    string        `json:"batteryId"`
	StationID    string        `json:"stationId"`
}

// SessionType различает сессии по бронированию и сессии без записи.
type SessionType string

const (
	SessionTypeBooking SessionType = "booking"
	SessionTypeWalkIn  SessionType = "walk-in"
)

// SessionStatus — строковое представление статуса сессии замены в хранилище и API.
// Незавершённые подстатусы кодируются как "in-progress:<substate>".
type SessionStatus string

const (
	SessionStatusCheckIn    SessionStatus = "in-progress:check-in"
	SessionStatusCheckPin   SessionStatus = "in-progress:check-pin"
	SessionStatusCalcDamage SessionStatus = "in-progress:calc-damage"
	SessionStatusConfirm    SessionStatus = "in-progress:confirm"
	SessionStatusPay        SessionStatus = "in-progress:pay"
	SessionStatusCompleted  SessionStatus = "completed"
	SessionStatusCancelled  SessionStatus = "cancelled"
)

// SwapSession описывает одну физическую замену батареи.
type SwapSession struct {
	ID           string        `json:"id"`
	Type         SessionType   `json:"type"`
	Status       SessionStatus `json:"status"`
	StationID    string        `json:"stationId"`
	UserID       string        `json:"userId"`
	VehicleID    string        `json:"vehicleId"`
	BookingID    *string       `json:"bookingId"`
	OldBatteryID *string       `json:"oldBatteryId"`
	NewBatteryID *string       `json:"newBatteryId"`
	InvoiceID    *string       `json:"invoiceId"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

// BatteryStatus описывает складской статус батареи.
type BatteryStatus string

const (
	BatteryStatusAvailable BatteryStatus = "available"
	BatteryStatusInUse     BatteryStatus = "in_use"
	BatteryStatusInCharged BatteryStatus = "in_charged"
	BatteryStatusInTransit BatteryStatus = "in_transit"
	BatteryStatusFaulty    BatteryStatus = "faulty"
	BatteryStatusReserved  BatteryStatus = "reserved"
)

// BatteryStatuses перечисляет все статусы батареи.
var BatteryStatuses = []BatteryStatus{
	BatteryStatusAvailable,
	BatteryStatusInUse,
	BatteryStatusInCharged,
	BatteryStatusInTransit,
	BatteryStatusFaulty,
	BatteryStatusReserved,
}

// Battery описывает физическую батарею на складе станции.
type Battery struct {
	ID              string        `json:"id"`
	Code            string        `json:"code"`
	BatteryTypeID   string        `json:"batteryTypeId"`
	StationID       *string       `json:"stationId"`
	CurrentCapacity float64       `json:"currentCapacity"`
	CycleCount      int           `json:"cycleCount"`
	SOC             float64       `json:"soc"`
	Voltage         float64       `json:"voltage"`
	Temperature     float64       `json:"temperature"`
	Status          BatteryStatus `json:"status"`
	ManufacturedAt  *time.Time    `json:"manufacturedAt,omitempty"`
}

// BatteryType описывает модель батареи и её химическое семейство.
type BatteryType struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Variant string `json:"variant"`
}

// DamageFeeType различает автоматически обнаруженные и внешние дефекты.
type DamageFeeType string

const (
	DamageFeeInternal DamageFeeType = "internal_force"
	DamageFeeExternal DamageFeeType = "external_force"
)

// DamageFee — позиция каталога дефектов с ценой.
type DamageFee struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Severity string        `json:"severity"`
	Amount   int64         `json:"amount"`
	Unit     string        `json:"unit"`
	Type     DamageFeeType `json:"type"`
	Variant  *string       `json:"variant"`
	Active   bool          `json:"status"`
}

// DamageFeeFilter ограничивает выборку каталога дефектов. Пустые поля не фильтруют.
type DamageFeeFilter struct {
	Type       DamageFeeType
	Variant    string
	ActiveOnly bool
}

// InvoiceType описывает вид счёта.
type InvoiceType string

const (
	InvoiceTypeBooking      InvoiceType = "booking"
	InvoiceTypeSubscription InvoiceType = "subscription"
)

// InvoiceStatus описывает статус оплаты счёта.
type InvoiceStatus string

const (
	InvoiceStatusProcessing InvoiceStatus = "processing"
	InvoiceStatusPaid       InvoiceStatus = "paid"
	InvoiceStatusCancelled  InvoiceStatus = "cancelled"
)

// Invoice — финансовая запись по одной замене. Все суммы в целых денежных единицах.
type Invoice struct {
	ID                string        `json:"id"`
	Type              InvoiceType   `json:"type"`
	UserID            string        `json:"userId"`
	SwapSessionID     *string       `json:"swapSessionId"`
	AmountOrigin      int64         `json:"amountOrigin"`
	AmountDiscount    int64         `json:"amountDiscount"`
	AmountFee         int64         `json:"amountFee"`
	AmountFeeDiscount int64         `json:"amountFeeDiscount"`
	AmountTotal       int64         `json:"amountTotal"`
	Status            InvoiceStatus `json:"status"`
	CreatedAt         time.Time     `json:"createdAt"`
}

// InvoiceDamageFee связывает счёт с начисленным дефектом.
type InvoiceDamageFee struct {
	ID             string `json:"id"`
	InvoiceID      string `json:"invoiceId"`
	DamageFeeID    string `json:"damageFeeId"`
	Name           string `json:"name"`
	Severity       string `json:"severity"`
	AmountOriginal int64  `json:"amountOriginal"`
	AmountDiscount int64  `json:"amountDiscount"`
	AmountFinal    int64  `json:"amountFinal"`
}

// ServicePricing — цена услуги замены на станции и скидки активной подписки клиента.
type ServicePricing struct {
	BasePrice         int64
	SwapDiscountBps   int64
	DamageDiscountBps int64
}

// Inspection — результат диагностики возвращённой батареи в рамках сессии.
type Inspection struct {
	SessionID      string    `json:"sessionId"`
	BatteryID      string    `json:"batteryId"`
	BatteryCode    string    `json:"batteryCode"`
	Variant        string    `json:"variant"`
	SOC            float64   `json:"soc"`
	Voltage        float64   `json:"voltage"`
	Temperature    float64   `json:"temperature"`
	CycleCount     int       `json:"cycleCount"`
	InternalFeeIDs []string  `json:"internalFeeIds"`
	InspectedAt    time.Time `json:"inspectedAt"`
}

// User — клиент станции.
type User struct {
	ID       string `json:"id"`
	FullName string `json:"fullName"`
	Phone    string `json:"phone,omitempty"`
	Email    string `json:"email,omitempty"`
}

// Vehicle — транспортное средство клиента. BatteryID пуст, если клиент ещё не менял батарею.
type Vehicle struct {
	ID        string  `json:"id"`
	UserID    string  `json:"userId"`
	ModelName string  `json:"modelName"`
	Plate     string  `json:"plate"`
	BatteryID *string `json:"batteryId"`
}

// Station — станция замены батарей.
type Station struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"`
}
