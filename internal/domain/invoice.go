package domain

import "time"

// Status представляет статус инвойса в локальном хранилище
type Status string

const (
	// StatusPending - инвойс создан, платёж ещё не подтверждён
	StatusPending Status = "pending"
	// StatusPaid - платёж подтверждён (через polling или webhook)
	StatusPaid Status = "paid"
	// StatusCancelled - инвойс отменён (таймаут или уведомление шлюза)
	StatusCancelled Status = "cancelled"
)

// Terminal возвращает true для конечных статусов.
// Из конечного статуса переходов нет.
func (s Status) Terminal() bool {
	return s == StatusPaid || s == StatusCancelled
}

// PaymentInfo содержит данные платежа, заполняется только при переходе в paid
type PaymentInfo struct {
	Amount        int64
	Date          string
	TransactionID string
}

// CancelInfo содержит причину отмены, заполняется только при переходе в cancelled
type CancelInfo struct {
	Reason string
	At     time.Time
}

// Invoice представляет доменную модель инвойса.
// InvoiceID присваивается платёжным шлюзом и уникален в хранилище.
// Amount в минорных единицах валюты, фиксируется при создании.
type Invoice struct {
	InvoiceID    string
	OrderID      string
	CustomerCode string
	Description  string
	Amount       int64
	Status       Status
	CreatedAt    time.Time
	UpdatedAt    time.Time

	Payment *PaymentInfo
	Cancel  *CancelInfo
}
