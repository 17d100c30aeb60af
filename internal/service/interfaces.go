package service

import (
	"context"
	"time"

	"github.com/withrein/store-app/internal/monitor"
)

// Типы исходящих событий инвойса
const (
	EventTypeInvoiceCreated   = "invoice.created"
	EventTypePaymentConfirmed = "invoice.payment.confirmed"
	EventTypeInvoiceCancelled = "invoice.cancelled"
)

// InvoiceEvent представляет событие жизненного цикла инвойса (исходящее в Kafka)
type InvoiceEvent struct {
	EventID      string
	EventType    string
	EventVersion int
	OccurredAt   time.Time
	InvoiceID    string
	OrderID      string
	Amount       int64
	Status       string
}

// InvoiceEventPublisher определяет интерфейс для публикации событий инвойса
type InvoiceEventPublisher interface {
	// PublishInvoiceEvent публикует событие жизненного цикла инвойса
	PublishInvoiceEvent(ctx context.Context, event InvoiceEvent) error
}

// PaymentMonitor определяет интерфейс управления мониторами платежей
type PaymentMonitor interface {
	// Start запускает мониторинг инвойса
	Start(invoiceID string, createdAt time.Time, t monitor.InvoiceTransitioner)

	// Stop останавливает монитор инвойса, идемпотентен
	Stop(invoiceID string)

	// IsMonitoring возвращает true, если монитор инвойса активен
	IsMonitoring(invoiceID string) bool
}
