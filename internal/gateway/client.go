package gateway

import (
	"context"
)

// Client определяет интерфейс платёжного шлюза.
// Service и monitor зависят от интерфейса: в production это QPayClient,
// в тестах и mock-режиме — FakeClient.
type Client interface {
	// CreateInvoice создаёт инвойс на стороне шлюза и возвращает
	// invoice_id, QR и ссылки банковских приложений.
	CreateInvoice(ctx context.Context, in CreateInvoiceInput) (CreateInvoiceResult, error)

	// CancelInvoice отменяет инвойс на стороне шлюза.
	// Best-effort: вызывающие логируют ошибку и не пробрасывают её дальше.
	CancelInvoice(ctx context.Context, invoiceID string) error

	// CheckPayment запрашивает статус платежа по инвойсу.
	// count == 0 означает "платёж ещё не зарегистрирован", это не ошибка.
	CheckPayment(ctx context.Context, invoiceID string) (CheckPaymentResult, error)
}

// CreateInvoiceInput содержит параметры создания инвойса
type CreateInvoiceInput struct {
	Amount       int64
	OrderID      string
	CustomerCode string
	Description  string
}

// BankURL представляет deeplink банковского приложения из ответа QPay
type BankURL struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Logo        string `json:"logo"`
	Link        string `json:"link"`
}

// CreateInvoiceResult содержит ответ шлюза на создание инвойса
type CreateInvoiceResult struct {
	InvoiceID string    `json:"invoice_id"`
	QRText    string    `json:"qr_text"`
	QRImage   string    `json:"qr_image"` // base64 PNG от шлюза
	BankURLs  []BankURL `json:"urls"`
}

// PaymentRow представляет одну запись платежа из payment/check
type PaymentRow struct {
	PaymentID       string `json:"payment_id"`
	PaymentStatus   string `json:"payment_status"`
	PaymentAmount   int64  `json:"payment_amount"`
	PaymentDate     string `json:"payment_date"`
	TransactionID   string `json:"transaction_id"`
	ObjectID        string `json:"object_id,omitempty"`
	ObjectType      string `json:"object_type,omitempty"`
	SenderInvoiceNo string `json:"sender_invoice_no,omitempty"`
	PaymentMethod   string `json:"payment_method,omitempty"`
	CustomerPhone   string `json:"customer_phone,omitempty"`
	CreatedAt       string `json:"created_at,omitempty"`
	UpdatedAt       string `json:"updated_at,omitempty"`
}

// CheckPaymentResult содержит ответ шлюза на проверку платежа
type CheckPaymentResult struct {
	Count      int          `json:"count"`
	PaidAmount int64        `json:"paid_amount"`
	Rows       []PaymentRow `json:"rows"`
}

// PaymentStatusPaid - статус PAID в ответах и webhook-ах QPay
const PaymentStatusPaid = "PAID"
