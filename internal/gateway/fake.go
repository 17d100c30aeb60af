package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// FakeClient реализует Client без обращения к внешнему шлюзу.
// Используется в тестах и в mock-режиме (QPAY_MODE=mock): симулированный
// PAID webhook записывается через RecordPayment и становится видимым
// polling-пути через CheckPayment — как настоящий платёж.
type FakeClient struct {
	logger *zap.Logger

	mu        sync.RWMutex
	payments  map[string]PaymentRow // ключ = invoiceID (object_id)
	cancelled map[string]bool

	// CreateErr/CheckErr позволяют тестам инжектировать ошибки шлюза
	CreateErr error
	CheckErr  error
}

// NewFakeClient создаёт пустой fake-шлюз
func NewFakeClient(logger *zap.Logger) *FakeClient {
	return &FakeClient{
		logger:    logger,
		payments:  make(map[string]PaymentRow),
		cancelled: make(map[string]bool),
	}
}

// fixtureFile повторяет формат mock-файла: статические webhooks
// и динамические платежи, записанные обработчиком webhook-ов.
type fixtureFile struct {
	Webhooks        map[string]PaymentRow `json:"webhooks"`
	DynamicPayments map[string]PaymentRow `json:"dynamic_payments"`
}

// LoadFixtures загружает записанные платежи из JSON-файла.
// Отсутствующий файл не ошибка: fake стартует пустым.
func (f *FakeClient) LoadFixtures(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read fixtures: %w", err)
	}

	var file fixtureFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse fixtures: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for id, row := range file.DynamicPayments {
		f.payments[id] = row
	}
	for _, row := range file.Webhooks {
		if row.ObjectID != "" {
			f.payments[row.ObjectID] = row
		}
	}

	f.logger.Info("fake gateway fixtures loaded",
		zap.String("path", path),
		zap.Int("payments", len(f.payments)),
	)
	return nil
}

// RecordPayment записывает платёж, который CheckPayment начнёт возвращать как PAID
func (f *FakeClient) RecordPayment(ctx context.Context, row PaymentRow) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if row.PaymentID == "" {
		row.PaymentID = "mock_payment_" + uuid.NewString()
	}
	if row.PaymentStatus == "" {
		row.PaymentStatus = PaymentStatusPaid
	}
	now := time.Now().UTC().Format(time.RFC3339)
	if row.CreatedAt == "" {
		row.CreatedAt = now
	}
	row.UpdatedAt = now

	f.payments[row.ObjectID] = row
}

// CreateInvoice возвращает сгенерированный инвойс с фиктивным QR
func (f *FakeClient) CreateInvoice(ctx context.Context, in CreateInvoiceInput) (CreateInvoiceResult, error) {
	if f.CreateErr != nil {
		return CreateInvoiceResult{}, f.CreateErr
	}

	invoiceID := uuid.NewString()
	return CreateInvoiceResult{
		InvoiceID: invoiceID,
		QRText:    "sandbox-qr-" + invoiceID,
		QRImage:   base64.StdEncoding.EncodeToString([]byte("sandbox-qr-" + invoiceID)),
		BankURLs: []BankURL{
			{Name: "qPay wallet", Description: "qPay хэтэвч", Link: "qpaywallet://q?qPay_QRcode=sandbox-qr-" + invoiceID},
		},
	}, nil
}

// CancelInvoice помечает инвойс отменённым на стороне fake-шлюза
func (f *FakeClient) CancelInvoice(ctx context.Context, invoiceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled[invoiceID] = true
	return nil
}

// Cancelled возвращает true, если CancelInvoice вызывался для инвойса
func (f *FakeClient) Cancelled(invoiceID string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.cancelled[invoiceID]
}

// CheckPayment возвращает записанный платёж или count=0
func (f *FakeClient) CheckPayment(ctx context.Context, invoiceID string) (CheckPaymentResult, error) {
	if f.CheckErr != nil {
		return CheckPaymentResult{}, f.CheckErr
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	row, exists := f.payments[invoiceID]
	if !exists {
		return CheckPaymentResult{Count: 0}, nil
	}

	return CheckPaymentResult{
		Count:      1,
		PaidAmount: row.PaymentAmount,
		Rows:       []PaymentRow{row},
	}, nil
}
