package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/withrein/store-app/internal/domain"
	"github.com/withrein/store-app/internal/gateway"
	"github.com/withrein/store-app/internal/repository"
)

// CancelReasonTimeout - причина отмены по истечении окна оплаты
const CancelReasonTimeout = "payment timeout"

// cancelReasonWebhook - причина отмены по уведомлению шлюза
const cancelReasonWebhook = "cancelled by payment notification"

// ValidationError возвращается на некорректный запрос создания инвойса
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid request: %s: %s", e.Field, e.Msg)
}

// CreateInvoiceRequest содержит параметры создания инвойса
type CreateInvoiceRequest struct {
	Amount       int64
	Description  string
	CustomerCode string
}

// PaymentView - данные платежа в ответе API
type PaymentView struct {
	Amount        int64  `json:"amount"`
	Date          string `json:"date,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
}

// CancelView - данные отмены в ответе API
type CancelView struct {
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// InvoiceView - инвойс, дополненный вычисляемыми полями окна оплаты.
// Вычисляемые поля не хранятся: они выводятся из created_at и текущего
// времени на каждый запрос.
type InvoiceView struct {
	InvoiceID    string    `json:"invoice_id"`
	OrderID      string    `json:"order_id"`
	CustomerCode string    `json:"customer_code,omitempty"`
	Description  string    `json:"description,omitempty"`
	Amount       int64     `json:"amount"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	Payment *PaymentView `json:"payment,omitempty"`
	Cancel  *CancelView  `json:"cancel,omitempty"`

	TimeElapsedMS   int64     `json:"time_elapsed_ms"`
	TimeRemainingMS int64     `json:"time_remaining_ms"`
	ExpiresAt       time.Time `json:"expires_at"`
	IsExpired       bool      `json:"is_expired"`
	IsMonitoring    bool      `json:"is_monitoring"`
}

// CreateInvoiceResponse - ответ на создание: инвойс плюс QR и банковские ссылки
type CreateInvoiceResponse struct {
	Invoice   InvoiceView
	QRText    string
	QRImage   string // base64 PNG от шлюза
	QRDataURL string
	BankURLs  []gateway.BankURL
}

// InvoiceService реализует жизненный цикл инвойса: создание через шлюз,
// мониторинг оплаты, переходы статуса. Реализует monitor.InvoiceTransitioner
// и webhook.InvoiceUpdater - polling, expiry и webhook сходятся в одних и
// тех же guarded-переходах, где CAS хранилища решает, кто успел первым.
type InvoiceService struct {
	logger  *zap.Logger
	repo    repository.InvoiceRepository
	gateway gateway.Client
	monitor PaymentMonitor
	events  InvoiceEventPublisher
	window  time.Duration // окно ожидания оплаты
}

// NewInvoiceService создаёт сервис инвойсов
func NewInvoiceService(
	logger *zap.Logger,
	repo repository.InvoiceRepository,
	gw gateway.Client,
	mon PaymentMonitor,
	events InvoiceEventPublisher,
	window time.Duration,
) *InvoiceService {
	return &InvoiceService{
		logger:  logger,
		repo:    repo,
		gateway: gw,
		monitor: mon,
		events:  events,
		window:  window,
	}
}

// CreateInvoice создаёт инвойс на шлюзе, сохраняет его как pending
// и запускает монитор оплаты.
func (s *InvoiceService) CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (CreateInvoiceResponse, error) {
	if req.Amount <= 0 {
		return CreateInvoiceResponse{}, &ValidationError{Field: "amount", Msg: "must be positive"}
	}

	orderID := strconv.FormatInt(time.Now().UnixMilli(), 10)
	description := req.Description
	if description == "" {
		description = "Order " + orderID
	}

	created, err := s.gateway.CreateInvoice(ctx, gateway.CreateInvoiceInput{
		Amount:       req.Amount,
		OrderID:      orderID,
		CustomerCode: req.CustomerCode,
		Description:  description,
	})
	if err != nil {
		return CreateInvoiceResponse{}, fmt.Errorf("create gateway invoice: %w", err)
	}

	now := time.Now()
	inv := domain.Invoice{
		InvoiceID:    created.InvoiceID,
		OrderID:      orderID,
		CustomerCode: req.CustomerCode,
		Description:  description,
		Amount:       req.Amount,
		Status:       domain.StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Save(ctx, inv); err != nil {
		return CreateInvoiceResponse{}, fmt.Errorf("save invoice: %w", err)
	}

	s.publishEvent(ctx, inv, EventTypeInvoiceCreated)
	s.monitor.Start(inv.InvoiceID, inv.CreatedAt, s)

	s.logger.Info("invoice created",
		zap.String("invoice_id", inv.InvoiceID),
		zap.String("order_id", orderID),
		zap.Int64("amount", req.Amount),
	)

	qrDataURL := ""
	if created.QRImage != "" {
		qrDataURL = "data:image/png;base64," + created.QRImage
	}

	return CreateInvoiceResponse{
		Invoice:   s.view(inv),
		QRText:    created.QRText,
		QRImage:   created.QRImage,
		QRDataURL: qrDataURL,
		BankURLs:  created.BankURLs,
	}, nil
}

// GetInvoice возвращает инвойс с вычисленными полями окна оплаты
func (s *InvoiceService) GetInvoice(ctx context.Context, invoiceID string) (domain.Invoice, error) {
	return s.repo.Get(ctx, invoiceID)
}

// GetInvoiceView возвращает инвойс для API-ответа
func (s *InvoiceService) GetInvoiceView(ctx context.Context, invoiceID string) (InvoiceView, error) {
	inv, err := s.repo.Get(ctx, invoiceID)
	if err != nil {
		return InvoiceView{}, err
	}
	return s.view(inv), nil
}

// ListInvoices возвращает все инвойсы в порядке создания
func (s *InvoiceService) ListInvoices(ctx context.Context) ([]InvoiceView, error) {
	invoices, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}

	views := make([]InvoiceView, 0, len(invoices))
	for _, inv := range invoices {
		views = append(views, s.view(inv))
	}
	return views, nil
}

// CheckPayment запрашивает статус платежа у шлюза по требованию клиента.
// Обнаруженный PAID применяется тем же guarded-переходом, что и polling.
func (s *InvoiceService) CheckPayment(ctx context.Context, invoiceID string) (gateway.CheckPaymentResult, error) {
	result, err := s.gateway.CheckPayment(ctx, invoiceID)
	if err != nil {
		return gateway.CheckPaymentResult{}, err
	}

	if len(result.Rows) > 0 && result.Rows[0].PaymentStatus == gateway.PaymentStatusPaid {
		if _, err := s.ConfirmPayment(ctx, invoiceID, result.Rows[0]); err != nil {
			s.logger.Error("failed to apply payment found by manual check",
				zap.String("invoice_id", invoiceID),
				zap.Error(err),
			)
		}
	}

	return result, nil
}

// ConfirmPayment переводит инвойс в paid. Возвращает false, если инвойс
// уже в конечном статусе - поздний poll или повторный webhook проигрывают
// гонку молча.
func (s *InvoiceService) ConfirmPayment(ctx context.Context, invoiceID string, row gateway.PaymentRow) (bool, error) {
	payment := &domain.PaymentInfo{
		Amount:        row.PaymentAmount,
		Date:          row.PaymentDate,
		TransactionID: row.TransactionID,
	}

	applied, err := s.repo.UpdateStatus(ctx, invoiceID, domain.StatusPaid, payment, nil)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	s.monitor.Stop(invoiceID)

	if applied {
		s.logger.Info("payment confirmed",
			zap.String("invoice_id", invoiceID),
			zap.Int64("amount", row.PaymentAmount),
			zap.String("transaction_id", row.TransactionID),
		)
		s.publishTransition(ctx, invoiceID, EventTypePaymentConfirmed)
	}
	return applied, nil
}

// ExpireInvoice переводит инвойс в cancelled по истечении окна оплаты.
// Отмена на стороне шлюза best-effort: её неудача логируется и не мешает
// локальному переходу.
func (s *InvoiceService) ExpireInvoice(ctx context.Context, invoiceID string) (bool, error) {
	cancel := &domain.CancelInfo{
		Reason: CancelReasonTimeout,
		At:     time.Now(),
	}

	applied, err := s.repo.UpdateStatus(ctx, invoiceID, domain.StatusCancelled, nil, cancel)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if !applied {
		return false, nil
	}

	if err := s.gateway.CancelInvoice(ctx, invoiceID); err != nil {
		s.logger.Warn("gateway invoice cancellation failed",
			zap.String("invoice_id", invoiceID),
			zap.Error(err),
		)
	}

	s.logger.Info("invoice cancelled",
		zap.String("invoice_id", invoiceID),
		zap.String("reason", CancelReasonTimeout),
	)
	s.publishTransition(ctx, invoiceID, EventTypeInvoiceCancelled)
	return true, nil
}

// ApplyWebhookStatus применяет конечный статус из webhook-а и останавливает
// монитор инвойса. Неизвестный инвойс не ошибка: шлюз мог прислать
// уведомление по чужому или уже забытому инвойсу.
func (s *InvoiceService) ApplyWebhookStatus(ctx context.Context, invoiceID string, status domain.Status, payment *domain.PaymentInfo) (bool, error) {
	var cancel *domain.CancelInfo
	if status == domain.StatusCancelled {
		cancel = &domain.CancelInfo{Reason: cancelReasonWebhook, At: time.Now()}
	}

	applied, err := s.repo.UpdateStatus(ctx, invoiceID, status, payment, cancel)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.monitor.Stop(invoiceID)
			return false, nil
		}
		return false, err
	}

	s.monitor.Stop(invoiceID)

	if applied {
		eventType := EventTypePaymentConfirmed
		if status == domain.StatusCancelled {
			eventType = EventTypeInvoiceCancelled
		}
		s.logger.Info("webhook status applied",
			zap.String("invoice_id", invoiceID),
			zap.String("status", string(status)),
		)
		s.publishTransition(ctx, invoiceID, eventType)
	}
	return applied, nil
}

// view дополняет инвойс вычисляемыми полями окна оплаты
func (s *InvoiceService) view(inv domain.Invoice) InvoiceView {
	now := time.Now()
	expiresAt := inv.CreatedAt.Add(s.window)
	elapsed := now.Sub(inv.CreatedAt).Milliseconds()
	remaining := expiresAt.Sub(now).Milliseconds()
	// Истечение окна - свойство времени, не статуса: отменённый по таймауту
	// инвойс продолжает показывать is_expired
	expired := remaining <= 0
	if remaining < 0 {
		remaining = 0
	}

	v := InvoiceView{
		InvoiceID:       inv.InvoiceID,
		OrderID:         inv.OrderID,
		CustomerCode:    inv.CustomerCode,
		Description:     inv.Description,
		Amount:          inv.Amount,
		Status:          string(inv.Status),
		CreatedAt:       inv.CreatedAt,
		UpdatedAt:       inv.UpdatedAt,
		TimeElapsedMS:   elapsed,
		TimeRemainingMS: remaining,
		ExpiresAt:       expiresAt,
		IsExpired:       expired,
		IsMonitoring:    s.monitor.IsMonitoring(inv.InvoiceID),
	}

	if inv.Payment != nil {
		v.Payment = &PaymentView{
			Amount:        inv.Payment.Amount,
			Date:          inv.Payment.Date,
			TransactionID: inv.Payment.TransactionID,
		}
	}
	if inv.Cancel != nil {
		v.Cancel = &CancelView{
			Reason: inv.Cancel.Reason,
			At:     inv.Cancel.At,
		}
	}
	return v
}

// publishEvent публикует событие по свежесозданному инвойсу.
// Ошибка публикации логируется и не мешает основному пути.
func (s *InvoiceService) publishEvent(ctx context.Context, inv domain.Invoice, eventType string) {
	event := InvoiceEvent{
		EventID:      uuid.New().String(),
		EventType:    eventType,
		EventVersion: 1,
		OccurredAt:   time.Now(),
		InvoiceID:    inv.InvoiceID,
		OrderID:      inv.OrderID,
		Amount:       inv.Amount,
		Status:       string(inv.Status),
	}
	if err := s.events.PublishInvoiceEvent(ctx, event); err != nil {
		s.logger.Error("failed to publish invoice event",
			zap.String("event_type", eventType),
			zap.String("invoice_id", inv.InvoiceID),
			zap.Error(err),
		)
	}
}

// publishTransition перечитывает инвойс и публикует событие перехода
func (s *InvoiceService) publishTransition(ctx context.Context, invoiceID, eventType string) {
	inv, err := s.repo.Get(ctx, invoiceID)
	if err != nil {
		s.logger.Error("failed to load invoice for event",
			zap.String("invoice_id", invoiceID),
			zap.Error(err),
		)
		return
	}
	s.publishEvent(ctx, inv, eventType)
}
