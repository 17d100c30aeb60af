package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/withrein/store-app/internal/domain"
	"github.com/withrein/store-app/internal/gateway"
	"github.com/withrein/store-app/internal/repository"
)

// Payload — уведомление платёжного шлюза о событии платежа.
// Шлюз может доставить его несколько раз, поля кроме object_id опциональны.
type Payload struct {
	ObjectID           string `json:"object_id"`
	PaymentStatus      string `json:"payment_status,omitempty"`
	PaymentAmount      int64  `json:"payment_amount,omitempty"`
	PaymentDate        string `json:"payment_date,omitempty"`
	TransactionID      string `json:"transaction_id,omitempty"`
	SenderInvoiceNo    string `json:"sender_invoice_no,omitempty"`
	InvoiceDescription string `json:"invoice_description,omitempty"`
	MerchantID         string `json:"merchant_id,omitempty"`
	PaymentMethod      string `json:"payment_method,omitempty"`
	CustomerPhone      string `json:"customer_phone,omitempty"`
	Timestamp          int64  `json:"timestamp,omitempty"`
}

// Статусы, которые шлюз может прислать в payment_status
const (
	statusPaid      = "PAID"
	statusCancelled = "CANCELLED"
	statusRefunded  = "REFUNDED"
	statusPending   = "PENDING"
)

// Result — итог обработки одного уведомления
type Result struct {
	// WebhookID - ключ идемпотентности доставки
	WebhookID string
	// Duplicate - уведомление уже было обработано ранее
	Duplicate bool
	// Status - итоговый статус платежа после инференса
	Status string
	// Applied - мутация применена к хранилищу этим вызовом
	Applied bool
}

// ValidationError возвращается на неполный или некорректный payload.
// Событие при этом НЕ помечается обработанным - исправленный повтор пройдёт.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid webhook payload: %s: %s", e.Field, e.Msg)
}

// ErrInvalidSignature возвращается при несовпадении HMAC-подписи
var ErrInvalidSignature = errors.New("webhook signature mismatch")

// objectIDPattern - канонический дефисный UUID, как шлюз выдаёт object_id.
// Фигурные скобки, urn:uuid: и 32-hex формы не принимаются.
var objectIDPattern = regexp.MustCompile(`^(?i)[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// InvoiceUpdater применяет вебхук к инвойсу. Реализуется service слоем.
type InvoiceUpdater interface {
	// GetInvoice возвращает инвойс или repository.ErrNotFound
	GetInvoice(ctx context.Context, invoiceID string) (domain.Invoice, error)

	// ApplyWebhookStatus переводит инвойс в конечный статус и останавливает
	// его монитор. Возвращает false без ошибки, если инвойс уже в конечном
	// статусе или неизвестен хранилищу.
	ApplyWebhookStatus(ctx context.Context, invoiceID string, status domain.Status, payment *domain.PaymentInfo) (bool, error)
}

// PaymentRecorder фиксирует платёж на стороне шлюза. В mock-режиме это
// FakeClient: записанный платёж становится видимым и polling-пути.
type PaymentRecorder interface {
	RecordPayment(ctx context.Context, row gateway.PaymentRow)
}

// Config настраивает обработчик webhook-ов
type Config struct {
	// Secret - общий секрет HMAC-подписи; пустой секрет отключает проверку
	Secret string
	// DedupTTL - время жизни ключа идемпотентности
	DedupTTL time.Duration
}

// Processor - конвейер обработки входящих уведомлений шлюза:
// дедупликация, валидация, проверка подписи, инференс статуса, применение.
type Processor struct {
	logger   *zap.Logger
	store    ProcessedWebhookStore
	updater  InvoiceUpdater
	recorder PaymentRecorder // nil вне mock-режима
	cfg      Config
}

// NewProcessor создаёт обработчик. recorder может быть nil.
func NewProcessor(logger *zap.Logger, store ProcessedWebhookStore, updater InvoiceUpdater, recorder PaymentRecorder, cfg Config) *Processor {
	return &Processor{
		logger:   logger,
		store:    store,
		updater:  updater,
		recorder: recorder,
		cfg:      cfg,
	}
}

// IdempotencyKey вычисляет детерминированный ключ доставки: sha256 от тела
// и временной метки payload-а. Без timestamp в payload используется момент
// получения - тогда точный повтор тела получит другой ключ.
func IdempotencyKey(rawBody []byte, timestamp int64, receivedAt time.Time) string {
	ts := timestamp
	if ts == 0 {
		ts = receivedAt.UnixMilli()
	}

	h := sha256.New()
	h.Write(rawBody)
	h.Write([]byte(strconv.FormatInt(ts, 10)))
	return hex.EncodeToString(h.Sum(nil))
}

// Process прогоняет уведомление через конвейер.
// Порядок шагов фиксирован: дедупликация до валидации (повтор уже принятой
// доставки не должен падать на изменившемся состоянии), пометка об обработке -
// только после успешного применения.
func (p *Processor) Process(ctx context.Context, rawBody []byte, signature string) (Result, error) {
	var payload Payload
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return Result{}, &ValidationError{Field: "body", Msg: "malformed JSON"}
	}

	key := IdempotencyKey(rawBody, payload.Timestamp, time.Now())
	log := p.logger.With(zap.String("webhook_id", key), zap.String("object_id", payload.ObjectID))

	processed, err := p.store.IsProcessed(ctx, key)
	if err != nil {
		return Result{}, fmt.Errorf("check idempotency key: %w", err)
	}
	if processed {
		log.Info("duplicate webhook delivery, skipping")
		return Result{WebhookID: key, Duplicate: true, Status: payload.PaymentStatus}, nil
	}

	if err := p.validate(payload); err != nil {
		log.Warn("webhook validation failed", zap.Error(err))
		return Result{}, err
	}

	if err := p.verifySignature(rawBody, signature); err != nil {
		log.Warn("webhook signature mismatch")
		return Result{}, err
	}

	status, err := p.inferStatus(ctx, payload)
	if err != nil {
		return Result{}, err
	}

	applied, err := p.apply(ctx, payload, status)
	if err != nil {
		return Result{}, err
	}

	if err := p.store.MarkProcessed(ctx, key, p.cfg.DedupTTL); err != nil {
		return Result{}, fmt.Errorf("mark webhook processed: %w", err)
	}

	log.Info("webhook processed",
		zap.String("status", status),
		zap.Bool("applied", applied),
	)

	return Result{WebhookID: key, Status: status, Applied: applied}, nil
}

func (p *Processor) validate(payload Payload) error {
	if payload.ObjectID == "" {
		return &ValidationError{Field: "object_id", Msg: "required"}
	}
	if !objectIDPattern.MatchString(payload.ObjectID) {
		return &ValidationError{Field: "object_id", Msg: "must be a canonical gateway object id"}
	}

	switch payload.PaymentStatus {
	case "", statusPaid, statusCancelled, statusRefunded, statusPending:
	default:
		return &ValidationError{Field: "payment_status", Msg: "unrecognized status " + payload.PaymentStatus}
	}
	return nil
}

// verifySignature сверяет HMAC-SHA256 от сырого тела с заголовком подписи.
// Пустой секрет означает trust-the-network режим - проверка пропускается.
func (p *Processor) verifySignature(rawBody []byte, signature string) error {
	if p.cfg.Secret == "" {
		return nil
	}

	mac := hmac.New(sha256.New, []byte(p.cfg.Secret))
	mac.Write(rawBody)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}

// inferStatus выводит статус, когда payload его не указал явно:
// положительная сумма сверяется с суммой локального инвойса - совпадение
// значит PAID, расхождение - CANCELLED. Неизвестный локально инвойс
// проверить нельзя, payload принимается как PAID. Без суммы - PENDING.
func (p *Processor) inferStatus(ctx context.Context, payload Payload) (string, error) {
	if payload.PaymentStatus != "" {
		return payload.PaymentStatus, nil
	}

	if payload.PaymentAmount <= 0 {
		return statusPending, nil
	}

	inv, err := p.updater.GetInvoice(ctx, payload.ObjectID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return statusPaid, nil
		}
		return "", fmt.Errorf("load invoice for status inference: %w", err)
	}

	if payload.PaymentAmount != inv.Amount {
		p.logger.Warn("webhook amount mismatch, treating as cancelled",
			zap.String("object_id", payload.ObjectID),
			zap.Int64("expected_amount", inv.Amount),
			zap.Int64("payment_amount", payload.PaymentAmount),
		)
		return statusCancelled, nil
	}
	return statusPaid, nil
}

// apply применяет конечный статус к хранилищу. PENDING и REFUNDED локальное
// состояние не меняют: переходы возможны только pending -> paid/cancelled.
func (p *Processor) apply(ctx context.Context, payload Payload, status string) (bool, error) {
	switch status {
	case statusPaid:
		if p.recorder != nil {
			p.recorder.RecordPayment(ctx, gateway.PaymentRow{
				ObjectID:      payload.ObjectID,
				PaymentStatus: gateway.PaymentStatusPaid,
				PaymentAmount: payload.PaymentAmount,
				PaymentDate:   payload.PaymentDate,
				TransactionID: payload.TransactionID,
			})
		}
		return p.updater.ApplyWebhookStatus(ctx, payload.ObjectID, domain.StatusPaid, &domain.PaymentInfo{
			Amount:        payload.PaymentAmount,
			Date:          payload.PaymentDate,
			TransactionID: payload.TransactionID,
		})

	case statusCancelled:
		return p.updater.ApplyWebhookStatus(ctx, payload.ObjectID, domain.StatusCancelled, nil)

	default:
		return false, nil
	}
}
