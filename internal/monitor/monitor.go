package monitor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/withrein/store-app/internal/gateway"
)

// InvoiceTransitioner применяет переходы статуса инвойса.
// Реализуется service слоем; обе операции обязаны быть идемпотентными —
// возвращают false, если инвойс уже в конечном статусе.
type InvoiceTransitioner interface {
	// ConfirmPayment переводит инвойс в paid по данным платежа
	ConfirmPayment(ctx context.Context, invoiceID string, row gateway.PaymentRow) (bool, error)

	// ExpireInvoice переводит инвойс в cancelled по таймауту оплаты
	ExpireInvoice(ctx context.Context, invoiceID string) (bool, error)
}

// PaymentChecker запрашивает статус платежа у шлюза
type PaymentChecker interface {
	CheckPayment(ctx context.Context, invoiceID string) (gateway.CheckPaymentResult, error)
}

// Config содержит таймеры мониторинга
type Config struct {
	// PollInterval интервал опроса шлюза
	PollInterval time.Duration
	// Timeout окно ожидания оплаты от момента создания инвойса
	Timeout time.Duration
}

// handle связывает invoiceID с одной активной парой таймеров (poll + expiry)
type handle struct {
	invoiceID    string
	createdAt    time.Time
	transitioner InvoiceTransitioner
	ctx          context.Context
	cancel       context.CancelFunc
	done         chan struct{}
}

// Manager владеет активными мониторами платежей: не более одного handle
// на invoiceID. Каждый монитор — горутина с recurring ticker-ом опроса
// и one-shot таймером истечения; выход из горутины останавливает оба
// таймера на любом пути (success, expiry, внешняя отмена).
type Manager struct {
	logger  *zap.Logger
	checker PaymentChecker
	cfg     Config

	mu      sync.Mutex
	handles map[string]*handle
}

// NewManager создаёт менеджер мониторов
func NewManager(logger *zap.Logger, checker PaymentChecker, cfg Config) *Manager {
	return &Manager{
		logger:  logger,
		checker: checker,
		cfg:     cfg,
		handles: make(map[string]*handle),
	}
}

// Start запускает мониторинг инвойса. Если монитор для invoiceID уже
// существует, старый отменяется и заменяется новым (cancel-then-replace).
func (m *Manager) Start(invoiceID string, createdAt time.Time, t InvoiceTransitioner) {
	ctx, cancel := context.WithCancel(context.Background())
	h := &handle{
		invoiceID:    invoiceID,
		createdAt:    createdAt,
		transitioner: t,
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}

	m.mu.Lock()
	if old, exists := m.handles[invoiceID]; exists {
		m.logger.Warn("payment monitor already active, replacing",
			zap.String("invoice_id", invoiceID),
		)
		old.cancel()
	}
	m.handles[invoiceID] = h
	m.mu.Unlock()

	m.logger.Info("payment monitoring started",
		zap.String("invoice_id", invoiceID),
		zap.Duration("poll_interval", m.cfg.PollInterval),
		zap.Duration("timeout", m.cfg.Timeout),
	)

	go m.run(h)
}

// Stop останавливает монитор инвойса, если он активен. Идемпотентен.
// Не ждёт завершения горутины: Stop вызывается и изнутри переходов,
// инициированных самим монитором.
func (m *Manager) Stop(invoiceID string) {
	m.mu.Lock()
	h, exists := m.handles[invoiceID]
	if exists {
		delete(m.handles, invoiceID)
	}
	m.mu.Unlock()

	if exists {
		h.cancel()
		m.logger.Info("payment monitoring stopped", zap.String("invoice_id", invoiceID))
	}
}

// StopAll останавливает все мониторы и дожидается завершения горутин.
// Используется при graceful shutdown.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	handles := make([]*handle, 0, len(m.handles))
	for id, h := range m.handles {
		handles = append(handles, h)
		delete(m.handles, id)
	}
	m.mu.Unlock()

	for _, h := range handles {
		h.cancel()
	}
	for _, h := range handles {
		select {
		case <-h.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// IsMonitoring возвращает true, если для инвойса есть активный монитор
func (m *Manager) IsMonitoring(invoiceID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, exists := m.handles[invoiceID]
	return exists
}

// remove убирает handle из таблицы, если он всё ещё текущий.
// Проверка идентичности нужна при cancel-then-replace: завершающаяся
// старая горутина не должна снять handle новой.
func (m *Manager) remove(h *handle) {
	m.mu.Lock()
	if cur, exists := m.handles[h.invoiceID]; exists && cur == h {
		delete(m.handles, h.invoiceID)
	}
	m.mu.Unlock()
}

// run — цикл одного монитора. Единственная горутина владеет обоими
// таймерами, поэтому выход по любому пути (defer) гарантированно
// останавливает и ticker, и expiry — осиротевших таймеров не остаётся.
func (m *Manager) run(h *handle) {
	defer close(h.done)
	defer m.remove(h)

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	deadline := h.createdAt.Add(m.cfg.Timeout)
	expiry := time.NewTimer(time.Until(deadline))
	defer expiry.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return

		case <-expiry.C:
			m.expire(h)
			return

		case <-ticker.C:
			// Защита от дрейфа: tick мог сработать уже после дедлайна,
			// но до срабатывания expiry-таймера
			if !time.Now().Before(deadline) {
				m.expire(h)
				return
			}
			if m.poll(h) {
				return
			}
		}
	}
}

// poll опрашивает шлюз; возвращает true, когда мониторинг следует завершить.
// Ошибка опроса логируется и не фатальна — следующий tick повторит запрос.
func (m *Manager) poll(h *handle) bool {
	result, err := m.checker.CheckPayment(h.ctx, h.invoiceID)
	if err != nil {
		m.logger.Warn("payment check failed, will retry on next tick",
			zap.String("invoice_id", h.invoiceID),
			zap.Error(err),
		)
		return false
	}

	// count > 0 при пустом rows шлюз тоже присылает - платежа ещё нет
	if result.Count == 0 || len(result.Rows) == 0 {
		return false
	}

	row := result.Rows[0]
	if row.PaymentStatus != gateway.PaymentStatusPaid {
		return false
	}

	applied, err := h.transitioner.ConfirmPayment(h.ctx, h.invoiceID, row)
	if err != nil {
		m.logger.Error("failed to confirm payment",
			zap.String("invoice_id", h.invoiceID),
			zap.Error(err),
		)
		return false
	}

	if applied {
		m.logger.Info("payment confirmed by polling",
			zap.String("invoice_id", h.invoiceID),
			zap.Int64("payment_amount", row.PaymentAmount),
		)
	}
	// Инвойс в конечном статусе (нашим переходом или чужим) — мониторить больше нечего
	return true
}

// expire переводит инвойс в cancelled по таймауту. Если webhook или poll
// успели первыми, переход не применится — это штатный исход гонки.
func (m *Manager) expire(h *handle) {
	applied, err := h.transitioner.ExpireInvoice(h.ctx, h.invoiceID)
	if err != nil {
		m.logger.Error("failed to expire invoice",
			zap.String("invoice_id", h.invoiceID),
			zap.Error(err),
		)
		return
	}

	if applied {
		m.logger.Info("invoice expired, payment timeout reached",
			zap.String("invoice_id", h.invoiceID),
		)
	}
}
