package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/withrein/store-app/internal/gateway"
)

// stubChecker отдаёт подготовленные ответы шлюза; ответы можно менять на лету
type stubChecker struct {
	mu     sync.Mutex
	result gateway.CheckPaymentResult
	err    error
	calls  int
}

func (s *stubChecker) CheckPayment(ctx context.Context, invoiceID string) (gateway.CheckPaymentResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.result, s.err
}

func (s *stubChecker) set(result gateway.CheckPaymentResult, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.result = result
	s.err = err
}

func (s *stubChecker) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// stubTransitioner записывает применённые переходы
type stubTransitioner struct {
	mu        sync.Mutex
	confirmed []string
	expired   []string
	onConfirm func(invoiceID string)
}

func (s *stubTransitioner) ConfirmPayment(ctx context.Context, invoiceID string, row gateway.PaymentRow) (bool, error) {
	s.mu.Lock()
	s.confirmed = append(s.confirmed, invoiceID)
	s.mu.Unlock()
	if s.onConfirm != nil {
		s.onConfirm(invoiceID)
	}
	return true, nil
}

func (s *stubTransitioner) ExpireInvoice(ctx context.Context, invoiceID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expired = append(s.expired, invoiceID)
	return true, nil
}

func (s *stubTransitioner) confirmedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.confirmed...)
}

func (s *stubTransitioner) expiredIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.expired...)
}

func testConfig() Config {
	return Config{
		PollInterval: 10 * time.Millisecond,
		Timeout:      200 * time.Millisecond,
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond, msg)
}

func TestManager_ConfirmsPaidInvoice(t *testing.T) {
	checker := &stubChecker{}
	tr := &stubTransitioner{}
	m := NewManager(zap.NewNop(), checker, testConfig())
	tr.onConfirm = m.Stop

	m.Start("inv-1", time.Now(), tr)
	require.True(t, m.IsMonitoring("inv-1"))

	checker.set(gateway.CheckPaymentResult{
		Count:      1,
		PaidAmount: 1000,
		Rows: []gateway.PaymentRow{
			{ObjectID: "inv-1", PaymentStatus: gateway.PaymentStatusPaid, PaymentAmount: 1000},
		},
	}, nil)

	waitFor(t, func() bool { return len(tr.confirmedIDs()) == 1 }, "payment not confirmed")
	waitFor(t, func() bool { return !m.IsMonitoring("inv-1") }, "monitor not removed after confirm")
	assert.Empty(t, tr.expiredIDs())
}

func TestManager_ExpiresUnpaidInvoice(t *testing.T) {
	checker := &stubChecker{}
	tr := &stubTransitioner{}
	m := NewManager(zap.NewNop(), checker, Config{
		PollInterval: 10 * time.Millisecond,
		Timeout:      50 * time.Millisecond,
	})

	m.Start("inv-1", time.Now(), tr)

	waitFor(t, func() bool { return len(tr.expiredIDs()) == 1 }, "invoice not expired")
	waitFor(t, func() bool { return !m.IsMonitoring("inv-1") }, "monitor not removed after expiry")
	assert.Empty(t, tr.confirmedIDs())
}

func TestManager_PollErrorsAreRetried(t *testing.T) {
	checker := &stubChecker{}
	checker.set(gateway.CheckPaymentResult{}, errors.New("gateway unavailable"))
	tr := &stubTransitioner{}
	m := NewManager(zap.NewNop(), checker, testConfig())
	tr.onConfirm = m.Stop

	m.Start("inv-1", time.Now(), tr)

	// Несколько неудачных опросов не убивают монитор
	waitFor(t, func() bool { return checker.callCount() >= 3 }, "poll not retried")
	require.True(t, m.IsMonitoring("inv-1"))

	checker.set(gateway.CheckPaymentResult{
		Count: 1,
		Rows: []gateway.PaymentRow{
			{ObjectID: "inv-1", PaymentStatus: gateway.PaymentStatusPaid, PaymentAmount: 1000},
		},
	}, nil)

	waitFor(t, func() bool { return len(tr.confirmedIDs()) == 1 }, "payment not confirmed after recovery")
}

func TestManager_StopIsIdempotent(t *testing.T) {
	checker := &stubChecker{}
	tr := &stubTransitioner{}
	m := NewManager(zap.NewNop(), checker, testConfig())

	m.Start("inv-1", time.Now(), tr)
	m.Stop("inv-1")
	m.Stop("inv-1")
	m.Stop("unknown")

	assert.False(t, m.IsMonitoring("inv-1"))
	waitFor(t, func() bool { return len(tr.expiredIDs()) == 0 && len(tr.confirmedIDs()) == 0 }, "transitions after stop")
}

func TestManager_StartReplacesExistingMonitor(t *testing.T) {
	checker := &stubChecker{}
	tr := &stubTransitioner{}
	m := NewManager(zap.NewNop(), checker, testConfig())

	m.Start("inv-1", time.Now(), tr)
	m.Start("inv-1", time.Now(), tr)
	require.True(t, m.IsMonitoring("inv-1"))

	m.Stop("inv-1")
	assert.False(t, m.IsMonitoring("inv-1"))
}

func TestManager_StopAllWaitsForGoroutines(t *testing.T) {
	checker := &stubChecker{}
	tr := &stubTransitioner{}
	m := NewManager(zap.NewNop(), checker, testConfig())

	m.Start("inv-1", time.Now(), tr)
	m.Start("inv-2", time.Now(), tr)
	m.Start("inv-3", time.Now(), tr)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, m.StopAll(ctx))

	assert.False(t, m.IsMonitoring("inv-1"))
	assert.False(t, m.IsMonitoring("inv-2"))
	assert.False(t, m.IsMonitoring("inv-3"))
}

func TestManager_CountWithoutRowsKeepsPolling(t *testing.T) {
	checker := &stubChecker{}
	// Шлюз иногда присылает count > 0 с пустым rows - платёж ещё не материализовался
	checker.set(gateway.CheckPaymentResult{Count: 1, Rows: nil}, nil)
	tr := &stubTransitioner{}
	m := NewManager(zap.NewNop(), checker, testConfig())
	tr.onConfirm = m.Stop

	m.Start("inv-1", time.Now(), tr)

	waitFor(t, func() bool { return checker.callCount() >= 3 }, "poll not running")
	assert.Empty(t, tr.confirmedIDs())
	require.True(t, m.IsMonitoring("inv-1"))

	checker.set(gateway.CheckPaymentResult{
		Count: 1,
		Rows: []gateway.PaymentRow{
			{ObjectID: "inv-1", PaymentStatus: gateway.PaymentStatusPaid, PaymentAmount: 1000},
		},
	}, nil)

	waitFor(t, func() bool { return len(tr.confirmedIDs()) == 1 }, "payment not confirmed once rows arrived")
}

func TestManager_PendingRowsDoNotConfirm(t *testing.T) {
	checker := &stubChecker{}
	checker.set(gateway.CheckPaymentResult{
		Count: 1,
		Rows: []gateway.PaymentRow{
			{ObjectID: "inv-1", PaymentStatus: "NEW", PaymentAmount: 1000},
		},
	}, nil)
	tr := &stubTransitioner{}
	m := NewManager(zap.NewNop(), checker, testConfig())

	m.Start("inv-1", time.Now(), tr)

	waitFor(t, func() bool { return checker.callCount() >= 3 }, "poll not running")
	assert.Empty(t, tr.confirmedIDs())
	require.True(t, m.IsMonitoring("inv-1"))

	m.Stop("inv-1")
}
