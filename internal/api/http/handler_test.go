package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/withrein/store-app/internal/gateway"
	"github.com/withrein/store-app/internal/monitor"
	"github.com/withrein/store-app/internal/repository/memory"
	"github.com/withrein/store-app/internal/service"
	"github.com/withrein/store-app/internal/webhook"
)

type noopPublisher struct{}

func (noopPublisher) PublishInvoiceEvent(ctx context.Context, event service.InvoiceEvent) error {
	return nil
}

type testEnv struct {
	server *httptest.Server
	fake   *gateway.FakeClient
	mon    *monitor.Manager
	svc    *service.InvoiceService
}

// newTestEnv собирает полный стек поверх fake-шлюза и in-memory хранилищ
func newTestEnv(t *testing.T, monCfg monitor.Config, secret string) *testEnv {
	t.Helper()
	logger := zap.NewNop()

	repo := memory.NewMemoryRepository()
	fake := gateway.NewFakeClient(logger)
	mon := monitor.NewManager(logger, fake, monCfg)
	svc := service.NewInvoiceService(logger, repo, fake, mon, noopPublisher{}, monCfg.Timeout)

	processor := webhook.NewProcessor(logger, webhook.NewMemoryStore(), svc, fake, webhook.Config{
		Secret:   secret,
		DedupTTL: time.Hour,
	})

	handler := NewHandler(logger, svc, processor)
	router := NewRouter(handler, func() bool { return true }, logger)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		mon.StopAll(ctx)
	})

	return &testEnv{server: server, fake: fake, mon: mon, svc: svc}
}

func (e *testEnv) post(t *testing.T, path, body string, headers map[string]string) (*http.Response, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, e.server.URL+path, bytes.NewBufferString(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func (e *testEnv) get(t *testing.T, path string) (*http.Response, map[string]interface{}) {
	t.Helper()
	resp, err := http.Get(e.server.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func (e *testEnv) createInvoice(t *testing.T, amount int64) string {
	t.Helper()
	resp, body := e.post(t, "/api/create-invoice",
		fmt.Sprintf(`{"description":"Test Payment","amount":%d,"customerCode":"terminal"}`, amount), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	id := body["invoice_id"].(string)
	require.NotEmpty(t, id)
	return id
}

func TestAPI_CreateInvoiceResponseShape(t *testing.T) {
	env := newTestEnv(t, monitor.Config{PollInterval: time.Hour, Timeout: time.Minute}, "")

	resp, body := env.post(t, "/api/create-invoice",
		`{"description":"Test Payment","amount":1000,"customerCode":"terminal"}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Плоский ответ платёжной страницы: QR и ссылки на верхнем уровне
	assert.Equal(t, true, body["success"])
	assert.NotEmpty(t, body["invoice_id"])
	assert.Equal(t, float64(1000), body["amount"])
	assert.NotEmpty(t, body["qr_text"])
	assert.NotEmpty(t, body["qr_data_url"])
	require.Contains(t, body, "qr_image_url")
	assert.Nil(t, body["qr_image_url"])
	assert.NotEmpty(t, body["bank_urls"])
}

func TestAPI_CreateThenWebhookPaid(t *testing.T) {
	env := newTestEnv(t, monitor.Config{PollInterval: time.Hour, Timeout: time.Minute}, "")

	id := env.createInvoice(t, 1000)

	// Сразу после создания: pending, окно почти целиком впереди, монитор активен
	resp, body := env.get(t, "/api/invoice/"+id)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	invoice := body["invoice"].(map[string]interface{})
	assert.Equal(t, "pending", invoice["status"])
	assert.InDelta(t, 60000, invoice["time_remaining_ms"].(float64), 2000)
	assert.Equal(t, true, invoice["is_monitoring"])

	webhookBody := fmt.Sprintf(`{"object_id":%q,"payment_status":"PAID","payment_amount":1000,"transaction_id":"tx-1","timestamp":1700000000000}`, id)
	resp, body = env.post(t, "/qpay/callback", webhookBody, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, true, body["applied"])

	resp, body = env.get(t, "/api/invoice/"+id)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	invoice = body["invoice"].(map[string]interface{})
	assert.Equal(t, "paid", invoice["status"])
	assert.Equal(t, false, invoice["is_monitoring"])
	require.NotNil(t, invoice["payment"])
	payment := invoice["payment"].(map[string]interface{})
	assert.Equal(t, float64(1000), payment["amount"])
}

func TestAPI_DuplicateWebhook(t *testing.T) {
	env := newTestEnv(t, monitor.Config{PollInterval: time.Hour, Timeout: time.Minute}, "")
	id := env.createInvoice(t, 1000)

	webhookBody := fmt.Sprintf(`{"object_id":%q,"payment_status":"PAID","payment_amount":1000,"timestamp":1700000000000}`, id)

	resp, body := env.post(t, "/qpay/callback", webhookBody, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "success", body["status"])

	resp, body = env.post(t, "/qpay/callback", webhookBody, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "duplicate", body["status"])
}

func TestAPI_InvoiceExpires(t *testing.T) {
	env := newTestEnv(t, monitor.Config{PollInterval: 10 * time.Millisecond, Timeout: 50 * time.Millisecond}, "")
	id := env.createInvoice(t, 1000)

	require.Eventually(t, func() bool {
		_, body := env.get(t, "/api/invoice/"+id)
		invoice := body["invoice"].(map[string]interface{})
		return invoice["status"] == "cancelled"
	}, 2*time.Second, 10*time.Millisecond)

	_, body := env.get(t, "/api/invoice/"+id)
	invoice := body["invoice"].(map[string]interface{})
	cancel := invoice["cancel"].(map[string]interface{})
	assert.Equal(t, "payment timeout", cancel["reason"])
	assert.Equal(t, false, invoice["is_monitoring"])
	assert.True(t, env.fake.Cancelled(id))
}

func TestAPI_PollingConfirmsPayment(t *testing.T) {
	env := newTestEnv(t, monitor.Config{PollInterval: 10 * time.Millisecond, Timeout: time.Minute}, "")
	id := env.createInvoice(t, 1000)

	env.fake.RecordPayment(context.Background(), gateway.PaymentRow{
		ObjectID:      id,
		PaymentAmount: 1000,
		TransactionID: "tx-poll",
	})

	require.Eventually(t, func() bool {
		_, body := env.get(t, "/api/invoice/"+id)
		invoice := body["invoice"].(map[string]interface{})
		return invoice["status"] == "paid"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAPI_GetUnknownInvoice(t *testing.T) {
	env := newTestEnv(t, monitor.Config{PollInterval: time.Hour, Timeout: time.Minute}, "")

	resp, body := env.get(t, "/api/invoice/missing")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, false, body["success"])
}

func TestAPI_CreateInvoiceValidation(t *testing.T) {
	env := newTestEnv(t, monitor.Config{PollInterval: time.Hour, Timeout: time.Minute}, "")

	missing := []string{
		`{}`,
		`{"amount":1000,"customerCode":"terminal"}`,
		`{"description":"Test Payment","customerCode":"terminal"}`,
		`{"description":"Test Payment","amount":1000}`,
	}
	for _, payload := range missing {
		resp, body := env.post(t, "/api/create-invoice", payload, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "Missing required fields: description, amount, customerCode", body["error"])
	}

	resp, _ := env.post(t, "/api/create-invoice",
		`{"description":"Test Payment","amount":-5,"customerCode":"terminal"}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_CheckRequiresObjectID(t *testing.T) {
	env := newTestEnv(t, monitor.Config{PollInterval: time.Hour, Timeout: time.Minute}, "")

	resp, body := env.post(t, "/qpay/check", `{}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, false, body["success"])
}

func TestAPI_WebhookSignatureRejected(t *testing.T) {
	env := newTestEnv(t, monitor.Config{PollInterval: time.Hour, Timeout: time.Minute}, "shared-secret")
	id := env.createInvoice(t, 1000)

	webhookBody := fmt.Sprintf(`{"object_id":%q,"payment_status":"PAID","payment_amount":1000,"timestamp":1700000000000}`, id)
	resp, _ := env.post(t, "/qpay/callback", webhookBody, map[string]string{
		"x-qpay-signature": "sha256=deadbeef",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAPI_WebhookValidation(t *testing.T) {
	env := newTestEnv(t, monitor.Config{PollInterval: time.Hour, Timeout: time.Minute}, "")

	resp, body := env.post(t, "/qpay/callback", `{"payment_status":"PAID"}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, false, body["success"])
}

func TestAPI_LegacyWebhookForwards(t *testing.T) {
	env := newTestEnv(t, monitor.Config{PollInterval: time.Hour, Timeout: time.Minute}, "")
	id := env.createInvoice(t, 1000)

	webhookBody := fmt.Sprintf(`{"object_id":%q,"payment_status":"PAID","payment_amount":1000,"timestamp":1700000000000}`, id)
	resp, body := env.post(t, "/webhook/qpay", webhookBody, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "success", body["status"])
}

func TestAPI_ListInvoices(t *testing.T) {
	env := newTestEnv(t, monitor.Config{PollInterval: time.Hour, Timeout: time.Minute}, "")

	env.createInvoice(t, 1000)
	env.createInvoice(t, 2000)

	resp, body := env.get(t, "/api/invoices")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), body["count"])
	assert.Len(t, body["invoices"].([]interface{}), 2)
}

func TestAPI_Health(t *testing.T) {
	env := newTestEnv(t, monitor.Config{PollInterval: time.Hour, Timeout: time.Minute}, "")

	resp, body := env.get(t, "/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}
