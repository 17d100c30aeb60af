package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// tokenSafetyMargin вычитается из expires_in, чтобы не использовать
// токен на грани истечения.
const tokenSafetyMargin = 5 * time.Minute

// Token представляет закэшированный access token шлюза
type Token struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Valid возвращает true, пока токен можно переиспользовать
func (t Token) Valid() bool {
	return t.AccessToken != "" && time.Now().Before(t.ExpiresAt)
}

// QPayConfig содержит параметры подключения к QPay merchant API
type QPayConfig struct {
	BaseURL     string
	Username    string
	Password    string
	InvoiceCode string // шаблон инвойса мерчанта (QPAY_TEMPLATE)
	CallbackURL string
}

// QPayClient реализует Client поверх QPay merchant API v2.
// Токен кэшируется на весь процесс; mutex защищает от параллельного
// refresh-а из нескольких горутин (refresh storm).
type QPayClient struct {
	logger *zap.Logger
	cfg    QPayConfig
	client *http.Client

	mu    sync.Mutex
	token Token
}

// NewQPayClient создаёт клиент QPay
func NewQPayClient(logger *zap.Logger, cfg QPayConfig) *QPayClient {
	return &QPayClient{
		logger: logger,
		cfg:    cfg,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type authResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Authenticate получает новый access token через POST /auth/token (basic auth).
// Обычно вызывать не нужно: ensureToken делает это лениво.
func (c *QPayClient) Authenticate(ctx context.Context) (Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/auth/token", nil)
	if err != nil {
		return Token{}, &AuthError{Err: err}
	}
	req.SetBasicAuth(c.cfg.Username, c.cfg.Password)

	resp, err := c.client.Do(req)
	if err != nil {
		return Token{}, &AuthError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return Token{}, &AuthError{Err: fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(body))}
	}

	var ar authResponse
	if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
		return Token{}, &AuthError{Err: fmt.Errorf("decode auth response: %w", err)}
	}
	if ar.AccessToken == "" {
		return Token{}, &AuthError{Err: fmt.Errorf("empty access_token in auth response")}
	}

	token := Token{
		AccessToken:  ar.AccessToken,
		RefreshToken: ar.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(ar.ExpiresIn)*time.Second - tokenSafetyMargin),
	}

	c.logger.Info("qpay token acquired",
		zap.Time("expires_at", token.ExpiresAt),
	)

	return token, nil
}

// ensureToken возвращает валидный токен, при необходимости аутентифицируясь заново.
// Проверка и обновление под одним мьютексом — одновременные вызывающие
// не устраивают шторм параллельных аутентификаций.
func (c *QPayClient) ensureToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token.Valid() {
		return c.token.AccessToken, nil
	}

	token, err := c.Authenticate(ctx)
	if err != nil {
		return "", err
	}

	c.token = token
	return token.AccessToken, nil
}

// CreateInvoice создаёт инвойс через POST /invoice
func (c *QPayClient) CreateInvoice(ctx context.Context, in CreateInvoiceInput) (CreateInvoiceResult, error) {
	receiverCode := in.CustomerCode
	if receiverCode == "" {
		receiverCode = "terminal"
	}

	payload := map[string]interface{}{
		"invoice_code":          c.cfg.InvoiceCode,
		"sender_invoice_no":     "INV_" + in.OrderID,
		"invoice_receiver_code": receiverCode,
		"invoice_description":   in.Description,
		"amount":                in.Amount,
		"callback_url":          c.cfg.CallbackURL,
	}

	var result CreateInvoiceResult
	if err := c.doJSON(ctx, http.MethodPost, "/invoice", payload, &result, "createInvoice"); err != nil {
		return CreateInvoiceResult{}, err
	}

	c.logger.Info("qpay invoice created",
		zap.String("invoice_id", result.InvoiceID),
		zap.String("order_id", in.OrderID),
		zap.Int64("amount", in.Amount),
	)

	return result, nil
}

// CancelInvoice отменяет инвойс через DELETE /invoice/{id}
func (c *QPayClient) CancelInvoice(ctx context.Context, invoiceID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/invoice/"+invoiceID, nil, nil, "cancelInvoice")
}

// GatewayInvoice - ответ GET /invoice/{id}
type GatewayInvoice struct {
	InvoiceID          string `json:"invoice_id"`
	InvoiceStatus      string `json:"invoice_status"`
	SenderInvoiceNo    string `json:"sender_invoice_no"`
	InvoiceDescription string `json:"invoice_description"`
	TotalAmount        int64  `json:"total_amount"`
}

// GetInvoice возвращает состояние инвойса на стороне шлюза через GET /invoice/{id}
func (c *QPayClient) GetInvoice(ctx context.Context, invoiceID string) (GatewayInvoice, error) {
	var result GatewayInvoice
	if err := c.doJSON(ctx, http.MethodGet, "/invoice/"+invoiceID, nil, &result, "getInvoice"); err != nil {
		return GatewayInvoice{}, err
	}
	return result, nil
}

// ListPayments возвращает страницу платежей инвойса через POST /payment/list
func (c *QPayClient) ListPayments(ctx context.Context, invoiceID string, pageNumber, pageLimit int) (CheckPaymentResult, error) {
	payload := map[string]interface{}{
		"object_type": "INVOICE",
		"object_id":   invoiceID,
		"offset": map[string]int{
			"page_number": pageNumber,
			"page_limit":  pageLimit,
		},
	}

	var result CheckPaymentResult
	if err := c.doJSON(ctx, http.MethodPost, "/payment/list", payload, &result, "listPayments"); err != nil {
		return CheckPaymentResult{}, err
	}
	return result, nil
}

// CheckPayment проверяет платёж через POST /payment/check
func (c *QPayClient) CheckPayment(ctx context.Context, invoiceID string) (CheckPaymentResult, error) {
	payload := map[string]interface{}{
		"object_type": "INVOICE",
		"object_id":   invoiceID,
		"offset": map[string]int{
			"page_number": 1,
			"page_limit":  100,
		},
	}

	var result CheckPaymentResult
	if err := c.doJSON(ctx, http.MethodPost, "/payment/check", payload, &result, "checkPayment"); err != nil {
		return CheckPaymentResult{}, err
	}
	return result, nil
}

// doJSON выполняет bearer-авторизованный запрос к шлюзу и декодирует JSON-ответ.
// Не-2xx ответ превращается в GatewayError с телом ответа провайдера.
func (c *QPayClient) doJSON(ctx context.Context, method, path string, payload interface{}, out interface{}, op string) error {
	token, err := c.ensureToken(ctx)
	if err != nil {
		return err
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("qpay %s: marshal payload: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("qpay %s: create request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("qpay %s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(resp.Body)
		return &GatewayError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Payload:    json.RawMessage(respBody),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("qpay %s: decode response: %w", op, err)
	}
	return nil
}
