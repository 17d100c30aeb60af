package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	platformobservability "github.com/withrein/store-app/platform/observability"

	"github.com/withrein/store-app/internal/gateway"
	"github.com/withrein/store-app/internal/repository"
	"github.com/withrein/store-app/internal/service"
	"github.com/withrein/store-app/internal/webhook"
)

// signatureHeader - заголовок HMAC-подписи webhook-а от QPay
const signatureHeader = "x-qpay-signature"

// Handler содержит HTTP-обработчики платёжного API.
// Зависит от service слоя и webhook-конвейера, но не знает о деталях
// реализации (шлюз, хранилище, мониторы).
type Handler struct {
	logger    *zap.Logger
	svc       *service.InvoiceService
	processor *webhook.Processor
}

// NewHandler создаёт новый HTTP handler
func NewHandler(logger *zap.Logger, svc *service.InvoiceService, processor *webhook.Processor) *Handler {
	return &Handler{
		logger:    logger,
		svc:       svc,
		processor: processor,
	}
}

// CreateInvoiceRequest представляет HTTP запрос на создание инвойса.
// customerCode в camelCase - так его шлёт клиент платёжной страницы.
type CreateInvoiceRequest struct {
	Amount       *int64 `json:"amount"`
	Description  string `json:"description"`
	CustomerCode string `json:"customerCode"`
}

// log возвращает request-scoped logger с trace_id, если его положил
// observability middleware
func (h *Handler) log(r *http.Request) *zap.Logger {
	if l := platformobservability.LoggerFromContext(r.Context()); l != nil {
		return l
	}
	return h.logger
}

type errorResponse struct {
	Success bool            `json:"success"`
	Error   string          `json:"error"`
	Details json.RawMessage `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, status int, msg string, details json.RawMessage) {
	respondJSON(w, status, errorResponse{Success: false, Error: msg, Details: details})
}

// writeServiceError отображает ошибки нижних слоёв на HTTP статусы
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var vErr *service.ValidationError
	if errors.As(err, &vErr) {
		respondError(w, http.StatusBadRequest, vErr.Error(), nil)
		return
	}
	if errors.Is(err, repository.ErrNotFound) {
		respondError(w, http.StatusNotFound, "invoice not found", nil)
		return
	}

	var gwErr *gateway.GatewayError
	if errors.As(err, &gwErr) {
		h.log(r).Error("gateway request rejected", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "payment gateway error", gwErr.Payload)
		return
	}
	var authErr *gateway.AuthError
	if errors.As(err, &authErr) {
		h.log(r).Error("gateway authentication failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "payment gateway authentication failed", nil)
		return
	}

	h.log(r).Error("request failed", zap.Error(err))
	respondError(w, http.StatusInternalServerError, "internal error", nil)
}

// CreateInvoice обрабатывает POST /api/create-invoice
func (h *Handler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body", nil)
		return
	}
	if req.Description == "" || req.Amount == nil || req.CustomerCode == "" {
		respondError(w, http.StatusBadRequest, "Missing required fields: description, amount, customerCode", nil)
		return
	}

	resp, err := h.svc.CreateInvoice(ctx, service.CreateInvoiceRequest{
		Amount:       *req.Amount,
		Description:  req.Description,
		CustomerCode: req.CustomerCode,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	// QR-файл на диске не генерируется, qr_image_url остаётся null -
	// клиенты платёжной страницы рендерят qr_data_url
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":      true,
		"invoice_id":   resp.Invoice.InvoiceID,
		"amount":       resp.Invoice.Amount,
		"qr_text":      resp.QRText,
		"qr_image":     resp.QRImage,
		"qr_image_url": nil,
		"qr_data_url":  resp.QRDataURL,
		"bank_urls":    resp.BankURLs,
	})
}

// GetInvoice обрабатывает GET /api/invoice/{invoiceId}
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request, invoiceID string) {
	view, err := h.svc.GetInvoiceView(r.Context(), invoiceID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"invoice": view,
	})
}

// ListInvoices обрабатывает GET /api/invoices
func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	views, err := h.svc.ListInvoices(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"count":    len(views),
		"invoices": views,
	})
}

// PaymentStatus обрабатывает GET /api/payment-status/{invoiceId}:
// проверка статуса платежа по требованию клиента
func (h *Handler) PaymentStatus(w http.ResponseWriter, r *http.Request, invoiceID string) {
	result, err := h.svc.CheckPayment(r.Context(), invoiceID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"count":       result.Count,
		"paid_amount": result.PaidAmount,
		"rows":        result.Rows,
	})
}

// CheckPayment обрабатывает POST /qpay/check - ручная проверка платежа
// в формате самого шлюза ({"object_id": "..."})
func (h *Handler) CheckPayment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ObjectID string `json:"object_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body", nil)
		return
	}
	if req.ObjectID == "" {
		respondError(w, http.StatusBadRequest, "object_id is required", nil)
		return
	}

	result, err := h.svc.CheckPayment(r.Context(), req.ObjectID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"count":       result.Count,
		"paid_amount": result.PaidAmount,
		"rows":        result.Rows,
	})
}

// Callback обрабатывает POST /qpay/callback - webhook от платёжного шлюза.
// Тело читается сырым: подпись и ключ идемпотентности считаются от байтов,
// а не от перекодированного JSON.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	rawBody, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read body", nil)
		return
	}

	result, err := h.processor.Process(r.Context(), rawBody, r.Header.Get(signatureHeader))
	if err != nil {
		var vErr *webhook.ValidationError
		if errors.As(err, &vErr) {
			respondError(w, http.StatusBadRequest, vErr.Error(), nil)
			return
		}
		if errors.Is(err, webhook.ErrInvalidSignature) {
			respondError(w, http.StatusUnauthorized, "invalid signature", nil)
			return
		}
		h.log(r).Error("webhook processing failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error", nil)
		return
	}

	status := "success"
	if result.Duplicate {
		status = "duplicate"
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":         status,
		"webhook_id":     result.WebhookID,
		"payment_status": result.Status,
		"applied":        result.Applied,
	})
}

// LegacyWebhook обрабатывает deprecated POST /webhook/qpay
func (h *Handler) LegacyWebhook(w http.ResponseWriter, r *http.Request) {
	h.log(r).Warn("deprecated webhook endpoint used, forward clients to /qpay/callback")
	h.Callback(w, r)
}
