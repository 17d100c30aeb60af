package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	platformhealth "github.com/withrein/store-app/platform/health/http"
	platformobservability "github.com/withrein/store-app/platform/observability"
)

// NewRouter создаёт и настраивает HTTP роутер платёжного API.
// readiness - функция проверки готовности сервиса; при false health endpoint
// возвращает 503. logger используется для observability middleware.
func NewRouter(handler *Handler, readiness func() bool, logger *zap.Logger) chi.Router {
	router := chi.NewRouter()

	if logger != nil {
		router.Use(platformobservability.HTTPMiddleware("store-app", logger))
	}

	router.Route("/api", func(r chi.Router) {
		r.Post("/create-invoice", handler.CreateInvoice)
		r.Get("/invoices", handler.ListInvoices)
		r.Get("/invoice/{invoiceId}", func(w http.ResponseWriter, r *http.Request) {
			handler.GetInvoice(w, r, chi.URLParam(r, "invoiceId"))
		})
		r.Get("/payment-status/{invoiceId}", func(w http.ResponseWriter, r *http.Request) {
			handler.PaymentStatus(w, r, chi.URLParam(r, "invoiceId"))
		})
	})

	router.Post("/qpay/callback", handler.Callback)
	router.Post("/qpay/check", handler.CheckPayment)

	// Старый путь оставлен для уже настроенных у шлюза callback-ов
	router.Post("/webhook/qpay", handler.LegacyWebhook)

	router.Get("/health", platformhealth.Handler(readiness))

	return router
}
