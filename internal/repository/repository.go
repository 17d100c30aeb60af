package repository

import (
	"context"
	"errors"

	"github.com/withrein/store-app/internal/domain"
)

// InvoiceRepository определяет интерфейс хранилища инвойсов.
// Service слой зависит от интерфейса, а не от конкретной реализации.
type InvoiceRepository interface {
	// Save сохраняет новый инвойс. Возвращает ErrAlreadyExists при повторном invoice_id.
	Save(ctx context.Context, inv domain.Invoice) error

	// Get возвращает инвойс по id или ErrNotFound
	Get(ctx context.Context, invoiceID string) (domain.Invoice, error)

	// List возвращает все инвойсы в порядке создания
	List(ctx context.Context) ([]domain.Invoice, error)

	// UpdateStatus переводит инвойс из pending в указанный конечный статус.
	// Возвращает (false, nil) без мутации, если инвойс уже в конечном статусе —
	// защита от поздних и дублирующихся обновлений обеспечивается здесь,
	// а не дисциплиной вызывающих.
	UpdateStatus(ctx context.Context, invoiceID string, status domain.Status, payment *domain.PaymentInfo, cancel *domain.CancelInfo) (bool, error)
}

// ErrNotFound возвращается, когда инвойс не найден в хранилище
var ErrNotFound = errors.New("invoice not found")

// ErrAlreadyExists возвращается при попытке сохранить инвойс с занятым id
var ErrAlreadyExists = errors.New("invoice already exists")
