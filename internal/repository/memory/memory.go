package memory

import (
	"context"
	"sync"
	"time"

	"github.com/withrein/store-app/internal/domain"
	"github.com/withrein/store-app/internal/repository"
)

// MemoryRepository реализует InvoiceRepository используя in-memory map.
// Единственный источник истины для демо-процесса; состояние живёт до
// завершения процесса.
type MemoryRepository struct {
	mu       sync.RWMutex
	invoices map[string]domain.Invoice // ключ = invoiceID
	order    []string                  // порядок создания для List
}

// NewMemoryRepository создаёт пустой in-memory репозиторий
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		invoices: make(map[string]domain.Invoice),
	}
}

// Save сохраняет новый инвойс
func (r *MemoryRepository) Save(ctx context.Context, inv domain.Invoice) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.invoices[inv.InvoiceID]; exists {
		return repository.ErrAlreadyExists
	}

	r.invoices[inv.InvoiceID] = inv
	r.order = append(r.order, inv.InvoiceID)
	return nil
}

// Get возвращает инвойс по id
func (r *MemoryRepository) Get(ctx context.Context, invoiceID string) (domain.Invoice, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inv, exists := r.invoices[invoiceID]
	if !exists {
		return domain.Invoice{}, repository.ErrNotFound
	}

	return inv, nil
}

// List возвращает все инвойсы в порядке создания
func (r *MemoryRepository) List(ctx context.Context) ([]domain.Invoice, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Invoice, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.invoices[id])
	}
	return out, nil
}

// UpdateStatus выполняет guarded переход pending -> paid/cancelled.
// Compare-and-set под мьютексом: гонка между polling-ом, таймаутом и webhook-ом
// разрешается здесь — выигрывает первый, остальные получают (false, nil).
func (r *MemoryRepository) UpdateStatus(ctx context.Context, invoiceID string, status domain.Status, payment *domain.PaymentInfo, cancel *domain.CancelInfo) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inv, exists := r.invoices[invoiceID]
	if !exists {
		return false, repository.ErrNotFound
	}

	if inv.Status.Terminal() {
		return false, nil
	}

	inv.Status = status
	inv.UpdatedAt = time.Now()
	if payment != nil {
		p := *payment
		inv.Payment = &p
	}
	if cancel != nil {
		c := *cancel
		inv.Cancel = &c
	}

	r.invoices[invoiceID] = inv
	return true, nil
}
