package store

import (
	"context"
	"errors"
	"fmt"

	"htxsale/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("invalid quantity or amount")
	ErrUnknownHtx        = errors.New("unknown htx")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrConflict          = errors.New("id conflict")
)

// InsufficientStockError reports which good ran out. It unwraps to
// ErrInsufficientStock so callers can keep matching with errors.Is.
type InsufficientStockError struct {
	Good domain.Good
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient %s stock", e.Good)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

type Repository interface {
	// Pricing singleton. GetPricing installs the default row on first read.
	GetPricing(ctx context.Context) (domain.Pricing, error)
	SetPricing(ctx context.Context, pricing domain.Pricing) (domain.Pricing, error)

	// Canonical stock counters. SetStock provisions a row when none exists;
	// GetStock returns ErrUnknownHtx for unprovisioned units.
	GetStock(ctx context.Context, htx string) (*domain.HtxStock, error)
	ListStock(ctx context.Context) ([]domain.HtxStock, error)
	SetStock(ctx context.Context, htx string, logoStock int, cardStock int, tshirtStock int) (*domain.HtxStock, error)

	// Driver registry reads. Creation happens inside IssueBill.
	SearchDrivers(ctx context.Context, query domain.DriverQuery) ([]domain.Driver, error)
	GetDriverByID(ctx context.Context, id string) (*domain.Driver, error)

	// IssueBill runs the whole issuance sequence in one transaction:
	// resolve-or-create the driver, reserve stock all-or-nothing, price the
	// goods, allocate a collision-free id, insert the bill. On any failure
	// nothing is persisted.
	IssueBill(ctx context.Context, req domain.BillRequest) (*domain.Bill, error)
	ListBills(ctx context.Context, filter domain.BillFilter) ([]domain.Bill, error)
	GetBillByID(ctx context.Context, id string) (*domain.Bill, error)

	// Legacy projections for pre-cutover readers.
	ListLegacyGoods(ctx context.Context, good domain.Good) ([]domain.LegacyGoodRow, error)
	ListLegacyOrders(ctx context.Context) ([]domain.LegacyOrder, error)
	GetLegacyOrder(ctx context.Context, id string) (*domain.LegacyOrder, error)

	// Sale-user accounts.
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUser(ctx context.Context, user domain.UserAccount) error
	DeleteUser(ctx context.Context, username string) error
	FindUserByQRToken(ctx context.Context, token string) (*domain.UserAccount, error)
}
