package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"htxsale/backend/internal/domain"
	"htxsale/backend/internal/store"
	"htxsale/backend/internal/xid"
)

const billIDAttempts = 3

type Store struct {
	mu              sync.RWMutex
	pricing         *domain.Pricing
	stocks          map[string]*domain.HtxStock
	driversByID     map[string]domain.Driver
	driversByKey    map[string]string
	billsByID       map[string]domain.Bill
	billOrder       []string
	usersByUsername map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory accounts for dev/demo mode.
// Passwords come from SEED_ADMIN_PASSWORD and SEED_SALE_PASSWORD; dev
// defaults are used (with a warning) when unset.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	salePwd := envOr("SEED_SALE_PASSWORD", "sale123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_SALE_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_SALE_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
		display  string
		qrToken  string
	}{
		{"admin", adminPwd, domain.RoleAdmin, "Quản trị", "admin-qr-token"},
		{"sale001", salePwd, domain.RoleSale, "Sale 001", "sale001-qr-token"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:    u.username,
			Password:    string(hash),
			DisplayName: u.display,
			Role:        u.role,
			QRToken:     u.qrToken,
			Active:      true,
			CreatedAt:   now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func New() *Store {
	return &Store{
		stocks:          make(map[string]*domain.HtxStock),
		driversByID:     make(map[string]domain.Driver),
		driversByKey:    make(map[string]string),
		billsByID:       make(map[string]domain.Bill),
		billOrder:       make([]string, 0, 128),
		usersByUsername: seedUsers(),
	}
}

// NewSeeded provisions stock rows for the given HTX units so dev/demo mode
// can issue bills without an admin replenishment step first.
func NewSeeded(htxList []string) *Store {
	s := New()
	now := time.Now().UTC()
	for _, htx := range htxList {
		s.stocks[htx] = &domain.HtxStock{
			Htx:         htx,
			LogoStock:   100,
			CardStock:   100,
			TshirtStock: 100,
			UpdatedAt:   now,
		}
	}
	return s
}

func (s *Store) GetPricing(_ context.Context) (domain.Pricing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pricing == nil {
		defaults := domain.DefaultPricing()
		s.pricing = &defaults
	}
	return *s.pricing, nil
}

func (s *Store) SetPricing(_ context.Context, pricing domain.Pricing) (domain.Pricing, error) {
	if pricing.LogoPrice < 0 || pricing.CardPrice < 0 || pricing.TshirtPrice < 0 {
		return domain.Pricing{}, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pricing = &pricing
	return pricing, nil
}

func (s *Store) GetStock(_ context.Context, htx string) (*domain.HtxStock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.stocks[htx]
	if !ok {
		return nil, store.ErrUnknownHtx
	}
	copyRow := *row
	return &copyRow, nil
}

func (s *Store) ListStock(_ context.Context) ([]domain.HtxStock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stocks := make([]domain.HtxStock, 0, len(s.stocks))
	for _, row := range s.stocks {
		stocks = append(stocks, *row)
	}
	slices.SortFunc(stocks, func(a, b domain.HtxStock) int {
		return strings.Compare(a.Htx, b.Htx)
	})
	return stocks, nil
}

func (s *Store) SetStock(_ context.Context, htx string, logoStock int, cardStock int, tshirtStock int) (*domain.HtxStock, error) {
	htx = strings.TrimSpace(htx)
	if htx == "" || logoStock < 0 || cardStock < 0 || tshirtStock < 0 {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	row := &domain.HtxStock{
		Htx:         htx,
		LogoStock:   logoStock,
		CardStock:   cardStock,
		TshirtStock: tshirtStock,
		UpdatedAt:   time.Now().UTC(),
	}
	s.stocks[htx] = row
	copyRow := *row
	return &copyRow, nil
}

func driverKey(name, plate, phone string) string {
	return name + "\x00" + plate + "\x00" + phone
}

func (s *Store) SearchDrivers(_ context.Context, query domain.DriverQuery) ([]domain.Driver, error) {
	name := strings.ToLower(strings.TrimSpace(query.Name))
	plate := strings.ToLower(strings.TrimSpace(query.LicensePlate))
	phone := strings.TrimSpace(query.Phone)

	s.mu.RLock()
	defer s.mu.RUnlock()

	drivers := make([]domain.Driver, 0, 16)
	for _, d := range s.driversByID {
		if name != "" && !strings.Contains(strings.ToLower(d.Name), name) {
			continue
		}
		if plate != "" && !strings.Contains(strings.ToLower(d.LicensePlate), plate) {
			continue
		}
		if phone != "" && !strings.Contains(d.Phone, phone) {
			continue
		}
		drivers = append(drivers, d)
	}
	slices.SortFunc(drivers, func(a, b domain.Driver) int {
		return strings.Compare(a.Name, b.Name)
	})
	if len(drivers) > 50 {
		drivers = drivers[:50]
	}
	return drivers, nil
}

func (s *Store) GetDriverByID(_ context.Context, id string) (*domain.Driver, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.driversByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copyDriver := d
	return &copyDriver, nil
}

func (s *Store) IssueBill(_ context.Context, req domain.BillRequest) (*domain.Bill, error) {
	req.Htx = strings.TrimSpace(req.Htx)
	if req.Htx == "" {
		return nil, store.ErrValidation
	}
	if req.LogoQty < 0 || req.CardQty < 0 || req.TshirtQty < 0 {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stock, ok := s.stocks[req.Htx]
	if !ok {
		return nil, store.ErrUnknownHtx
	}
	if req.LogoQty > 0 && stock.LogoStock < req.LogoQty {
		return nil, &store.InsufficientStockError{Good: domain.GoodLogo}
	}
	if req.CardQty > 0 && stock.CardStock < req.CardQty {
		return nil, &store.InsufficientStockError{Good: domain.GoodCard}
	}
	if req.TshirtQty > 0 && stock.TshirtStock < req.TshirtQty {
		return nil, &store.InsufficientStockError{Good: domain.GoodTshirt}
	}

	now := time.Now().UTC()

	driverName := orUnknown(req.DriverName)
	driverPlate := orUnknown(req.LicensePlate)
	driverPhone := orUnknown(req.Phone)
	key := driverKey(driverName, driverPlate, driverPhone)

	var driver domain.Driver
	if id, ok := s.driversByKey[key]; ok {
		driver = s.driversByID[id]
	} else {
		driver = domain.Driver{
			ID:           xid.Entity("D", req.Htx, now),
			Name:         driverName,
			LicensePlate: driverPlate,
			Phone:        driverPhone,
			Htx:          req.Htx,
		}
		s.driversByID[driver.ID] = driver
		s.driversByKey[key] = driver.ID
	}

	if s.pricing == nil {
		defaults := domain.DefaultPricing()
		s.pricing = &defaults
	}
	total := int64(req.LogoQty)*s.pricing.LogoPrice +
		int64(req.CardQty)*s.pricing.CardPrice +
		int64(req.TshirtQty)*s.pricing.TshirtPrice

	billID := strings.TrimSpace(req.BillID)
	if billID != "" {
		if _, taken := s.billsByID[billID]; taken {
			billID = ""
		}
	}
	if billID == "" {
		for attempt := 0; attempt < billIDAttempts; attempt++ {
			candidate := xid.Bill(req.Htx, now)
			if _, taken := s.billsByID[candidate]; !taken {
				billID = candidate
				break
			}
		}
		if billID == "" {
			return nil, store.ErrConflict
		}
	}

	// All checks passed; mutate stock and append the bill together.
	stock.LogoStock -= req.LogoQty
	stock.CardStock -= req.CardQty
	stock.TshirtStock -= req.TshirtQty
	stock.UpdatedAt = now

	var saleName string
	if username := strings.TrimSpace(req.SaleUsername); username != "" {
		if user, ok := s.usersByUsername[username]; ok {
			saleName = user.DisplayName
		}
	}

	bill := domain.Bill{
		ID:              billID,
		Htx:             req.Htx,
		DriverID:        driver.ID,
		DriverName:      driver.Name,
		LicensePlate:    driver.LicensePlate,
		Phone:           driver.Phone,
		Details:         strings.TrimSpace(req.Details),
		LogoQty:         req.LogoQty,
		CardQty:         req.CardQty,
		TshirtQty:       req.TshirtQty,
		TotalAmount:     total,
		PaymentMethod:   strings.TrimSpace(req.PaymentMethod),
		DeliveryMethod:  strings.TrimSpace(req.DeliveryMethod),
		DeliveryAddress: strings.TrimSpace(req.DeliveryAddress),
		SaleUsername:    strings.TrimSpace(req.SaleUsername),
		SaleName:        saleName,
		Status:          domain.BillStatusIssued,
		CreatedAt:       now,
	}
	s.billsByID[bill.ID] = bill
	s.billOrder = append(s.billOrder, bill.ID)

	created := bill
	return &created, nil
}

func (s *Store) ListBills(_ context.Context, filter domain.BillFilter) ([]domain.Bill, error) {
	saleUsername := strings.TrimSpace(filter.SaleUsername)

	var from, until time.Time
	if filter.DateFrom != nil {
		from = dayStartUTC(*filter.DateFrom)
	}
	if filter.DateTo != nil {
		until = dayStartUTC(*filter.DateTo).Add(24 * time.Hour)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	bills := make([]domain.Bill, 0, len(s.billOrder))
	// billOrder is append-only, so reverse iteration yields newest first.
	for i := len(s.billOrder) - 1; i >= 0; i-- {
		bill := s.billsByID[s.billOrder[i]]
		if saleUsername != "" && bill.SaleUsername != saleUsername {
			continue
		}
		if filter.DateFrom != nil && bill.CreatedAt.Before(from) {
			continue
		}
		if filter.DateTo != nil && !bill.CreatedAt.Before(until) {
			continue
		}
		bills = append(bills, bill)
	}
	return bills, nil
}

func (s *Store) GetBillByID(_ context.Context, id string) (*domain.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bill, ok := s.billsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copyBill := bill
	return &copyBill, nil
}

func (s *Store) ListLegacyGoods(_ context.Context, good domain.Good) ([]domain.LegacyGoodRow, error) {
	var prefix, label string
	switch good {
	case domain.GoodLogo:
		prefix, label = "L", "Logo HTX"
	case domain.GoodCard:
		prefix, label = "T", "Thẻ tài xế"
	case domain.GoodTshirt:
		prefix, label = "A", "Áo thun"
	default:
		return nil, store.ErrValidation
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := make([]domain.LegacyGoodRow, 0, len(s.stocks))
	for _, stock := range s.stocks {
		qty := stock.LogoStock
		switch good {
		case domain.GoodCard:
			qty = stock.CardStock
		case domain.GoodTshirt:
			qty = stock.TshirtStock
		}
		rows = append(rows, domain.LegacyGoodRow{
			ID:       prefix + "-" + stock.Htx,
			Htx:      stock.Htx,
			Name:     label,
			Quantity: qty,
		})
	}
	slices.SortFunc(rows, func(a, b domain.LegacyGoodRow) int {
		return strings.Compare(a.Htx, b.Htx)
	})
	return rows, nil
}

func (s *Store) ListLegacyOrders(_ context.Context) ([]domain.LegacyOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	orders := make([]domain.LegacyOrder, 0, len(s.billOrder))
	for i := len(s.billOrder) - 1; i >= 0; i-- {
		bill := s.billsByID[s.billOrder[i]]
		orders = append(orders, s.toLegacyOrder(bill))
	}
	return orders, nil
}

func (s *Store) GetLegacyOrder(_ context.Context, id string) (*domain.LegacyOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bill, ok := s.billsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	order := s.toLegacyOrder(bill)
	return &order, nil
}

// toLegacyOrder embeds the live driver record, not the bill's snapshot;
// callers must hold at least a read lock.
func (s *Store) toLegacyOrder(bill domain.Bill) domain.LegacyOrder {
	driver := s.driversByID[bill.DriverID]
	return domain.LegacyOrder{
		ID:        bill.ID,
		Htx:       bill.Htx,
		Details:   bill.Details,
		CreatedAt: bill.CreatedAt,
		Driver:    driver,
	}
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByUsername[user.Username]; exists {
		return store.ErrConflict
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUser(_ context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" {
		return store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.usersByUsername[user.Username]
	if !exists {
		return store.ErrNotFound
	}
	user.CreatedAt = existing.CreatedAt
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) DeleteUser(_ context.Context, username string) error {
	username = strings.ToLower(strings.TrimSpace(username))

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByUsername[username]; !exists {
		return store.ErrNotFound
	}
	delete(s.usersByUsername, username)
	return nil
}

func (s *Store) FindUserByQRToken(_ context.Context, token string) (*domain.UserAccount, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, store.ErrNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, user := range s.usersByUsername {
		if user.QRToken != "" && user.QRToken == token {
			copyUser := user
			return &copyUser, nil
		}
	}
	return nil, store.ErrNotFound
}

func orUnknown(val string) string {
	val = strings.TrimSpace(val)
	if val == "" {
		return domain.UnknownDriverField
	}
	return val
}

func dayStartUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
