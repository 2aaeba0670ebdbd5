package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"htxsale/backend/internal/domain"
	"htxsale/backend/internal/store"
	"htxsale/backend/internal/xid"
)

// billIDAttempts bounds id regeneration inside the issue transaction.
// The random suffix makes a second consecutive collision vanishingly
// unlikely; after three the request fails with ErrConflict.
const billIDAttempts = 3

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) GetPricing(ctx context.Context) (domain.Pricing, error) {
	pricing, err := s.readPricing(ctx, s.db)
	if err == nil {
		return pricing, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.Pricing{}, err
	}

	// First reference: install defaults. ON CONFLICT absorbs a concurrent
	// initializer, after which the re-read sees whichever row won.
	defaults := domain.DefaultPricing()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pricing (id, logo_price, card_price, tshirt_price, updated_at)
		VALUES (1, $1, $2, $3, now())
		ON CONFLICT (id) DO NOTHING
	`, defaults.LogoPrice, defaults.CardPrice, defaults.TshirtPrice)
	if err != nil {
		return domain.Pricing{}, err
	}

	pricing, err = s.readPricing(ctx, s.db)
	if err != nil {
		return domain.Pricing{}, err
	}
	return pricing, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) readPricing(ctx context.Context, q queryRower) (domain.Pricing, error) {
	var pricing domain.Pricing
	err := q.QueryRowContext(ctx, `
		SELECT logo_price, card_price, tshirt_price
		FROM pricing
		WHERE id = 1
	`).Scan(&pricing.LogoPrice, &pricing.CardPrice, &pricing.TshirtPrice)
	return pricing, err
}

func (s *Store) SetPricing(ctx context.Context, pricing domain.Pricing) (domain.Pricing, error) {
	if pricing.LogoPrice < 0 || pricing.CardPrice < 0 || pricing.TshirtPrice < 0 {
		return domain.Pricing{}, store.ErrValidation
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pricing (id, logo_price, card_price, tshirt_price, updated_at)
		VALUES (1, $1, $2, $3, now())
		ON CONFLICT (id)
		DO UPDATE SET logo_price = EXCLUDED.logo_price, card_price = EXCLUDED.card_price,
			tshirt_price = EXCLUDED.tshirt_price, updated_at = now()
	`, pricing.LogoPrice, pricing.CardPrice, pricing.TshirtPrice)
	if err != nil {
		return domain.Pricing{}, err
	}
	return pricing, nil
}

func (s *Store) GetStock(ctx context.Context, htx string) (*domain.HtxStock, error) {
	var row domain.HtxStock
	err := s.db.QueryRowContext(ctx, `
		SELECT htx, logo_stock, card_stock, tshirt_stock, updated_at
		FROM htx_stocks
		WHERE htx = $1
	`, htx).Scan(&row.Htx, &row.LogoStock, &row.CardStock, &row.TshirtStock, &row.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrUnknownHtx
		}
		return nil, err
	}
	row.UpdatedAt = row.UpdatedAt.UTC()
	return &row, nil
}

func (s *Store) ListStock(ctx context.Context) ([]domain.HtxStock, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT htx, logo_stock, card_stock, tshirt_stock, updated_at
		FROM htx_stocks
		ORDER BY htx ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stocks := make([]domain.HtxStock, 0, 8)
	for rows.Next() {
		var row domain.HtxStock
		if err := rows.Scan(&row.Htx, &row.LogoStock, &row.CardStock, &row.TshirtStock, &row.UpdatedAt); err != nil {
			return nil, err
		}
		row.UpdatedAt = row.UpdatedAt.UTC()
		stocks = append(stocks, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return stocks, nil
}

func (s *Store) SetStock(ctx context.Context, htx string, logoStock int, cardStock int, tshirtStock int) (*domain.HtxStock, error) {
	htx = strings.TrimSpace(htx)
	if htx == "" || logoStock < 0 || cardStock < 0 || tshirtStock < 0 {
		return nil, store.ErrValidation
	}

	var row domain.HtxStock
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO htx_stocks (htx, logo_stock, card_stock, tshirt_stock, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (htx)
		DO UPDATE SET logo_stock = EXCLUDED.logo_stock, card_stock = EXCLUDED.card_stock,
			tshirt_stock = EXCLUDED.tshirt_stock, updated_at = now()
		RETURNING htx, logo_stock, card_stock, tshirt_stock, updated_at
	`, htx, logoStock, cardStock, tshirtStock).Scan(&row.Htx, &row.LogoStock, &row.CardStock, &row.TshirtStock, &row.UpdatedAt)
	if err != nil {
		return nil, err
	}
	row.UpdatedAt = row.UpdatedAt.UTC()
	return &row, nil
}

func (s *Store) SearchDrivers(ctx context.Context, query domain.DriverQuery) ([]domain.Driver, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, license_plate, phone, htx
		FROM drivers
		WHERE ($1 = '' OR name ILIKE '%' || $1 || '%')
			AND ($2 = '' OR license_plate ILIKE '%' || $2 || '%')
			AND ($3 = '' OR phone LIKE '%' || $3 || '%')
		ORDER BY name ASC
		LIMIT 50
	`, strings.TrimSpace(query.Name), strings.TrimSpace(query.LicensePlate), strings.TrimSpace(query.Phone))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	drivers := make([]domain.Driver, 0, 16)
	for rows.Next() {
		var d domain.Driver
		if err := rows.Scan(&d.ID, &d.Name, &d.LicensePlate, &d.Phone, &d.Htx); err != nil {
			return nil, err
		}
		drivers = append(drivers, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return drivers, nil
}

func (s *Store) GetDriverByID(ctx context.Context, id string) (*domain.Driver, error) {
	var d domain.Driver
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, license_plate, phone, htx
		FROM drivers
		WHERE id = $1
	`, id).Scan(&d.ID, &d.Name, &d.LicensePlate, &d.Phone, &d.Htx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (s *Store) IssueBill(ctx context.Context, req domain.BillRequest) (*domain.Bill, error) {
	req.Htx = strings.TrimSpace(req.Htx)
	if req.Htx == "" {
		return nil, store.ErrValidation
	}
	if req.LogoQty < 0 || req.CardQty < 0 || req.TshirtQty < 0 {
		return nil, store.ErrValidation
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	now := time.Now().UTC()

	if err := s.reserveStockTx(ctx, pgTx, req.Htx, req.LogoQty, req.CardQty, req.TshirtQty); err != nil {
		return nil, err
	}

	driver, err := s.resolveDriverTx(ctx, pgTx, req, now)
	if err != nil {
		return nil, err
	}

	pricing, err := s.pricingTx(ctx, pgTx)
	if err != nil {
		return nil, err
	}
	total := int64(req.LogoQty)*pricing.LogoPrice +
		int64(req.CardQty)*pricing.CardPrice +
		int64(req.TshirtQty)*pricing.TshirtPrice

	billID, err := s.allocateBillIDTx(ctx, pgTx, req.BillID, req.Htx, now)
	if err != nil {
		return nil, err
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
		Status:          domain.BillStatusIssued,
		CreatedAt:       now,
	}
	if bill.SaleUsername != "" {
		var displayName sql.NullString
		err := pgTx.QueryRowContext(ctx, `
			SELECT display_name FROM app_users WHERE username = $1
		`, bill.SaleUsername).Scan(&displayName)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		if displayName.Valid {
			bill.SaleName = displayName.String
		}
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO bills (
			id, htx, driver_id, driver_name, license_plate, phone, details,
			logo_qty, card_qty, tshirt_qty, total_amount,
			payment_method, delivery_method, delivery_address,
			sale_username, sale_name, status, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
	`, bill.ID, bill.Htx, bill.DriverID, bill.DriverName, bill.LicensePlate, bill.Phone,
		nullIfEmpty(bill.Details), bill.LogoQty, bill.CardQty, bill.TshirtQty, bill.TotalAmount,
		nullIfEmpty(bill.PaymentMethod), nullIfEmpty(bill.DeliveryMethod), nullIfEmpty(bill.DeliveryAddress),
		nullIfEmpty(bill.SaleUsername), nullIfEmpty(bill.SaleName), bill.Status, bill.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	return &bill, nil
}

// reserveStockTx locks the HTX row and decrements all requested goods, or
// none of them. The conditional WHERE guard makes the decrement safe even
// without the row lock; keeping both closes the read-check-write race.
func (s *Store) reserveStockTx(ctx context.Context, pgTx *sql.Tx, htx string, logoQty int, cardQty int, tshirtQty int) error {
	var logoStock, cardStock, tshirtStock int
	err := pgTx.QueryRowContext(ctx, `
		SELECT logo_stock, card_stock, tshirt_stock
		FROM htx_stocks
		WHERE htx = $1
		FOR UPDATE
	`, htx).Scan(&logoStock, &cardStock, &tshirtStock)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrUnknownHtx
		}
		return err
	}

	if logoQty > 0 && logoStock < logoQty {
		return &store.InsufficientStockError{Good: domain.GoodLogo}
	}
	if cardQty > 0 && cardStock < cardQty {
		return &store.InsufficientStockError{Good: domain.GoodCard}
	}
	if tshirtQty > 0 && tshirtStock < tshirtQty {
		return &store.InsufficientStockError{Good: domain.GoodTshirt}
	}
	if logoQty == 0 && cardQty == 0 && tshirtQty == 0 {
		return nil
	}

	res, err := pgTx.ExecContext(ctx, `
		UPDATE htx_stocks
		SET logo_stock = logo_stock - $2,
			card_stock = card_stock - $3,
			tshirt_stock = tshirt_stock - $4,
			updated_at = now()
		WHERE htx = $1
			AND logo_stock >= $2 AND card_stock >= $3 AND tshirt_stock >= $4
	`, htx, logoQty, cardQty, tshirtQty)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrInsufficientStock
	}
	return nil
}

// resolveDriverTx finds the driver by the exact (name, plate, phone)
// triple or creates one under the current HTX. Blank fields are stored as
// the N/A sentinel so bills for unnamed drivers still resolve.
func (s *Store) resolveDriverTx(ctx context.Context, pgTx *sql.Tx, req domain.BillRequest, now time.Time) (*domain.Driver, error) {
	driver := domain.Driver{
		Name:         orUnknown(req.DriverName),
		LicensePlate: orUnknown(req.LicensePlate),
		Phone:        orUnknown(req.Phone),
		Htx:          req.Htx,
	}

	err := pgTx.QueryRowContext(ctx, `
		SELECT id, htx
		FROM drivers
		WHERE name = $1 AND license_plate = $2 AND phone = $3
	`, driver.Name, driver.LicensePlate, driver.Phone).Scan(&driver.ID, &driver.Htx)
	if err == nil {
		return &driver, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	driver.ID = xid.Entity("D", req.Htx, now)
	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO drivers (id, name, license_plate, phone, htx, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, driver.ID, driver.Name, driver.LicensePlate, driver.Phone, driver.Htx, now)
	if err != nil {
		return nil, err
	}
	return &driver, nil
}

// pricingTx reads the price list inside the issuing transaction, installing
// defaults on first reference.
func (s *Store) pricingTx(ctx context.Context, pgTx *sql.Tx) (domain.Pricing, error) {
	pricing, err := s.readPricing(ctx, pgTx)
	if err == nil {
		return pricing, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.Pricing{}, err
	}

	defaults := domain.DefaultPricing()
	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO pricing (id, logo_price, card_price, tshirt_price, updated_at)
		VALUES (1, $1, $2, $3, now())
		ON CONFLICT (id) DO NOTHING
	`, defaults.LogoPrice, defaults.CardPrice, defaults.TshirtPrice)
	if err != nil {
		return domain.Pricing{}, err
	}
	return s.readPricing(ctx, pgTx)
}

// allocateBillIDTx returns a bill id free at this point of the transaction.
// A client-supplied id is honoured only when unused; an in-use id gets a
// freshly generated replacement rather than overwriting the prior bill.
func (s *Store) allocateBillIDTx(ctx context.Context, pgTx *sql.Tx, requested string, htx string, now time.Time) (string, error) {
	requested = strings.TrimSpace(requested)
	if requested != "" {
		taken, err := s.billIDTakenTx(ctx, pgTx, requested)
		if err != nil {
			return "", err
		}
		if !taken {
			return requested, nil
		}
	}

	for attempt := 0; attempt < billIDAttempts; attempt++ {
		candidate := xid.Bill(htx, now)
		taken, err := s.billIDTakenTx(ctx, pgTx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", store.ErrConflict
}

func (s *Store) billIDTakenTx(ctx context.Context, pgTx *sql.Tx, id string) (bool, error) {
	var taken bool
	err := pgTx.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM bills WHERE id = $1)
	`, id).Scan(&taken)
	return taken, err
}

func (s *Store) ListBills(ctx context.Context, filter domain.BillFilter) ([]domain.Bill, error) {
	var from, until any
	if filter.DateFrom != nil {
		from = dayStartUTC(*filter.DateFrom)
	}
	if filter.DateTo != nil {
		// DateTo is inclusive of the entire calendar day.
		until = dayStartUTC(*filter.DateTo).Add(24 * time.Hour)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, htx, driver_id, driver_name, license_plate, phone,
			COALESCE(details,''), logo_qty, card_qty, tshirt_qty, total_amount,
			COALESCE(payment_method,''), COALESCE(delivery_method,''), COALESCE(delivery_address,''),
			COALESCE(sale_username,''), COALESCE(sale_name,''), status, created_at
		FROM bills
		WHERE ($1 = '' OR sale_username = $1)
			AND ($2::timestamptz IS NULL OR created_at >= $2)
			AND ($3::timestamptz IS NULL OR created_at < $3)
		ORDER BY created_at DESC, id DESC
	`, strings.TrimSpace(filter.SaleUsername), from, until)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bills := make([]domain.Bill, 0, 64)
	for rows.Next() {
		bill, err := scanBill(rows)
		if err != nil {
			return nil, err
		}
		bills = append(bills, bill)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return bills, nil
}

func (s *Store) GetBillByID(ctx context.Context, id string) (*domain.Bill, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, htx, driver_id, driver_name, license_plate, phone,
			COALESCE(details,''), logo_qty, card_qty, tshirt_qty, total_amount,
			COALESCE(payment_method,''), COALESCE(delivery_method,''), COALESCE(delivery_address,''),
			COALESCE(sale_username,''), COALESCE(sale_name,''), status, created_at
		FROM bills
		WHERE id = $1
	`, id)

	bill, err := scanBill(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &bill, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBill(row rowScanner) (domain.Bill, error) {
	var bill domain.Bill
	err := row.Scan(
		&bill.ID, &bill.Htx, &bill.DriverID, &bill.DriverName, &bill.LicensePlate, &bill.Phone,
		&bill.Details, &bill.LogoQty, &bill.CardQty, &bill.TshirtQty, &bill.TotalAmount,
		&bill.PaymentMethod, &bill.DeliveryMethod, &bill.DeliveryAddress,
		&bill.SaleUsername, &bill.SaleName, &bill.Status, &bill.CreatedAt,
	)
	if err != nil {
		return domain.Bill{}, err
	}
	bill.CreatedAt = bill.CreatedAt.UTC()
	return bill, nil
}

// ListLegacyGoods projects canonical stock counters into the retired
// per-good table shape. Row ids reuse the old per-good prefixes so
// pre-cutover consumers keep matching on them.
func (s *Store) ListLegacyGoods(ctx context.Context, good domain.Good) ([]domain.LegacyGoodRow, error) {
	column, prefix, label, err := legacyGoodShape(good)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT htx, `+column+`
		FROM htx_stocks
		ORDER BY htx ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.LegacyGoodRow, 0, 8)
	for rows.Next() {
		var htx string
		var qty int
		if err := rows.Scan(&htx, &qty); err != nil {
			return nil, err
		}
		out = append(out, domain.LegacyGoodRow{
			ID:       prefix + "-" + htx,
			Htx:      htx,
			Name:     label,
			Quantity: qty,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func legacyGoodShape(good domain.Good) (column string, prefix string, label string, err error) {
	switch good {
	case domain.GoodLogo:
		return "logo_stock", "L", "Logo HTX", nil
	case domain.GoodCard:
		return "card_stock", "T", "Thẻ tài xế", nil
	case domain.GoodTshirt:
		return "tshirt_stock", "A", "Áo thun", nil
	default:
		return "", "", "", store.ErrValidation
	}
}

func (s *Store) ListLegacyOrders(ctx context.Context) ([]domain.LegacyOrder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT b.id, b.htx, COALESCE(b.details,''), b.created_at,
			d.id, d.name, d.license_plate, d.phone, d.htx
		FROM bills b
		JOIN drivers d ON d.id = b.driver_id
		ORDER BY b.created_at DESC, b.id DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]domain.LegacyOrder, 0, 64)
	for rows.Next() {
		var o domain.LegacyOrder
		if err := rows.Scan(&o.ID, &o.Htx, &o.Details, &o.CreatedAt,
			&o.Driver.ID, &o.Driver.Name, &o.Driver.LicensePlate, &o.Driver.Phone, &o.Driver.Htx); err != nil {
			return nil, err
		}
		o.CreatedAt = o.CreatedAt.UTC()
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

func (s *Store) GetLegacyOrder(ctx context.Context, id string) (*domain.LegacyOrder, error) {
	var o domain.LegacyOrder
	err := s.db.QueryRowContext(ctx, `
		SELECT b.id, b.htx, COALESCE(b.details,''), b.created_at,
			d.id, d.name, d.license_plate, d.phone, d.htx
		FROM bills b
		JOIN drivers d ON d.id = b.driver_id
		WHERE b.id = $1
	`, id).Scan(&o.ID, &o.Htx, &o.Details, &o.CreatedAt,
		&o.Driver.ID, &o.Driver.Name, &o.Driver.LicensePlate, &o.Driver.Phone, &o.Driver.Htx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	o.CreatedAt = o.CreatedAt.UTC()
	return &o, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrValidation
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, display_name, role, qr_token, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,now())
	`, user.Username, user.Password, nullIfEmpty(user.DisplayName), user.Role, nullIfEmpty(user.QRToken), user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, COALESCE(display_name,''), role, COALESCE(qr_token,''), active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.DisplayName, &user.Role, &user.QRToken, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" {
		return store.ErrValidation
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, display_name = $3, role = $4, qr_token = $5, active = $6, updated_at = now()
		WHERE username = $1
	`, user.Username, user.Password, nullIfEmpty(user.DisplayName), user.Role, nullIfEmpty(user.QRToken), user.Active)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteUser(ctx context.Context, username string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM app_users WHERE username = $1
	`, username)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) FindUserByQRToken(ctx context.Context, token string) (*domain.UserAccount, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, store.ErrNotFound
	}

	var user domain.UserAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT username, password, COALESCE(display_name,''), role, COALESCE(qr_token,''), active, created_at
		FROM app_users
		WHERE qr_token = $1
	`, token).Scan(&user.Username, &user.Password, &user.DisplayName, &user.Role, &user.QRToken, &user.Active, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	user.CreatedAt = user.CreatedAt.UTC()
	return &user, nil
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

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
