package domain

import "time"

// Good identifies one of the three goods sold by a cooperative unit.
type Good string

const (
	GoodLogo   Good = "logo"
	GoodCard   Good = "card"
	GoodTshirt Good = "tshirt"
)

// Goods lists every sellable good in catalog order.
var Goods = []Good{GoodLogo, GoodCard, GoodTshirt}

// HtxStock is the canonical per-HTX stock counter row.
type HtxStock struct {
	Htx         string    `json:"htx"`
	LogoStock   int       `json:"logo_stock"`
	CardStock   int       `json:"card_stock"`
	TshirtStock int       `json:"tshirt_stock"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// StockSetRequest provisions or overwrites a cooperative unit's stock row.
// All three counters are required so a partial update cannot silently zero
// the others.
type StockSetRequest struct {
	Htx         string `json:"htx"`
	LogoStock   *int   `json:"logo_stock"`
	CardStock   *int   `json:"card_stock"`
	TshirtStock *int   `json:"tshirt_stock"`
}

// GoodQuantity is the single-good quantity shape exposed to older readers.
type GoodQuantity struct {
	Quantity int `json:"quantity"`
}

// InventoryResponse mirrors the shape the sale dashboard polls per HTX.
type InventoryResponse struct {
	Logo   GoodQuantity `json:"logo"`
	Card   GoodQuantity `json:"card"`
	Tshirt GoodQuantity `json:"tshirt"`
}

// Pricing is the singleton price list, in đồng per unit.
type Pricing struct {
	LogoPrice   int64 `json:"logo_price"`
	CardPrice   int64 `json:"card_price"`
	TshirtPrice int64 `json:"tshirt_price"`
}

const DefaultUnitPrice int64 = 50000

// DefaultPricing is the lazily-installed price list used until an admin
// sets explicit prices.
func DefaultPricing() Pricing {
	return Pricing{
		LogoPrice:   DefaultUnitPrice,
		CardPrice:   DefaultUnitPrice,
		TshirtPrice: DefaultUnitPrice,
	}
}

// Driver is a registered driver. Rows are created on first sighting of a
// (name, license plate, phone) triple and never mutated by the bill flow.
type Driver struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	LicensePlate string `json:"license_plate"`
	Phone        string `json:"phone"`
	Htx          string `json:"htx"`
}

// DriverQuery is the autofill search input; every non-empty field is a
// substring match.
type DriverQuery struct {
	Name         string
	LicensePlate string
	Phone        string
}

// Bill is the immutable record of a completed sale. Driver fields are
// snapshotted by value so the bill survives later driver changes.
type Bill struct {
	ID              string    `json:"id"`
	Htx             string    `json:"htx"`
	DriverID        string    `json:"driver_id"`
	DriverName      string    `json:"driver_name"`
	LicensePlate    string    `json:"license_plate"`
	Phone           string    `json:"phone"`
	Details         string    `json:"details,omitempty"`
	LogoQty         int       `json:"logo_qty"`
	CardQty         int       `json:"card_qty"`
	TshirtQty       int       `json:"tshirt_qty"`
	TotalAmount     int64     `json:"total_amount"`
	PaymentMethod   string    `json:"payment_method,omitempty"`
	DeliveryMethod  string    `json:"delivery_method,omitempty"`
	DeliveryAddress string    `json:"delivery_address,omitempty"`
	SaleUsername    string    `json:"sale_username,omitempty"`
	SaleName        string    `json:"sale_name,omitempty"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
}

const BillStatusIssued = "issued"

// UnknownDriverField is the sentinel stored for driver fields the
// salesperson left blank; a bill can be issued for an unnamed driver.
const UnknownDriverField = "N/A"

// BillRequest is the issue-bill input. Quantity fields default to zero.
type BillRequest struct {
	Htx             string `json:"htx"`
	DriverName      string `json:"driver_name"`
	LicensePlate    string `json:"license_plate"`
	Phone           string `json:"phone"`
	Details         string `json:"details"`
	LogoQty         int    `json:"logo_qty"`
	CardQty         int    `json:"card_qty"`
	TshirtQty       int    `json:"tshirt_qty"`
	PaymentMethod   string `json:"payment_method"`
	DeliveryMethod  string `json:"delivery_method"`
	DeliveryAddress string `json:"delivery_address"`
	SaleUsername    string `json:"sale_username"`
	BillID          string `json:"bill_id"`
}

// BillResponse is the issue-bill success payload. The order_id key is what
// older clients expect.
type BillResponse struct {
	Message string `json:"message"`
	OrderID string `json:"order_id"`
}

// BillFilter narrows ListBills. DateTo is inclusive of the whole day.
type BillFilter struct {
	SaleUsername string
	DateFrom     *time.Time
	DateTo       *time.Time
}

// LegacyGoodRow presents one good's stock in the shape of the retired
// per-good tables. It is a read-time projection of HtxStock, never stored.
type LegacyGoodRow struct {
	ID       string `json:"id"`
	Htx      string `json:"htx"`
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	ImageURL string `json:"image_url,omitempty"`
}

// LegacyOrder presents a bill in the shape of the retired order table,
// with the live driver record embedded by reference rather than snapshot.
type LegacyOrder struct {
	ID        string    `json:"id"`
	Htx       string    `json:"htx"`
	Details   string    `json:"details,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Driver    Driver    `json:"driver"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type QRLoginRequest struct {
	Token string `json:"token"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name,omitempty"`
	ExpiresAt   string `json:"expires_at"`
}

// Actor is the authenticated caller attached to a request context.
type Actor struct {
	Username    string
	DisplayName string
	Role        string
}

const (
	RoleAdmin = "admin"
	RoleSale  = "sale"
)

// UserAccount is the persistence model for sale-user credentials.
type UserAccount struct {
	Username    string    `json:"username"`
	Password    string    `json:"-"`
	DisplayName string    `json:"display_name,omitempty"`
	Role        string    `json:"role"`
	QRToken     string    `json:"-"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}

type SaleUserCreateRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
	QRToken     string `json:"qr_token"`
}

type SaleUserUpdateRequest struct {
	Password    *string `json:"password,omitempty"`
	DisplayName *string `json:"display_name,omitempty"`
	QRToken     *string `json:"qr_token,omitempty"`
	Active      *bool   `json:"active,omitempty"`
}
