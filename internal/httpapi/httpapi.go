package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"htxsale/backend/internal/domain"
	"htxsale/backend/internal/service"
	"htxsale/backend/internal/store"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *attemptLimiter
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string) *API {
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
	}
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	kept = append(kept, now)
	l.entries[key] = kept
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/api/v1/auth/login", a.handleLogin)
	mux.HandleFunc("/api/v1/auth/login-qr", a.handleLoginQR)

	mux.HandleFunc("/api/v1/htx", a.requireAuth(a.handleHTXList, domain.RoleSale, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/bills", a.requireAuth(a.handleBills, domain.RoleSale, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/bills/", a.requireAuth(a.handleBillByID, domain.RoleSale, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/drivers", a.requireAuth(a.handleDriverSearch, domain.RoleSale, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/inventory", a.requireAuth(a.handleInventory, domain.RoleSale, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/pricing", a.requireAuth(a.handlePricingRead, domain.RoleSale, domain.RoleAdmin))

	mux.HandleFunc("/api/v1/legacy/logos", a.requireAuth(a.legacyGoodsHandler(domain.GoodLogo), domain.RoleSale, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/legacy/cards", a.requireAuth(a.legacyGoodsHandler(domain.GoodCard), domain.RoleSale, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/legacy/tshirts", a.requireAuth(a.legacyGoodsHandler(domain.GoodTshirt), domain.RoleSale, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/legacy/orders", a.requireAuth(a.handleLegacyOrders, domain.RoleSale, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/legacy/orders/", a.requireAuth(a.handleLegacyOrderByID, domain.RoleSale, domain.RoleAdmin))

	mux.HandleFunc("/api/v1/admin/inventory", a.requireAuth(a.handleAdminInventory, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/admin/pricing", a.requireAuth(a.handleAdminPricing, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/admin/sale-users", a.requireAuth(a.handleSaleUsers, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/admin/sale-users/", a.requireAuth(a.handleSaleUserActions, domain.RoleAdmin))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if (r.Method == http.MethodPost || r.Method == http.MethodPut) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		startedAt := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(startedAt))
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleLoginQR(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.QRLoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.LoginQR(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleHTXList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"htx_list": a.service.HTXList()})
}

func (a *API) handleBills(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req domain.BillRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		bill, err := a.service.IssueBill(r.Context(), req)
		if err != nil {
			writeBillError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, domain.BillResponse{
			Message: "Bill issued successfully",
			OrderID: bill.ID,
		})
	case http.MethodGet:
		query := r.URL.Query()
		bills, err := a.service.ListBills(r.Context(), query.Get("sale_username"), query.Get("date_from"), query.Get("date_to"))
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, store.ErrValidation) {
				status = http.StatusBadRequest
			}
			writeError(w, status, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"bills": bills})
	default:
		writeMethodNotAllowed(w)
	}
}

// writeBillError maps issuance failures onto the wire-level error strings
// older clients match on.
func writeBillError(w http.ResponseWriter, err error) {
	var stockErr *store.InsufficientStockError
	switch {
	case errors.Is(err, service.ErrMissingHtx):
		writeError(w, http.StatusBadRequest, errors.New("Missing HTX"))
	case errors.Is(err, store.ErrValidation):
		writeError(w, http.StatusBadRequest, errors.New("Invalid quantity or amount"))
	case errors.Is(err, store.ErrUnknownHtx):
		writeError(w, http.StatusBadRequest, errors.New("Unknown HTX"))
	case errors.As(err, &stockErr):
		writeError(w, http.StatusConflict, errors.New("Insufficient "+string(stockErr.Good)+" stock"))
	case errors.Is(err, store.ErrInsufficientStock):
		writeError(w, http.StatusConflict, errors.New("Insufficient stock"))
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func (a *API) handleBillByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	id := pathTail(r.URL.Path, "/api/v1/bills/")
	if id == "" {
		writeError(w, http.StatusBadRequest, errors.New("bill id required"))
		return
	}

	bill, err := a.service.GetBill(r.Context(), id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrNotFound) {
			status = http.StatusNotFound
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bill": bill})
}

func (a *API) handleDriverSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	query := r.URL.Query()
	drivers, err := a.service.SearchDrivers(r.Context(), domain.DriverQuery{
		Name:         query.Get("name"),
		LicensePlate: query.Get("license_plate"),
		Phone:        query.Get("phone"),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"drivers": drivers})
}

func (a *API) handleInventory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	htx := r.URL.Query().Get("htx")
	inventory, err := a.service.GetInventory(r.Context(), htx)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrMissingHtx):
			writeError(w, http.StatusBadRequest, errors.New("Missing HTX"))
		case errors.Is(err, store.ErrUnknownHtx):
			writeError(w, http.StatusNotFound, errors.New("Unknown HTX"))
		default:
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, inventory)
}

func (a *API) handlePricingRead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	pricing, err := a.service.GetPricing(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, pricing)
}

func (a *API) handleAdminInventory(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		stocks, err := a.service.ListInventory(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"inventory": stocks})
	case http.MethodPut:
		var req domain.StockSetRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		stock, err := a.service.SetStock(r.Context(), req)
		if err != nil {
			switch {
			case errors.Is(err, service.ErrMissingHtx):
				writeError(w, http.StatusBadRequest, errors.New("Missing HTX"))
			case errors.Is(err, store.ErrUnknownHtx):
				writeError(w, http.StatusBadRequest, errors.New("Unknown HTX"))
			case errors.Is(err, store.ErrValidation):
				writeError(w, http.StatusBadRequest, errors.New("Invalid quantity or amount"))
			default:
				writeError(w, http.StatusInternalServerError, err)
			}
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"stock": stock})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleAdminPricing(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		pricing, err := a.service.GetPricing(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, pricing)
	case http.MethodPut:
		var req domain.Pricing
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		pricing, err := a.service.SetPricing(r.Context(), req)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, store.ErrValidation) {
				status = http.StatusBadRequest
			}
			writeError(w, status, err)
			return
		}
		writeJSON(w, http.StatusOK, pricing)
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) legacyGoodsHandler(good domain.Good) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}

		rows, err := a.service.ListLegacyGoods(r.Context(), good)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, rows)
	}
}

func (a *API) handleLegacyOrders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	orders, err := a.service.ListLegacyOrders(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (a *API) handleLegacyOrderByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	id := pathTail(r.URL.Path, "/api/v1/legacy/orders/")
	if id == "" {
		writeError(w, http.StatusBadRequest, errors.New("order id required"))
		return
	}

	order, err := a.service.GetLegacyOrder(r.Context(), id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrNotFound) {
			status = http.StatusNotFound
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (a *API) handleSaleUsers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		users, err := a.auth.ListSaleUsers(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sale_users": users})
	case http.MethodPost:
		var req domain.SaleUserCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		user, err := a.auth.CreateSaleUser(r.Context(), req)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		user.Password = ""
		user.QRToken = ""
		writeJSON(w, http.StatusCreated, map[string]any{"sale_user": user})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleSaleUserActions(w http.ResponseWriter, r *http.Request) {
	username := pathTail(r.URL.Path, "/api/v1/admin/sale-users/")
	if username == "" {
		writeError(w, http.StatusBadRequest, errors.New("username required"))
		return
	}

	switch r.Method {
	case http.MethodPut:
		var req domain.SaleUserUpdateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		user, err := a.auth.UpdateSaleUser(r.Context(), username, req)
		if err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, store.ErrNotFound) {
				status = http.StatusNotFound
			}
			writeError(w, status, err)
			return
		}
		user.Password = ""
		user.QRToken = ""
		writeJSON(w, http.StatusOK, map[string]any{"sale_user": user})
	case http.MethodDelete:
		if err := a.auth.DeleteSaleUser(r.Context(), username); err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, store.ErrNotFound) {
				status = http.StatusNotFound
			}
			writeError(w, status, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"message": "Deleted"})
	default:
		writeMethodNotAllowed(w)
	}
}

func pathTail(path string, prefix string) string {
	if !strings.HasPrefix(path, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.Trim(strings.TrimPrefix(path, prefix), "/"))
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx responses carry a generic message so storage details never leak
	// to the caller; the original error is logged server-side.
	msg := err.Error()
	if status >= 500 {
		log.Printf("internal error (status %d): %v", status, err)
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
