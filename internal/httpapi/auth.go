package httpapi

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"htxsale/backend/internal/domain"
	"htxsale/backend/internal/store"
)

type AuthManager struct {
	secret    []byte
	tokenTTL  time.Duration
	userStore UserStore
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUser(ctx context.Context, user domain.UserAccount) error
	DeleteUser(ctx context.Context, username string) error
	FindUserByQRToken(ctx context.Context, token string) (*domain.UserAccount, error)
}

type saleCustomClaims struct {
	jwtlib.RegisteredClaims
	Role        string `json:"role"`
	DisplayName string `json:"display_name,omitempty"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, userStore UserStore) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}

	return &AuthManager{
		secret:    []byte(secret),
		tokenTTL:  tokenTTL,
		userStore: userStore,
	}
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	username := strings.ToLower(strings.TrimSpace(req.Username))
	user, ok := a.findUser(ctx, username)
	if !ok || !verifyPassword(user.Password, req.Password) {
		return domain.LoginResponse{}, errors.New("invalid credentials")
	}
	if !user.Active {
		return domain.LoginResponse{}, errors.New("account is inactive")
	}
	return a.issueToken(user)
}

// LoginQR authenticates by a pre-provisioned QR token, the badge-scan flow
// used on shared sale terminals.
func (a *AuthManager) LoginQR(ctx context.Context, req domain.QRLoginRequest) (domain.LoginResponse, error) {
	token := strings.TrimSpace(req.Token)
	if token == "" || a.userStore == nil {
		return domain.LoginResponse{}, errors.New("invalid QR token")
	}

	user, err := a.userStore.FindUserByQRToken(ctx, token)
	if err != nil {
		return domain.LoginResponse{}, errors.New("invalid QR token")
	}
	if !user.Active {
		return domain.LoginResponse{}, errors.New("account is inactive")
	}
	return a.issueToken(*user)
}

func (a *AuthManager) issueToken(user domain.UserAccount) (domain.LoginResponse, error) {
	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	token, err := a.sign(user, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}

	return domain.LoginResponse{
		AccessToken: token,
		Role:        user.Role,
		Username:    user.Username,
		DisplayName: user.DisplayName,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &saleCustomClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return domain.Actor{}, errors.New("invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, errors.New("invalid token subject")
	}
	return domain.Actor{Username: sub, DisplayName: claims.DisplayName, Role: claims.Role}, nil
}

func (a *AuthManager) sign(user domain.UserAccount, expiresAt time.Time) (string, error) {
	claims := saleCustomClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   user.Username,
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "htxsale",
		},
		Role:        user.Role,
		DisplayName: user.DisplayName,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func (a *AuthManager) CreateSaleUser(ctx context.Context, req domain.SaleUserCreateRequest) (domain.UserAccount, error) {
	username := strings.ToLower(strings.TrimSpace(req.Username))
	if username == "" || len(username) < 4 {
		return domain.UserAccount{}, fmt.Errorf("username must be at least 4 characters")
	}
	if strings.ContainsAny(username, " \t\r\n") {
		return domain.UserAccount{}, fmt.Errorf("username must not contain spaces")
	}
	if strings.TrimSpace(req.Password) == "" || len(req.Password) < 6 {
		return domain.UserAccount{}, fmt.Errorf("password must be at least 6 characters")
	}

	passwordHash, err := hashPassword(req.Password)
	if err != nil {
		return domain.UserAccount{}, fmt.Errorf("failed to hash password")
	}

	user := domain.UserAccount{
		Username:    username,
		Password:    passwordHash,
		DisplayName: strings.TrimSpace(req.DisplayName),
		Role:        domain.RoleSale,
		QRToken:     strings.TrimSpace(req.QRToken),
		Active:      true,
		CreatedAt:   time.Now().UTC(),
	}

	if err := a.userStore.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.UserAccount{}, fmt.Errorf("username already exists")
		}
		return domain.UserAccount{}, err
	}
	return user, nil
}

func (a *AuthManager) UpdateSaleUser(ctx context.Context, username string, req domain.SaleUserUpdateRequest) (domain.UserAccount, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	user, ok := a.findUser(ctx, username)
	if !ok {
		return domain.UserAccount{}, store.ErrNotFound
	}
	if user.Role != domain.RoleSale {
		return domain.UserAccount{}, fmt.Errorf("only sale accounts can be updated here")
	}

	if req.Password != nil {
		if strings.TrimSpace(*req.Password) == "" || len(*req.Password) < 6 {
			return domain.UserAccount{}, fmt.Errorf("password must be at least 6 characters")
		}
		hash, err := hashPassword(*req.Password)
		if err != nil {
			return domain.UserAccount{}, fmt.Errorf("failed to hash password")
		}
		user.Password = hash
	}
	if req.DisplayName != nil {
		user.DisplayName = strings.TrimSpace(*req.DisplayName)
	}
	if req.QRToken != nil {
		user.QRToken = strings.TrimSpace(*req.QRToken)
	}
	if req.Active != nil {
		user.Active = *req.Active
	}

	if err := a.userStore.UpdateUser(ctx, user); err != nil {
		return domain.UserAccount{}, err
	}
	return user, nil
}

func (a *AuthManager) DeleteSaleUser(ctx context.Context, username string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	user, ok := a.findUser(ctx, username)
	if !ok {
		return store.ErrNotFound
	}
	if user.Role != domain.RoleSale {
		return fmt.Errorf("only sale accounts can be deleted here")
	}
	return a.userStore.DeleteUser(ctx, username)
}

func (a *AuthManager) ListSaleUsers(ctx context.Context) ([]domain.UserAccount, error) {
	if a.userStore == nil {
		return nil, nil
	}
	users, err := a.userStore.ListUsers(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]domain.UserAccount, 0, len(users))
	for _, user := range users {
		if user.Role != domain.RoleSale {
			continue
		}
		user.Password = ""
		user.QRToken = ""
		result = append(result, user)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Username < result[j].Username
	})
	return result, nil
}

func (a *AuthManager) findUser(ctx context.Context, username string) (domain.UserAccount, bool) {
	if a.userStore == nil || username == "" {
		return domain.UserAccount{}, false
	}
	users, err := a.userStore.ListUsers(ctx)
	if err != nil {
		return domain.UserAccount{}, false
	}
	for _, user := range users {
		if strings.ToLower(user.Username) == username {
			return user, true
		}
	}
	return domain.UserAccount{}, false
}

func verifyPassword(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" || !isPasswordHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
