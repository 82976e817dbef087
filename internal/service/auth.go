package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/cardbox/cardbox/internal/store"
)

// JWTPrincipal identifies the admin behind a verified bearer token.
type JWTPrincipal struct {
	AdminID int64
	Email   string
}

// AuthService authenticates admins and mints the bearer tokens the
// admin API checks at its boundary.
type AuthService struct {
	store     *store.Store
	jwtSecret []byte
	tokenTTL  time.Duration
}

func NewAuthService(st *store.Store, jwtSecret string, tokenTTL time.Duration) *AuthService {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &AuthService{
		store:     st,
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  tokenTTL,
	}
}

// Login verifies an admin's credentials and returns a signed bearer
// token. All failure modes collapse to ErrInvalidCredentials so the
// response does not reveal whether the email exists.
func (s *AuthService) Login(ctx context.Context, email, password string) (string, error) {
	admin, err := s.store.GetAdminByEmail(ctx, email)
	if err != nil {
		return "", ErrInvalidCredentials
	}
	if !admin.IsActive {
		return "", ErrInvalidCredentials
	}

	want := []byte(admin.PasswordHash)
	got := []byte(HashPassword(password))
	if subtle.ConstantTimeCompare(want, got) != 1 {
		return "", ErrInvalidCredentials
	}

	// Update last login timestamp (fire and forget)
	go s.store.UpdateAdminLastLogin(context.Background(), admin.ID)

	return s.IssueJWT(ctx, admin.ID, admin.Email)
}

// ValidateJWT verifies a bearer token and returns the admin identity.
func (s *AuthService) ValidateJWT(ctx context.Context, tokenStr string) (*JWTPrincipal, error) {
	claims := &jwtClaims{}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	if !token.Valid {
		return nil, ErrInvalidCredentials
	}

	return &JWTPrincipal{
		AdminID: claims.AdminID,
		Email:   claims.Email,
	}, nil
}

// IssueJWT creates a new signed bearer token for the given admin.
func (s *AuthService) IssueJWT(ctx context.Context, adminID int64, email string) (string, error) {
	now := time.Now()
	claims := jwtClaims{
		AdminID: adminID,
		Email:   email,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
			Issuer:    "cardbox",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

type jwtClaims struct {
	AdminID int64  `json:"admin_id"`
	Email   string `json:"email"`
	jwt.RegisteredClaims
}

// HashPassword returns the hex SHA-256 digest stored for admin
// passwords.
func HashPassword(password string) string {
	h := sha256.Sum256([]byte(password))
	return hex.EncodeToString(h[:])
}
