package auth

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/parcelmap/server/internal/config"
)

// Roles carried in access tokens.
const (
	RoleFarmer    = "farmer"
	RoleValidator = "validator"
	RoleAdmin     = "admin"
)

// Claims represents JWT claims structure
type Claims struct {
	jwt.RegisteredClaims

	UserID  string   `json:"user_id"`
	Role    string   `json:"role"`
	FarmIDs []string `json:"farm_ids,omitempty"`
}

// CanAccessFarm reports whether the token grants access to farmID. Admins
// reach every farm.
func (c *Claims) CanAccessFarm(farmID string) bool {
	return c.Role == RoleAdmin || slices.Contains(c.FarmIDs, farmID)
}

// CanValidateImports reports whether the token may approve imported parcels.
func (c *Claims) CanValidateImports() bool {
	return c.Role == RoleAdmin || c.Role == RoleValidator
}

// JWTService handles JWT token operations. Tokens are issued by the
// identity provider in front of the parcel backend; Generate exists for
// tooling and tests.
type JWTService struct {
	secret []byte
	issuer string
	expiry time.Duration
}

// NewJWTService creates a new JWT service with configuration
func NewJWTService(cfg *config.Config) *JWTService {
	return &JWTService{
		secret: []byte(cfg.Auth.JWTSecret),
		issuer: cfg.Auth.JWTIssuer,
		expiry: cfg.Auth.JWTExpiration,
	}
}

// Generate signs an access token for userID.
func (s *JWTService) Generate(userID, role string, farmIDs []string) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
		UserID:  userID,
		Role:    role,
		FarmIDs: farmIDs,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Validate parses an access token and returns its claims.
func (s *JWTService) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	if claims.UserID == "" {
		claims.UserID = claims.Subject
	}
	return claims, nil
}

// Expiration returns the lifetime of generated tokens.
func (s *JWTService) Expiration() time.Duration {
	return s.expiry
}
