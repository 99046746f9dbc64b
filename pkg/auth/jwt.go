package auth

import (
	"errors"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// CallerSession identifies an authenticated trigger caller: either a
// user (with role memberships checked against jump/trigger "by" lists)
// or a signed machine call, which bypasses role checks when the target
// has no role restriction.
type CallerSession struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Roles  []string `json:"roles,omitempty"`
	Signed bool     `json:"signed,omitempty"`
}

// HasRole reports whether the session carries the given role id.
func (s CallerSession) HasRole(roleID string) bool {
	for _, r := range s.Roles {
		if r == roleID {
			return true
		}
	}
	return false
}

// ToMap converts the session to a map for template contexts.
func (s CallerSession) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"id":    s.ID,
		"name":  s.Name,
		"roles": s.Roles,
	}
}

// Claims represents JWT claims
type Claims struct {
	Caller CallerSession `json:"caller"`
	jwt.RegisteredClaims
}

var jwtSecret = []byte(getJWTSecret())

func getJWTSecret() string {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		secret = "default-secret-change-in-production"
	}
	return secret
}

// GenerateToken creates a JWT token for a caller session
func GenerateToken(session CallerSession) (string, error) {
	expirationTime := time.Now().Add(24 * time.Hour)

	claims := &Claims{
		Caller: session,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expirationTime),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ID:        uuid.New().String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(jwtSecret)
}

// ValidateToken validates and parses a JWT token
func ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// Verify signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return jwtSecret, nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}
