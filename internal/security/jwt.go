package security

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWT validation errors.
var (
	// ErrInvalidToken indicates a token is malformed or fails validation.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken indicates a token has expired.
	ErrExpiredToken = errors.New("token expired")
)

// MemberClaims defines JWT claims for organization members.
type MemberClaims struct {
	MemberID uint64 `json:"member_id"`
	OrgID    uint64 `json:"org_id"`
	Email    string `json:"email"`
	jwt.RegisteredClaims
}

// OperatorClaims defines JWT claims for operators.
type OperatorClaims struct {
	OperatorID uint64 `json:"operator_id"`
	Username   string `json:"username"`
	jwt.RegisteredClaims
}

// GenerateMemberToken signs a member JWT with the configured expiry.
func GenerateMemberToken(secret string, memberID, orgID uint64, email string, expiry time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := MemberClaims{
		MemberID: memberID,
		OrgID:    orgID,
		Email:    email,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseMemberToken validates a member JWT and returns its claims.
func ParseMemberToken(secret string, tokenString string) (*MemberClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &MemberClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*MemberClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// GenerateOperatorToken signs an operator JWT with the configured expiry.
func GenerateOperatorToken(secret string, operatorID uint64, username string, expiry time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := OperatorClaims{
		OperatorID: operatorID,
		Username:   username,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseOperatorToken validates an operator JWT and returns its claims.
func ParseOperatorToken(secret string, tokenString string) (*OperatorClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &OperatorClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*OperatorClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
