package utils

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const (
	RoleAdmin     = "admin"
	RoleCloser    = "closer"
	RoleFunnel    = "funnel"
	RoleAffiliate = "affiliate"
)

const (
	ReferralCookieName = "partner_ref"
	ReferralCookieTTL  = 30 * 24 * time.Hour
)

var ErrInvalidToken = errors.New("invalid token")

type Claims struct {
	UserID      string `json:"user_id"`
	Role        string `json:"role"`
	AffiliateID string `json:"affiliate_id,omitempty"`
	jwt.RegisteredClaims
}

func GenerateToken(secret []byte, userID, role, affiliateID string, ttl time.Duration) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(ttl)
	claims := &Claims{
		UserID:      userID,
		Role:        role,
		AffiliateID: affiliateID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
			Subject:   userID,
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := t.SignedString(secret)
	return s, exp, err
}

func ParseToken(secret []byte, tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, hmacKey(secret))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ReferralClaims is the payload of the tracking cookie set on attributed visits.
type ReferralClaims struct {
	ReferralCode string `json:"ref"`
	AffiliateID  string `json:"aid"`
	jwt.RegisteredClaims
}

func SignReferralCookie(secret []byte, referralCode, affiliateID string, now time.Time) (string, error) {
	claims := &ReferralClaims{
		ReferralCode: referralCode,
		AffiliateID:  affiliateID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ReferralCookieTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func ParseReferralCookie(secret []byte, value string) (*ReferralClaims, error) {
	claims := &ReferralClaims{}
	token, err := jwt.ParseWithClaims(value, claims, hmacKey(secret))
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.ReferralCode == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func hmacKey(secret []byte) jwt.Keyfunc {
	return func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return secret, nil
	}
}
