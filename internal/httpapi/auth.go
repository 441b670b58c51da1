package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Principal is the session resolved from a bearer token.
type Principal struct {
	TenantID string
	UserID   string
}

const principalKey = "principal"

type claims struct {
	jwt.RegisteredClaims
	TenantID string `json:"tenant_id"`
}

// IssueToken signs an HS256 session token for a tenant user.
func IssueToken(secret, tenantID, userID string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("httpapi: jwt secret not configured")
	}
	if tenantID == "" || userID == "" {
		return "", errors.New("httpapi: tenant and user are required")
	}
	now := time.Now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		TenantID: tenantID,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(secret))
}

func authenticate(token, secret string) (Principal, error) {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	c := &claims{}
	parsed, err := parser.ParseWithClaims(token, c, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return Principal{}, err
	}
	if !parsed.Valid {
		return Principal{}, errors.New("invalid token")
	}
	if c.Subject == "" || c.TenantID == "" {
		return Principal{}, errors.New("token lacks subject or tenant")
	}
	return Principal{TenantID: c.TenantID, UserID: c.Subject}, nil
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

// requireAuth rejects requests without a valid session with 401.
func requireAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			abortWithError(c, http.StatusUnauthorized, "unauthorized", "authentication required")
			return
		}
		p, err := authenticate(token, secret)
		if err != nil {
			abortWithError(c, http.StatusUnauthorized, "unauthorized", "invalid credentials")
			return
		}
		c.Set(principalKey, p)
		c.Next()
	}
}

func principal(c *gin.Context) Principal {
	p, _ := c.Get(principalKey)
	pr, _ := p.(Principal)
	return pr
}
