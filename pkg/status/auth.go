package status

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// ClaimsKey is the gin context key holding verified claims.
const ClaimsKey = "jwt_claims"

// AuthConfig configures HS256 bearer token verification. An empty Secret
// disables authentication.
type AuthConfig struct {
	Secret    string        `mapstructure:"secret" yaml:"secret"`
	Issuer    string        `mapstructure:"issuer" yaml:"issuer"`
	Audience  string        `mapstructure:"audience" yaml:"audience"`
	ClockSkew time.Duration `mapstructure:"clock_skew" yaml:"clock_skew"`
}

func (c AuthConfig) Enabled() bool { return c.Secret != "" }

// RequireJWT rejects requests without a valid "Authorization: Bearer" token.
func RequireJWT(cfg AuthConfig) gin.HandlerFunc {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(cfg.ClockSkew),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	parser := jwt.NewParser(opts...)
	key := []byte(cfg.Secret)

	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if len(auth) < 7 || !strings.EqualFold(auth[:7], "bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid Authorization header"})
			return
		}
		claims := jwt.MapClaims{}
		_, err := parser.ParseWithClaims(strings.TrimSpace(auth[7:]), claims, func(*jwt.Token) (any, error) {
			return key, nil
		})
		if err != nil {
			msg := "invalid token"
			if errors.Is(err, jwt.ErrTokenExpired) {
				msg = "token expired"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
			return
		}
		c.Set(ClaimsKey, claims)
		c.Next()
	}
}

// IssueToken signs an HS256 token for subject valid for ttl (5 minutes when
// ttl<=0).
func IssueToken(cfg AuthConfig, subject string, ttl time.Duration) (string, error) {
	if !cfg.Enabled() {
		return "", errors.New("status: jwt secret required")
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    cfg.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{cfg.Audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.Secret))
}
