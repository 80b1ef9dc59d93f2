// Package auth issues and verifies the bearer tokens exchanged between
// the sync client and the backend.
package auth

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/RMMwalali/kraftbasic-sub001/internal/errors"
	"github.com/RMMwalali/kraftbasic-sub001/internal/logging"
)

// Issuer is written into every token.
const Issuer = "kraftsync"

// SubjectKey is the gin context key holding the authenticated subject.
const SubjectKey = "auth.subject"

// JWTAuth handles HMAC-signed JWTs.
type JWTAuth struct {
	secret []byte
}

// NewJWTAuth creates a new JWT authenticator.
func NewJWTAuth(secret string) *JWTAuth {
	return &JWTAuth{secret: []byte(secret)}
}

// Claims carries the user in sub and the device in did.
type Claims struct {
	DeviceID string `json:"did,omitempty"`
	jwt.RegisteredClaims
}

// GenerateToken signs a token for subject valid for expiration.
func (j *JWTAuth) GenerateToken(subject, deviceID string, expiration time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		DeviceID: deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(expiration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    Issuer,
			Subject:   subject,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(j.secret)
}

// ValidateToken verifies the signature and expiry and returns the claims.
func (j *JWTAuth) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.secret, nil
	}, jwt.WithIssuer(Issuer))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrUnauthorized, "invalid token", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, apperrors.New(apperrors.ErrUnauthorized, "invalid token")
	}
	if claims.Subject == "" {
		return nil, apperrors.New(apperrors.ErrUnauthorized, "missing sub in token")
	}
	return claims, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	if header == "" {
		return "", apperrors.New(apperrors.ErrUnauthorized, "authorization header required")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", apperrors.New(apperrors.ErrUnauthorized, "bearer token required")
	}
	return parts[1], nil
}

// GinMiddleware rejects requests without a valid bearer token and stores
// the subject under SubjectKey.
func (j *JWTAuth) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, err := BearerToken(c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		claims, err := j.ValidateToken(tokenString)
		if err != nil {
			prefix := tokenString
			if len(prefix) > 20 {
				prefix = prefix[:20]
			}
			logging.Warn("JWT validation failed", logging.Fields{"error": err.Error(), "token_prefix": prefix})
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(SubjectKey, claims.Subject)
		c.Next()
	}
}

// TokenSource mints tokens on demand and reuses one until it is close to
// expiry.
type TokenSource struct {
	auth    *JWTAuth
	subject string
	device  string
	ttl     time.Duration

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewTokenSource creates a TokenSource for subject and device.
func NewTokenSource(a *JWTAuth, subject, device string, ttl time.Duration) *TokenSource {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TokenSource{auth: a, subject: subject, device: device, ttl: ttl}
}

// Token returns a valid token.
func (s *TokenSource) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Refresh once less than a tenth of the lifetime remains.
	if s.token != "" && time.Until(s.expires) > s.ttl/10 {
		return s.token, nil
	}
	token, err := s.auth.GenerateToken(s.subject, s.device, s.ttl)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrInternal, "sign token", err)
	}
	s.token = token
	s.expires = time.Now().Add(s.ttl)
	return token, nil
}
