// ABOUTME: Bearer token authentication strategy using HS256-signed JWTs
// ABOUTME: Maps the token subject to a realm principal and challenges on failure

package authn

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SchemeBearer is the auth type recorded for bearer token authentication.
const SchemeBearer = "BEARER"

// MinSecretLength is the minimum accepted JWT signing secret length.
const MinSecretLength = 32

// Token errors
var (
	ErrInvalidToken   = errors.New("invalid token")
	ErrExpiredToken   = errors.New("token expired")
	ErrMissingClaim   = errors.New("missing required claim")
	ErrSecretTooShort = errors.New("jwt secret too short")
)

// TokenVerifier validates a bearer token and extracts the subject it was
// issued to.
type TokenVerifier interface {
	Verify(tokenString string) (subject string, err error)
}

// JWTVerifier implements TokenVerifier using HS256-signed JWTs.
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a verifier. The secret must be at least
// MinSecretLength bytes.
func NewJWTVerifier(secret []byte) (*JWTVerifier, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("%w: need at least %d bytes", ErrSecretTooShort, MinSecretLength)
	}
	return &JWTVerifier{secret: secret}, nil
}

// Verify validates the token and extracts the subject from the "sub" claim.
func (v *JWTVerifier) Verify(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	return sub, nil
}

// Generate creates a token for the given subject with an expiry.
func (v *JWTVerifier) Generate(subject string, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": subject,
		"iat": now.Unix(),
		"exp": now.Add(expiresIn).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// BearerStrategy authenticates requests carrying a bearer token in the
// Authorization header. The token subject must name a principal known to the
// realm. Tokens carry no replayable password, so the registration keeps no
// credential notes.
type BearerStrategy struct {
	coordinator *Coordinator
	verifier    TokenVerifier
	logger      *slog.Logger
}

// NewBearerStrategy creates a BearerStrategy.
func NewBearerStrategy(c *Coordinator, verifier TokenVerifier) *BearerStrategy {
	return &BearerStrategy{
		coordinator: c,
		verifier:    verifier,
		logger:      slog.Default().With("component", "authn.bearer"),
	}
}

// Scheme returns the scheme name recorded on authenticated requests.
func (b *BearerStrategy) Scheme() string { return SchemeBearer }

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// Authenticate implements Strategy. The coordinator has already
// short-circuited requests whose identity is cached; this only runs when
// fresh verification is needed.
func (b *BearerStrategy) Authenticate(req *Request, w http.ResponseWriter) bool {
	if token := req.Note(NoteSSOToken); token != "" {
		if b.coordinator.ReauthenticateFromSSO(req, w, token) {
			return true
		}
	}

	tokenString, errMsg := extractBearerToken(req.HTTP.Header.Get("Authorization"))
	if errMsg == "" {
		subject, err := b.verifier.Verify(tokenString)
		if err == nil {
			if p, ok := b.coordinator.realm.FindPrincipal(subject); ok {
				b.coordinator.Register(req, w, p, SchemeBearer, "", "")
				return true
			}
			errMsg = "unknown principal"
		} else {
			errMsg = err.Error()
		}
		b.logger.Warn("bearer auth failure", "reason", errMsg)
	}

	w.Header().Set("WWW-Authenticate", "Bearer")
	http.Error(w, "authentication required", http.StatusUnauthorized)
	return false
}
