package kraken

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

const (
	// RefreshMargin is how long before expiry a token is considered stale.
	RefreshMargin = 5 * time.Minute

	// fallbackTokenLifetime is used when neither the payload nor the token
	// itself carries an expiry.
	fallbackTokenLifetime = 55 * time.Minute
)

// Token is an access token and what is needed to renew it.
type Token struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// Valid reports whether the token has more than RefreshMargin left at now.
func (t Token) Valid(now time.Time) bool {
	if t.AccessToken == "" || t.Expiry.IsZero() {
		return false
	}
	return now.Before(t.Expiry.Add(-RefreshMargin))
}

// obtainTokenResult is the obtainKrakenToken mutation result.
type obtainTokenResult struct {
	ObtainKrakenToken *struct {
		Token        string          `json:"token"`
		RefreshToken string          `json:"refreshToken"`
		Payload      json.RawMessage `json:"payload"`
	} `json:"obtainKrakenToken"`
}

var jwtAlgorithms = []jose.SignatureAlgorithm{
	jose.HS256, jose.HS384, jose.HS512,
	jose.RS256, jose.RS384, jose.RS512,
	jose.ES256, jose.ES384, jose.ES512,
	jose.PS256, jose.PS384, jose.PS512,
	jose.EdDSA,
}

// tokenExpiry picks the expiry from the login payload, then from the JWT exp
// claim, and finally falls back to a fixed lifetime from now.
func tokenExpiry(accessToken string, payload json.RawMessage, now time.Time) (time.Time, string) {
	if exp, ok := payloadExpiry(payload); ok {
		return exp, "payload"
	}
	if exp, err := jwtExpiry(accessToken); err == nil {
		return exp, "jwt"
	}
	return now.Add(fallbackTokenLifetime), "fallback"
}

func payloadExpiry(payload json.RawMessage) (time.Time, bool) {
	if len(payload) == 0 {
		return time.Time{}, false
	}
	var p struct {
		Exp *json.Number `json:"exp"`
	}
	if err := json.Unmarshal(payload, &p); err != nil || p.Exp == nil {
		return time.Time{}, false
	}
	secs, err := p.Exp.Float64()
	if err != nil || secs <= 0 {
		return time.Time{}, false
	}
	return time.Unix(int64(secs), 0), true
}

// jwtExpiry reads the exp claim without verifying the signature. The token
// is only used to decide when to ask for a new one.
func jwtExpiry(accessToken string) (time.Time, error) {
	raw := strings.TrimPrefix(accessToken, "JWT ")
	tok, err := jwt.ParseSigned(raw, jwtAlgorithms)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse token: %w", err)
	}
	var claims jwt.Claims
	if err := tok.UnsafeClaimsWithoutVerification(&claims); err != nil {
		return time.Time{}, fmt.Errorf("failed to read token claims: %w", err)
	}
	if claims.Expiry == nil {
		return time.Time{}, fmt.Errorf("token has no exp claim")
	}
	return claims.Expiry.Time(), nil
}

// maskToken keeps the first and last 5 characters of a token for logging.
func maskToken(token string) string {
	if len(token) <= 10 {
		return strings.Repeat("*", len(token))
	}
	return token[:5] + strings.Repeat("*", len(token)-10) + token[len(token)-5:]
}
