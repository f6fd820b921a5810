package server

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/octoit/octoit/pkg/integration"
	"github.com/octoit/octoit/pkg/types"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockManager struct {
	mock.Mock
}

func (m *mockManager) Entries() []integration.EntryStatus {
	args := m.Called()
	return args.Get(0).([]integration.EntryStatus)
}

func (m *mockManager) Create(ctx context.Context, email, password string) (types.Entry, error) {
	args := m.Called(ctx, email, password)
	return args.Get(0).(types.Entry), args.Error(1)
}

func (m *mockManager) Delete(ctx context.Context, entryID string) error {
	args := m.Called(ctx, entryID)
	return args.Error(0)
}

func (m *mockManager) Reload(ctx context.Context, entryID string) error {
	args := m.Called(ctx, entryID)
	return args.Error(0)
}

func (m *mockManager) SetEntityEnabled(ctx context.Context, uniqueID string, enabled bool) error {
	args := m.Called(ctx, uniqueID, enabled)
	return args.Error(0)
}

func (m *mockManager) PublicProducts() *types.PublicProducts {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).(*types.PublicProducts)
}

type mockControls struct {
	mock.Mock
}

func (m *mockControls) SetSwitch(ctx context.Context, uniqueID string, on bool) error {
	args := m.Called(ctx, uniqueID, on)
	return args.Error(0)
}

func (m *mockControls) SetNumber(ctx context.Context, uniqueID string, value float64) error {
	args := m.Called(ctx, uniqueID, value)
	return args.Error(0)
}

func (m *mockControls) SelectOption(ctx context.Context, uniqueID, option string) error {
	args := m.Called(ctx, uniqueID, option)
	return args.Error(0)
}

func (m *mockControls) SetDevicePreferences(ctx context.Context, deviceID string, targetPercentage float64, targetTime string) error {
	args := m.Called(ctx, deviceID, targetPercentage, targetTime)
	return args.Error(0)
}

const testAudience = "test-audience"

// setupOIDCTest starts a fake OpenID provider serving discovery and JWKS
// documents for a fresh RSA key.
func setupOIDCTest(t *testing.T) (*httptest.Server, *rsa.PrivateKey) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"issuer":                                srv.URL,
			"authorization_endpoint":                srv.URL + "/auth",
			"token_endpoint":                        srv.URL + "/token",
			"jwks_uri":                              srv.URL + "/keys",
			"id_token_signing_alg_values_supported": []string{"RS256"},
		})
	})
	mux.HandleFunc("/keys", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
			Key:       &priv.PublicKey,
			KeyID:     "test-key",
			Algorithm: string(jose.RS256),
			Use:       "sig",
		}}})
	})
	return srv, priv
}

// generateTestToken signs an ID token for the fake provider.
func generateTestToken(t *testing.T, issuer string, priv *rsa.PrivateKey, email, subject string) string {
	t.Helper()
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.RS256, Key: jose.JSONWebKey{Key: priv, KeyID: "test-key"}},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	require.NoError(t, err)

	now := time.Now()
	raw, err := jwt.Signed(signer).Claims(map[string]any{
		"iss":   issuer,
		"aud":   testAudience,
		"sub":   subject,
		"email": email,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}).Serialize()
	require.NoError(t, err)
	return raw
}
