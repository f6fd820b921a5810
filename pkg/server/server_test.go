package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/octoit/octoit/pkg/control"
	"github.com/octoit/octoit/pkg/entity"
	"github.com/octoit/octoit/pkg/integration"
	"github.com/octoit/octoit/pkg/kraken"
	"github.com/octoit/octoit/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func testRegistry(t *testing.T) *entity.Registry {
	t.Helper()
	now := time.Now()
	reg := entity.NewRegistry(time.Minute)
	reg.AddEntry("entry-1", nil)
	reg.UpdateEntry("entry-1", &types.Snapshot{
		FetchedAt: now,
		Accounts: map[string]*types.AccountData{
			"A-1": {
				AccountNumber: "A-1",
				UpdatedAt:     now,
				Devices: []types.Device{{
					ID:   "DEV-1",
					Name: "Car",
					Preferences: &types.Preferences{
						Schedules: []types.Schedule{{DayOfWeek: "MONDAY", Time: "07:30:00", Max: types.NewNumber(80)}},
					},
				}},
			},
		},
	}, true)
	return reg
}

func newTestServer(t *testing.T) (*Server, *mockManager, *mockControls) {
	t.Helper()
	m := &mockManager{}
	c := &mockControls{}
	srv := &Server{
		manager:    m,
		entities:   testRegistry(t),
		controls:   c,
		metrics:    http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("octoit_up 1\n")) }),
		bypassAuth: true,
		serverName: "octoit-test",
	}
	return srv, m, c
}

func doRequest(h http.Handler, method, url string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			json.NewEncoder(&buf).Encode(body)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp["error"]
}

func TestHealthzAndMetrics(t *testing.T) {
	srv, _, _ := newTestServer(t)
	h := srv.setupHandler()

	w := doRequest(h, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
	assert.Equal(t, "octoit-test", w.Header().Get("Server"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))

	w = doRequest(h, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "octoit_up 1")
}

func TestEntries(t *testing.T) {
	t.Run("list", func(t *testing.T) {
		srv, m, _ := newTestServer(t)
		m.On("Entries").Return([]integration.EntryStatus{{ID: "entry-1", Email: "a@example.com", State: integration.StateLoaded}}).Once()

		w := doRequest(srv.setupHandler(), http.MethodGet, "/api/entries", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var out []integration.EntryStatus
		require.NoError(t, json.NewDecoder(w.Body).Decode(&out))
		require.Len(t, out, 1)
		assert.Equal(t, integration.StateLoaded, out[0].State)
	})

	t.Run("create", func(t *testing.T) {
		srv, m, _ := newTestServer(t)
		m.On("Create", mock.Anything, "a@example.com", "secret").Return(types.Entry{
			ID:                   "entry-2",
			Title:                "Octopus Energy Italy (a@example.com)",
			AccountNumbers:       []string{"A-1"},
			EncryptedCredentials: []byte("sealed"),
		}, nil).Once()

		w := doRequest(srv.setupHandler(), http.MethodPost, "/api/entries", createEntryRequest{Email: "a@example.com", Password: "secret"})
		require.Equal(t, http.StatusCreated, w.Code)
		assert.NotContains(t, w.Body.String(), "encryptedCredentials")
		var out createEntryResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&out))
		assert.Equal(t, "entry-2", out.ID)
		assert.Equal(t, []string{"A-1"}, out.AccountNumbers)
		m.AssertExpectations(t)
	})

	t.Run("config flow errors", func(t *testing.T) {
		cases := []struct {
			err  error
			code int
			msg  string
		}{
			{integration.ErrInvalidAuth, http.StatusBadRequest, "invalid_auth"},
			{integration.ErrNoAccounts, http.StatusBadRequest, "no_accounts"},
			{integration.ErrAlreadyConfigured, http.StatusConflict, "already_configured"},
			{integration.ErrCannotConnect, http.StatusBadGateway, "cannot_connect"},
			{errors.New("disk full"), http.StatusInternalServerError, "internal error"},
		}
		for _, tc := range cases {
			t.Run(tc.msg, func(t *testing.T) {
				srv, m, _ := newTestServer(t)
				m.On("Create", mock.Anything, "a@example.com", "pw").Return(types.Entry{}, tc.err).Once()
				w := doRequest(srv.setupHandler(), http.MethodPost, "/api/entries", createEntryRequest{Email: "a@example.com", Password: "pw"})
				assert.Equal(t, tc.code, w.Code)
				assert.Equal(t, tc.msg, decodeError(t, w))
			})
		}
	})

	t.Run("invalid body", func(t *testing.T) {
		srv, m, _ := newTestServer(t)
		w := doRequest(srv.setupHandler(), http.MethodPost, "/api/entries", "not-json")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		m.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("delete", func(t *testing.T) {
		srv, m, _ := newTestServer(t)
		m.On("Delete", mock.Anything, "entry-1").Return(nil).Once()
		w := doRequest(srv.setupHandler(), http.MethodDelete, "/api/entries/entry-1", nil)
		assert.Equal(t, http.StatusNoContent, w.Code)
		m.AssertExpectations(t)
	})

	t.Run("reload missing", func(t *testing.T) {
		srv, m, _ := newTestServer(t)
		m.On("Reload", mock.Anything, "nope").Return(fmt.Errorf("reading: %w", entity.ErrNotFound)).Once()
		w := doRequest(srv.setupHandler(), http.MethodPost, "/api/entries/nope/reload", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestEntities(t *testing.T) {
	t.Run("list filtered by platform", func(t *testing.T) {
		srv, _, _ := newTestServer(t)
		w := doRequest(srv.setupHandler(), http.MethodGet, "/api/entities?platform=switch", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var out []types.Entity
		require.NoError(t, json.NewDecoder(w.Body).Decode(&out))
		require.NotEmpty(t, out)
		var ids []string
		for _, ent := range out {
			assert.Equal(t, types.PlatformSwitch, ent.Platform)
			ids = append(ids, ent.UniqueID)
		}
		assert.Contains(t, ids, "octopus_A-1_dev-1_smart_control")
		assert.Contains(t, ids, "octopus_A-1_dev-1_boost_charge")
	})

	t.Run("list unknown account", func(t *testing.T) {
		srv, _, _ := newTestServer(t)
		w := doRequest(srv.setupHandler(), http.MethodGet, "/api/entities?accountNumber=B-2", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "[]\n", w.Body.String())
	})

	t.Run("get", func(t *testing.T) {
		srv, _, _ := newTestServer(t)
		w := doRequest(srv.setupHandler(), http.MethodGet, "/api/entities/octopus_A-1_dev-1_charge_target", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var ent types.Entity
		require.NoError(t, json.NewDecoder(w.Body).Decode(&ent))
		assert.Equal(t, types.PlatformNumber, ent.Platform)
		assert.Equal(t, float64(80), ent.State)

		w = doRequest(srv.setupHandler(), http.MethodGet, "/api/entities/octopus_nope", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("disable", func(t *testing.T) {
		srv, m, _ := newTestServer(t)
		id := "octopus_A-1_dev-1_boost_charge"
		m.On("SetEntityEnabled", mock.Anything, id, false).Return(nil).Once()
		w := doRequest(srv.setupHandler(), http.MethodPost, "/api/entities/"+id+"/disable", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		m.AssertExpectations(t)
	})

	t.Run("enable unknown", func(t *testing.T) {
		srv, m, _ := newTestServer(t)
		m.On("SetEntityEnabled", mock.Anything, "octopus_nope", true).Return(fmt.Errorf("%w: octopus_nope", entity.ErrNotFound)).Once()
		w := doRequest(srv.setupHandler(), http.MethodPost, "/api/entities/octopus_nope/enable", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestControls(t *testing.T) {
	t.Run("turn off", func(t *testing.T) {
		srv, _, c := newTestServer(t)
		id := "octopus_A-1_dev-1_smart_control"
		c.On("SetSwitch", mock.Anything, id, false).Return(nil).Once()
		w := doRequest(srv.setupHandler(), http.MethodPost, "/api/switch/"+id+"/turn_off", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		c.AssertExpectations(t)
	})

	t.Run("turn on not loaded", func(t *testing.T) {
		srv, _, c := newTestServer(t)
		id := "octopus_A-1_dev-1_boost_charge"
		c.On("SetSwitch", mock.Anything, id, true).Return(control.ErrNotLoaded).Once()
		w := doRequest(srv.setupHandler(), http.MethodPost, "/api/switch/"+id+"/turn_on", nil)
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("set number", func(t *testing.T) {
		srv, _, c := newTestServer(t)
		id := "octopus_A-1_dev-1_charge_target"
		c.On("SetNumber", mock.Anything, id, float64(90)).Return(nil).Once()
		w := doRequest(srv.setupHandler(), http.MethodPost, "/api/number/"+id+"/set", map[string]any{"value": 90})
		assert.Equal(t, http.StatusOK, w.Code)
		c.AssertExpectations(t)
	})

	t.Run("set number missing value", func(t *testing.T) {
		srv, _, c := newTestServer(t)
		w := doRequest(srv.setupHandler(), http.MethodPost, "/api/number/octopus_A-1_dev-1_charge_target/set", map[string]any{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		c.AssertNotCalled(t, "SetNumber", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("set number rejected", func(t *testing.T) {
		srv, _, c := newTestServer(t)
		id := "octopus_A-1_dev-1_charge_target"
		c.On("SetNumber", mock.Anything, id, float64(83)).Return(&control.ValidationError{Field: "target_percentage", Message: "must be a multiple of 5"}).Once()
		w := doRequest(srv.setupHandler(), http.MethodPost, "/api/number/"+id+"/set", map[string]any{"value": 83})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "invalid target_percentage: must be a multiple of 5", decodeError(t, w))
	})

	t.Run("select upstream failure", func(t *testing.T) {
		srv, _, c := newTestServer(t)
		id := "octopus_A-1_dev-1_target_time"
		c.On("SelectOption", mock.Anything, id, "05:00").Return(&kraken.APIError{StatusCode: 500, Operation: "setDevicePreferences"}).Once()
		w := doRequest(srv.setupHandler(), http.MethodPost, "/api/select/"+id+"/select", selectOptionRequest{Option: "05:00"})
		assert.Equal(t, http.StatusBadGateway, w.Code)
	})

	t.Run("set device preferences", func(t *testing.T) {
		srv, _, c := newTestServer(t)
		c.On("SetDevicePreferences", mock.Anything, "DEV-1", float64(60), "4:30 PM").Return(nil).Once()
		w := doRequest(srv.setupHandler(), http.MethodPost, "/api/services/set_device_preferences", map[string]any{
			"device_id":         "DEV-1",
			"target_percentage": 60,
			"target_time":       "4:30 PM",
		})
		assert.Equal(t, http.StatusNoContent, w.Code)
		c.AssertExpectations(t)
	})

	t.Run("set device preferences network error", func(t *testing.T) {
		srv, _, c := newTestServer(t)
		c.On("SetDevicePreferences", mock.Anything, "DEV-1", float64(60), "07:00").Return(&kraken.NetworkError{Operation: "setDevicePreferences", Err: errors.New("reset")}).Once()
		w := doRequest(srv.setupHandler(), http.MethodPost, "/api/services/set_device_preferences", map[string]any{
			"device_id":         "DEV-1",
			"target_percentage": 60,
			"target_time":       "07:00",
		})
		assert.Equal(t, http.StatusBadGateway, w.Code)
	})

	t.Run("set device preferences missing percentage", func(t *testing.T) {
		srv, _, c := newTestServer(t)
		w := doRequest(srv.setupHandler(), http.MethodPost, "/api/services/set_device_preferences", map[string]any{
			"device_id":   "DEV-1",
			"target_time": "07:00",
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		c.AssertNotCalled(t, "SetDevicePreferences", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestPublicTariffs(t *testing.T) {
	t.Run("not loaded", func(t *testing.T) {
		srv, m, _ := newTestServer(t)
		m.On("PublicProducts").Return(nil).Once()
		w := doRequest(srv.setupHandler(), http.MethodGet, "/api/tariffs/public", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("loaded", func(t *testing.T) {
		srv, m, _ := newTestServer(t)
		m.On("PublicProducts").Return(&types.PublicProducts{
			Products:  []types.PublicProduct{{Code: "FIX-12", Fuel: "electricity"}},
			FetchedAt: time.Now(),
		}).Once()
		w := doRequest(srv.setupHandler(), http.MethodGet, "/api/tariffs/public", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var out types.PublicProducts
		require.NoError(t, json.NewDecoder(w.Body).Decode(&out))
		require.Len(t, out.Products, 1)
		assert.Equal(t, "FIX-12", out.Products[0].Code)
	})
}
