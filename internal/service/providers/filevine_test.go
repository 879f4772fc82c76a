package providers

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainerrors "github.com/davidleathers/dnc-propagation-backend/internal/domain/errors"
	"github.com/davidleathers/dnc-propagation-backend/internal/domain/values"
)

func filevineTestServer(t *testing.T, sessionCalls *int64, api http.HandlerFunc) *FilevineAdapter {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/session", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(sessionCalls, 1)

		var login struct {
			Mode         string `json:"mode"`
			APIKey       string `json:"apiKey"`
			APIHash      string `json:"apiHash"`
			APITimestamp string `json:"apiTimestamp"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&login))
		assert.Equal(t, "key", login.Mode)
		assert.Equal(t, "fv-key", login.APIKey)

		// The hash must be MD5 over key/timestamp/secret with the
		// timestamp sent in the same body
		sum := md5.Sum([]byte(fmt.Sprintf("fv-key/%s/fv-secret", login.APITimestamp)))
		if login.APIHash != hex.EncodeToString(sum[:]) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		json.NewEncoder(w).Encode(map[string]string{"accessToken": "sess-123"})
	})
	mux.HandleFunc("/", api)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return NewFilevineAdapter(
		FilevineConfig{BaseURL: server.URL, RateLimitRPS: 1000},
		Credentials{
			"api_key":    "fv-key",
			"api_secret": "fv-secret",
			"user_id":    "u-12",
			"org_id":     "o-34",
		},
	)
}

func TestFilevineAdapter_CheckListed(t *testing.T) {
	phone := values.MustNewPhoneNumber("5551234567")

	tests := []struct {
		name       string
		status     int
		body       string
		wantListed bool
	}{
		{name: "on list", status: http.StatusOK, body: `{"doNotContact": true}`, wantListed: true},
		{name: "known but not flagged", status: http.StatusOK, body: `{"doNotContact": false}`, wantListed: false},
		{name: "unknown number", status: http.StatusNotFound, wantListed: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var sessionCalls int64
			adapter := filevineTestServer(t, &sessionCalls, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/core/dnc/5551234567", r.URL.Path)
				assert.Equal(t, "Bearer sess-123", r.Header.Get("Authorization"))
				assert.Equal(t, "u-12", r.Header.Get("x-fv-userid"))
				assert.Equal(t, "o-34", r.Header.Get("x-fv-orgid"))

				w.WriteHeader(tt.status)
				if tt.body != "" {
					w.Write([]byte(tt.body))
				}
			})

			listed, err := adapter.CheckListed(context.Background(), phone)
			require.NoError(t, err)
			assert.Equal(t, tt.wantListed, listed)
		})
	}
}

func TestFilevineAdapter_Add(t *testing.T) {
	phone := values.MustNewPhoneNumber("5551234567")

	var sessionCalls int64
	adapter := filevineTestServer(t, &sessionCalls, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/core/dnc", r.URL.Path)

		var payload map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "5551234567", payload["phoneNumber"])

		w.WriteHeader(http.StatusCreated)
	})

	result, err := adapter.Add(context.Background(), phone)
	require.NoError(t, err)
	assert.True(t, result.OK)
}

func TestFilevineAdapter_SessionReused(t *testing.T) {
	phone := values.MustNewPhoneNumber("5551234567")

	var sessionCalls int64
	adapter := filevineTestServer(t, &sessionCalls, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for i := 0; i < 4; i++ {
		_, err := adapter.CheckListed(context.Background(), phone)
		require.NoError(t, err)
	}
	assert.Equal(t, int64(1), atomic.LoadInt64(&sessionCalls), "session should be opened once and cached")
}

func TestFilevineAdapter_BadSecret(t *testing.T) {
	var sessionCalls int64
	adapter := filevineTestServer(t, &sessionCalls, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("API must not be reached without a session")
	})
	adapter.credentials["api_secret"] = "wrong"

	_, err := adapter.CheckListed(context.Background(), values.MustNewPhoneNumber("5551234567"))
	require.Error(t, err)
	assert.True(t, domainerrors.IsType(err, domainerrors.ErrorTypeAuth))
}
