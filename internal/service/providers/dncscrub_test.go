package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainerrors "github.com/davidleathers/dnc-propagation-backend/internal/domain/errors"
	"github.com/davidleathers/dnc-propagation-backend/internal/domain/values"
)

func dncscrubTestAdapter(t *testing.T, handler http.HandlerFunc) *DNCScrubAdapter {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewDNCScrubAdapter(
		DNCScrubConfig{BaseURL: server.URL, RateLimitRPS: 1000},
		Credentials{"username": "scrub_user", "password": "scrub_pass", "project_id": "P42"},
	)
}

func TestDNCScrubAdapter_CheckListed(t *testing.T) {
	phone := values.MustNewPhoneNumber("5551234567")

	tests := []struct {
		name       string
		matches    []string
		wantListed bool
	}{
		{name: "number matched", matches: []string{"5551234567"}, wantListed: true},
		{name: "no matches", matches: []string{}, wantListed: false},
		{name: "other number matched", matches: []string{"5559999999"}, wantListed: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter := dncscrubTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
				user, pass, ok := r.BasicAuth()
				require.True(t, ok)
				assert.Equal(t, "scrub_user", user)
				assert.Equal(t, "scrub_pass", pass)

				assert.Equal(t, "/app/api/scrub", r.URL.Path)
				assert.Equal(t, "P42", r.URL.Query().Get("projectId"))
				assert.Equal(t, "5551234567", r.URL.Query().Get("phones"))

				json.NewEncoder(w).Encode(map[string]interface{}{"matches": tt.matches})
			})

			listed, err := adapter.CheckListed(context.Background(), phone)
			require.NoError(t, err)
			assert.Equal(t, tt.wantListed, listed)
		})
	}
}

func TestDNCScrubAdapter_Add(t *testing.T) {
	phone := values.MustNewPhoneNumber("5551234567")

	t.Run("upload accepted", func(t *testing.T) {
		adapter := dncscrubTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/app/api/upload", r.URL.Path)

			require.NoError(t, r.ParseForm())
			assert.Equal(t, "P42", r.PostForm.Get("projectId"))
			assert.Equal(t, "5551234567", r.PostForm.Get("phones"))
			assert.Equal(t, "internal", r.PostForm.Get("listType"))

			json.NewEncoder(w).Encode(map[string]interface{}{"accepted": 1})
		})

		result, err := adapter.Add(context.Background(), phone)
		require.NoError(t, err)
		assert.True(t, result.OK)
		assert.Equal(t, float64(1), result.RawResponse["accepted"])
	})

	t.Run("bad credentials", func(t *testing.T) {
		adapter := dncscrubTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		})

		_, err := adapter.Add(context.Background(), phone)
		require.Error(t, err)
		assert.True(t, domainerrors.IsType(err, domainerrors.ErrorTypeAuth))
	})

	t.Run("missing project id", func(t *testing.T) {
		adapter := NewDNCScrubAdapter(DNCScrubConfig{BaseURL: "http://unused"},
			Credentials{"username": "u", "password": "p"})

		_, err := adapter.Add(context.Background(), phone)
		require.Error(t, err)
		assert.True(t, domainerrors.IsType(err, domainerrors.ErrorTypeAuth))
	})
}
