package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoJSONDecodesEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "abc", r.Header.Get("X-Test"))
		_, _ = w.Write([]byte(`{"data":{"name":"ok"}}`))
	}))
	defer srv.Close()

	var out Envelope[struct {
		Name string `json:"name"`
	}]
	header := http.Header{}
	header.Set("x-test", "abc")

	err := DoJSON(context.Background(), srv.Client(), http.MethodPost, srv.URL, header, map[string]string{"a": "b"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Data.Name)
}

func TestDoJSONExtractsErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"message field", `{"message":"bad password"}`, "bad password"},
		{"meta message", `{"code":"x","meta":{"message":"locked"}}`, "locked"},
		{"raw body", `upstream down`, "upstream down"},
		{"empty body", ``, "Bad Request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			err := DoJSON(context.Background(), srv.Client(), http.MethodGet, srv.URL, nil, nil, nil)

			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
			assert.Equal(t, tt.want, apiErr.Message)
		})
	}
}
