package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name       string
		health     HealthChecker
		wantStatus int
		wantBody   string
	}{
		{
			name:       "healthy",
			health:     pingFunc(func(context.Context) error { return nil }),
			wantStatus: http.StatusOK,
			wantBody:   `"status":"healthy"`,
		},
		{
			name:       "warehouse down",
			health:     pingFunc(func(context.Context) error { return errors.New("connection refused") }),
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   `"error":"warehouse unreachable"`,
		},
		{
			name:       "no checker",
			wantStatus: http.StatusOK,
			wantBody:   `"warehouse":"memory"`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := New("127.0.0.1:0", tc.health, "memory", "release")

			w := httptest.NewRecorder()
			srv.Engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			require.Equal(t, tc.wantStatus, w.Code)
			require.Contains(t, w.Body.String(), tc.wantBody)
		})
	}
}
