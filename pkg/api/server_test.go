package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/rmax-ai/graphsync/pkg/graph"
)

func TestSecureHeaders_OnRelayRoutes(t *testing.T) {
	s := NewServer(&MockHub{graph: &graph.Graph{}}, ":0", zap.NewNop())

	for _, path := range []string{"/v1/health", "/v1/graph"} {
		t.Run(path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, path, nil)
			req.Host = "relay.local:8090"
			w := httptest.NewRecorder()

			s.Handler().ServeHTTP(w, req)

			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t,
				"default-src 'self'; script-src 'self' 'unsafe-inline'; style-src 'self' 'unsafe-inline'; img-src 'self' data:; connect-src 'self' ws://relay.local:8090 wss://relay.local:8090;",
				w.Header().Get("Content-Security-Policy"))
			assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
			assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
			assert.Equal(t, "no-referrer", w.Header().Get("Referrer-Policy"))
			assert.Equal(t, "max-age=63072000; includeSubDomains", w.Header().Get("Strict-Transport-Security"))
		})
	}
}

func TestContentSecurityPolicy_NoHost(t *testing.T) {
	assert.Contains(t, contentSecurityPolicy(""), "connect-src 'self';")
}
