package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/nestor/pkg/auth"
	"github.com/kadirpekel/nestor/pkg/config"
	"github.com/kadirpekel/nestor/pkg/ratelimit"
	"github.com/kadirpekel/nestor/pkg/session"
	"github.com/kadirpekel/nestor/pkg/store"
	"github.com/kadirpekel/nestor/pkg/supervisor"
)

// stubValidator accepts exactly one token.
type stubValidator struct {
	token string
}

func (v stubValidator) ValidateToken(ctx context.Context, tokenString string) (*auth.Claims, error) {
	if tokenString == v.token {
		return &auth.Claims{Subject: "tester"}, nil
	}
	return nil, auth.ErrInvalidToken
}

func (v stubValidator) Close() {}

func newTestServerWithConfig(t *testing.T, cfg config.ServerConfig, steps []oracleStep, opts ...Option) (*Server, *scriptedOracle) {
	t.Helper()

	oracle := &scriptedOracle{steps: steps}
	workers := map[supervisor.Target]supervisor.Worker{
		supervisor.TargetResearch:       stubWorker{content: "research findings"},
		supervisor.TargetTaskManagement: stubWorker{content: "tasks updated"},
		supervisor.TargetEmailDraft:     stubWorker{content: "draft written"},
	}
	sup, err := supervisor.New(oracle, workers, nil, config.SupervisorConfig{MaxIterations: 5})
	require.NoError(t, err)

	srv, err := New(cfg, supervisorExecutor{sup: sup}, opts...)
	require.NoError(t, err)
	return srv, oracle
}

func doRequest(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestNew_RequiresExecutor(t *testing.T) {
	_, err := New(config.ServerConfig{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "executor")
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	_, err := New(config.ServerConfig{Port: 99999}, srv.executor)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid server config")
}

func TestHandleHealth(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := doRequest(srv, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	stub := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("nestor_build_info 1\n"))
	})

	srv, _ := newTestServer(t, nil, WithMetricsHandler(stub))
	rec := doRequest(srv, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "nestor_build_info")
}

func TestMetricsEndpoint_Disabled(t *testing.T) {
	stub := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("nestor_build_info 1\n"))
	})
	cfg := config.ServerConfig{
		Metrics: &config.MetricsConfig{Enabled: config.BoolPtr(false)},
	}

	srv, _ := newTestServerWithConfig(t, cfg, nil, WithMetricsHandler(stub))
	rec := doRequest(srv, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCORS_Preflight(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/v1/messages", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := doRequest(srv, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Authorization")
}

func TestCORS_RestrictedOrigin(t *testing.T) {
	cfg := config.ServerConfig{
		CORS: &config.CORSConfig{
			AllowedOrigins: []string{"https://app.example.com"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		},
	}
	srv, _ := newTestServerWithConfig(t, cfg, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec := doRequest(srv, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec = doRequest(srv, req)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestAuth_Wiring(t *testing.T) {
	cfg := config.ServerConfig{
		Auth: &config.AuthConfig{
			Enabled:  true,
			JWKSURL:  "https://issuer.example.com/.well-known/jwks.json",
			Issuer:   "https://issuer.example.com",
			Audience: "nestor-api",
		},
	}
	srv, _ := newTestServerWithConfig(t, cfg, []oracleStep{
		finalStep("Hello."),
	}, WithTokenValidator(stubValidator{token: "good-token"}))

	// No credentials on a protected route.
	rec := postMessage(t, srv, `{"query": "hi"}`)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing authorization header")

	// Health stays public through the default exclusions.
	rec = doRequest(srv, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	// A valid token reaches the supervisor.
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(`{"query": "hi"}`))
	req.Header.Set("Authorization", "Bearer good-token")
	rec = doRequest(srv, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Hello.")
}

func TestRunsEndpoints(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "runs.db")
	db, err := store.Open(&config.DatabaseConfig{Driver: "sqlite", Database: dbPath})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	archive, err := store.NewArchive(db, "sqlite")
	require.NoError(t, err)

	state := supervisor.NewState(supervisor.Request{Query: "look into it", RequestID: "req-42", SessionID: "s1"})
	state.Entries = append(state.Entries, supervisor.Entry{
		Origin:    supervisor.TargetResearch,
		Content:   "found the numbers",
		Timestamp: time.Now(),
	})
	state.Iteration = 2
	state.Complete = true
	state.FinalResponse = "here they are"
	require.NoError(t, archive.Record(context.Background(), state))

	srv, _ := newTestServer(t, nil, WithArchive(archive))

	rec := doRequest(srv, httptest.NewRequest(http.MethodGet, "/v1/runs/req-42", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var run store.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, "req-42", run.RequestID)
	assert.Equal(t, "here they are", run.Response)
	require.NotNil(t, run.State)
	assert.Len(t, run.State.Entries, 1)

	rec = doRequest(srv, httptest.NewRequest(http.MethodGet, "/v1/runs/no-such-run", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(srv, httptest.NewRequest(http.MethodGet, "/v1/runs", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var listing struct {
		Runs []store.Run `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	require.Len(t, listing.Runs, 1)
	assert.Equal(t, "req-42", listing.Runs[0].RequestID)

	rec = doRequest(srv, httptest.NewRequest(http.MethodGet, "/v1/runs?limit=abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunsEndpoints_AbsentWithoutArchive(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := doRequest(srv, httptest.NewRequest(http.MethodGet, "/v1/runs", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteSession(t *testing.T) {
	sessions := session.NewInMemoryService(10)
	require.NoError(t, sessions.AppendTurn(context.Background(), "s1", supervisor.Turn{Role: "user", Content: "hi"}))

	srv, _ := newTestServer(t, nil, WithSessionService(sessions))

	rec := doRequest(srv, httptest.NewRequest(http.MethodDelete, "/v1/sessions/s1", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)

	count, err := sessions.Count(context.Background(), "s1")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestDeleteSession_AbsentWithoutService(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := doRequest(srv, httptest.NewRequest(http.MethodDelete, "/v1/sessions/s1", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRateLimit_Wiring(t *testing.T) {
	limiter, err := ratelimit.New(&config.RateLimitConfig{
		Enabled: config.BoolPtr(true),
		Limits:  []config.WindowLimitConfig{{Window: "minute", Limit: 1}},
	})
	require.NoError(t, err)
	t.Cleanup(limiter.Close)

	srv, _ := newTestServer(t, []oracleStep{
		finalStep("Hello."),
	}, WithRateLimiter(limiter))

	rec := postMessage(t, srv, `{"query": "hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Hello.")

	rec = postMessage(t, srv, `{"query": "hi again"}`)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// Health stays outside the limit.
	rec = doRequest(srv, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestShutdown_BeforeStart(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	assert.NoError(t, srv.Shutdown(context.Background()))
}
