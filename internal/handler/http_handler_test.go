package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-plot-transfers/internal/platform/logger"
	"github.com/pesio-ai/be-plot-transfers/internal/repository/sqlite"
	"github.com/pesio-ai/be-plot-transfers/internal/service"
	"github.com/pesio-ai/be-plot-transfers/internal/workflow"
	"github.com/pesio-ai/be-plot-transfers/internal/workflow/seed"
)

const testSecret = "test-secret"

type stubReloader struct{ calls int }

func (r *stubReloader) Sync(context.Context) error {
	r.calls++
	return nil
}

func newTestServer(t *testing.T, opts Options) (*httptest.Server, *stubReloader) {
	t.Helper()
	ctx := context.Background()

	store, err := sqlite.Open(ctx, sqlite.DefaultConfig(filepath.Join(t.TempDir(), "plots.db")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	def, err := seed.Default()
	require.NoError(t, err)
	require.NoError(t, seed.Apply(ctx, store, def))

	guards := workflow.NewGuardCatalogue(workflow.DefaultGuardOptions())
	topo := workflow.NewTopology(store, guards, logger.Nop())
	require.NoError(t, topo.Reload(ctx))
	engine := workflow.NewEngine(store, topo, workflow.NewEvaluator(guards, logger.Nop()),
		workflow.Config{InitialStage: "SUBMITTED", ExecuteTimeout: 5 * time.Second}, logger.Nop())

	reloader := &stubReloader{}
	svc := service.NewCaseService(engine, store, reloader, logger.Nop())
	opts.Ready = store.Ping

	srv := httptest.NewServer(NewHTTPHandler(svc, opts, logger.Nop()).Routes())
	t.Cleanup(srv.Close)
	return srv, reloader
}

type client struct {
	t      *testing.T
	base   string
	header http.Header
}

func asUser(t *testing.T, srv *httptest.Server, id, role string) *client {
	h := http.Header{}
	h.Set(HeaderUserID, id)
	h.Set(HeaderUserRole, role)
	return &client{t: t, base: srv.URL, header: h}
}

func (c *client) do(method, path string, body any) (*http.Response, map[string]any) {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(c.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, c.base+path, &buf)
	require.NoError(c.t, err)
	for k, v := range c.header {
		req.Header[k] = v
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	if resp.StatusCode != http.StatusNoContent && resp.Header.Get("Content-Type") == "application/json" {
		require.NoError(c.t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	c := asUser(t, srv, "", "")

	resp, body := c.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	resp, _ = c.do(http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStages(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	resp, body := asUser(t, srv, "clerk-1", "CLERK").do(http.MethodGet, "/api/v1/stages", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	stages := body["stages"].([]any)
	require.Len(t, stages, 13)
	assert.Equal(t, "SUBMITTED", stages[0].(map[string]any)["code"])
}

func TestCaseLifecycleOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	clerk := asUser(t, srv, "clerk-1", "clerk")

	resp, created := clerk.do(http.MethodPost, "/api/v1/cases", map[string]any{"file_no": "F-1", "plot_no": "P-1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "SUBMITTED", created["current_stage"])
	id := created["id"].(string)

	resp, _ = clerk.do(http.MethodPost, "/api/v1/cases", map[string]any{"file_no": "F-1"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "duplicate file number")

	resp, preview := clerk.do(http.MethodGet, "/api/v1/cases/"+id+"/transitions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	items := preview["transitions"].([]any)
	require.NotEmpty(t, items)
	first := items[0].(map[string]any)
	assert.Equal(t, "UNDER_SCRUTINY", first["to_stage"])
	assert.Equal(t, false, first["can_transition"])

	resp, failure := clerk.do(http.MethodPost, "/api/v1/cases/"+id+"/transitions", map[string]any{"to_stage": "UNDER_SCRUTINY"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, string(workflow.KindGuardRejected), failure["kind"])

	resp, failure = clerk.do(http.MethodPost, "/api/v1/cases/"+id+"/transitions", map[string]any{"to_stage": "CLOSED"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, string(workflow.KindInvalidTransition), failure["kind"])

	resp, review := clerk.do(http.MethodPut, "/api/v1/cases/"+id+"/reviews/scrutiny", map[string]any{"status": "RECORDED"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "SCRUTINY", review["section"])

	resp, moved := clerk.do(http.MethodPost, "/api/v1/cases/"+id+"/transitions", map[string]any{"to_stage": "UNDER_SCRUTINY", "remarks": "file complete"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "UNDER_SCRUTINY", moved["current_stage"])
	assert.Equal(t, "SUBMITTED", moved["previous_stage"])
	assert.EqualValues(t, 2, moved["version"])

	resp, history := clerk.do(http.MethodGet, "/api/v1/cases/"+id+"/history", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	records := history["history"].([]any)
	require.Len(t, records, 2)
	last := records[1].(map[string]any)
	assert.Equal(t, "SUBMITTED", last["from_stage"])
	assert.Equal(t, "UNDER_SCRUTINY", last["to_stage"])
	assert.Equal(t, "CLERK", last["actor_role"])
	assert.Equal(t, "file complete", last["remarks"])
}

func TestCollaboratorEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	clerk := asUser(t, srv, "clerk-1", "CLERK")

	_, created := clerk.do(http.MethodPost, "/api/v1/cases", map[string]any{"file_no": "F-2"})
	id := created["id"].(string)

	resp, cl := clerk.do(http.MethodPut, "/api/v1/cases/"+id+"/clearances/bca", map[string]any{"status": "CLEAR"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "BCA", cl["section"])
	assert.NotEmpty(t, cl["cleared_at"])

	resp, acc := clerk.do(http.MethodPut, "/api/v1/cases/"+id+"/accounts", map[string]any{"transfer_fee": 100, "stamp_duty": 50})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 150, acc["total_amount"])

	resp, doc := clerk.do(http.MethodPost, "/api/v1/cases/"+id+"/documents", map[string]any{"doc_type": "TRANSFER_DEED", "file_ref": "dms://1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "clerk-1", doc["uploaded_by"])

	resp, c := clerk.do(http.MethodPut, "/api/v1/cases/"+id+"/status", map[string]any{"status": "APPROVED", "post_entries_complete": true})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "APPROVED", c["status"])
	assert.Equal(t, true, c["post_entries_complete"])

	resp, failure := clerk.do(http.MethodPut, "/api/v1/cases/"+id+"/accounts", map[string]any{"transfer_fee": -1})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_INPUT", failure["kind"])

	resp, _ = clerk.do(http.MethodPut, "/api/v1/cases/"+id+"/accounts", map[string]any{"colour": "red"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "unknown fields are rejected")
}

func TestNotFoundAndAnonymous(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	resp, failure := asUser(t, srv, "clerk-1", "CLERK").do(http.MethodGet, "/api/v1/cases/no-such-case", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, string(workflow.KindNotFound), failure["kind"])

	resp, _ = asUser(t, srv, "", "").do(http.MethodPost, "/api/v1/cases", map[string]any{"file_no": "F-3"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAdminReload(t *testing.T) {
	srv, reloader := newTestServer(t, Options{})

	resp, _ := asUser(t, srv, "clerk-1", "CLERK").do(http.MethodPost, "/api/v1/admin/workflow/reload", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Zero(t, reloader.calls)

	resp, _ = asUser(t, srv, "root", "ADMIN").do(http.MethodPost, "/api/v1/admin/workflow/reload", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, 1, reloader.calls)
}

func signToken(t *testing.T, secret, sub, role string) string {
	t.Helper()
	claims := actorClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestBearerTokenActor(t *testing.T) {
	srv, reloader := newTestServer(t, Options{Auth: AuthConfig{JWTSecret: testSecret}})

	withToken := func(token string) *client {
		h := http.Header{}
		h.Set("Authorization", "Bearer "+token)
		// Gateway headers are ignored once a secret is configured.
		h.Set(HeaderUserRole, "ADMIN")
		return &client{t: t, base: srv.URL, header: h}
	}

	resp, _ := withToken(signToken(t, testSecret, "root", "admin")).do(http.MethodPost, "/api/v1/admin/workflow/reload", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, 1, reloader.calls)

	resp, _ = withToken(signToken(t, testSecret, "clerk-1", "CLERK")).do(http.MethodPost, "/api/v1/admin/workflow/reload", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, failure := withToken(signToken(t, "wrong-secret", "root", "ADMIN")).do(http.MethodGet, "/api/v1/stages", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "UNAUTHORIZED", failure["kind"])

	resp, _ = asUser(t, srv, "root", "ADMIN").do(http.MethodPost, "/api/v1/admin/workflow/reload", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, "headers alone carry no role")
	assert.Equal(t, 1, reloader.calls)
}

func TestRateLimitOnMutatingRoutes(t *testing.T) {
	srv, _ := newTestServer(t, Options{RateLimit: 2, RateWindow: time.Minute})
	clerk := asUser(t, srv, "clerk-1", "CLERK")

	for i, fileNo := range []string{"F-10", "F-11"} {
		resp, _ := clerk.do(http.MethodPost, "/api/v1/cases", map[string]any{"file_no": fileNo})
		require.Equal(t, http.StatusCreated, resp.StatusCode, "request %d", i)
	}
	resp, body := clerk.do(http.MethodPost, "/api/v1/cases", map[string]any{"file_no": "F-12"})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "RATE_LIMITED", body["kind"])
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))

	resp, _ = clerk.do(http.MethodGet, "/api/v1/stages", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "reads are not limited")
}
