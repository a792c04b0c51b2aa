package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tivvis/nlagent/internal/auth"
	"github.com/tivvis/nlagent/internal/catalog"
	"github.com/tivvis/nlagent/internal/dispatch"
	"github.com/tivvis/nlagent/internal/executor"
	"github.com/tivvis/nlagent/internal/gateway"
	"github.com/tivvis/nlagent/internal/history"
	"github.com/tivvis/nlagent/internal/metrics"
	"github.com/tivvis/nlagent/internal/resolver"
)

type staticTokens struct {
	tok *auth.Token
	err error
}

func (s staticTokens) ActiveToken() (*auth.Token, error) { return s.tok, s.err }

func testServer(t *testing.T, upstream http.HandlerFunc) *httptest.Server {
	t.Helper()

	api := httptest.NewServer(upstream)
	t.Cleanup(api.Close)

	tokens := staticTokens{tok: &auth.Token{
		Value:     "tok",
		Owner:     "Jane",
		Source:    auth.SourceStore,
		ExpiresAt: time.Now().Add(time.Hour),
	}}
	reg := catalog.NewRegistry()
	gw := gateway.New(gateway.Config{
		BaseURL:     api.URL,
		MaxRetries:  1,
		BackoffBase: time.Millisecond,
	}, tokens)
	ex := executor.New(executor.Config{
		Roots: map[catalog.Service]string{catalog.ServiceSecondary: "/bin/echo"},
	})
	m := metrics.New()
	res := resolver.New(reg, resolver.DefaultThreshold)
	disp := dispatch.New(reg, gw, ex, tokens, dispatch.Config{}, dispatch.WithMetrics(m))

	hist, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { hist.Close() })

	srv := New(reg, res, disp, tokens, ex, hist, m)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func postQuery(t *testing.T, ts *httptest.Server, body string) (int, map[string]interface{}) {
	t.Helper()
	resp, err := http.Post(ts.URL+"/nlp", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]interface{}
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	}
	return resp.StatusCode, decoded
}

func TestServer_Health(t *testing.T) {
	ts := testServer(t, func(w http.ResponseWriter, r *http.Request) {})

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
}

func TestServer_StatusReportsAuthWithoutTokenValue(t *testing.T) {
	ts := testServer(t, func(w http.ResponseWriter, r *http.Request) {})

	resp, err := http.Get(ts.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	raw := new(bytes.Buffer)
	_, err = raw.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.NotContains(t, raw.String(), "tok", "token value must never leave the process")

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(raw.Bytes(), &body))
	authInfo := body["auth"].(map[string]interface{})
	assert.Equal(t, true, authInfo["authenticated"])
	assert.Equal(t, "Jane", authInfo["owner"])

	clis := body["cli_tools"].(map[string]interface{})
	assert.Equal(t, true, clis["secondary-cli"])
	assert.Equal(t, false, clis["primary-cli"])
}

func TestServer_NLPAuthStatusEndToEnd(t *testing.T) {
	ts := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("auth-status must not call the upstream")
	})

	status, body := postQuery(t, ts, `{"query":"Check my authentication status"}`)

	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "auth-status", body["operation_type"])
	data := body["data"].(map[string]interface{})
	assert.Equal(t, true, data["authenticated"])
	assert.NotEmpty(t, body["agent_thoughts"])
}

func TestServer_NLPFindContacts(t *testing.T) {
	ts := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"id":1,"name":"John Doe"}]}`))
	})

	status, body := postQuery(t, ts, `{"query":"Find all contacts"}`)

	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "find-contacts", body["operation_type"])
	assert.Equal(t, "Found 1 contact", body["message"])
}

func TestServer_NLPRejectsBadRequests(t *testing.T) {
	ts := testServer(t, func(w http.ResponseWriter, r *http.Request) {})

	status, _ := postQuery(t, ts, `{not json`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = postQuery(t, ts, `{"query":""}`)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestServer_NLPGibberishStillReturns200(t *testing.T) {
	ts := testServer(t, func(w http.ResponseWriter, r *http.Request) {})

	status, body := postQuery(t, ts, `{"query":"flibber jabberwocky quux"}`)

	require.Equal(t, http.StatusOK, status, "failure is data, not an HTTP error")
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "unknown", body["operation_type"])
}

func TestServer_QueriesRecorded(t *testing.T) {
	ts := testServer(t, func(w http.ResponseWriter, r *http.Request) {})

	postQuery(t, ts, `{"query":"Check my authentication status"}`)

	resp, err := http.Get(ts.URL + "/queries")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, float64(1), body["count"])
	queries := body["queries"].([]interface{})
	first := queries[0].(map[string]interface{})
	assert.Equal(t, "Check my authentication status", first["query"])
	assert.Equal(t, "auth-status", first["operation"])
}

func TestServer_OperationsList(t *testing.T) {
	ts := testServer(t, func(w http.ResponseWriter, r *http.Request) {})

	resp, err := http.Get(ts.URL + "/operations")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, float64(catalog.NewRegistry().Count()), body["count"])
}

func TestServer_MetricsExposed(t *testing.T) {
	ts := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"id":1,"name":"John Doe"}]}`))
	})

	postQuery(t, ts, `{"query":"Check my authentication status"}`)
	postQuery(t, ts, `{"query":"Find all contacts"}`)
	postQuery(t, ts, `{"query":"List the custom fields"}`)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	raw := new(bytes.Buffer)
	_, err = raw.ReadFrom(resp.Body)
	require.NoError(t, err)

	body := raw.String()
	assert.Contains(t, body, "nlagent_queries_total")
	assert.Contains(t, body, `nlagent_upstream_calls_total{kind="ok"} 1`)
	assert.Contains(t, body, "nlagent_upstream_retries_total 0")
	assert.Contains(t, body, `nlagent_subprocess_runs_total{outcome="success",service="secondary-cli"} 1`)
}

func TestServer_CORSPreflight(t *testing.T) {
	ts := testServer(t, func(w http.ResponseWriter, r *http.Request) {})

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/nlp", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
