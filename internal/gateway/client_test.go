package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tivvis/nlagent/internal/auth"
	"github.com/tivvis/nlagent/internal/invoke"
)

type staticTokens struct {
	tok *auth.Token
	err error
}

func (s staticTokens) ActiveToken() (*auth.Token, error) { return s.tok, s.err }

func testClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	return New(Config{
		BaseURL:     baseURL,
		BackoffBase: time.Millisecond,
		BackoffCap:  4 * time.Millisecond,
	}, staticTokens{tok: &auth.Token{Value: "tok-secret-123", Source: auth.SourceEnv}})
}

func TestClient_CallSuccess(t *testing.T) {
	var gotAuth, gotVersion string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotVersion = r.Header.Get("X-API-VERSION")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"id":42,"name":"John Doe"}}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	inv := c.Call(context.Background(), "GET", "contacts.json", nil, nil)

	require.True(t, inv.Success)
	assert.Equal(t, http.StatusOK, inv.StatusCode)
	assert.Equal(t, 0, inv.Retries)
	assert.Equal(t, "Bearer tok-secret-123", gotAuth)
	assert.Equal(t, "4.0.9", gotVersion)

	env, ok := inv.Payload.(map[string]interface{})
	require.True(t, ok)
	data := env["data"].(map[string]interface{})
	assert.Equal(t, "John Doe", data["name"])
}

func TestClient_RetriesRateLimitThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	inv := c.Call(context.Background(), "GET", "contacts.json", nil, nil)

	require.True(t, inv.Success)
	assert.Equal(t, 2, inv.Retries, "two failed attempts before the success")
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClient_RateLimitBudgetExhausted(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	inv := c.Call(context.Background(), "GET", "contacts.json", nil, nil)

	require.False(t, inv.Success)
	assert.Equal(t, invoke.ErrRateLimited, inv.ErrKind)
	assert.Equal(t, c.cfg.MaxRetries, inv.Retries)
	assert.Equal(t, int32(c.cfg.MaxRetries+1), atomic.LoadInt32(&calls))
}

func TestClient_NegativeMaxRetriesMeansSingleAttempt(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, MaxRetries: -1},
		staticTokens{tok: &auth.Token{Value: "t"}})
	inv := c.Call(context.Background(), "GET", "contacts.json", nil, nil)

	require.False(t, inv.Success)
	assert.Equal(t, invoke.ErrTransient, inv.ErrKind)
	assert.Equal(t, 0, inv.Retries)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestClient_ServerErrorsAreTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"internal"}}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	inv := c.Call(context.Background(), "GET", "matters.json", nil, nil)

	require.False(t, inv.Success)
	assert.Equal(t, invoke.ErrTransient, inv.ErrKind)
	assert.Equal(t, c.cfg.MaxRetries, inv.Retries)
}

func TestClient_AuthExpiredNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	inv := c.Call(context.Background(), "GET", "contacts.json", nil, nil)

	require.False(t, inv.Success)
	assert.Equal(t, invoke.ErrAuthExpired, inv.ErrKind)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "401 must not be retried")
}

func TestClient_ValidationErrorSurfacesUpstreamMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"error":{"type":"ArgumentError","message":"First name can't be blank"}}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	inv := c.Call(context.Background(), "POST", "contacts.json", nil, map[string]interface{}{})

	require.False(t, inv.Success)
	assert.Equal(t, invoke.ErrValidation, inv.ErrKind)
	assert.Contains(t, inv.ErrDetail, "First name can't be blank")
}

func TestClient_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	inv := c.Call(context.Background(), "GET", "contacts/999.json", nil, nil)

	require.False(t, inv.Success)
	assert.Equal(t, invoke.ErrNotFound, inv.ErrKind)
}

func TestClient_TokenNeverAppearsInErrorDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// A hostile upstream echoing the Authorization header back.
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"bad token tok-secret-123 rejected"}}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	inv := c.Call(context.Background(), "GET", "contacts.json", nil, nil)

	require.False(t, inv.Success)
	assert.NotContains(t, inv.ErrDetail, "tok-secret-123")
	assert.Contains(t, inv.ErrDetail, "[redacted]")
}

func TestClient_MissingTokenShortCircuits(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL}, staticTokens{err: auth.ErrMissing})
	inv := c.Call(context.Background(), "GET", "contacts.json", nil, nil)

	require.False(t, inv.Success)
	assert.Equal(t, invoke.ErrAuthMissing, inv.ErrKind)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls), "no HTTP call without a token")
}

func TestClient_BackoffHonorsRetryAfter(t *testing.T) {
	c := testClient(t, "http://unused")
	last := &invoke.Invocation{ErrKind: invoke.ErrRateLimited, ErrDetail: "7"}

	assert.Equal(t, 7*time.Second, c.backoff(0, last))
}

func TestClient_BackoffGrowsAndCaps(t *testing.T) {
	c := New(Config{BackoffBase: time.Second, BackoffCap: 4 * time.Second},
		staticTokens{tok: &auth.Token{Value: "t"}})

	d0 := c.backoff(0, nil)
	assert.GreaterOrEqual(t, d0, time.Second)
	assert.LessOrEqual(t, d0, 1250*time.Millisecond)

	d4 := c.backoff(4, nil)
	assert.GreaterOrEqual(t, d4, 4*time.Second)
	assert.LessOrEqual(t, d4, 5*time.Second, "jitter stays within 25% of the cap")
}

func TestPager_WalksAllPagesInOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("page") {
		case "1":
			w.Write([]byte(`{"data":[{"id":1},{"id":2}],"meta":{"paging":{"next":"p2"}}}`))
		case "2":
			w.Write([]byte(`{"data":[{"id":3}],"meta":{"paging":{"next":"p3"}}}`))
		default:
			w.Write([]byte(`{"data":[{"id":4}],"meta":{"paging":{}}}`))
		}
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	pager := c.Paginate("contacts.json", url.Values{"query": {"john"}})

	var ids []float64
	for !pager.Done() {
		records, inv := pager.Next(context.Background())
		require.True(t, inv.Success)
		for _, rec := range records {
			ids = append(ids, rec["id"].(float64))
		}
	}

	assert.Equal(t, []float64{1, 2, 3, 4}, ids, "records concatenate in upstream order")
	assert.Nil(t, pager.Err())
}

func TestPager_StopsOnEmptyPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "1" {
			w.Write([]byte(`{"data":[{"id":1}],"meta":{"paging":{"next":"p2"}}}`))
			return
		}
		w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	pager := c.Paginate("contacts.json", nil)

	records, _ := pager.Next(context.Background())
	assert.Len(t, records, 1)

	records, _ = pager.Next(context.Background())
	assert.Empty(t, records)
	assert.True(t, pager.Done())
}

func TestPager_NotRestartable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"id":1}]}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	pager := c.Paginate("contacts.json", nil)

	records, _ := pager.Next(context.Background())
	assert.Len(t, records, 1)
	require.True(t, pager.Done(), "no next cursor means last page")

	records, inv := pager.Next(context.Background())
	assert.Nil(t, records)
	assert.Nil(t, inv)
}

func TestPager_FailureTerminatesWalk(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "1" {
			w.Write([]byte(`{"data":[{"id":1}],"meta":{"paging":{"next":"p2"}}}`))
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	pager := c.Paginate("contacts.json", nil)

	records, inv := pager.Next(context.Background())
	require.True(t, inv.Success)
	assert.Len(t, records, 1)

	records, inv = pager.Next(context.Background())
	assert.Nil(t, records)
	require.NotNil(t, inv)
	assert.False(t, inv.Success)
	assert.Equal(t, invoke.ErrTransient, inv.ErrKind)
	assert.True(t, pager.Done())
	assert.Equal(t, inv, pager.Err())
}

func TestPager_SetsPageSize(t *testing.T) {
	var perPage string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		perPage = r.URL.Query().Get("per_page")
		w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, PerPage: 25},
		staticTokens{tok: &auth.Token{Value: "t"}})
	c.Paginate("contacts.json", nil).Next(context.Background())

	assert.Equal(t, "25", perPage)
}
