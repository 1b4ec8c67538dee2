package server

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrchypark/dotori"
	"github.com/mrchypark/dotori/pkg/clock"
)

func newTestServer(t *testing.T, cfg Config, opts ...dotori.Option) (*Server, *dotori.Cache, *clock.Simulated) {
	t.Helper()
	clk := clock.NewSimulated(1000)
	c, err := dotori.New(log.NewNopLogger(), append([]dotori.Option{dotori.WithClock(clk)}, opts...)...)
	require.NoError(t, err)
	return New(c, log.NewNopLogger(), cfg), c, clk
}

func do(t *testing.T, s *Server, method, target, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var e errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e), "body: %s", rec.Body.String())
	return e
}

func TestServer_SetGetDelete(t *testing.T) {
	s, _, _ := newTestServer(t, Config{})

	rec := do(t, s, http.MethodPut, "/cache", `{"key":"a","value":"1","ttl":60}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, s, http.MethodGet, "/cache/a", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	var got valueResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "1", got.Value)
	assert.Equal(t, ETag("1"), rec.Header().Get("ETag"))

	rec = do(t, s, http.MethodDelete, "/cache/a", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, http.MethodGet, "/cache/a", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, errorResponse{StatusCode: 404, Message: "Not Found"}, decodeError(t, rec))

	rec = do(t, s, http.MethodDelete, "/cache/a", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_GetExpired(t *testing.T) {
	s, c, clk := newTestServer(t, Config{})

	require.NoError(t, c.Set("k", "v", 5))
	clk.Advance(6)

	rec := do(t, s, http.MethodGet, "/cache/k", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 0, c.Len())
}

func TestServer_ConditionalGet(t *testing.T) {
	s, c, _ := newTestServer(t, Config{})
	require.NoError(t, c.Set("k", "v", 60))
	etag := ETag("v")

	testCases := []struct {
		name   string
		header string
		want   int
	}{
		{name: "matching", header: etag, want: http.StatusNotModified},
		{name: "weak match", header: "W/" + etag, want: http.StatusNotModified},
		{name: "in list", header: `"nope", ` + etag, want: http.StatusNotModified},
		{name: "wildcard", header: "*", want: http.StatusNotModified},
		{name: "stale", header: ETag("old"), want: http.StatusOK},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, s, http.MethodGet, "/cache/k", "", "If-None-Match", tc.header)
			assert.Equal(t, tc.want, rec.Code)
			assert.Equal(t, etag, rec.Header().Get("ETag"))
			if tc.want == http.StatusNotModified {
				assert.Empty(t, rec.Body.String())
			}
		})
	}
}

func TestServer_SetValidation(t *testing.T) {
	s, c, _ := newTestServer(t, Config{})

	testCases := []struct {
		name    string
		body    string
		message string
	}{
		{name: "malformed json", body: `{"key":`, message: "invalid request body"},
		{name: "empty body", body: ``, message: "invalid request body"},
		{name: "key not string", body: `{"key":5,"value":"v","ttl":1}`, message: "invalid request body"},
		{name: "unknown field", body: `{"key":"k","value":"v","ttl":1,"extra":true}`, message: "invalid request body"},
		{name: "missing key", body: `{"value":"v","ttl":1}`, message: "key must be a string"},
		{name: "missing value", body: `{"key":"k","ttl":1}`, message: "value must be a string"},
		{name: "missing ttl", body: `{"key":"k","value":"v"}`, message: "ttl must be a number"},
		{name: "null ttl", body: `{"key":"k","value":"v","ttl":null}`, message: "ttl must be a number"},
		{name: "fractional ttl", body: `{"key":"k","value":"v","ttl":1.5}`, message: "ttl must be an integer"},
		{name: "trailing garbage", body: `{"key":"k","value":"v","ttl":1} garbage`, message: "unexpected data after JSON object"},
		{name: "second object", body: `{"key":"k","value":"v","ttl":1}{}`, message: "unexpected data after JSON object"},
		{name: "string ttl", body: `{"key":"k","value":"v","ttl":"60"}`, message: "ttl must be a number"},
		{name: "bool ttl", body: `{"key":"k","value":"v","ttl":true}`, message: "ttl must be a number"},
		{name: "ttl out of range", body: `{"key":"k","value":"v","ttl":99999999999999999999}`, message: "ttl must be an integer"},
		{name: "everything missing", body: `{}`, message: "key must be a string, value must be a string, ttl must be a number"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, s, http.MethodPut, "/cache", tc.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			e := decodeError(t, rec)
			assert.Equal(t, http.StatusBadRequest, e.StatusCode)
			assert.Contains(t, e.Message, tc.message)
		})
	}
	assert.Equal(t, 0, c.Len())
}

func TestServer_SetTrailingWhitespace(t *testing.T) {
	s, c, _ := newTestServer(t, Config{})

	rec := do(t, s, http.MethodPut, "/cache", "{\"key\":\"k\",\"value\":\"v\",\"ttl\":60}\n  \n")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, c.Len())
}

func TestServer_SetNegativeTTL(t *testing.T) {
	s, _, _ := newTestServer(t, Config{})

	rec := do(t, s, http.MethodPut, "/cache", `{"key":"x","value":"v","ttl":-1}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, http.MethodGet, "/cache/x", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_SetOverflow(t *testing.T) {
	t.Run("throw maps to 413", func(t *testing.T) {
		s, c, _ := newTestServer(t, Config{}, dotori.WithMaxKeySize(3))

		rec := do(t, s, http.MethodPut, "/cache", `{"key":"toolong","value":"v","ttl":60}`)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
		assert.Equal(t, http.StatusRequestEntityTooLarge, decodeError(t, rec).StatusCode)
		assert.Equal(t, 0, c.Len())
	})

	t.Run("truncate stores prefix", func(t *testing.T) {
		s, _, _ := newTestServer(t, Config{},
			dotori.WithMaxValueSize(5),
			dotori.WithValueOverflowBehavior(dotori.OverflowTruncate),
		)

		rec := do(t, s, http.MethodPut, "/cache", `{"key":"k","value":"hello world","ttl":60}`)
		require.Equal(t, http.StatusOK, rec.Code)

		rec = do(t, s, http.MethodGet, "/cache/k", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"value":"hello"}`, rec.Body.String())
	})

	t.Run("truncate accepts value far over its limit", func(t *testing.T) {
		s, _, _ := newTestServer(t, Config{},
			dotori.WithMaxValueSize(5),
			dotori.WithValueOverflowBehavior(dotori.OverflowTruncate),
		)

		body := `{"key":"k","value":"` + strings.Repeat("y", 10*1024) + `","ttl":60}`
		rec := do(t, s, http.MethodPut, "/cache", body)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		rec = do(t, s, http.MethodGet, "/cache/k", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"value":"yyyyy"}`, rec.Body.String())
	})

	t.Run("body over limit", func(t *testing.T) {
		s, _, _ := newTestServer(t, Config{MaxBodyBytes: 32})

		body := `{"key":"k","value":"` + strings.Repeat("x", 64) + `","ttl":60}`
		rec := do(t, s, http.MethodPut, "/cache", body)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})
}

func TestServer_RoutingAndMethods(t *testing.T) {
	s, _, _ := newTestServer(t, Config{})

	assert.Equal(t, http.StatusMethodNotAllowed, do(t, s, http.MethodPost, "/cache", `{}`).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, s, http.MethodPut, "/cache/k", `{}`).Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/other", "").Code)
}

func TestServer_EscapedKeys(t *testing.T) {
	s, c, _ := newTestServer(t, Config{})
	require.NoError(t, c.Set("user 1", "v", 60))

	rec := do(t, s, http.MethodGet, "/cache/user%201", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"value":"v"}`, rec.Body.String())
}

func TestServer_RequestID(t *testing.T) {
	s, _, _ := newTestServer(t, Config{})

	rec := do(t, s, http.MethodGet, "/cache/missing", "")
	_, err := uuid.Parse(rec.Header().Get(RequestIDHeader))
	assert.NoError(t, err, "generated request id should be a uuid")

	rec = do(t, s, http.MethodGet, "/cache/missing", "", RequestIDHeader, "trace-123")
	assert.Equal(t, "trace-123", rec.Header().Get(RequestIDHeader))
}

func TestServer_CORS(t *testing.T) {
	s, _, _ := newTestServer(t, Config{CORSOrigins: []string{"https://app.example"}})

	rec := do(t, s, http.MethodOptions, "/cache", "",
		"Origin", "https://app.example",
		"Access-Control-Request-Method", http.MethodPut,
	)
	assert.Less(t, rec.Code, 300)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = do(t, s, http.MethodGet, "/cache/k", "", "Origin", "https://evil.example")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	plain, _, _ := newTestServer(t, Config{})
	rec = do(t, plain, http.MethodGet, "/cache/k", "", "Origin", "https://app.example")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"), "CORS is off without origins")
}

type failingStore struct{}

func (failingStore) Get(string) (string, error)              { return "", errors.New("boom") }
func (failingStore) Set(string, string, clock.Seconds) error { return errors.New("boom") }
func (failingStore) Delete(string) error                     { return errors.New("boom") }

func TestServer_UnexpectedStoreError(t *testing.T) {
	s := New(failingStore{}, nil, Config{})

	rec := do(t, s, http.MethodGet, "/cache/k", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Internal Server Error", decodeError(t, rec).Message)

	rec = do(t, s, http.MethodPut, "/cache", `{"key":"k","value":"v","ttl":1}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_ServeShutsDownOnCancel(t *testing.T) {
	s, _, _ := newTestServer(t, Config{ShutdownTimeout: time.Second})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String()
	req, err := http.NewRequest(http.MethodPut, url+"/cache", strings.NewReader(`{"key":"a","value":"1","ttl":60}`))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(url + "/cache/a")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.JSONEq(t, `{"value":"1"}`, string(body))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestServer_ListenAndServeBadAddr(t *testing.T) {
	s, _, _ := newTestServer(t, Config{Addr: "bad-addr:-1"})
	assert.Error(t, s.ListenAndServe(context.Background()))
}
