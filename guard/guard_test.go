package guard_test

import (
	"bufio"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"ewintr.nl/vidfeed/guard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

func TestCheckHeaders(t *testing.T) {
	for _, tc := range []struct {
		name   string
		header http.Header
		exp    error
	}{
		{
			name:   "empty",
			header: http.Header{},
		},
		{
			name:   "only length",
			header: http.Header{"Content-Length": {"12"}},
		},
		{
			name:   "only encoding",
			header: http.Header{"Transfer-Encoding": {"chunked"}},
		},
		{
			name:   "both",
			header: http.Header{"Content-Length": {"12"}, "Transfer-Encoding": {"chunked"}},
			exp:    guard.ErrSmuggling,
		},
		{
			name:   "both non canonical",
			header: http.Header{"content-length": {"12"}, "TRANSFER-ENCODING": {"chunked"}},
			exp:    guard.ErrSmuggling,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, guard.CheckHeaders(tc.header), tc.exp)
			if tc.exp == nil {
				assert.NoError(t, guard.CheckHeaders(tc.header))
			}
		})
	}
}

func TestCheckPath(t *testing.T) {
	for _, tc := range []struct {
		name string
		path string
		exp  error
	}{
		{name: "root", path: "/"},
		{name: "endpoint", path: "/fetch-videos"},
		{name: "videos", path: "/videos"},
		{name: "dot dot slash", path: "/videos/../secret", exp: guard.ErrTraversal},
		{name: "dot dot backslash", path: `/videos/..\secret`, exp: guard.ErrTraversal},
		{name: "trailing dot dot", path: "/videos/..", exp: guard.ErrTraversal},
		{name: "env file", path: "/.env", exp: guard.ErrForbiddenPath},
		{name: "env file upper", path: "/.ENV", exp: guard.ErrForbiddenPath},
		{name: "ini", path: "/php.ini", exp: guard.ErrForbiddenPath},
		{name: "conf", path: "/nginx.conf", exp: guard.ErrForbiddenPath},
		{name: "json", path: "/package.json", exp: guard.ErrForbiddenPath},
		{name: "includes", path: "/includes/global.inc", exp: guard.ErrForbiddenPath},
		{name: "config dir", path: "/Config/db", exp: guard.ErrForbiddenPath},
		{name: "settings dir", path: "/settings/x", exp: guard.ErrForbiddenPath},
		{name: "config dot", path: "/config.php", exp: guard.ErrForbiddenPath},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := guard.CheckPath(tc.path)
			if tc.exp == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.exp)
		})
	}
}

func newGuardedServer(t *testing.T, next http.Handler) string {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard))
	srv := httptest.NewUnstartedServer(guard.Middleware(logger, next))
	srv.Listener = guard.NewListener(srv.Listener)
	srv.Config.ConnContext = guard.ConnContext
	srv.Start()
	t.Cleanup(srv.Close)

	return srv.Listener.Addr().String()
}

func sendRaw(t *testing.T, conn net.Conn, br *bufio.Reader, raw string) (*http.Response, string) {
	t.Helper()
	_, err := conn.Write([]byte(raw))
	require.NoError(t, err)
	resp, err := http.ReadResponse(br, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp, string(body)
}

func TestSmugglingOnConnection(t *testing.T) {
	var calls atomic.Int32
	addr := newGuardedServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))

	clean := "POST /fetch-videos HTTP/1.1\r\nHost: vidfeed\r\nContent-Length: 2\r\n\r\n{}"
	smuggled := "POST /fetch-videos HTTP/1.1\r\nHost: vidfeed\r\nContent-Length: 5\r\nTransfer-Encoding: chunked\r\n\r\n0\r\n\r\n"

	for _, tc := range []struct {
		name     string
		requests []string
		exp      []int
		expCalls int32
	}{
		{
			name:     "clean",
			requests: []string{clean},
			exp:      []int{http.StatusNoContent},
			expCalls: 1,
		},
		{
			name:     "both headers",
			requests: []string{smuggled},
			exp:      []int{http.StatusBadRequest},
		},
		{
			name:     "lower case headers",
			requests: []string{"POST /fetch-videos HTTP/1.1\r\nhost: vidfeed\r\ntransfer-encoding: chunked\r\ncontent-length: 5\r\n\r\n0\r\n\r\n"},
			exp:      []int{http.StatusBadRequest},
		},
		{
			name:     "after a clean request",
			requests: []string{clean, smuggled},
			exp:      []int{http.StatusNoContent, http.StatusBadRequest},
			expCalls: 1,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			calls.Store(0)
			conn, err := net.Dial("tcp", addr)
			require.NoError(t, err)
			defer conn.Close()
			br := bufio.NewReader(conn)

			for i, raw := range tc.requests {
				resp, body := sendRaw(t, conn, br, raw)
				assert.Equal(t, tc.exp[i], resp.StatusCode)
				if resp.StatusCode == http.StatusBadRequest {
					assert.Contains(t, body, `"error":"invalid request: `)
					assert.True(t, resp.Close)
				}
			}
			assert.Equal(t, tc.expCalls, calls.Load())
		})
	}
}

func TestCheckRequestEscapedPath(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/videos/%2e%2e/%2e%2e/etc", nil)
	assert.ErrorIs(t, guard.CheckRequest(req), guard.ErrTraversal)
}

func TestMiddleware(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard))
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusNoContent)
	})
	h := guard.Middleware(logger, next)

	t.Run("rejects", func(t *testing.T) {
		called = false
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/.env", nil))
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.False(t, called)
		assert.Contains(t, rec.Body.String(), `"error"`)
	})

	t.Run("passes", func(t *testing.T) {
		called = false
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/fetch-videos", nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.True(t, called)
	})
}
