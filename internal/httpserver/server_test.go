package httpserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"preseedd/internal/config"
	"preseedd/internal/preseed"
	"preseedd/internal/series"
	"preseedd/internal/store"
)

const client = "10.0.0.5"

type fixture struct {
	srv  *Server
	h    http.Handler
	tree *store.Dir
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()
	tree, err := store.NewDir(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, tree.Write(ctx, preseed.PreseedFile, []byte("# default\n")))
	require.NoError(t, tree.Write(ctx, preseed.LateCommandFile, []byte("echo default\n")))

	cfg := config.Default()
	if mutate != nil {
		mutate(&cfg)
	}
	log, _ := logtest.NewNullLogger()
	svc := preseed.NewService(tree, series.Static("bookworm", "jammy"), log)
	opts := Options{Config: cfg, Service: svc, Log: log}
	if cfg.WebDAV {
		opts.DAVRoot = tree.Root()
	}
	srv, err := New(opts)
	require.NoError(t, err)
	return &fixture{srv: srv, h: srv.Handler(), tree: tree}
}

func (f *fixture) do(t *testing.T, r *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	if r.RemoteAddr == "192.0.2.1:1234" {
		r.RemoteAddr = client + ":40000"
	}
	rr := httptest.NewRecorder()
	f.h.ServeHTTP(rr, r)
	return rr
}

func (f *fixture) write(t *testing.T, key, body string) {
	t.Helper()
	require.NoError(t, f.tree.Write(context.Background(), key, []byte(body)))
}

func TestPreseedAppendsLateCommand(t *testing.T) {
	f := newFixture(t, nil)
	f.write(t, "ip/10.0.0.5/bookworm/preseed.cfg", "d-i mirror/country string manual\n")

	for _, path := range []string{"/d-i/bookworm/preseed.cfg", "/bookworm/preseed.cfg"} {
		r := httptest.NewRequest(http.MethodGet, "http://preseed.lan:8080"+path, nil)
		rr := f.do(t, r)
		require.Equal(t, http.StatusOK, rr.Code, path)
		assert.Equal(t, "text/plain; charset=utf-8", rr.Header().Get("Content-Type"))

		body := rr.Body.String()
		assert.True(t, strings.HasPrefix(body, "d-i mirror/country string manual\n"), body)
		want := "d-i preseed/late_command string in-target wget -O late_command 'http://preseed.lan:8080" +
			strings.TrimSuffix(path, "preseed.cfg") + "late_command' ; in-target sh late_command ; in-target rm late_command\n"
		assert.True(t, strings.HasSuffix(body, want), body)
	}
}

func TestPreseedShareCodeCarriedToCallback(t *testing.T) {
	f := newFixture(t, nil)
	f.write(t, "ip/192.168.1.1/preseed.cfg", "shared\n")

	rr := f.do(t, httptest.NewRequest(http.MethodGet, "http://preseed.lan/d-i/jammy/preseed.cfg?share=c0a80101", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.HasPrefix(rr.Body.String(), "shared\n"))
	assert.Contains(t, rr.Body.String(), "'http://preseed.lan/d-i/jammy/late_command?share=c0a80101'")

	rr = f.do(t, httptest.NewRequest(http.MethodGet, "http://preseed.lan/d-i/jammy/preseed.cfg?share=nothex!!", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.HasPrefix(rr.Body.String(), "# default\n"))
	assert.NotContains(t, rr.Body.String(), "share=")
}

func TestLateCommandVerbatim(t *testing.T) {
	f := newFixture(t, nil)
	f.write(t, "ip/10.0.0.5/late_command", "#!/bin/sh\napt-get -y install vim\n")

	rr := f.do(t, httptest.NewRequest(http.MethodGet, "/d-i/bookworm/late_command", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "#!/bin/sh\napt-get -y install vim\n", rr.Body.String())

	rr = f.do(t, httptest.NewRequest(http.MethodGet, "/bookworm/late_command", nil))
	assert.Equal(t, "#!/bin/sh\napt-get -y install vim\n", rr.Body.String())
}

func TestDefaultSlotBypassesClientFolders(t *testing.T) {
	f := newFixture(t, nil)
	f.write(t, "ip/10.0.0.5/preseed.cfg", "mine\n")

	rr := f.do(t, httptest.NewRequest(http.MethodGet, "/default/preseed.cfg", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.HasPrefix(rr.Body.String(), "# default\n"))

	rr = f.do(t, httptest.NewRequest(http.MethodGet, "/d-i/bookworm/late_command?share=default", nil))
	assert.Equal(t, "echo default\n", rr.Body.String())
}

func TestMissingDefaultIsServerError(t *testing.T) {
	tree, err := store.NewDir(t.TempDir())
	require.NoError(t, err)
	log, _ := logtest.NewNullLogger()
	srv, err := New(Options{Config: config.Default(), Service: preseed.NewService(tree, series.Static(), log), Log: log})
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/d-i/bookworm/preseed.cfg", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, r)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)

	rr = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, nil)
	rr := f.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok\n", rr.Body.String())
	assert.NotEmpty(t, rr.Header().Get("X-Request-Id"))
	assert.Equal(t, "no-store", rr.Header().Get("Cache-Control"))
}

func TestIndexGet(t *testing.T) {
	f := newFixture(t, nil)
	f.write(t, "ip/10.0.0.5/jammy/preseed.cfg", "jammy <preseed>\n")

	rr := f.do(t, httptest.NewRequest(http.MethodGet, "http://preseed.lan/?series=jammy", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, "jammy &lt;preseed&gt;")
	assert.Contains(t, body, "echo default")
	assert.Contains(t, body, `<option value="jammy" selected>`)
	assert.Contains(t, body, "http://preseed.lan/d-i/jammy/preseed.cfg?share=0a000005")

	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "series", cookies[0].Name)
	assert.Equal(t, "jammy", cookies[0].Value)
}

func TestIndexSeriesFromCookie(t *testing.T) {
	f := newFixture(t, nil)
	f.write(t, "ip/10.0.0.5/bookworm/late_command", "bookworm late\n")

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: "series", Value: "bookworm"})
	rr := f.do(t, r)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "bookworm late")
}

func TestIndexUnknownSeriesBecomesAny(t *testing.T) {
	f := newFixture(t, nil)
	rr := f.do(t, httptest.NewRequest(http.MethodGet, "/?series=warty", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, series.Any, cookies[0].Value)
}

func postForm(values url.Values) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "http://preseed.lan/", strings.NewReader(values.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return r
}

func TestIndexPostSaves(t *testing.T) {
	f := newFixture(t, nil)
	rr := f.do(t, postForm(url.Values{
		"preseed":      {"a\r\nb\r\n"},
		"late_command": {"echo hi\r\n"},
		"series":       {"bookworm"},
	}))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "ip/10.0.0.5/bookworm")

	b, err := f.tree.Read(context.Background(), "ip/10.0.0.5/bookworm/preseed.cfg")
	require.NoError(t, err)
	assert.Equal(t, "a\nb\n", string(b))
	b, err = f.tree.Read(context.Background(), "ip/10.0.0.5/bookworm/late_command")
	require.NoError(t, err)
	assert.Equal(t, "echo hi\n", string(b))

	rr = f.do(t, httptest.NewRequest(http.MethodGet, "/d-i/bookworm/preseed.cfg", nil))
	assert.True(t, strings.HasPrefix(rr.Body.String(), "a\nb\n"))
}

func TestIndexPostUnsupportedSeries(t *testing.T) {
	f := newFixture(t, nil)
	rr := f.do(t, postForm(url.Values{"preseed": {"x"}, "late_command": {"y"}, "series": {"warty"}}))
	require.Equal(t, http.StatusOK, rr.Code)

	ok, err := f.tree.Exists(context.Background(), "ip/10.0.0.5/preseed.cfg")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestIndexFlagsPartialPair(t *testing.T) {
	f := newFixture(t, nil)
	f.write(t, "ip/10.0.0.5/preseed.cfg", "only preseed\n")
	rr := f.do(t, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "Only one of preseed.cfg / late_command")
}

func TestSaveRateLimit(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.SaveRate = 0.001
		c.SaveBurst = 1
	})
	form := url.Values{"preseed": {"x"}, "late_command": {"y"}}
	assert.Equal(t, http.StatusOK, f.do(t, postForm(form)).Code)
	assert.Equal(t, http.StatusTooManyRequests, f.do(t, postForm(form)).Code)
	// reads are never limited
	assert.Equal(t, http.StatusOK, f.do(t, httptest.NewRequest(http.MethodGet, "/", nil)).Code)
}

func TestProxyHeaders(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://internal:8080/", nil)
	r.RemoteAddr = "127.0.0.1:5555"
	r.Header.Set("X-Forwarded-For", "10.1.2.3, 127.0.0.1")
	r.Header.Set("X-Forwarded-Proto", "https")
	r.Header.Set("X-Forwarded-Host", "preseed.example.com")

	plain := &Server{}
	addr, ok := plain.clientAddr(r)
	require.True(t, ok)
	assert.Equal(t, "127.0.0.1", addr)
	assert.Equal(t, "http://internal:8080", plain.requestOrigin(r))

	trusting := &Server{cfg: config.Config{TrustProxyHeaders: true}}
	addr, ok = trusting.clientAddr(r)
	require.True(t, ok)
	assert.Equal(t, "10.1.2.3", addr)
	assert.Equal(t, "https://preseed.example.com", trusting.requestOrigin(r))
}

func TestClientAddrForms(t *testing.T) {
	s := &Server{}
	for _, c := range []struct{ in, want string }{
		{"10.0.0.5:1234", "10.0.0.5"},
		{"[::ffff:10.0.0.6]:80", "10.0.0.6"},
		{"[fe80::1]:80", "fe80::1"},
		{"10.0.0.7", "10.0.0.7"},
	} {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = c.in
		got, ok := s.clientAddr(r)
		require.True(t, ok, c.in)
		assert.Equal(t, c.want, got, c.in)
	}

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "pipe"
	_, ok := s.clientAddr(r)
	assert.False(t, ok)
}

func TestWebDAV(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.WebDAV = true })
	rr := f.do(t, httptest.NewRequest(http.MethodGet, "/dav/preseed.cfg", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "# default\n", rr.Body.String())

	put := httptest.NewRequest(http.MethodPut, "/dav/late_command", strings.NewReader("echo dav\n"))
	rr = f.do(t, put)
	assert.True(t, rr.Code == http.StatusCreated || rr.Code == http.StatusNoContent || rr.Code == http.StatusOK, "status %d", rr.Code)

	rr = f.do(t, httptest.NewRequest(http.MethodGet, "/d-i/bookworm/late_command", nil))
	assert.Equal(t, "echo dav\n", rr.Body.String())
}

func TestWebDAVDisabledByDefault(t *testing.T) {
	f := newFixture(t, nil)
	// without WebDAV, /dav/ is just a series segment
	rr := f.do(t, httptest.NewRequest(http.MethodPut, "/dav/late_command", strings.NewReader("x")))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)

	ok, err := f.tree.Exists(context.Background(), "late_command")
	require.NoError(t, err)
	assert.True(t, ok)
	b, err := f.tree.Read(context.Background(), "late_command")
	require.NoError(t, err)
	assert.Equal(t, "echo default\n", string(b))
}
