package plugins

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/icyseptember2237/scripthost"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Echo", r.Header.Get("X-Req"))
		_, _ = io.WriteString(w, "pong")
	})
	mux.HandleFunc("/echo", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_, _ = w.Write(body)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newHTTPContext(t *testing.T, srv *httptest.Server) (*scripthost.Context, *HTTP) {
	t.Helper()
	p := NewHTTP(srv.Client())
	c := newTestContext(t, scripthost.NewJsEngine(), p)
	g, err := c.Global()
	if err != nil {
		t.Fatalf("Global() error = %v", err)
	}
	if err := g.Set("base", srv.URL); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	return c, p
}

func TestHTTP_Sync(t *testing.T) {
	c, _ := newHTTPContext(t, newTestServer(t))

	res, err := c.EvaluateObject("http.get(base + '/ping', { 'X-Req': 'abc' })", "get.js")
	if err != nil {
		t.Fatalf("http.get() error = %v", err)
	}
	if code, _ := res.GetInteger("httpCode"); code != http.StatusOK {
		t.Errorf("httpCode = %d", code)
	}
	if body, _ := res.GetString("body"); body != "pong" {
		t.Errorf("body = %q, want pong", body)
	}
	headers, err := res.GetObject("headers")
	if err != nil || headers == nil {
		t.Fatalf("headers = %v, %v", headers, err)
	}
	if echo, _ := headers.GetString("X-Echo"); echo != "abc" {
		t.Errorf("X-Echo = %q, want abc", echo)
	}

	if got, err := c.EvaluateString("http.post(base + '/echo', 'payload').body", "post.js"); err != nil || got != "payload" {
		t.Errorf("http.post().body = %q, %v", got, err)
	}

	res, err = c.EvaluateObject("http.get(base + '/nothing')", "404.js")
	if err != nil {
		t.Fatalf("http.get() error = %v", err)
	}
	if body, _ := res.GetString("body"); body != "Not Found" {
		t.Errorf("404 body = %q, want the status text", body)
	}

	if _, err := c.Evaluate("http.get()", "bad.js"); err == nil {
		t.Error("http.get() without a url error = nil")
	}
}

func TestHTTP_Async(t *testing.T) {
	c, p := newHTTPContext(t, newTestServer(t))

	err := c.EvaluateVoid(`
var got = null, failed = null, noCode = false;
http.get(base + '/ping', function (res) { got = res.body; });
http.get('http://127.0.0.1:0/unreachable', function (res) { failed = res.httpCode; noCode = res.code === undefined; });`, "async.js")
	if err != nil {
		t.Fatalf("EvaluateVoid() error = %v", err)
	}
	waitFor(t, "async response", func() bool {
		s, _ := c.EvaluateString("got", "poll.js")
		return s == "pong"
	})
	waitFor(t, "async failure", func() bool {
		n, _ := c.EvaluateInteger("failed === null ? 0 : failed", "poll.js")
		return n == -1
	})
	if ok, _ := c.EvaluateBoolean("noCode", "poll.js"); !ok {
		t.Error("failure response carries a separate code key, want httpCode only")
	}

	p.Close(c)
}

func TestHTTP_SessionPerContext(t *testing.T) {
	srv := newTestServer(t)
	p := NewHTTP(srv.Client())
	a := newTestContext(t, scripthost.NewJsEngine(), p)
	b := newTestContext(t, scripthost.NewJsEngine(), p)
	for _, c := range []*scripthost.Context{a, b} {
		g, err := c.Global()
		if err != nil {
			t.Fatalf("Global() error = %v", err)
		}
		if err := g.Set("base", srv.URL); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
	}

	p.Close(a)

	if _, err := a.Evaluate("http.get(base + '/ping')", "closed.js"); err == nil {
		t.Error("http.get() after Close error = nil")
	}
	if got, err := b.EvaluateString("http.get(base + '/ping').body", "open.js"); err != nil || got != "pong" {
		t.Errorf("http.get() in the other context = %q, %v, want pong", got, err)
	}
}
