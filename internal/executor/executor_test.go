package executor

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/jkaninda/hive/internal/agent"
	"github.com/jkaninda/hive/internal/domain"
	"github.com/jkaninda/hive/internal/memory"
	"github.com/jkaninda/hive/internal/task"
)

func fetchTask(u string) *task.Task {
	return task.New("web_fetch", map[string]any{"url": u}, 5, task.Options{})
}

func localFetch(srv *httptest.Server, cache Cache) *WebFetch {
	host := srv.Listener.Addr().(*net.TCPAddr).IP.String()
	return NewWebFetch(WebFetchConfig{
		AllowedDomains:       []string{host},
		AllowPrivateNetworks: true,
	}, cache, nil)
}

// --- web_fetch ---

func TestWebFetch_SuccessAndCache(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("hello"))
	}))
	defer srv.Close()

	store := memory.New(memory.Config{})
	f := localFetch(srv, store)

	res := f.Execute(context.Background(), fetchTask(srv.URL))
	if res.Kind != agent.Success {
		t.Fatalf("kind = %s, err = %v", res.Kind, res.Err)
	}
	out := res.Value.(map[string]any)
	if out["body"] != "hello" || out["cached"] != false {
		t.Errorf("result = %v", out)
	}

	res = f.Execute(context.Background(), fetchTask(srv.URL))
	if res.Kind != agent.Success || res.Value.(map[string]any)["cached"] != true {
		t.Fatalf("second fetch should hit the cache: %+v", res)
	}
	if hits.Load() != 1 {
		t.Errorf("server hits = %d, want 1", hits.Load())
	}
}

func TestWebFetch_StatusMapping(t *testing.T) {
	cases := []struct {
		status int
		want   agent.ResultKind
	}{
		{http.StatusInternalServerError, agent.Retryable},
		{http.StatusTooManyRequests, agent.Retryable},
		{http.StatusNotFound, agent.Terminal},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		res := localFetch(srv, nil).Execute(context.Background(), fetchTask(srv.URL))
		srv.Close()
		if res.Kind != tc.want {
			t.Errorf("status %d: kind = %s, want %s", tc.status, res.Kind, tc.want)
		}
		if !errors.Is(res.Err, domain.ErrExecution) {
			t.Errorf("status %d: err = %v, want ExecutionError", tc.status, res.Err)
		}
	}
}

func TestWebFetch_InvalidInput(t *testing.T) {
	f := NewWebFetch(WebFetchConfig{AllowedDomains: []string{"example.com"}}, nil, nil)
	cases := map[string]*task.Task{
		"missing url":  task.New("web_fetch", nil, 5, task.Options{}),
		"wrong scheme": fetchTask("ftp://example.com/file"),
		"not allowed":  fetchTask("https://evil.test/"),
	}
	for name, tk := range cases {
		if res := f.Execute(context.Background(), tk); res.Kind != agent.Terminal {
			t.Errorf("%s: kind = %s, want terminal", name, res.Kind)
		}
	}
}

func TestWebFetch_SSRFBlocked(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()
	u, _ := url.Parse(srv.URL)
	f := NewWebFetch(WebFetchConfig{AllowedDomains: []string{u.Hostname()}}, nil, nil)
	res := f.Execute(context.Background(), fetchTask(srv.URL))
	if res.Kind != agent.Terminal {
		t.Fatalf("kind = %s, want terminal for loopback target", res.Kind)
	}
}

func TestIsDomainAllowed(t *testing.T) {
	allowed := []string{"Example.com", "*.docs.io"}
	if !IsDomainAllowed("example.com", allowed) {
		t.Error("exact match should be allowed")
	}
	if !IsDomainAllowed("api.docs.io", allowed) {
		t.Error("wildcard subdomain should be allowed")
	}
	if IsDomainAllowed("docs.io.evil.test", allowed) {
		t.Error("suffix trick must not be allowed")
	}
	if IsDomainAllowed("anything.com", nil) {
		t.Error("empty allowlist denies all")
	}
}

func TestIsPrivateIP(t *testing.T) {
	for _, s := range []string{"127.0.0.1", "10.1.2.3", "192.168.0.1", "172.20.0.1", "::1", "fd00::1", "169.254.1.1"} {
		if !IsPrivateIP(net.ParseIP(s)) {
			t.Errorf("%s should be private", s)
		}
	}
	for _, s := range []string{"8.8.8.8", "2001:4860:4860::8888"} {
		if IsPrivateIP(net.ParseIP(s)) {
			t.Errorf("%s should be public", s)
		}
	}
}

// --- Catalog ---

func TestCatalog(t *testing.T) {
	c := NewCatalog(NewWebFetch(WebFetchConfig{}, nil, nil))
	c.Register("upper", agent.ExecutorFunc(func(context.Context, *task.Task) agent.Result {
		return agent.Succeeded("UP")
	}))

	names := c.Names()
	if len(names) != 3 || names[0] != "echo" || names[1] != "upper" || names[2] != "web_fetch" {
		t.Fatalf("names = %v", names)
	}
	e, err := c.Get("upper")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if n, ok := e.(agent.Named); !ok || n.Name() != "upper" {
		t.Error("registered executor should carry its catalog name")
	}
	if _, err := c.Get("nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if e, err := c.Get(""); e != nil || err != nil {
		t.Errorf("empty name = (%v, %v)", e, err)
	}
}

func TestEcho(t *testing.T) {
	res := Echo{}.Execute(context.Background(), task.New("x", map[string]any{"k": "v"}, 1, task.Options{}))
	if res.Kind != agent.Success || res.Value.(map[string]any)["k"] != "v" {
		t.Errorf("result = %+v", res)
	}
}
