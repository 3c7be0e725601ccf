package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/jkaninda/hive/internal/agent"
	"github.com/jkaninda/hive/internal/domain"
	"github.com/jkaninda/hive/internal/task"
)

const (
	defaultMaxResponseBytes = 5 << 20 // 5 MB
	defaultFetchTimeout     = 10 * time.Second
	maxRedirects            = 5
)

// WebFetchConfig restricts the web_fetch executor.
type WebFetchConfig struct {
	AllowedDomains       []string      // Empty = deny all.
	MaxResponseBytes     int64         // Default: 5 MB.
	Timeout              time.Duration // Default: 10s.
	AllowPrivateNetworks bool          // Skip the SSRF resolution check. Local development only.
	UserAgent            string        // Default: "hive/1.0".
}

// Cache is the keyed lookup web_fetch consults before fetching.
// memory.Store implements it.
type Cache interface {
	Recall(key string) (string, bool)
	Remember(key, text string)
}

// WebFetch fetches details["url"] with GET. A body fetched within the
// cache TTL is served from the cache.
type WebFetch struct {
	config WebFetchConfig
	cache  Cache
	client *http.Client
	logger *slog.Logger
}

var (
	_ agent.Executor = (*WebFetch)(nil)
	_ agent.Named    = (*WebFetch)(nil)
)

// NewWebFetch creates the executor. cache may be nil.
func NewWebFetch(cfg WebFetchConfig, cache Cache, logger *slog.Logger) *WebFetch {
	w := &WebFetch{config: cfg, cache: cache, logger: discardIfNil(logger)}
	w.client = &http.Client{CheckRedirect: w.checkRedirect}
	return w
}

func (w *WebFetch) Name() string { return "web_fetch" }

func (w *WebFetch) Execute(ctx context.Context, t *task.Task) agent.Result {
	rawURL, err := requireString(t.Details(), "url")
	if err != nil {
		return agent.Fail(err)
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return agent.Fail(fmt.Errorf("invalid URL %q: %w", rawURL, err))
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return agent.Fail(fmt.Errorf("only http/https schemes allowed, got %q", parsed.Scheme))
	}
	if !IsDomainAllowed(parsed.Hostname(), w.config.AllowedDomains) {
		return agent.Fail(fmt.Errorf("domain %q is not in the allowlist", parsed.Hostname()))
	}

	if w.cache != nil {
		if body, ok := w.cache.Recall(rawURL); ok {
			w.logger.DebugContext(ctx, "web_fetch served from cache", slog.String("url", rawURL))
			return agent.Succeeded(map[string]any{"url": rawURL, "body": body, "cached": true})
		}
	}

	if !w.config.AllowPrivateNetworks {
		if err := CheckSSRF(parsed.Hostname()); err != nil {
			return agent.Fail(err)
		}
	}

	timeout := w.config.Timeout
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return agent.Fail(fmt.Errorf("creating request: %w", err))
	}
	ua := w.config.UserAgent
	if ua == "" {
		ua = "hive/1.0"
	}
	req.Header.Set("User-Agent", ua)

	w.logger.InfoContext(ctx, "web_fetch executing",
		slog.String("task_id", t.ID()),
		slog.String("url", rawURL),
	)

	resp, err := w.client.Do(req)
	if err != nil {
		return agent.Retry(fmt.Errorf("HTTP request failed: %w", err))
	}
	defer resp.Body.Close()

	maxBytes := w.config.MaxResponseBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxResponseBytes
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return agent.Retry(fmt.Errorf("reading response: %w", err))
	}
	truncated := false
	if int64(len(body)) > maxBytes {
		body = body[:maxBytes]
		truncated = true
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return agent.Retry(domain.NewExecutionError("fetch %s: status %d", rawURL, resp.StatusCode))
	case resp.StatusCode >= 400:
		return agent.Fail(domain.NewExecutionError("fetch %s: status %d", rawURL, resp.StatusCode))
	}

	if w.cache != nil && !truncated {
		w.cache.Remember(rawURL, string(body))
	}
	return agent.Succeeded(map[string]any{
		"url":         resp.Request.URL.String(),
		"status_code": resp.StatusCode,
		"body":        string(body),
		"truncated":   truncated,
		"cached":      false,
	})
}

// checkRedirect applies the allowlist and SSRF check to every hop.
func (w *WebFetch) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("too many redirects (max %d)", maxRedirects)
	}
	host := req.URL.Hostname()
	if !IsDomainAllowed(host, w.config.AllowedDomains) {
		return fmt.Errorf("redirect to disallowed domain %q blocked", host)
	}
	if w.config.AllowPrivateNetworks {
		return nil
	}
	return CheckSSRF(host)
}

var errMissingParam = errors.New("missing required parameter")

func requireString(params map[string]any, key string) (string, error) {
	v, ok := params[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", errMissingParam, key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("parameter %s must be a string, got %T", key, v)
	}
	if s == "" {
		return "", fmt.Errorf("parameter %s must not be empty", key)
	}
	return s, nil
}
