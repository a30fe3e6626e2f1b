package plugin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// maxResponseBytes caps provider response bodies so a misbehaving feed cannot
// exhaust memory.
const maxResponseBytes = 16 << 20

func cfgString(cfg map[string]any, key string) string {
	if cfg == nil {
		return ""
	}
	s, _ := cfg[key].(string)
	return s
}

func cfgInt(cfg map[string]any, key string, def int) int {
	if cfg == nil {
		return def
	}
	switch v := cfg[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// requireFields checks the presence of required string config keys and
// returns validation warnings for the missing ones.
func requireFields(cfg map[string]any, keys ...string) (bool, []string) {
	var warnings []string
	for _, k := range keys {
		if cfgString(cfg, k) == "" {
			warnings = append(warnings, fmt.Sprintf("%s is required", k))
		}
	}
	return len(warnings) == 0, warnings
}

// httpGet performs a GET against a provider endpoint and classifies the
// failure modes into the package error taxonomy. The caller owns the body.
func httpGet(ctx context.Context, client *http.Client, url string, decorate func(*http.Request)) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, UnknownError("build request", err)
	}
	if decorate != nil {
		decorate(req)
	}

	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, TimeoutError("request deadline exceeded", err)
		}
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, NetworkError("request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, AuthError(fmt.Sprintf("provider returned %s", resp.Status))
	case resp.StatusCode == http.StatusNotFound:
		return nil, NotFoundError("provider returned 404")
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, RateLimitedError("provider returned 429", retryAfter(resp))
	case resp.StatusCode >= 400:
		return nil, UnknownError(fmt.Sprintf("provider returned %s", resp.Status), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, NetworkError("read response body", err)
	}
	return body, nil
}

// retryAfter reads the Retry-After header as a delay in seconds.
func retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}

func floatPtr(v float64) *float64 { return &v }
