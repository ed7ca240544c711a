// Package platforms contains the concrete matcher implementations and
// their registry.
package platforms

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/franz/onetagger/internal/tagger"
	"github.com/franz/onetagger/internal/util"
)

const userAgent = "OneTagger/1.0 (+https://github.com/franz/onetagger)"

// rateLimiter spaces requests by a minimum interval. Shared by all
// workers of a platform, so it serializes with a mutex.
type rateLimiter struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
}

func newRateLimiter(requestsPerMinute int) *rateLimiter {
	if requestsPerMinute <= 0 {
		return &rateLimiter{}
	}
	return &rateLimiter{interval: time.Minute / time.Duration(requestsPerMinute)}
}

func (r *rateLimiter) wait() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.interval == 0 {
		return
	}
	if wait := r.interval - time.Since(r.last); wait > 0 {
		util.DebugLog("Rate limit delay: %v", wait)
		time.Sleep(wait)
	}
	r.last = time.Now()
}

// httpClient wraps resty with the shared rate-limit and 429 handling
// every provider needs.
type httpClient struct {
	client  *resty.Client
	limiter *rateLimiter
}

func newHTTPClient(baseURL string, requestsPerMinute int) *httpClient {
	return &httpClient{
		client: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(tagger.RequestTimeout).
			SetHeader("User-Agent", userAgent),
		limiter: newRateLimiter(requestsPerMinute),
	}
}

// get performs a rate-limited GET. On 429 it honors Retry-After (default
// 5 s) and retries the same request until the match-call deadline.
func (c *httpClient) get(path string, query map[string]string, out interface{}) error {
	deadline := time.Now().Add(tagger.MatchDeadline)
	for {
		c.limiter.wait()

		req := c.client.R().SetQueryParams(query)
		if out != nil {
			req.SetResult(out)
		}
		resp, err := req.Get(path)
		if err != nil {
			return &tagger.TransportError{Transient: true, Err: err}
		}

		switch {
		case resp.StatusCode() == 429:
			retryAfter := tagger.DefaultRateRetry
			if header := resp.Header().Get("Retry-After"); header != "" {
				if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
					retryAfter = time.Duration(secs) * time.Second
				}
			}
			if time.Now().Add(retryAfter).After(deadline) {
				return &tagger.RateLimitedError{RetryAfter: retryAfter}
			}
			util.DebugLog("429 from %s, sleeping %v", path, retryAfter)
			time.Sleep(retryAfter)
			continue

		case resp.StatusCode() == 401 || resp.StatusCode() == 403:
			return &tagger.TransportError{Transient: false,
				Err: fmt.Errorf("status %d: %s", resp.StatusCode(), resp.Status())}

		case resp.StatusCode() >= 500:
			return &tagger.TransportError{Transient: true,
				Err: fmt.Errorf("status %d: %s", resp.StatusCode(), resp.Status())}

		case resp.StatusCode() != 200:
			return &tagger.TransportError{Transient: false,
				Err: fmt.Errorf("status %d: %s", resp.StatusCode(), resp.Status())}
		}
		return nil
	}
}

// getBytes performs a rate-limited GET returning the raw body
func (c *httpClient) getBytes(path string, query map[string]string) ([]byte, error) {
	deadline := time.Now().Add(tagger.MatchDeadline)
	for {
		c.limiter.wait()
		resp, err := c.client.R().SetQueryParams(query).Get(path)
		if err != nil {
			return nil, &tagger.TransportError{Transient: true, Err: err}
		}
		if resp.StatusCode() == 429 {
			retryAfter := tagger.DefaultRateRetry
			if header := resp.Header().Get("Retry-After"); header != "" {
				if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
					retryAfter = time.Duration(secs) * time.Second
				}
			}
			if time.Now().Add(retryAfter).After(deadline) {
				return nil, &tagger.RateLimitedError{RetryAfter: retryAfter}
			}
			time.Sleep(retryAfter)
			continue
		}
		if resp.StatusCode() != 200 {
			return nil, &tagger.TransportError{Transient: resp.StatusCode() >= 500,
				Err: fmt.Errorf("status %d: %s", resp.StatusCode(), resp.Status())}
		}
		return resp.Body(), nil
	}
}
