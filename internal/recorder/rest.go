package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// hostLimiter keeps one token bucket per REST host.
type hostLimiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	rps      float64
	burst    int
}

func newHostLimiter(rps float64, burst int) *hostLimiter {
	return &hostLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rps,
		burst:    burst,
	}
}

func (l *hostLimiter) get(host string) *rate.Limiter {
	l.mu.RLock()
	limiter, ok := l.limiters[host]
	l.mu.RUnlock()
	if ok {
		return limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if limiter, ok := l.limiters[host]; ok {
		return limiter
	}
	limiter = rate.NewLimiter(rate.Limit(l.rps), l.burst)
	l.limiters[host] = limiter
	return limiter
}

// Wait blocks until the host's bucket yields a token or ctx ends.
func (l *hostLimiter) Wait(ctx context.Context, host string) error {
	return l.get(host).Wait(ctx)
}

// newBreaker trips on three consecutive failures, or a >5% failure
// rate once twenty requests have been counted.
func newBreaker(name string) *gobreaker.CircuitBreaker {
	st := gobreaker.Settings{Name: name}
	st.Interval = 60 * time.Second
	st.Timeout = 60 * time.Second
	st.ReadyToTrip = func(counts gobreaker.Counts) bool {
		if counts.ConsecutiveFailures >= 3 {
			return true
		}
		total := counts.Requests
		if total < 20 {
			return false
		}
		return float64(counts.TotalFailures)/float64(total) > 0.05
	}
	return gobreaker.NewCircuitBreaker(st)
}

// restClient wraps the depth and open-interest endpoints behind the
// limiter and the breaker.
type restClient struct {
	base    string
	client  *http.Client
	limiter *hostLimiter
	breaker *gobreaker.CircuitBreaker
}

func newRESTClient(base string, rps float64, burst int) *restClient {
	return &restClient{
		base:    base,
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: newHostLimiter(rps, burst),
		breaker: newBreaker("rest"),
	}
}

func (c *restClient) host() string {
	u, err := url.Parse(c.base)
	if err != nil {
		return c.base
	}
	return u.Host
}

func (c *restClient) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	if err := c.limiter.Wait(ctx, c.host()); err != nil {
		return err
	}
	_, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+endpoint, nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("GET %s: status %d", endpoint, resp.StatusCode)
		}
		return nil, json.NewDecoder(resp.Body).Decode(out)
	})
	return err
}

// depth returns the summed bid and ask quantity over the top levels.
func (c *restClient) depth(ctx context.Context, symbol string, limit int) (bidQty, askQty float64, err error) {
	var out struct {
		Bids [][]json.RawMessage `json:"bids"`
		Asks [][]json.RawMessage `json:"asks"`
	}
	endpoint := fmt.Sprintf("/fapi/v1/depth?symbol=%s&limit=%d", symbol, limit)
	if err := c.getJSON(ctx, endpoint, &out); err != nil {
		return 0, 0, fmt.Errorf("fetch depth %s: %w", symbol, err)
	}
	return sumLevelQty(out.Bids), sumLevelQty(out.Asks), nil
}

func sumLevelQty(levels [][]json.RawMessage) float64 {
	total := 0.0
	for _, level := range levels {
		if len(level) < 2 {
			continue
		}
		if q, ok := parseNum(level[1]); ok && q > 0 {
			total += q
		}
	}
	return total
}

// openInterest returns the outstanding contract quantity.
func (c *restClient) openInterest(ctx context.Context, symbol string) (float64, error) {
	var out struct {
		OpenInterest json.RawMessage `json:"openInterest"`
	}
	endpoint := "/fapi/v1/openInterest?symbol=" + symbol
	if err := c.getJSON(ctx, endpoint, &out); err != nil {
		return 0, fmt.Errorf("fetch open interest %s: %w", symbol, err)
	}
	oi, ok := parseNum(out.OpenInterest)
	if !ok {
		return 0, fmt.Errorf("fetch open interest %s: bad value %q", symbol, out.OpenInterest)
	}
	return oi, nil
}
