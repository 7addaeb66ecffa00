package recovery

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Prober checks whether a previously failing resource is reachable again.
type Prober interface {
	Probe(ctx context.Context, url string) error
}

// HTTPProber issues a GET and treats any 2xx status as reachable.
type HTTPProber struct {
	Client *http.Client
}

// NewHTTPProber returns an HTTPProber with a bounded client timeout.
func NewHTTPProber() *HTTPProber {
	return &HTTPProber{Client: &http.Client{Timeout: 10 * time.Second}}
}

func (p *HTTPProber) Probe(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build probe request: %w", err)
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return fmt.Errorf("probe %s: %w", url, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("probe %s returned status %d", url, resp.StatusCode)
	}
	return nil
}
