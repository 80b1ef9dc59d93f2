package connectivity

import (
	"context"
	"net/http"
	"time"

	"github.com/RMMwalali/kraftbasic-sub001/internal/logging"
)

// Prober polls a health endpoint and feeds the result into a Monitor.
type Prober struct {
	monitor  *Monitor
	url      string
	interval time.Duration
	client   *http.Client
}

// NewProber creates a prober for url. timeout bounds each request.
func NewProber(m *Monitor, url string, interval, timeout time.Duration) *Prober {
	return &Prober{
		monitor:  m,
		url:      url,
		interval: interval,
		client:   &http.Client{Timeout: timeout},
	}
}

// Probe performs one health check and updates the monitor. Any response
// below 500 counts as reachable.
func (p *Prober) Probe(ctx context.Context) bool {
	online := p.check(ctx)
	p.monitor.SetOnline(online)
	return online
}

func (p *Prober) check(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		logging.Warn("invalid health url", logging.Fields{"url": p.url, "error": err.Error()})
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		logging.Debug("health probe failed", logging.Fields{"url": p.url, "error": err.Error()})
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}

// Run probes immediately and then every interval until ctx is done.
func (p *Prober) Run(ctx context.Context) {
	p.Probe(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Probe(ctx)
		}
	}
}
