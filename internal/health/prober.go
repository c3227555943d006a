package health

import (
	"context"
	"net/http"
	"time"
)

const (
	// ProbeTimeout is the hard cancellation deadline for one probe.
	ProbeTimeout = 8 * time.Second

	probeUserAgent = "ndle-health-probe/1.0"
)

// Prober issues HEAD probes against link destinations. Redirects are not
// followed so 3xx responses can be inspected for loops.
type Prober struct {
	client   *http.Client
	selfHost string
}

// NewProber builds a prober. selfHost is the short domain used to detect
// self-referential redirects. A nil client gets a non-following default.
func NewProber(client *http.Client, selfHost string) *Prober {
	if client == nil {
		client = &http.Client{}
	}
	// Copy so the redirect policy does not leak into a shared client.
	c := *client
	c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &Prober{client: &c, selfHost: selfHost}
}

// Probe HEADs the destination and classifies the outcome. It never returns
// an error: failures classify into an unhealthy status.
func (p *Prober) Probe(ctx context.Context, destination string) ProbeResult {
	ctx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()

	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, destination, nil)
	if err != nil {
		return Classify(nil, 0, err, p.selfHost)
	}
	req.Header.Set("User-Agent", probeUserAgent)

	resp, err := p.client.Do(req)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		return Classify(nil, elapsed, err, p.selfHost)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	return Classify(&Response{
		StatusCode: resp.StatusCode,
		Location:   resp.Header.Get("Location"),
	}, elapsed, nil, p.selfHost)
}
