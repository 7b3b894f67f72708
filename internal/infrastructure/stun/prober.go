package stun

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"meshpad/internal/core/domain"
	"meshpad/internal/core/services"

	"github.com/pion/stun"
	"go.uber.org/zap"
)

const defaultProbeTimeout = 3 * time.Second

// Prober checks relay server reachability with a STUN binding request
// and reads the round trip off the XOR-MAPPED-ADDRESS response.
type Prober struct {
	timeout time.Duration
	logger  *zap.SugaredLogger
}

func NewProber(timeout time.Duration, logger *zap.SugaredLogger) *Prober {
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	return &Prober{timeout: timeout, logger: logger}
}

var _ services.RelayProber = (*Prober)(nil)

func (p *Prober) ProbeAll(ctx context.Context, urls []string) []domain.RelayProbe {
	results := make([]domain.RelayProbe, len(urls))

	var wg sync.WaitGroup
	for i, serverURL := range urls {
		wg.Add(1)
		go func(i int, serverURL string) {
			defer wg.Done()
			results[i] = p.Probe(ctx, serverURL)
		}(i, serverURL)
	}
	wg.Wait()

	return results
}

// Probe reports unreachable on any failure; the directory treats that
// as "no relay", never as an error.
func (p *Prober) Probe(ctx context.Context, serverURL string) domain.RelayProbe {
	probe := domain.RelayProbe{URL: serverURL, ProbedAt: time.Now()}

	addr, err := parseServerAddr(serverURL)
	if err != nil {
		p.logger.Warnw("bad relay server url", "url", serverURL, "error", err)
		return probe
	}

	dialer := net.Dialer{Timeout: p.timeout}
	conn, err := dialer.DialContext(ctx, "udp4", addr)
	if err != nil {
		p.logger.Debugw("relay server unreachable", "url", serverURL, "error", err)
		return probe
	}

	client, err := stun.NewClient(conn, stun.WithRTO(p.timeout))
	if err != nil {
		conn.Close()
		p.logger.Debugw("stun client setup failed", "url", serverURL, "error", err)
		return probe
	}
	defer client.Close()

	request := stun.MustBuild(stun.TransactionID, stun.BindingRequest)

	var (
		mapped   stun.XORMappedAddress
		rtt      time.Duration
		probeErr error
	)
	started := time.Now()
	err = client.Do(request, func(event stun.Event) {
		if event.Error != nil {
			probeErr = event.Error
			return
		}
		if err := mapped.GetFrom(event.Message); err != nil {
			probeErr = err
			return
		}
		rtt = time.Since(started)
	})
	if err != nil || probeErr != nil {
		p.logger.Debugw("stun binding failed",
			"url", serverURL,
			"error", err,
			"probe_error", probeErr,
		)
		return probe
	}

	probe.Reachable = true
	probe.RTT = rtt
	p.logger.Debugw("relay server reachable",
		"url", serverURL,
		"rtt", rtt,
		"mapped_address", mapped.String(),
	)
	return probe
}

// parseServerAddr strips ICE URL dressing down to a dialable host:port,
// defaulting the port to 3478.
func parseServerAddr(rawURL string) (string, error) {
	addr := rawURL
	for _, scheme := range []string{"stuns:", "stun:", "turns:", "turn:"} {
		if strings.HasPrefix(addr, scheme) {
			addr = strings.TrimPrefix(addr, scheme)
			break
		}
	}
	if i := strings.IndexByte(addr, '?'); i >= 0 {
		addr = addr[:i]
	}
	addr = strings.Trim(addr, "/")
	if addr == "" {
		return "", fmt.Errorf("no host in relay url %q", rawURL)
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(strings.Trim(addr, "[]"), "3478")
	}
	return addr, nil
}
