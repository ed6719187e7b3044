package autopilot

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/pretyflaco/openagents-sub005/pkg/appserver"
)

// AppServerProber probes local app-server availability via a real
// spawn/shutdown cycle, rate-limited so a burst of dispatch calls cannot
// fork a new subprocess on every request.
type AppServerProber struct {
	discovery appserver.BinaryDiscovery
	limiter   *rate.Limiter
	timeout   time.Duration

	lastMu   chan struct{}
	lastOnce LocalCodexProbe
}

// NewAppServerProber returns a Prober allowing at most one spawn/shutdown
// cycle per interval; calls within the interval replay the last result.
func NewAppServerProber(discovery appserver.BinaryDiscovery, interval time.Duration, timeout time.Duration) *AppServerProber {
	return &AppServerProber{
		discovery: discovery,
		limiter:   rate.NewLimiter(rate.Every(interval), 1),
		timeout:   timeout,
		lastMu:    make(chan struct{}, 1),
	}
}

// Probe forks the discovered binary in scratchDir and immediately shuts
// it down, reporting availability/health from the outcome.
func (p *AppServerProber) Probe(ctx context.Context, scratchDir string) LocalCodexProbe {
	if !p.limiter.Allow() {
		p.lastMu <- struct{}{}
		last := p.lastOnce
		<-p.lastMu
		return last
	}

	probe := p.probeNow(ctx, scratchDir)

	p.lastMu <- struct{}{}
	p.lastOnce = probe
	<-p.lastMu

	return probe
}

func (p *AppServerProber) probeNow(ctx context.Context, scratchDir string) LocalCodexProbe {
	bin, err := appserver.DiscoverBinary(p.discovery)
	if err != nil {
		return LocalCodexProbe{Available: false, Healthy: false, Reason: "spawn_failed:" + err.Error()}
	}

	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	client, err := appserver.Spawn(appserver.Config{
		Binary:           bin,
		WorkingDirectory: scratchDir,
		NotificationBuf:  1,
		ServerRequestBuf: 1,
	}, nil)
	if err != nil {
		return LocalCodexProbe{Available: true, Healthy: false, Reason: fmt.Sprintf("spawn_failed:%s", err.Error())}
	}

	if err := client.Initialize(probeCtx, appserver.ClientInfo{Name: "openagentsd-probe", Version: "1.0.0"}); err != nil {
		_ = client.Shutdown()
		return LocalCodexProbe{Available: true, Healthy: false, Reason: fmt.Sprintf("spawn_failed:%s", err.Error())}
	}

	if err := client.Shutdown(); err != nil {
		return LocalCodexProbe{Available: true, Healthy: false, Reason: fmt.Sprintf("shutdown_failed:%s", err.Error())}
	}

	return LocalCodexProbe{Available: true, Healthy: true}
}
