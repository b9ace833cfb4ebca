package connectivity

import (
	"fmt"
	"strings"
	"time"

	"guidesync/internal/config"
	"guidesync/internal/guide"
)

const (
	defaultInterval = 30 * time.Second
	probeTimeout    = 5 * time.Second
)

// NewMonitorFromConfig creates a Monitor based on the connectivity config
// type. The returned stop function halts any background probing; callers
// must invoke it on shutdown.
func NewMonitorFromConfig(cfg config.ConnectivityConfig, serverBaseURL string, logger guide.Logger) (guide.Monitor, func(), error) {
	switch cfg.Type {
	case "probe", "":
		url := cfg.ProbeURL
		if url == "" {
			if serverBaseURL == "" {
				return nil, nil, fmt.Errorf("probe connectivity requires probe_url or server.base_url")
			}
			url = strings.TrimSuffix(serverBaseURL, "/") + "/health"
		}
		interval := defaultInterval
		if cfg.IntervalSeconds > 0 {
			interval = time.Duration(cfg.IntervalSeconds) * time.Second
		}
		p := NewProber(url, interval, probeTimeout, logger)
		p.Start()
		return p, p.Stop, nil
	case "manual":
		return NewManual(true), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown connectivity type: %s", cfg.Type)
	}
}
