package connectivity

import (
	"context"
	"log/slog"
	"net"
	"time"
)

// DefaultProbeInterval is used when Prober.Interval is zero.
const DefaultProbeInterval = 15 * time.Second

// Dialer is the subset of net.Dialer used by Prober.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Prober feeds a Monitor by periodically opening a TCP connection to Address.
// A successful dial counts as reachable.
type Prober struct {
	Address  string
	Interval time.Duration
	Timeout  time.Duration
	Dialer   Dialer
	Logger   *slog.Logger

	monitor *Monitor
}

// NewProber creates a prober for address feeding m.
func NewProber(address string, m *Monitor) *Prober {
	return &Prober{
		Address:  address,
		Interval: DefaultProbeInterval,
		Timeout:  5 * time.Second,
		Dialer:   &net.Dialer{},
		Logger:   slog.Default(),
		monitor:  m,
	}
}

// ProbeOnce dials once and reports the observation to the monitor.
func (p *Prober) ProbeOnce(ctx context.Context) bool {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := p.Dialer.DialContext(dctx, "tcp", p.Address)
	reachable := err == nil
	if conn != nil {
		conn.Close()
	}
	if err != nil {
		p.Logger.Debug("probe failed", "address", p.Address, "error", err)
	}
	p.monitor.Observe(reachable)
	return reachable
}

// Run probes immediately and then every Interval until ctx is cancelled.
func (p *Prober) Run(ctx context.Context) error {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultProbeInterval
	}

	p.ProbeOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.ProbeOnce(ctx)
		}
	}
}
