package services

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Pinger greets a storage server. *bridge.Bridge implements it.
type Pinger interface {
	Ping(ctx context.Context) (string, error)
	Address() string
}

// Status is the result of one greeting attempt.
type Status struct {
	Server    string        `json:"server"`
	Reachable bool          `json:"reachable"`
	Banner    string        `json:"banner,omitempty"`
	Latency   time.Duration `json:"latency"`
	CheckedAt time.Time     `json:"checkedAt"`
	Err       error         `json:"-"`
	Error     string        `json:"error,omitempty"`
}

// ProbeOnce connects to the server, waits for its banner and quits.
func ProbeOnce(ctx context.Context, p Pinger) Status {
	start := time.Now()
	banner, err := p.Ping(ctx)
	st := Status{
		Server:    p.Address(),
		Reachable: err == nil,
		Banner:    banner,
		Latency:   time.Since(start),
		CheckedAt: start,
		Err:       err,
	}
	if err != nil {
		st.Error = err.Error()
	}
	return st
}

// Probe greets the server every interval and calls fn with the first status
// and with every status whose reachability differs from the previous one. It
// returns when ctx is done.
func Probe(ctx context.Context, p Pinger, interval time.Duration, fn func(Status)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last *Status
	for {
		st := ProbeOnce(ctx, p)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if last == nil || last.Reachable != st.Reachable {
			if st.Reachable {
				log.Infof("probe: %s is up (%s)", st.Server, st.Latency)
			} else {
				log.Warnf("probe: %s is down: %v", st.Server, st.Err)
			}
			fn(st)
		}
		last = &st

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Monitor keeps the last status reported by Probe, so readers do not have
// to greet the server themselves. The zero value is ready to use.
type Monitor struct {
	mu   sync.RWMutex
	last Status
	seen bool
}

// Record stores st. It has the signature Probe expects for its callback.
func (m *Monitor) Record(st Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = st
	m.seen = true
}

// Last returns the recorded status, and false if nothing was recorded yet.
func (m *Monitor) Last() (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last, m.seen
}
