// Package health exposes liveness and readiness probes backed by periodic
// background checks.
//
// A probe flips to unhealthy only after failAfter consecutive failures and
// back to healthy after passAfter consecutive passes, so a single slow ping
// to Postgres or the broker does not pull the pod out of rotation.
package health

import (
	"context"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
	"go.uber.org/zap"
)

// CheckFunc reports a dependency problem as a non-nil error.
type CheckFunc func(ctx context.Context) error

// Kind selects the endpoint a probe contributes to.
type Kind uint8

const (
	Liveness Kind = iota + 1
	Readiness
)

func (k Kind) String() string {
	switch k {
	case Liveness:
		return "liveness"
	case Readiness:
		return "readiness"
	default:
		return "unknown"
	}
}

const (
	defaultFailAfter = 3
	defaultPassAfter = 1
)

// Option tunes a single probe.
type Option func(*probe)

// Thresholds overrides how many consecutive failures mark a probe unhealthy
// and how many passes bring it back. Values below one are ignored.
func Thresholds(failAfter, passAfter int) Option {
	return func(p *probe) {
		if failAfter > 0 {
			p.failAfter = failAfter
		}
		if passAfter > 0 {
			p.passAfter = passAfter
		}
	}
}

type probeState struct {
	healthy bool
	err     error
}

type probe struct {
	name      string
	kind      Kind
	timeout   time.Duration
	check     CheckFunc
	failAfter int
	passAfter int

	state atomic.Pointer[probeState]

	// Owned by the single goroutine driving the probe.
	fails  int
	passes int
}

func (p *probe) current() probeState {
	return *p.state.Load()
}

// Health owns the registered probes and the manual readiness switch.
type Health struct {
	lg    *zap.Logger
	ready atomic.Bool

	mu     sync.RWMutex
	probes []*probe
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New returns a Health that is not ready until SetReady(true). A nil logger
// disables transition logging.
func New(lg *zap.Logger) *Health {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Health{lg: lg}
}

// Add registers a probe. Probes start healthy.
func (h *Health) Add(kind Kind, name string, timeout time.Duration, check CheckFunc, opts ...Option) {
	p := &probe{
		name:      name,
		kind:      kind,
		timeout:   timeout,
		check:     check,
		failAfter: defaultFailAfter,
		passAfter: defaultPassAfter,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.state.Store(&probeState{healthy: true})

	h.mu.Lock()
	h.probes = append(h.probes, p)
	h.mu.Unlock()
}

// AddLivenessCheck registers a probe for /livez.
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, check CheckFunc, opts ...Option) {
	h.Add(Liveness, name, timeout, check, opts...)
}

// AddReadinessCheck registers a probe for /readyz.
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, check CheckFunc, opts ...Option) {
	h.Add(Readiness, name, timeout, check, opts...)
}

// observe runs the check once. Calls for one probe must not overlap.
func (h *Health) observe(ctx context.Context, p *probe) {
	checkCtx, cancel := context.WithTimeout(ctx, p.timeout)
	err := p.check(checkCtx)
	cancel()

	prev := p.current()
	next := probeState{healthy: prev.healthy, err: err}
	if err != nil {
		p.passes = 0
		p.fails++
		if p.fails >= p.failAfter {
			next.healthy = false
		}
	} else {
		p.fails = 0
		p.passes++
		if p.passes >= p.passAfter {
			next.healthy = true
		}
	}
	p.state.Store(&next)

	switch {
	case prev.healthy && !next.healthy:
		h.lg.Warn("Health check failing",
			zap.String("check", p.name),
			zap.Stringer("kind", p.kind),
			zap.Int("consecutive_failures", p.fails),
			zap.Error(err),
		)
	case !prev.healthy && next.healthy:
		h.lg.Info("Health check recovered",
			zap.String("check", p.name),
			zap.Stringer("kind", p.kind),
		)
	}
}

// Start drives every registered probe in its own goroutine, running each
// immediately and then once per interval until Stop or ctx is done.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	probes := slices.Clone(h.probes)
	h.mu.Unlock()

	for _, p := range probes {
		h.wg.Go(func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			h.observe(ctx, p)
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					h.observe(ctx, p)
				}
			}
		})
	}
}

// Stop cancels the probe goroutines and waits for them. Repeated calls are
// harmless.
func (h *Health) Stop() {
	h.mu.Lock()
	cancel := h.cancel
	h.cancel = nil
	h.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	h.wg.Wait()
}

// SetReady flips the manual readiness switch. Shutdown sets it to false so
// the load balancer drains the instance before the server stops.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady is true when the switch is on and every readiness probe passes.
func (h *Health) IsReady() bool {
	return h.ready.Load() && len(h.failures(Readiness)) == 0
}

// failures maps each unhealthy probe of kind to its last error.
func (h *Health) failures(kind Kind) map[string]string {
	h.mu.RLock()
	probes := slices.Clone(h.probes)
	h.mu.RUnlock()

	out := make(map[string]string)
	for _, p := range probes {
		if p.kind != kind {
			continue
		}
		st := p.current()
		if st.healthy {
			continue
		}
		if st.err != nil {
			out[p.name] = st.err.Error()
		} else {
			out[p.name] = "check is unhealthy"
		}
	}
	return out
}

// LiveEndpoint serves /livez.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	writeReport(w, h.failures(Liveness))
}

// ReadyEndpoint serves /readyz. The manual switch is reported under
// "_readiness".
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	failures := h.failures(Readiness)
	if !h.ready.Load() {
		failures["_readiness"] = "service is not ready"
	}
	writeReport(w, failures)
}

// report is the probe response body.
type report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Encode writes the report with checks in name order.
func (r report) Encode(e *jx.Encoder) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("status", func(e *jx.Encoder) { e.Str(r.Status) })
		if len(r.Checks) == 0 {
			return
		}
		names := make([]string, 0, len(r.Checks))
		for name := range r.Checks {
			names = append(names, name)
		}
		slices.Sort(names)
		e.Field("checks", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				for _, name := range names {
					e.Field(name, func(e *jx.Encoder) { e.Str(r.Checks[name]) })
				}
			})
		})
	})
}

func writeReport(w http.ResponseWriter, failures map[string]string) {
	r := report{Status: "ok"}
	code := http.StatusOK
	if len(failures) > 0 {
		r = report{Status: "unhealthy", Checks: failures}
		code = http.StatusServiceUnavailable
	}

	var e jx.Encoder
	r.Encode(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = e.WriteTo(w)
}
