package health

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func pass(context.Context) error { return nil }

func fail(msg string) CheckFunc {
	return func(context.Context) error { return errors.New(msg) }
}

// toggle is a check whose result the test flips between runs.
type toggle struct {
	mu  sync.Mutex
	err error
}

func (c *toggle) set(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

func (c *toggle) check(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func observeN(h *Health, name string, n int) {
	for _, p := range h.probes {
		if p.name != name {
			continue
		}
		for range n {
			h.observe(context.Background(), p)
		}
	}
}

func serve(t *testing.T, handler http.HandlerFunc) (int, report) {
	t.Helper()
	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var r report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &r), w.Body.String())
	return w.Code, r
}

func TestLiveEndpoint(t *testing.T) {
	tests := []struct {
		name       string
		runs       int
		wantCode   int
		wantChecks map[string]string
	}{
		{name: "not yet run", runs: 0, wantCode: http.StatusOK},
		{name: "below failure threshold", runs: 2, wantCode: http.StatusOK},
		{
			name:       "past failure threshold",
			runs:       3,
			wantCode:   http.StatusServiceUnavailable,
			wantChecks: map[string]string{"postgres": "connection refused"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New(nil)
			h.AddLivenessCheck("goroutines", time.Second, pass)
			h.AddLivenessCheck("postgres", time.Second, fail("connection refused"))
			observeN(h, "goroutines", tt.runs)
			observeN(h, "postgres", tt.runs)

			code, r := serve(t, h.LiveEndpoint)
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantChecks, r.Checks)
			if tt.wantCode == http.StatusOK {
				assert.Equal(t, "ok", r.Status)
			} else {
				assert.Equal(t, "unhealthy", r.Status)
			}
		})
	}
}

func TestLiveEndpoint_IgnoresReadinessProbes(t *testing.T) {
	h := New(nil)
	h.AddReadinessCheck("kafka", time.Second, fail("no brokers"))
	observeN(h, "kafka", 3)

	code, _ := serve(t, h.LiveEndpoint)
	assert.Equal(t, http.StatusOK, code)
}

func TestReadyEndpoint(t *testing.T) {
	t.Run("not ready until switched on", func(t *testing.T) {
		h := New(nil)
		h.AddReadinessCheck("postgres", time.Second, pass)

		code, r := serve(t, h.ReadyEndpoint)
		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Equal(t, map[string]string{"_readiness": "service is not ready"}, r.Checks)

		h.SetReady(true)
		code, r = serve(t, h.ReadyEndpoint)
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "ok", r.Status)

		h.SetReady(false)
		code, _ = serve(t, h.ReadyEndpoint)
		assert.Equal(t, http.StatusServiceUnavailable, code)
	})

	t.Run("reports only the failing probe", func(t *testing.T) {
		h := New(nil)
		h.AddReadinessCheck("postgres", time.Second, pass)
		h.AddReadinessCheck("redis", time.Second, fail("i/o timeout"))
		h.SetReady(true)
		observeN(h, "postgres", 3)
		observeN(h, "redis", 3)

		code, r := serve(t, h.ReadyEndpoint)
		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Equal(t, map[string]string{"redis": "i/o timeout"}, r.Checks)
		assert.False(t, h.IsReady())
	})

	t.Run("no probes", func(t *testing.T) {
		h := New(nil)
		h.SetReady(true)

		code, _ := serve(t, h.ReadyEndpoint)
		assert.Equal(t, http.StatusOK, code)
		assert.True(t, h.IsReady())
	})
}

func TestThresholds(t *testing.T) {
	c := &toggle{err: errors.New("broker down")}
	h := New(nil)
	h.AddReadinessCheck("kafka", time.Second, c.check, Thresholds(5, 2))
	h.SetReady(true)

	observeN(h, "kafka", 4)
	assert.True(t, h.IsReady(), "four failures stay under a threshold of five")
	observeN(h, "kafka", 1)
	assert.False(t, h.IsReady())

	c.set(nil)
	observeN(h, "kafka", 1)
	assert.False(t, h.IsReady(), "one pass is not enough to recover")
	observeN(h, "kafka", 1)
	assert.True(t, h.IsReady())
}

func TestThresholds_IgnoresNonPositive(t *testing.T) {
	h := New(nil)
	h.AddLivenessCheck("x", time.Second, pass, Thresholds(0, -1))
	p := h.probes[0]
	assert.Equal(t, defaultFailAfter, p.failAfter)
	assert.Equal(t, defaultPassAfter, p.passAfter)
}

func TestObserve_LogsTransitions(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	c := &toggle{err: errors.New("pool closed")}
	h := New(zap.New(core))
	h.AddReadinessCheck("postgres", time.Second, c.check)

	observeN(h, "postgres", 5)
	failing := logs.FilterMessage("Health check failing").All()
	require.Len(t, failing, 1, "only the healthy to unhealthy edge is logged")
	fields := failing[0].ContextMap()
	assert.Equal(t, "postgres", fields["check"])
	assert.Equal(t, "readiness", fields["kind"])
	assert.Equal(t, int64(3), fields["consecutive_failures"])

	c.set(nil)
	observeN(h, "postgres", 2)
	assert.Equal(t, 1, logs.FilterMessage("Health check recovered").Len())
}

func TestObserve_AppliesTimeout(t *testing.T) {
	h := New(nil)
	h.AddLivenessCheck("slow", 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, Thresholds(1, 1))

	observeN(h, "slow", 1)
	code, r := serve(t, h.LiveEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, context.DeadlineExceeded.Error(), r.Checks["slow"])
}

func TestStartStop(t *testing.T) {
	c := &toggle{err: errors.New("down")}
	h := New(nil)
	h.AddReadinessCheck("postgres", time.Second, c.check, Thresholds(1, 1))
	h.SetReady(true)

	h.Start(context.Background(), 5*time.Millisecond)
	assert.Eventually(t, func() bool { return !h.IsReady() }, time.Second, 5*time.Millisecond)

	c.set(nil)
	assert.Eventually(t, h.IsReady, time.Second, 5*time.Millisecond)

	h.Stop()
	h.Stop()
}

func TestConcurrentAccess(t *testing.T) {
	h := New(nil)
	h.AddLivenessCheck("goroutines", time.Second, fail("err"))
	h.AddReadinessCheck("postgres", time.Second, pass)
	h.SetReady(true)
	h.Start(context.Background(), time.Millisecond)
	defer h.Stop()

	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			for range 100 {
				h.IsReady()
				h.LiveEndpoint(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/livez", nil))
				h.ReadyEndpoint(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/readyz", nil))
			}
		})
	}
	wg.Wait()
}

func TestReport_ChecksSorted(t *testing.T) {
	h := New(nil)
	h.AddLivenessCheck("zeta", time.Second, fail("z down"))
	h.AddLivenessCheck("alpha", time.Second, fail("a down"))
	observeN(h, "zeta", 3)
	observeN(h, "alpha", 3)

	w := httptest.NewRecorder()
	h.LiveEndpoint(w, httptest.NewRequest(http.MethodGet, "/livez", nil))
	assert.Equal(t, `{"status":"unhealthy","checks":{"alpha":"a down","zeta":"z down"}}`, w.Body.String())
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "liveness", Liveness.String())
	assert.Equal(t, "readiness", Readiness.String())
	assert.Equal(t, "unknown", Kind(0).String())
}

func TestGoroutineCountCheck(t *testing.T) {
	assert.NoError(t, GoroutineCountCheck(100000)(context.Background()))

	err := GoroutineCountCheck(0)(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds threshold")
}

func TestGCMaxPauseCheck(t *testing.T) {
	assert.NoError(t, GCMaxPauseCheck(time.Hour)(context.Background()))

	check := GCMaxPauseCheck(0)
	_ = check(context.Background())
	runtime.GC()
	assert.Error(t, check(context.Background()), "the forced collection paused longer than zero")
}

func TestPingCheck(t *testing.T) {
	p := pinger{err: errors.New("closed pool")}
	assert.EqualError(t, PingCheck(p)(context.Background()), "closed pool")
	assert.NoError(t, PingCheck(pinger{})(context.Background()))
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestDialCheck(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	assert.NoError(t, DialCheck("127.0.0.1:1", ln.Addr().String())(ctx))
	assert.Error(t, DialCheck()(ctx))
}
