package health

import (
	"context"
	"net"
	"runtime"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
)

// GoroutineCountCheck fails when more than threshold goroutines are live,
// which usually means a leak.
func GoroutineCountCheck(threshold int) CheckFunc {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > threshold {
			return errors.Errorf("goroutine count %d exceeds threshold %d", n, threshold)
		}
		return nil
	}
}

// GCMaxPauseCheck fails when a stop-the-world pause since the previous run
// exceeded threshold. Older pauses are not reported again.
func GCMaxPauseCheck(threshold time.Duration) CheckFunc {
	var seen atomic.Int64
	return func(context.Context) error {
		var stats debug.GCStats
		debug.ReadGCStats(&stats)

		fresh := min(stats.NumGC-seen.Swap(stats.NumGC), int64(len(stats.Pause)))
		for _, pause := range stats.Pause[:fresh] {
			if pause > threshold {
				return errors.Errorf("GC pause %s exceeds threshold %s", pause, threshold)
			}
		}
		return nil
	}
}

// PingCheck adapts a Ping method, as found on pgxpool.Pool.
func PingCheck(p interface{ Ping(context.Context) error }) CheckFunc {
	return p.Ping
}

// DialCheck reports unhealthy when none of the addresses accept a TCP
// connection. It fits brokers that expose no ping of their own.
func DialCheck(addrs ...string) CheckFunc {
	return func(ctx context.Context) error {
		var (
			d       net.Dialer
			lastErr error
		)
		for _, addr := range addrs {
			conn, err := d.DialContext(ctx, "tcp", addr)
			if err != nil {
				lastErr = err
				continue
			}
			_ = conn.Close()
			return nil
		}
		if lastErr == nil {
			return errors.New("no addresses to dial")
		}
		return errors.Wrap(lastErr, "dial")
	}
}
