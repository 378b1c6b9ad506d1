// Package loadgen drives a trace buffer with synthetic writers, one
// goroutine per lane, standing in for instrumented code running on every
// core.
package loadgen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/lanetrace/internal/cpuset"
	"github.com/roach88/lanetrace/internal/tracebuf"
)

// functions are the intercepted call names cycled through by the writers.
var functions = []string{
	"kmalloc",
	"kfree",
	"mutex_lock",
	"mutex_unlock",
	"copy_from_user",
	"copy_to_user",
}

// Config describes one load run.
type Config struct {
	// EventsPerLane is the number of writes attempted on every lane.
	EventsPerLane int
	// PayloadSize pads every payload to at least this many bytes.
	PayloadSize int
	// Pause is slept between writes; zero writes as fast as possible.
	Pause time.Duration
	// Pin binds each writer to the CPU matching its lane.
	Pin bool
}

// Result counts the writes of a run.
type Result struct {
	Attempted uint64 `json:"attempted"`
	Committed uint64 `json:"committed"`
	Dropped   uint64 `json:"dropped"`
}

// Run writes cfg.EventsPerLane events on every lane of buf concurrently and
// returns once every writer has finished or ctx is cancelled.
//
// Dropped writes are counted, not treated as errors. Run fails only when the
// buffer is closed under it.
func Run(ctx context.Context, buf *tracebuf.Buffer, cfg Config) (Result, error) {
	var attempted, committed, dropped atomic.Uint64

	g, ctx := errgroup.WithContext(ctx)
	for id := 0; id < buf.Lanes(); id++ {
		g.Go(func() error {
			if cfg.Pin {
				unpin, err := cpuset.Pin(id)
				defer unpin()
				if err != nil {
					slog.Debug("writer not pinned", "lane", id, "error", err)
				}
			}

			for seq := 0; seq < cfg.EventsPerLane; seq++ {
				if ctx.Err() != nil {
					return nil
				}
				attempted.Add(1)
				err := writeOne(buf, id, seq, cfg.PayloadSize)
				switch {
				case err == nil:
					committed.Add(1)
				case tracebuf.IsLoss(err):
					dropped.Add(1)
				default:
					return fmt.Errorf("lane %d: %w", id, err)
				}
				if cfg.Pause > 0 {
					time.Sleep(cfg.Pause)
				}
			}
			return nil
		})
	}

	err := g.Wait()
	res := Result{
		Attempted: attempted.Load(),
		Committed: committed.Load(),
		Dropped:   dropped.Load(),
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return res, err
	}
	return res, nil
}

// Payload renders the payload of write seq on lane id, padded with dots to
// at least size bytes.
func Payload(id, seq, size int) []byte {
	fn := functions[(id+seq)%len(functions)]
	p := fmt.Appendf(nil, "called_%s: lane=%d seq=%d", fn, id, seq)
	for len(p) < size {
		p = append(p, '.')
	}
	return p
}

// writeOne reserves, fills and commits one event.
func writeOne(buf *tracebuf.Buffer, id, seq, size int) error {
	p := Payload(id, seq, size)
	r, err := buf.Reserve(id, len(p))
	if err != nil {
		return err
	}
	copy(r.Bytes(), p)
	r.Commit()
	return nil
}
