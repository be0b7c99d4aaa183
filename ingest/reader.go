package ingest

import (
	"context"
	"io"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sysprov/pvm/errors"
	"github.com/sysprov/pvm/graph"
	"github.com/sysprov/pvm/sym"
)

// corruptLogRate bounds how often skipped records are logged. A heavily
// damaged stream would otherwise drown the log in per-record warnings.
var corruptLogRate = rate.Limit(2)

// Reader consumes a decoded event stream and applies each event to the
// graph store in strict arrival order. Events are never applied
// concurrently: out-of-order application would corrupt causal ordering.
type Reader struct {
	store   *graph.Store
	publish func(graph.Delta)
	log     *zap.SugaredLogger
	limiter *rate.Limiter
}

// NewReader creates a reader bound to a store. publish receives the delta
// of every applied event; the engine routes it to the view coordinator.
func NewReader(store *graph.Store, publish func(graph.Delta), log *zap.SugaredLogger) *Reader {
	if publish == nil {
		publish = func(graph.Delta) {}
	}
	return &Reader{
		store:   store,
		publish: publish,
		log:     log.Named("ingest"),
		limiter: rate.NewLimiter(corruptLogRate, 5),
	}
}

// Ingest drains the decoder, blocking until end of stream or a fatal
// error. Record-level corruption is skipped and counted; stream I/O
// failures abort this call only. Closing the underlying stream surfaces
// here as an ordinary fatal I/O error.
func (r *Reader) Ingest(ctx context.Context, dec Decoder) (Stats, error) {
	stats := Stats{Unhandled: make(map[string]uint64)}

	for {
		if err := ctx.Err(); err != nil {
			return stats, errors.Wrapf(errors.ErrStreamIO, "ingestion canceled: %v", err)
		}

		ev, err := dec.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if errors.Is(err, errors.ErrCorruptRecord) {
				stats.Corrupt++
				if r.limiter.Allow() {
					r.log.Warnw("Skipping corrupt record",
						"symbol", sym.Ingest,
						"error", err,
						"corrupt_total", stats.Corrupt,
					)
				}
				continue
			}
			return stats, errors.Wrapf(errors.ErrStreamIO, "reading stream: %v", err)
		}

		var handled bool
		var applyErr error
		delta := r.store.Mutate(ev.Time(), func(m *graph.Mutation) {
			handled, applyErr = ev.Apply(m)
		})

		switch {
		case applyErr != nil:
			// Malformed record content (missing fields): same recovery
			// path as a decode failure.
			stats.Corrupt++
			if r.limiter.Allow() {
				r.log.Warnw("Skipping malformed record",
					"symbol", sym.Ingest,
					"event", ev.Name(),
					"error", applyErr,
				)
			}
		case !handled:
			stats.Unhandled[ev.Name()]++
		default:
			stats.Applied++
		}

		if !delta.Empty() {
			r.publish(delta)
		}
	}

	if len(stats.Unhandled) > 0 {
		r.log.Infow("Stream contained unmapped record types",
			"symbol", sym.Ingest,
			"types", stats.Unhandled,
		)
	}
	r.log.Infow("Ingestion complete",
		"symbol", sym.Ingest,
		"applied", stats.Applied,
		"corrupt", stats.Corrupt,
	)
	return stats, nil
}
