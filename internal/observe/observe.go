// Package observe bundles structured logging and tracing behind one
// handle that the CLI threads through every component.
package observe

import (
	"context"
	"io"

	"github.com/felixgeelhaar/bolt/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("policyradar")

// Observer owns the process logger and the tracer. Quiet runs keep
// WARN and above so log lines do not interleave with the rendered
// event stream on the terminal.
type Observer struct {
	log *bolt.Logger
}

// New returns an Observer writing human-readable lines to out.
func New(out io.Writer, verbose bool) *Observer {
	return newObserver(bolt.New(bolt.NewConsoleHandler(out)), verbose)
}

// NewJSON returns an Observer emitting one JSON object per line, for
// piping into log collectors.
func NewJSON(out io.Writer, verbose bool) *Observer {
	return newObserver(bolt.New(bolt.NewJSONHandler(out)), verbose)
}

func newObserver(l *bolt.Logger, verbose bool) *Observer {
	if !verbose {
		l.SetLevel(bolt.WARN)
	}
	return &Observer{log: l}
}

// Log exposes the structured logger.
func (o *Observer) Log() *bolt.Logger {
	return o.log
}

// StartSpan opens a span on the process tracer; the returned context
// carries it for nested operations.
func (o *Observer) StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name)
}

// Close exists to keep shutdown symmetric with construction. Bolt
// writes synchronously, so there is nothing to flush yet.
func (o *Observer) Close() error {
	return nil
}
