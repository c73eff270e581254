// Package probe compiles, plans and runs a single SQL statement against
// registered Parquet relations and exposes every intermediate artifact:
// the logical plan, the optimized logical plan, the physical plan, the
// EXPLAIN ANALYZE output and the collected result.
package probe

import (
	"context"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"

	"github.com/grafana/planprobe/pkg/engine"
	"github.com/grafana/planprobe/pkg/engine/options"
	"github.com/grafana/planprobe/pkg/engine/source"
)

// SessionParams holds parameters for constructing a new [Session].
type SessionParams struct {
	Logger     log.Logger            // Logger for optional log messages.
	Registerer prometheus.Registerer // Registerer for optional engine metrics.

	FS        afero.Fs         // Filesystem relations are read from. Defaults to the OS filesystem.
	Allocator memory.Allocator // Allocator for result batches.

	// QueryTimeout bounds each execution. Zero means no timeout.
	QueryTimeout time.Duration
}

// Session owns an engine with its registered relations and options.
// Relations are registered once and never replaced, so a Session may be
// read from multiple goroutines once registration is done.
type Session struct {
	logger  log.Logger
	engine  *engine.Engine
	opts    options.Options
	timeout time.Duration
}

// NewSession creates a session executing with opts.
func NewSession(params SessionParams, opts options.Options) (*Session, error) {
	if params.Logger == nil {
		params.Logger = log.NewNopLogger()
	}
	e, err := engine.New(engine.Params{
		Logger:     params.Logger,
		Registerer: params.Registerer,
		Options:    opts,
		FS:         params.FS,
		Allocator:  params.Allocator,
		Prefetch:   true,
	})
	if err != nil {
		return nil, configError(err)
	}
	return &Session{
		logger:  params.Logger,
		engine:  e,
		opts:    opts,
		timeout: params.QueryTimeout,
	}, nil
}

// Register binds name to the Parquet file at uri. The file's footer, page
// index and statistics are read once here. Errors are
// [*RegistrationError] values; a failed registration leaves existing
// bindings untouched.
func (s *Session) Register(ctx context.Context, name, uri string) error {
	if err := s.engine.RegisterParquet(ctx, name, uri); err != nil {
		return registrationError(name, uri, err)
	}
	return nil
}

// Relation returns the relation bound to name.
func (s *Session) Relation(name string) (*source.Relation, error) {
	return s.engine.Relation(name)
}

// Tables returns the sorted names of all registered relations.
func (s *Session) Tables() []string { return s.engine.Tables() }

// Options returns the execution options of the session.
func (s *Session) Options() options.Options { return s.opts }

// Close releases all registered relations.
func (s *Session) Close() error {
	err := s.engine.Close()
	if err != nil {
		level.Warn(s.logger).Log("msg", "failed to close session", "err", err)
	}
	return err
}

// withTimeout derives the context of a single execution.
func (s *Session) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}
