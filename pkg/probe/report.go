package probe

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// RunParams configures a single [Run].
type RunParams struct {
	Query string

	PreviewColumn         string
	PreviewMaxRows        int
	PreviewMaxValueLength int
}

// validate returns a [*ParseError] for an empty query and a [*ConfigError]
// for invalid preview bounds.
func (p *RunParams) validate() error {
	if p.Query == "" {
		return &ParseError{Err: errors.New("query is empty")}
	}
	if p.PreviewMaxRows < 0 {
		return &ConfigError{
			ErrKind: TypeMismatch,
			Option:  "preview.max_rows",
			Err:     fmt.Errorf("preview.max_rows must not be negative, got %d", p.PreviewMaxRows),
		}
	}
	return nil
}

// Report holds every artifact of a single run, in the order they are
// printed.
type Report struct {
	QueryID string
	Query   string

	Explain []ExplainRecord

	Elapsed       time.Duration
	TotalRows     int64
	PreviewColumn string
	Preview       []PreviewRow

	Logical   string
	Optimized string
	Physical  string
}

// Run produces the full report for params.Query. The EXPLAIN ANALYZE path
// and the compile and execute path run concurrently against s. On failure
// no report is produced and the error of the failed path is returned. When
// both paths fail, the EXPLAIN ANALYZE error is returned.
func Run(ctx context.Context, s *Session, params RunParams) (*Report, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}

	report := &Report{
		QueryID:       uuid.NewString(),
		Query:         params.Query,
		PreviewColumn: params.PreviewColumn,
	}
	rs := *s
	rs.logger = log.With(s.logger, "query_id", report.QueryID)
	level.Info(rs.logger).Log("msg", "starting run", "query", params.Query)

	var (
		g                    errgroup.Group
		explainErr, queryErr error
	)
	g.Go(func() error {
		report.Explain, explainErr = ExplainAnalyze(ctx, &rs, params.Query)
		return nil
	})
	g.Go(func() error {
		queryErr = runQuery(ctx, &rs, params, report)
		return nil
	})
	_ = g.Wait()

	if err := cmp.Or(explainErr, queryErr); err != nil {
		if perr, ok := err.(Error); ok {
			level.Warn(rs.logger).Log("msg", "run failed", "stage", perr.Stage(), "kind", perr.Kind(), "err", err)
		}
		return nil, err
	}

	level.Info(rs.logger).Log(
		"msg", "finished run",
		"rows", report.TotalRows,
		"duration", report.Elapsed.String(),
	)
	return report, nil
}

// runQuery runs the direct path and fills in the plans, timing and preview
// of report.
func runQuery(ctx context.Context, s *Session, params RunParams, report *Report) error {
	logical, err := Compile(ctx, s, params.Query)
	if err != nil {
		return err
	}
	optimized, err := Optimize(ctx, s, logical)
	if err != nil {
		return err
	}
	physical, err := Physicalize(ctx, s, optimized)
	if err != nil {
		return err
	}

	// Executing the optimized plan keeps physical planning in the timed
	// section.
	res, err := Execute(ctx, s, optimized)
	if err != nil {
		return err
	}
	defer res.Release()

	preview, err := res.Preview(params.PreviewColumn, params.PreviewMaxRows, params.PreviewMaxValueLength)
	if err != nil {
		return err
	}

	report.Logical = logical.String()
	report.Optimized = optimized.String()
	report.Physical = physical.String()
	report.Elapsed = res.Elapsed
	report.TotalRows = res.NumRows()
	report.Preview = preview
	return nil
}
