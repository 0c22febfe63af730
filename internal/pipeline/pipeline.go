// Package pipeline fetches, places and links every configured entry.
//
// Each entry runs in its own goroutine. A failure is reported for that entry
// only; nothing is cancelled early and every entry is attempted.
package pipeline

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	dserrors "github.com/systmms/punlock/internal/errors"
	"github.com/systmms/punlock/internal/logging"
	"github.com/systmms/punlock/internal/placer"
	"github.com/systmms/punlock/internal/secure"
	"github.com/systmms/punlock/pkg/vault"
)

// Fetcher resolves one entry to its secret. *vault.Session satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, entry vault.Entry) (string, error)
}

// Result is the outcome for one entry.
type Result struct {
	Entry        vault.Entry
	Path         string
	LinksChanged int
	Duration     time.Duration
	Err          error
}

// OK reports whether the entry was fully materialized.
func (r Result) OK() bool {
	return r.Err == nil
}

// Summary aggregates a run.
type Summary struct {
	Succeeded int
	Total     int
	Failures  []Result
}

// Failed is the number of entries that did not materialize.
func (s Summary) Failed() int {
	return s.Total - s.Succeeded
}

// Pipeline materializes entries into a store root.
type Pipeline struct {
	fetcher Fetcher
	placer  *placer.Placer
	root    string
	logger  *logging.Logger
	metrics *Metrics
	backend string
	limit   int
	now     func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithConcurrency caps in-flight entries. Zero or less means one goroutine
// per entry with no cap.
func WithConcurrency(n int) Option {
	return func(p *Pipeline) {
		p.limit = n
	}
}

// WithMetrics records the run into m.
func WithMetrics(m *Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithBackend names the backend behind the fetcher, so failed entries are
// logged with a hint for that backend.
func WithBackend(name string) Option {
	return func(p *Pipeline) {
		p.backend = name
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(p *Pipeline) {
		p.logger = l
	}
}

// New creates a pipeline writing under root.
func New(fetcher Fetcher, pl *placer.Placer, root string, opts ...Option) *Pipeline {
	p := &Pipeline{
		fetcher: fetcher,
		placer:  pl,
		root:    root,
		logger:  logging.Discard(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WriteSecrets materializes every entry and reports how many succeeded.
// Results are logged as they arrive.
func (p *Pipeline) WriteSecrets(ctx context.Context, entries []vault.Entry) Summary {
	summary := Summary{Total: len(entries)}
	results := make(chan Result, len(entries))

	var g errgroup.Group
	if p.limit > 0 {
		g.SetLimit(p.limit)
	}

	go func() {
		for _, entry := range entries {
			g.Go(func() error {
				results <- p.materialize(ctx, entry)
				return nil
			})
		}
		_ = g.Wait()
		close(results)
	}()

	for result := range results {
		if p.metrics != nil {
			p.metrics.RecordEntry(result.OK(), result.Duration, result.LinksChanged)
		}
		if result.OK() {
			summary.Succeeded++
			p.logger.Info("%s -> %s (%d link(s) updated)", result.Entry.ID, result.Path, result.LinksChanged)
			continue
		}
		summary.Failures = append(summary.Failures, result)
		if hint := dserrors.BackendSuggestion(p.backend, result.Err); hint != "" {
			p.logger.Error("%s: %v\n  💡 Try: %s", result.Entry.ID, result.Err, hint)
		} else {
			p.logger.Error("%s: %v", result.Entry.ID, result.Err)
		}
	}

	if p.metrics != nil {
		p.metrics.RecordRun(p.now())
	}
	if summary.Succeeded == summary.Total {
		p.logger.Info("Wrote %d/%d secrets to %s", summary.Succeeded, summary.Total, p.root)
	} else {
		p.logger.Warn("Wrote %d/%d secrets to %s", summary.Succeeded, summary.Total, p.root)
	}
	return summary
}

func (p *Pipeline) materialize(ctx context.Context, entry vault.Entry) Result {
	result := Result{Entry: entry}
	start := p.now()

	value, err := p.fetcher.Fetch(ctx, entry)
	result.Duration = p.now().Sub(start)
	if err != nil {
		result.Err = err
		return result
	}

	sealed := secure.SealString(value)
	defer sealed.Destroy()

	err = sealed.Use(func(plaintext []byte) error {
		dest, err := p.placer.Write(p.root, entry, plaintext)
		result.Path = dest
		return err
	})
	if err != nil {
		result.Err = err
		return result
	}

	result.LinksChanged, result.Err = p.placer.ReconcileLinks(result.Path, entry)
	return result
}
