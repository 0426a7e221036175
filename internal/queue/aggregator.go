// Package queue assembles the review queue across divisions. One
// backend call per division runs concurrently; a failed division
// degrades to cached data when a store is attached, and to an explicit
// failure entry otherwise. A partial queue is always better than none.
package queue

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/hydrotreat/invoice-review/internal/backend"
	"github.com/hydrotreat/invoice-review/internal/capability"
	"github.com/hydrotreat/invoice-review/internal/record"
	"github.com/hydrotreat/invoice-review/internal/session"
)

// DivisionAll expands to every configured division.
const DivisionAll = "all"

// DefaultDivisions is the division set the backend serves.
var DefaultDivisions = []string{"engineering", "ultra_filtration", "water"}

// DivisionError records one division that could not be fetched. The
// rest of the queue is unaffected.
type DivisionError struct {
	Division string
	Err      error
}

func (e DivisionError) Error() string {
	return fmt.Sprintf("division %s: %v", e.Division, e.Err)
}

func (e DivisionError) Unwrap() error {
	return e.Err
}

// Lister fetches one division's invoices. Satisfied by backend.Client.
type Lister interface {
	ListInvoices(ctx context.Context, sess *session.Session, division string, q backend.ListQuery) ([]*record.Invoice, error)
}

// Store is the optional local cache behind the queue. Fresh results
// are written through; a failed division is served from it instead.
type Store interface {
	PutInvoices(division string, invoices []*record.Invoice) error
	ListDivision(division string, role capability.Role) ([]*record.Invoice, error)
}

// Result is one assembled queue. Invoices are grouped by division in
// configuration order, backend order preserved within each division.
type Result struct {
	Invoices []*record.Invoice
	// Stale lists divisions served from the cache after a fetch
	// failure.
	Stale []string
	// Failures lists divisions with neither fresh nor cached data.
	Failures []DivisionError
}

// Aggregator fans a queue request out across divisions.
type Aggregator struct {
	lister    Lister
	store     Store
	divisions []string
	logger    *zap.Logger
}

// NewAggregator builds an aggregator. store may be nil; divisions
// defaults to DefaultDivisions when empty.
func NewAggregator(lister Lister, store Store, divisions []string, logger *zap.Logger) *Aggregator {
	if len(divisions) == 0 {
		divisions = DefaultDivisions
	}
	return &Aggregator{
		lister:    lister,
		store:     store,
		divisions: divisions,
		logger:    logger,
	}
}

func (a *Aggregator) expand(division string) []string {
	if division == DivisionAll || division == "" {
		return a.divisions
	}
	return []string{division}
}

type divisionResult struct {
	invoices []*record.Invoice
	stale    bool
	err      error
}

// Fetch assembles the queue for one division or for all of them. It
// never fails outright; missing divisions are reported in the result.
func (a *Aggregator) Fetch(ctx context.Context, sess *session.Session, division string, q backend.ListQuery) *Result {
	divisions := a.expand(division)
	results := make([]divisionResult, len(divisions))

	var wg sync.WaitGroup
	for i, div := range divisions {
		wg.Add(1)
		go func(i int, div string) {
			defer wg.Done()
			results[i] = a.fetchDivision(ctx, sess, div, q)
		}(i, div)
	}
	wg.Wait()

	out := &Result{}
	for i, res := range results {
		if res.err != nil {
			out.Failures = append(out.Failures, DivisionError{Division: divisions[i], Err: res.err})
			continue
		}
		if res.stale {
			out.Stale = append(out.Stale, divisions[i])
		}
		out.Invoices = append(out.Invoices, res.invoices...)
	}
	return out
}

func (a *Aggregator) fetchDivision(ctx context.Context, sess *session.Session, division string, q backend.ListQuery) divisionResult {
	invoices, err := a.lister.ListInvoices(ctx, sess, division, q)
	if err == nil {
		a.writeThrough(division, invoices)
		return divisionResult{invoices: invoices}
	}

	a.logger.Warn("Division fetch failed",
		zap.String("division", division),
		zap.Error(err))

	if a.store == nil {
		return divisionResult{err: err}
	}

	cached, cacheErr := a.store.ListDivision(division, sess.Role)
	if cacheErr != nil {
		a.logger.Warn("Cache fallback failed",
			zap.String("division", division),
			zap.Error(cacheErr))
		return divisionResult{err: err}
	}
	if len(cached) == 0 {
		// An empty cache is not a fallback; the division stays failed.
		return divisionResult{err: err}
	}

	a.logger.Info("Serving division from cache",
		zap.String("division", division),
		zap.Int("count", len(cached)))
	return divisionResult{invoices: cached, stale: true}
}

func (a *Aggregator) writeThrough(division string, invoices []*record.Invoice) {
	if a.store == nil {
		return
	}
	if err := a.store.PutInvoices(division, invoices); err != nil {
		a.logger.Warn("Cache write-through failed",
			zap.String("division", division),
			zap.Error(err))
	}
}
