// Package editor holds the per-screen edit buffer: a field-level draft
// of one invoice, reconciled against the canonical record on commit.
// The model is last-write-wins per field; the backend offers no
// concurrent-edit protocol, so correctness here means an untouched
// field is never lost or corrupted, not that remote writers merge.
package editor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/hydrotreat/invoice-review/internal/lifecycle"
	"github.com/hydrotreat/invoice-review/internal/record"
	"github.com/hydrotreat/invoice-review/internal/session"
)

var (
	// ErrIndexOutOfRange is returned for a line-item write outside the
	// current sequence. UI constraints should make this unreachable;
	// it fails loudly instead of growing the sequence.
	ErrIndexOutOfRange = errors.New("line item index out of range")

	// ErrCommitInFlight is returned when a second commit is attempted
	// while one is already dispatched for the same buffer.
	ErrCommitInFlight = errors.New("commit already in flight for this buffer")
)

// Committer dispatches a wire-shape payload to the backend. Satisfied
// by backend.Client.
type Committer interface {
	EditInvoice(ctx context.Context, sess *session.Session, division string, id int64, payload map[string]any) error
}

// Buffer is an ephemeral working copy of one invoice. One live buffer
// per invoice key per session; discarded on navigation away, committed
// only through Commit.
type Buffer struct {
	mu       sync.Mutex
	cond     *sync.Cond
	base     *record.Invoice
	draft    *record.Invoice
	touched  map[string]bool
	inFlight bool
	logger   *zap.Logger
}

// Open snapshots the record into a new buffer. The draft starts
// identical to the record; neither aliases the caller's copy.
func Open(inv *record.Invoice, logger *zap.Logger) *Buffer {
	b := &Buffer{
		base:    inv.Clone(),
		draft:   inv.Clone(),
		touched: make(map[string]bool),
		logger:  logger,
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Key identifies the invoice this buffer edits.
func (b *Buffer) Key() record.Key {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.draft.Key()
}

// Snapshot returns a copy of the current draft for display.
func (b *Buffer) Snapshot() *record.Invoice {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.draft.Clone()
}

// Dirty reports whether the draft differs from the last committed
// state by at least one tracked write.
func (b *Buffer) Dirty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.touched) > 0
}

// SetField replaces one scalar field in the draft. Writes to protected
// keys (approved_by, processed_by, s3_filepath, the raw data
// container) and to unknown names are no-ops regardless of role. A
// call that begins while a commit is in flight waits for the commit to
// settle first, preserving commit-then-edit ordering for the caller.
func (b *Buffer) SetField(name, value string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.awaitSettled()

	field := record.EditableField(b.draft, name)
	if field == nil {
		b.logger.Debug("Ignoring write to protected or unknown field",
			zap.String("field", name))
		return
	}
	if *field != value {
		*field = value
		b.touched[name] = true
	}
}

// SetLineItem replaces one field of one line item. The index must lie
// within the current sequence; the field name is canonicalized before
// storage so drifted casing can never re-enter the record.
func (b *Buffer) SetLineItem(index int, field, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.awaitSettled()

	if index < 0 || index >= len(b.draft.LineItems) {
		return fmt.Errorf("%w: index %d, %d line items", ErrIndexOutOfRange, index, len(b.draft.LineItems))
	}

	canonical, ok := record.CanonicalItemField(field)
	if !ok {
		b.logger.Debug("Ignoring write to unknown line-item field",
			zap.String("field", field))
		return nil
	}

	item := &b.draft.LineItems[index]
	var dst *string
	switch canonical {
	case "item_description":
		dst = &item.Description
	case "product_code":
		dst = &item.ProductCode
	case "quantity":
		dst = &item.Quantity
	case "unit_price":
		dst = &item.UnitPrice
	case "line_total":
		dst = &item.LineTotal
	}
	if *dst != value {
		*dst = value
		b.touched[fmt.Sprintf("line_items[%d].%s", index, canonical)] = true
	}
	return nil
}

// Discard resets the draft to the last committed state.
func (b *Buffer) Discard() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.awaitSettled()

	b.draft = b.base.Clone()
	b.touched = make(map[string]bool)
}

// Commit validates the draft against the lifecycle rules and, if
// allowed, dispatches the wire shape to the backend. At most one
// commit may be in flight per buffer. On any failure the buffer is
// left unchanged so the caller can correct and retry, or discard.
func (b *Buffer) Commit(ctx context.Context, sess *session.Session, committer Committer) (*record.Invoice, error) {
	b.mu.Lock()
	if b.inFlight {
		b.mu.Unlock()
		return nil, ErrCommitInFlight
	}

	// Lifecycle and capability gate before anything leaves the client.
	if err := lifecycle.AllowEdit(b.draft.Status, sess.Role); err != nil {
		b.mu.Unlock()
		return nil, err
	}

	key := b.draft.Key()
	payload := record.WireShape(b.draft)
	b.inFlight = true
	b.mu.Unlock()

	// Once dispatched the write runs to completion or failure; the
	// result is applied below even if the user has moved on, as long
	// as the buffer is still alive.
	err := committer.EditInvoice(ctx, sess, key.Division, key.ID, payload)

	b.mu.Lock()
	b.inFlight = false
	if err == nil {
		b.base = b.draft.Clone()
		b.touched = make(map[string]bool)
	}
	b.cond.Broadcast()
	committed := b.base.Clone()
	b.mu.Unlock()

	if err != nil {
		return nil, err
	}

	b.logger.Info("Invoice committed",
		zap.String("division", key.Division),
		zap.Int64("id", key.ID))
	return committed, nil
}

// awaitSettled blocks while a commit is in flight. Callers must hold
// b.mu.
func (b *Buffer) awaitSettled() {
	for b.inFlight {
		b.cond.Wait()
	}
}
