package lifecycle

import (
	"fmt"

	"github.com/hydrotreat/invoice-review/internal/capability"
	"github.com/hydrotreat/invoice-review/internal/record"
	"github.com/hydrotreat/invoice-review/internal/session"
)

// NewInvoiceMachine builds the invoice lifecycle machine positioned at
// the given status:
//
//	pending --APPROVE--> approved  (requires approve capability)
//	pending --REJECT--> rejected   (requires approve capability)
//	pending --EDIT--> pending      (requires edit capability)
//
// approved and rejected are terminal.
func NewInvoiceMachine(status string) (StateMachine, error) {
	state, ok := ParseState(status)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidState, status)
	}

	builder := NewBuilder()
	builder.Configure(StatePending).
		PermitIf(TriggerApprove, StateApproved, func(role capability.Role) bool {
			return capability.Can(role, capability.ActionApprove)
		}).
		PermitIf(TriggerReject, StateRejected, func(role capability.Role) bool {
			return capability.Can(role, capability.ActionApprove)
		}).
		PermitIf(TriggerEdit, StatePending, func(role capability.Role) bool {
			return capability.Can(role, capability.ActionEdit)
		})

	return builder.Build(state), nil
}

// Approve transitions the invoice to approved and stamps approved_by.
// Approving an already-approved invoice is a no-op success so client
// retries on ambiguous network outcomes stay safe; approved_by is not
// restamped. Approving a rejected invoice fails.
func Approve(inv *record.Invoice, p session.Principal) error {
	return resolve(inv, p, TriggerApprove, StateApproved)
}

// Reject transitions the invoice to rejected. Same gate and same
// idempotency rule as Approve; the two verbs are never conflated.
func Reject(inv *record.Invoice, p session.Principal) error {
	return resolve(inv, p, TriggerReject, StateRejected)
}

func resolve(inv *record.Invoice, p session.Principal, trigger Trigger, target State) error {
	state, ok := ParseState(inv.Status)
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidState, inv.Status)
	}

	// Retried transition: already where the trigger leads.
	if state == target {
		return nil
	}

	machine, err := NewInvoiceMachine(inv.Status)
	if err != nil {
		return err
	}
	if err := machine.Fire(p.Role, trigger); err != nil {
		return err
	}

	inv.Status = machine.State().String()
	inv.ApprovedBy = p.Username
	return nil
}

// AllowEdit reports whether a commit is allowed for the invoice in its
// current state by the acting principal. Edits are only legal while
// the invoice is pending; against a terminal state the failure is
// ErrInvalidTransition, never a silent success.
func AllowEdit(status string, role capability.Role) error {
	machine, err := NewInvoiceMachine(status)
	if err != nil {
		return err
	}
	return machine.Fire(role, TriggerEdit)
}
