package lifecycle

import (
	"errors"
	"testing"

	"github.com/hydrotreat/invoice-review/internal/capability"
	"github.com/hydrotreat/invoice-review/internal/record"
	"github.com/hydrotreat/invoice-review/internal/session"
)

func TestState_IsTerminal(t *testing.T) {
	tests := []struct {
		state    State
		expected bool
	}{
		{StatePending, false},
		{StateApproved, true},
		{StateRejected, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			if got := tt.state.IsTerminal(); got != tt.expected {
				t.Errorf("State.IsTerminal() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestParseState(t *testing.T) {
	if _, ok := ParseState("pending"); !ok {
		t.Error("ParseState(pending) should be valid")
	}
	if _, ok := ParseState("archived"); ok {
		t.Error("ParseState(archived) should be invalid")
	}
	if _, ok := ParseState(""); ok {
		t.Error("ParseState of empty string should be invalid")
	}
}

func TestNewInvoiceMachine_InvalidStatus(t *testing.T) {
	_, err := NewInvoiceMachine("limbo")
	if !errors.Is(err, ErrInvalidState) {
		t.Errorf("NewInvoiceMachine(limbo) error = %v, want %v", err, ErrInvalidState)
	}
}

func TestMachine_CapabilityGuards(t *testing.T) {
	tests := []struct {
		name    string
		role    capability.Role
		trigger Trigger
		canFire bool
	}{
		{"store can approve", capability.RoleStore, TriggerApprove, true},
		{"store can reject", capability.RoleStore, TriggerReject, true},
		{"store cannot edit", capability.RoleStore, TriggerEdit, false},
		{"gate can edit", capability.RoleGate, TriggerEdit, true},
		{"gate cannot approve", capability.RoleGate, TriggerApprove, false},
		{"admin can approve", capability.RoleAdmin, TriggerApprove, true},
		{"admin cannot edit", capability.RoleAdmin, TriggerEdit, false},
		{"unknown can do nothing", capability.RoleUnknown, TriggerApprove, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			machine, err := NewInvoiceMachine("pending")
			if err != nil {
				t.Fatalf("NewInvoiceMachine() failed: %v", err)
			}
			if got := machine.CanFire(tt.role, tt.trigger); got != tt.canFire {
				t.Errorf("CanFire(%s, %s) = %v, want %v", tt.role, tt.trigger, got, tt.canFire)
			}
		})
	}
}

func TestMachine_Fire_NotPermitted(t *testing.T) {
	machine, err := NewInvoiceMachine("pending")
	if err != nil {
		t.Fatalf("NewInvoiceMachine() failed: %v", err)
	}

	err = machine.Fire(capability.RoleGate, TriggerApprove)
	if !errors.Is(err, ErrNotPermitted) {
		t.Errorf("Fire() error = %v, want %v", err, ErrNotPermitted)
	}
	if machine.State() != StatePending {
		t.Errorf("state after failed Fire() = %v, want %v", machine.State(), StatePending)
	}
}

func TestMachine_TerminalStatesHaveNoTriggers(t *testing.T) {
	for _, status := range []string{"approved", "rejected"} {
		machine, err := NewInvoiceMachine(status)
		if err != nil {
			t.Fatalf("NewInvoiceMachine(%s) failed: %v", status, err)
		}
		if got := machine.PermittedTriggers(capability.RoleAdmin); len(got) != 0 {
			t.Errorf("PermittedTriggers from %s = %v, want none", status, got)
		}
	}
}

func TestApprove(t *testing.T) {
	store := session.Principal{Username: "store", Role: capability.RoleStore}

	inv := &record.Invoice{ID: 1, Division: "water", Status: "pending"}
	if err := Approve(inv, store); err != nil {
		t.Fatalf("Approve() failed: %v", err)
	}
	if inv.Status != "approved" || inv.ApprovedBy != "store" {
		t.Errorf("after Approve(): status=%s approved_by=%s", inv.Status, inv.ApprovedBy)
	}
}

func TestApprove_Idempotent(t *testing.T) {
	inv := &record.Invoice{ID: 1, Status: "approved", ApprovedBy: "store"}
	admin := session.Principal{Username: "admin", Role: capability.RoleAdmin}

	if err := Approve(inv, admin); err != nil {
		t.Fatalf("re-approve should be a no-op success, got %v", err)
	}
	if inv.ApprovedBy != "store" {
		t.Errorf("re-approve must not restamp approved_by, got %s", inv.ApprovedBy)
	}
}

func TestApprove_RejectedInvoice(t *testing.T) {
	inv := &record.Invoice{ID: 1, Status: "rejected", ApprovedBy: "store"}
	admin := session.Principal{Username: "admin", Role: capability.RoleAdmin}

	err := Approve(inv, admin)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Approve(rejected) error = %v, want %v", err, ErrInvalidTransition)
	}
}

func TestApprove_WithoutCapability(t *testing.T) {
	inv := &record.Invoice{ID: 1, Status: "pending"}
	gate := session.Principal{Username: "gate", Role: capability.RoleGate}

	err := Approve(inv, gate)
	if !errors.Is(err, ErrNotPermitted) {
		t.Errorf("Approve() error = %v, want %v", err, ErrNotPermitted)
	}
	if inv.Status != "pending" || inv.ApprovedBy != "" {
		t.Error("failed Approve() must not mutate the invoice")
	}
}

func TestReject(t *testing.T) {
	inv := &record.Invoice{ID: 2, Status: "pending"}
	store := session.Principal{Username: "store", Role: capability.RoleStore}

	if err := Reject(inv, store); err != nil {
		t.Fatalf("Reject() failed: %v", err)
	}
	if inv.Status != "rejected" || inv.ApprovedBy != "store" {
		t.Errorf("after Reject(): status=%s approved_by=%s", inv.Status, inv.ApprovedBy)
	}

	// Reject and approve are distinct verbs: approving now fails.
	if err := Approve(inv, store); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Approve(rejected) error = %v, want %v", err, ErrInvalidTransition)
	}
}

func TestAllowEdit(t *testing.T) {
	tests := []struct {
		name    string
		status  string
		role    capability.Role
		wantErr error
	}{
		{"gate edits pending", "pending", capability.RoleGate, nil},
		{"store may not edit", "pending", capability.RoleStore, ErrNotPermitted},
		{"admin may not edit", "pending", capability.RoleAdmin, ErrNotPermitted},
		{"no edits once approved", "approved", capability.RoleGate, ErrInvalidTransition},
		{"no edits once rejected", "rejected", capability.RoleGate, ErrInvalidTransition},
		{"unknown status", "limbo", capability.RoleGate, ErrInvalidState},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := AllowEdit(tt.status, tt.role)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("AllowEdit() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("AllowEdit() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestBuilder_ConfigurePanicsOnInvalidState(t *testing.T) {
	builder := NewBuilder()

	defer func() {
		if r := recover(); r == nil {
			t.Error("Configure() should panic on invalid state")
		}
	}()

	builder.Configure(State("INVALID"))
}

func TestBuilder_MachinesAreIndependent(t *testing.T) {
	builder := NewBuilder()
	builder.Configure(StatePending).Permit(TriggerApprove, StateApproved)

	m1 := builder.Build(StatePending)
	m2 := builder.Build(StatePending)

	if err := m1.Fire(capability.RoleStore, TriggerApprove); err != nil {
		t.Fatalf("Fire() failed: %v", err)
	}
	if m2.State() != StatePending {
		t.Errorf("m2 state = %v, want %v (machines should be independent)", m2.State(), StatePending)
	}
}
