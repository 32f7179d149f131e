/*
status.go - Submission workflow state machine

PURPOSE:
  Per (year, month, subject) a reimbursement claim moves through
  NotSubmitted -> Submitted -> Received, with a reset back to NotSubmitted
  from any state. The state is an explicit enum with transition rules
  enforced in one place, not inferred from which of two nullable date
  columns happens to be set.

TRANSITIONS:
  submit:  NotSubmitted|Submitted -> Submitted (re-submit overwrites date)
  receive: Submitted -> Received only; rejected otherwise, nothing changes
  reset:   any state -> record deleted entirely; idempotent

The record is created on the first submit and deleted on reset, so an
absent record IS the NotSubmitted state.
*/
package mileage

import (
	"context"
)

// =============================================================================
// STATES AND ACTIONS
// =============================================================================

type SubmissionState string

const (
	StateNotSubmitted SubmissionState = "not_submitted"
	StateSubmitted    SubmissionState = "submitted"
	StateReceived     SubmissionState = "received"
)

type StatusAction string

const (
	ActionSubmit  StatusAction = "submit"
	ActionReceive StatusAction = "receive"
	ActionReset   StatusAction = "reset"
)

func (a StatusAction) Valid() bool {
	switch a {
	case ActionSubmit, ActionReceive, ActionReset:
		return true
	}
	return false
}

// SubmissionStatus tracks the workflow for one month and one subject
// (a cost bearer or the passenger-carry series).
type SubmissionStatus struct {
	UserID      UserID
	Year        int
	Month       int
	Subject     string // bearer ID or SubjectPassenger
	State       SubmissionState
	SubmittedOn TimePoint
	ReceivedOn  TimePoint
}

// =============================================================================
// STATE MACHINE
// =============================================================================

// StatusMachine applies workflow actions against the status store.
type StatusMachine struct {
	store StatusStore
}

func NewStatusMachine(store StatusStore) *StatusMachine {
	return &StatusMachine{store: store}
}

// Transition applies the action to the (year, month, subject) record.
// Invalid transitions leave the store untouched: a receive without a prior
// submit creates no record.
func (m *StatusMachine) Transition(ctx context.Context, user UserID, year, month int, subject string, action StatusAction, date TimePoint) error {
	if !action.Valid() {
		return &ValidationError{Field: "action", Message: "unknown action " + string(action)}
	}
	if subject == "" {
		return &ValidationError{Field: "subject", Message: "subject required"}
	}

	st, err := m.store.GetStatus(ctx, user, year, month, subject)
	switch {
	case err == nil:
	case IsNotFound(err):
		st = SubmissionStatus{
			UserID:  user,
			Year:    year,
			Month:   month,
			Subject: subject,
			State:   StateNotSubmitted,
		}
	default:
		return err
	}

	switch action {
	case ActionSubmit:
		if st.State == StateReceived {
			return &InvalidTransitionError{From: st.State, Action: action}
		}
		if date.IsZero() {
			date = Today()
		}
		st.State = StateSubmitted
		st.SubmittedOn = date
		st.ReceivedOn = TimePoint{}
		return m.store.SaveStatus(ctx, st)

	case ActionReceive:
		if st.State != StateSubmitted {
			return &InvalidTransitionError{From: st.State, Action: action}
		}
		if date.IsZero() {
			date = Today()
		}
		st.State = StateReceived
		st.ReceivedOn = date
		return m.store.SaveStatus(ctx, st)

	case ActionReset:
		// Deleting a missing record is a no-op, so reset is idempotent.
		return m.store.DeleteStatus(ctx, user, year, month, subject)
	}
	return nil
}
