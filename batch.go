package payflow

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// BatchStatus is the aggregate lifecycle state of a batch session.
// awaiting_approval is used both before execution and while per-leg
// confirmations are outstanding; the two phases are distinguished by
// whether CompletedPayments is non-empty.
type BatchStatus string

const (
	BatchPending          BatchStatus = "pending"
	BatchProcessing       BatchStatus = "processing"
	BatchAwaitingApproval BatchStatus = "awaiting_approval"
	BatchCompleted        BatchStatus = "completed"
	BatchFailed           BatchStatus = "failed"
)

// LegStatus tracks one payment leg through execution and confirmation.
type LegStatus string

const (
	LegPendingConfirmation LegStatus = "pending_confirmation"
	LegConfirmed           LegStatus = "confirmed"
	LegFailed              LegStatus = "failed"
)

// PaymentLeg is one independent payment within a batch.
type PaymentLeg struct {
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
	Token     string `json:"token"`
}

// LegResult is the execution record for a leg: the leg payload plus its
// confirmation status, settlement reference and execution timestamp.
type LegResult struct {
	PaymentLeg
	Status        LegStatus `json:"status"`
	SettlementRef string    `json:"settlement_ref,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// BatchSession is the state of one batch-payment workflow. Legs are
// executed in their original order and confirmed independently; a failed
// leg never blocks the others.
type BatchSession struct {
	SessionID string `json:"session_id"`
	Payer     string `json:"payer"`

	Legs         []PaymentLeg `json:"payments"`
	CurrentIndex int          `json:"current_index"`

	// CompletedPayments records every executed leg with its per-leg
	// status. FailedPayments is a denormalized index of the failures also
	// present in CompletedPayments.
	CompletedPayments []LegResult `json:"completed_payments"`
	FailedPayments    []LegResult `json:"failed_payments"`

	Status           BatchStatus `json:"status"`
	RequiresApproval bool        `json:"requires_approval"`
	TotalAmount      string      `json:"total_amount"`

	Messages []Message `json:"messages"`
	Err      string    `json:"error,omitempty"`
}

func (b *BatchSession) clone() *BatchSession {
	out := *b
	out.Legs = append([]PaymentLeg(nil), b.Legs...)
	out.CompletedPayments = append([]LegResult(nil), b.CompletedPayments...)
	out.FailedPayments = append([]LegResult(nil), b.FailedPayments...)
	out.Messages = append([]Message(nil), b.Messages...)
	return &out
}

func (b *BatchSession) say(content string) {
	b.Messages = append(b.Messages, Message{Role: RoleAssistant, Content: content})
}

// BatchRunner drives batch-payment sessions.
type BatchRunner struct {
	sessions *registry[BatchSession]
	clock    Clock
	newID    func() string
}

// BatchRunnerOption configures a BatchRunner.
type BatchRunnerOption func(*BatchRunner)

// WithBatchClock overrides the clock used for execution timestamps.
func WithBatchClock(clock Clock) BatchRunnerOption {
	return func(r *BatchRunner) {
		r.clock = clock
	}
}

// WithBatchIDGenerator overrides how session ids are generated when the
// caller does not supply one.
func WithBatchIDGenerator(newID func() string) BatchRunnerOption {
	return func(r *BatchRunner) {
		r.newID = newID
	}
}

// NewBatchRunner creates a batch runner.
func NewBatchRunner(opts ...BatchRunnerOption) *BatchRunner {
	r := &BatchRunner{
		sessions: newRegistry[BatchSession](),
		clock:    time.Now,
		newID:    uuid.NewString,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// StartBatch prepares a batch session: compute per-token totals and park
// the session at the approval gate. An empty leg list fails the session
// immediately. sessionID may be empty, in which case one is generated.
func (r *BatchRunner) StartBatch(sessionID, payer string, legs []PaymentLeg) *BatchSession {
	if sessionID == "" {
		sessionID = r.newID()
	}

	session := &BatchSession{
		SessionID: sessionID,
		Payer:     payer,
		Legs:      append([]PaymentLeg(nil), legs...),
		Status:    BatchPending,
	}
	session.say("Preparing batch payments...")

	if len(legs) == 0 {
		session.Err = "no payments provided"
		session.Status = BatchFailed
		r.sessions.put(sessionID, session)
		return session.clone()
	}

	session.TotalAmount = totalByToken(legs)
	session.Status = BatchAwaitingApproval
	session.RequiresApproval = true
	session.say(fmt.Sprintf("Prepared %d payments totaling %s. Awaiting approval.",
		len(legs), session.TotalAmount))

	r.sessions.put(sessionID, session)
	return session.clone()
}

// totalByToken sums leg amounts grouped by token symbol, never across
// tokens. Groups render in first-seen leg order so the result is
// deterministic regardless of how many tokens appear.
func totalByToken(legs []PaymentLeg) string {
	totals := make(map[string]float64)
	var order []string

	for _, leg := range legs {
		token := leg.Token
		if token == "" {
			token = defaultToken
		}
		amount, _ := strconv.ParseFloat(leg.Amount, 64)
		if _, seen := totals[token]; !seen {
			order = append(order, token)
		}
		totals[token] += amount
	}

	parts := make([]string, 0, len(order))
	for _, token := range order {
		parts = append(parts, fmt.Sprintf("%.2f %s", totals[token], token))
	}
	return strings.Join(parts, ", ")
}

// ApproveAndExecute records approval and emits one execution intent per
// leg, in the original leg order. Each leg's execution record starts as
// pending_confirmation; the session then returns to awaiting_approval
// until every confirmation arrives. Re-executing an already executed batch
// is rejected with invalid_state.
func (r *BatchRunner) ApproveAndExecute(sessionID string) (*BatchSession, error) {
	var snapshot *BatchSession
	var opErr error

	found := r.sessions.withEntry(sessionID, func(session *BatchSession) {
		switch {
		case session.Status != BatchAwaitingApproval:
			opErr = NewFlowError(ErrCodeInvalidState,
				fmt.Sprintf("cannot execute batch in status %s", session.Status), nil)
		case len(session.CompletedPayments) > 0:
			opErr = NewFlowError(ErrCodeInvalidState, "batch already executed", nil)
		default:
			session.RequiresApproval = false
			session.Status = BatchProcessing
			now := r.clock()

			for i := range session.Legs {
				session.CurrentIndex = i
				leg := session.Legs[i]
				index := i
				session.Messages = append(session.Messages, intentMessage(ExecutionIntent{
					Action: ActionExecutePayment,
					Index:  &index,
					Leg:    &leg,
				}))
				session.CompletedPayments = append(session.CompletedPayments, LegResult{
					PaymentLeg: leg,
					Status:     LegPendingConfirmation,
					Timestamp:  now,
				})
			}

			// Now waiting on per-leg confirmations.
			session.Status = BatchAwaitingApproval
		}
		snapshot = session.clone()
	})
	if !found {
		return nil, notFoundError("batch session", sessionID)
	}

	return snapshot, opErr
}

// ConfirmLeg records the externally observed outcome of one leg. When the
// last outstanding leg is confirmed the batch finalizes: aggregate status
// becomes completed whether or not every leg succeeded, and the message
// log summarizes the split. An out-of-range index is rejected with
// invalid_state and leaves the session untouched.
func (r *BatchRunner) ConfirmLeg(sessionID string, index int, settlementRef string, success bool) (*BatchSession, error) {
	var snapshot *BatchSession
	var opErr error

	found := r.sessions.withEntry(sessionID, func(session *BatchSession) {
		if index < 0 || index >= len(session.CompletedPayments) {
			opErr = NewFlowError(ErrCodeInvalidState,
				fmt.Sprintf("payment index %d out of range", index),
				map[string]interface{}{"executed": len(session.CompletedPayments)})
			snapshot = session.clone()
			return
		}

		leg := &session.CompletedPayments[index]
		wasFailed := leg.Status == LegFailed
		leg.SettlementRef = settlementRef
		if success {
			leg.Status = LegConfirmed
		} else {
			leg.Status = LegFailed
			if !wasFailed {
				session.FailedPayments = append(session.FailedPayments, *leg)
			}
		}

		if allLegsTerminal(session.CompletedPayments) {
			finalizeBatch(session)
		}
		snapshot = session.clone()
	})
	if !found {
		return nil, notFoundError("batch session", sessionID)
	}

	return snapshot, opErr
}

func allLegsTerminal(results []LegResult) bool {
	for _, r := range results {
		if r.Status != LegConfirmed && r.Status != LegFailed {
			return false
		}
	}
	return true
}

// finalizeBatch concludes the session. Partial failure is not a fatal
// outcome; it is summarized in the message log.
func finalizeBatch(session *BatchSession) {
	var succeeded int
	for _, r := range session.CompletedPayments {
		if r.Status == LegConfirmed {
			succeeded++
		}
	}
	failed := len(session.FailedPayments)

	session.Status = BatchCompleted
	if failed > 0 {
		session.say(fmt.Sprintf("Batch complete: %d succeeded, %d failed.", succeeded, failed))
	} else {
		session.say(fmt.Sprintf("All %d payments completed successfully!", succeeded))
	}
}

// Get returns a snapshot of the batch session, or nil if the id is unknown.
func (r *BatchRunner) Get(sessionID string) *BatchSession {
	var snapshot *BatchSession
	r.sessions.withEntry(sessionID, func(s *BatchSession) {
		snapshot = s.clone()
	})
	return snapshot
}

// Cancel removes the batch session, reporting whether it existed.
func (r *BatchRunner) Cancel(sessionID string) bool {
	return r.sessions.delete(sessionID)
}

// Len reports the number of live batch sessions.
func (r *BatchRunner) Len() int {
	return r.sessions.len()
}
