package payflow

import (
	"encoding/json"
	"fmt"
)

// TaskKind selects what a single-payment session is trying to do.
type TaskKind string

const (
	// TaskProbe checks whether a URL requires payment and stops there.
	TaskProbe TaskKind = "check_url"
	// TaskNegotiate probes and runs one advisory pass before approval.
	TaskNegotiate TaskKind = "negotiate"
	// TaskPay probes and goes straight to the approval gate.
	TaskPay TaskKind = "pay"
)

// SessionStatus is the lifecycle state of a single-payment session.
type SessionStatus string

const (
	StatusPending          SessionStatus = "pending"
	StatusChecking         SessionStatus = "checking"
	StatusNegotiating      SessionStatus = "negotiating"
	StatusAwaitingApproval SessionStatus = "awaiting_approval"
	StatusExecuting        SessionStatus = "executing"
	StatusCompleted        SessionStatus = "completed"
	StatusFailed           SessionStatus = "failed"
)

// PaymentDemand is a payment requirement parsed from a 402 response.
// Immutable once parsed; a new probe produces a new demand.
type PaymentDemand struct {
	URL      string `json:"url"`
	Amount   string `json:"amount"`
	Token    string `json:"token"`
	Receiver string `json:"receiver"`
	Realm    string `json:"realm,omitempty"`
}

// Message is one entry in a session's ordered message log
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Message roles. Execution intents are always emitted with RoleSystem;
// human-readable progress notes use RoleAssistant.
const (
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Intent action tags consumed by the external executor.
const (
	ActionExecutePayment          = "EXECUTE_PAYMENT"
	ActionExecuteScheduledPayment = "EXECUTE_SCHEDULED_PAYMENT"
)

// ExecutionIntent instructs the external executor to perform a transfer.
// The core never performs the transfer itself; it emits exactly one intent
// per payment and later accepts a confirmation carrying the settlement
// reference.
type ExecutionIntent struct {
	Action string `json:"action"`

	// Single-payment intents carry the full demand.
	Payment *PaymentDemand `json:"payment,omitempty"`

	// Batch intents carry the leg index and leg payload.
	Index *int        `json:"index,omitempty"`
	Leg   *PaymentLeg `json:"leg,omitempty"`

	// Scheduled intents carry the entry id and transfer fields.
	PaymentID string `json:"payment_id,omitempty"`
	Recipient string `json:"recipient,omitempty"`
	Amount    string `json:"amount,omitempty"`
	Token     string `json:"token,omitempty"`
}

// intentMessage renders an execution intent as a system message.
// Marshalling these structs cannot fail; a failure here is a programming
// error.
func intentMessage(intent ExecutionIntent) Message {
	data, err := json.Marshal(intent)
	if err != nil {
		panic(fmt.Sprintf("failed to marshal execution intent: %v", err))
	}
	return Message{Role: RoleSystem, Content: string(data)}
}
