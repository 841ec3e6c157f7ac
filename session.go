package payflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NegotiationRound archives one advisory pass over a payment demand.
type NegotiationRound struct {
	Timestamp      time.Time `json:"timestamp"`
	OriginalAmount string    `json:"original_amount"`
	AgentResponse  string    `json:"agent_response"`
}

// Session is the state of one single-payment workflow, from discovery
// through approval, execution intent and confirmation.
type Session struct {
	SessionID string   `json:"session_id"`
	Payer     string   `json:"payer"`
	TaskKind  TaskKind `json:"task_kind"`
	TargetURL string   `json:"target_url"`

	RequiresPayment bool           `json:"requires_payment"`
	Demand          *PaymentDemand `json:"payment_request,omitempty"`
	Content         string         `json:"content,omitempty"`

	NegotiationHistory []NegotiationRound `json:"negotiation_history,omitempty"`

	Approved      bool          `json:"approved"`
	SettlementRef string        `json:"settlement_ref,omitempty"`
	Status        SessionStatus `json:"status"`
	Err           string        `json:"error,omitempty"`

	Messages []Message `json:"messages"`
}

// clone returns a snapshot safe to hand outside the per-session lock.
func (s *Session) clone() *Session {
	out := *s
	if s.Demand != nil {
		demand := *s.Demand
		out.Demand = &demand
	}
	out.NegotiationHistory = append([]NegotiationRound(nil), s.NegotiationHistory...)
	out.Messages = append([]Message(nil), s.Messages...)
	return &out
}

func (s *Session) say(content string) {
	s.Messages = append(s.Messages, Message{Role: RoleAssistant, Content: content})
}

// SessionRunner drives single-payment sessions. All transitions against a
// given session id are serialized; sessions with different ids are
// independent.
type SessionRunner struct {
	sessions *registry[Session]
	fetcher  Fetcher
	advisor  AdvisorFunc
	newID    func() string
}

// SessionRunnerOption configures a SessionRunner.
type SessionRunnerOption func(*SessionRunner)

// WithFetcher sets the probe fetcher. Defaults to an HTTPFetcher over
// http.DefaultClient.
func WithFetcher(fetcher Fetcher) SessionRunnerOption {
	return func(r *SessionRunner) {
		r.fetcher = fetcher
	}
}

// WithAdvisor sets the advisory capability consulted during negotiation.
// Without one, negotiation records that no advisor is configured.
func WithAdvisor(advisor AdvisorFunc) SessionRunnerOption {
	return func(r *SessionRunner) {
		r.advisor = advisor
	}
}

// WithIDGenerator overrides how session ids are generated when the caller
// does not supply one.
func WithIDGenerator(newID func() string) SessionRunnerOption {
	return func(r *SessionRunner) {
		r.newID = newID
	}
}

// NewSessionRunner creates a session runner.
func NewSessionRunner(opts ...SessionRunnerOption) *SessionRunner {
	r := &SessionRunner{
		sessions: newRegistry[Session](),
		fetcher:  &HTTPFetcher{},
		newID:    uuid.NewString,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Start begins a new session: probe the target URL, parse any payment
// demand, and run the workflow to its first suspension point. A probe or
// parse failure marks the session failed; it never propagates as an error.
// sessionID may be empty, in which case one is generated.
func (r *SessionRunner) Start(ctx context.Context, sessionID, payer, targetURL string, taskKind TaskKind) *Session {
	if sessionID == "" {
		sessionID = r.newID()
	}

	session := &Session{
		SessionID: sessionID,
		Payer:     payer,
		TaskKind:  taskKind,
		TargetURL: targetURL,
		Status:    StatusChecking,
	}
	session.say(fmt.Sprintf("Starting analysis of %s...", targetURL))

	result := r.probe(ctx, targetURL)
	session.RequiresPayment = result.RequiresPayment
	session.Demand = result.Demand
	session.Content = result.Content

	switch {
	case result.Err != "":
		session.Err = result.Err
		session.Status = StatusFailed

	case session.RequiresPayment:
		session.say(fmt.Sprintf("This URL requires payment: %s %s to access '%s'.",
			session.Demand.Amount, session.Demand.Token, session.Demand.Realm))
		if taskKind == TaskNegotiate && len(session.NegotiationHistory) == 0 {
			session.Status = StatusNegotiating
			r.negotiate(ctx, session)
		} else {
			session.Status = StatusAwaitingApproval
		}

	default:
		session.Status = StatusCompleted
		session.say("This URL is freely accessible. No payment required.")
	}

	r.sessions.put(sessionID, session)
	return session.clone()
}

// probe fetches the URL and hands the response to the demand parser. A
// network failure is folded into the result rather than returned.
func (r *SessionRunner) probe(ctx context.Context, targetURL string) ProbeResult {
	resp, err := r.fetcher.Fetch(ctx, targetURL)
	if err != nil {
		return ProbeResult{RequiresPayment: false, Err: err.Error()}
	}
	return ParseProbeResponse(targetURL, resp)
}

// negotiate runs one advisory pass and archives the outcome. The advisory
// text is informational only; the session always lands back at the approval
// gate. Called with the session lock held (or before the session is
// published).
func (r *SessionRunner) negotiate(ctx context.Context, session *Session) {
	text := "No advisor configured; review the demanded amount manually."
	if r.advisor != nil {
		out, err := r.advisor(ctx, *session.Demand, session.NegotiationHistory)
		if err != nil {
			session.Err = fmt.Sprintf("advisor failed: %v", err)
			session.Status = StatusAwaitingApproval
			return
		}
		text = out
	}

	session.NegotiationHistory = append(session.NegotiationHistory, NegotiationRound{
		Timestamp:      time.Now(),
		OriginalAmount: session.Demand.Amount,
		AgentResponse:  text,
	})
	session.say(fmt.Sprintf("Negotiation analysis: %s", text))
	session.Status = StatusAwaitingApproval
}

// Negotiate runs an advisory pass on an existing session that is waiting
// for approval. Fails with not_found for an unknown session and
// invalid_state when the session has no payment demand.
func (r *SessionRunner) Negotiate(ctx context.Context, sessionID string) (*Session, error) {
	var snapshot *Session
	var opErr error

	found := r.sessions.withEntry(sessionID, func(session *Session) {
		if !session.RequiresPayment || session.Demand == nil {
			opErr = NewFlowError(ErrCodeInvalidState, "no payment request to negotiate", nil)
			snapshot = session.clone()
			return
		}
		r.negotiate(ctx, session)
		snapshot = session.clone()
	})
	if !found {
		return nil, notFoundError("session", sessionID)
	}

	return snapshot, opErr
}

// Approve records caller approval and advances the session to executing,
// emitting exactly one execution intent for the external executor.
// Approving a session that is not waiting at the approval gate is rejected
// with invalid_state and leaves the session untouched.
func (r *SessionRunner) Approve(sessionID string) (*Session, error) {
	var snapshot *Session
	var opErr error

	found := r.sessions.withEntry(sessionID, func(session *Session) {
		switch session.Status {
		case StatusAwaitingApproval:
			session.Approved = true
			r.execute(session)
		case StatusExecuting:
			// Idempotent: the intent was already emitted.
		default:
			opErr = NewFlowError(ErrCodeInvalidState,
				fmt.Sprintf("cannot approve session in status %s", session.Status), nil)
		}
		snapshot = session.clone()
	})
	if !found {
		return nil, notFoundError("session", sessionID)
	}

	return snapshot, opErr
}

// execute emits the execution intent. Guarded on the approval flag so a
// transition attempted without approval reports an error and stays at the
// approval gate.
func (r *SessionRunner) execute(session *Session) {
	if !session.Approved {
		session.Err = "user approval required before execution"
		session.Status = StatusAwaitingApproval
		return
	}
	if session.Demand == nil {
		session.Err = "no payment request to execute"
		session.Status = StatusFailed
		return
	}

	session.Status = StatusExecuting
	session.say(fmt.Sprintf("Executing payment of %s %s to %s...",
		session.Demand.Amount, session.Demand.Token, truncateID(session.Demand.Receiver)))
	session.Messages = append(session.Messages, intentMessage(ExecutionIntent{
		Action:  ActionExecutePayment,
		Payment: session.Demand,
	}))
}

// Confirm records the externally observed outcome of the transfer and
// concludes the session. Last-write-wins: confirming twice overwrites the
// settlement reference. Confirming before approval records an error and
// leaves the session at the approval gate.
func (r *SessionRunner) Confirm(sessionID, settlementRef string, success bool) (*Session, error) {
	var snapshot *Session

	found := r.sessions.withEntry(sessionID, func(session *Session) {
		if !session.Approved {
			session.Err = "cannot confirm a payment that was never approved"
			snapshot = session.clone()
			return
		}

		session.SettlementRef = settlementRef
		session.Status = StatusCompleted
		if success {
			session.Err = ""
			session.say(fmt.Sprintf("Payment confirmed! Transaction: %s", settlementRef))
		} else {
			session.Err = "payment transfer failed"
			session.say(fmt.Sprintf("Payment failed on-chain. Transaction: %s", settlementRef))
		}
		snapshot = session.clone()
	})
	if !found {
		return nil, notFoundError("session", sessionID)
	}

	return snapshot, nil
}

// Get returns a snapshot of the session, or nil if the id is unknown.
func (r *SessionRunner) Get(sessionID string) *Session {
	var snapshot *Session
	r.sessions.withEntry(sessionID, func(s *Session) {
		snapshot = s.clone()
	})
	return snapshot
}

// Cancel removes the session, reporting whether it existed. The only way a
// session ever leaves the registry.
func (r *SessionRunner) Cancel(sessionID string) bool {
	return r.sessions.delete(sessionID)
}

// Len reports the number of live sessions.
func (r *SessionRunner) Len() int {
	return r.sessions.len()
}

// truncateID shortens an address for display.
func truncateID(s string) string {
	if len(s) <= 10 {
		return s
	}
	return s[:10]
}
