package payflow

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ScheduleKind selects when a scheduled payment fires.
type ScheduleKind string

const (
	ScheduleImmediate ScheduleKind = "immediate"
	ScheduleScheduled ScheduleKind = "scheduled"
	ScheduleRecurring ScheduleKind = "recurring"
	// ScheduleConditional is accepted and stored but never fires;
	// condition evaluation is not supported.
	ScheduleConditional ScheduleKind = "conditional"
)

// ScheduleStatus is the lifecycle state of a schedule entry.
type ScheduleStatus string

const (
	SchedulePending   ScheduleStatus = "pending"
	ScheduleExecuted  ScheduleStatus = "executed"
	ScheduleCancelled ScheduleStatus = "cancelled"
)

// defaultRecurringInterval applies to recurring entries with no interval.
const defaultRecurringInterval = 24 * time.Hour

// ScheduleEntry is a persisted definition of a payment to be fired once,
// on a recurring cadence, or (unsupported) under a condition.
type ScheduleEntry struct {
	ID        string `json:"id"`
	Payer     string `json:"payer"`
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
	Token     string `json:"token"`

	Kind              ScheduleKind  `json:"schedule_type"`
	ExecuteAt         *time.Time    `json:"execute_at,omitempty"`
	RecurringInterval time.Duration `json:"recurring_interval,omitempty"`
	Condition         string        `json:"condition,omitempty"`

	Status         ScheduleStatus `json:"status"`
	LastExecuted   *time.Time     `json:"last_executed,omitempty"`
	ExecutionCount int            `json:"execution_count"`
	CreatedAt      time.Time      `json:"created_at"`
}

func (e *ScheduleEntry) clone() ScheduleEntry {
	out := *e
	if e.ExecuteAt != nil {
		t := *e.ExecuteAt
		out.ExecuteAt = &t
	}
	if e.LastExecuted != nil {
		t := *e.LastExecuted
		out.LastExecuted = &t
	}
	return out
}

// CycleResult is the outcome of one scheduler cycle: the ids that fired and
// the messages (assistant notes plus one execution intent per fired entry)
// produced along the way.
type CycleResult struct {
	Fired    []string  `json:"fired"`
	Messages []Message `json:"messages"`
}

// Scheduler owns the scheduled payment definitions per payer and decides,
// per cycle, which entries are due. Cycles are externally triggered; the
// scheduler never runs its own timer.
type Scheduler struct {
	mu        sync.Mutex
	schedules map[string][]*ScheduleEntry
	clock     Clock
	newID     func() string
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithClock overrides the scheduler's time source. Defaults to time.Now.
func WithClock(clock Clock) SchedulerOption {
	return func(s *Scheduler) {
		s.clock = clock
	}
}

// WithScheduleIDGenerator overrides how entry ids are generated.
func WithScheduleIDGenerator(newID func() string) SchedulerOption {
	return func(s *Scheduler) {
		s.newID = newID
	}
}

// NewScheduler creates a scheduler.
func NewScheduler(opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		schedules: make(map[string][]*ScheduleEntry),
		clock:     time.Now,
		newID:     uuid.NewString,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Add registers a new scheduled payment for the payer and returns a copy of
// the stored entry. executeAt may be nil; interval 0 means unset.
func (s *Scheduler) Add(payer, recipient, amount, token string, kind ScheduleKind, executeAt *time.Time, interval time.Duration) ScheduleEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	if token == "" {
		token = defaultToken
	}

	entry := &ScheduleEntry{
		ID:                s.newID(),
		Payer:             payer,
		Recipient:         recipient,
		Amount:            amount,
		Token:             token,
		Kind:              kind,
		RecurringInterval: interval,
		Status:            SchedulePending,
		CreatedAt:         s.clock(),
	}
	if executeAt != nil {
		t := *executeAt
		entry.ExecuteAt = &t
	}

	s.schedules[payer] = append(s.schedules[payer], entry)
	return entry.clone()
}

// List returns copies of all entries for the payer, in insertion order.
func (s *Scheduler) List(payer string) []ScheduleEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.schedules[payer]
	out := make([]ScheduleEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.clone())
	}
	return out
}

// RunCycle evaluates the payer's entries against the current time, emits
// one execution intent per due entry, and advances the execution
// bookkeeping. The eligibility pass completes over a stable snapshot before
// any entry is mutated. Recurring entries stay pending so they can fire on
// a later cycle; anything else that fires becomes executed.
func (s *Scheduler) RunCycle(payer string) CycleResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	var result CycleResult

	// Eligibility pass.
	var due []*ScheduleEntry
	for _, entry := range s.schedules[payer] {
		if entry.Status != SchedulePending {
			continue
		}
		if dueNow(entry, now) {
			due = append(due, entry)
		}
	}

	if len(due) == 0 {
		result.Messages = append(result.Messages, Message{
			Role:    RoleAssistant,
			Content: "No payments due at this time.",
		})
		return result
	}

	result.Messages = append(result.Messages, Message{
		Role:    RoleAssistant,
		Content: fmt.Sprintf("Found %d scheduled payments ready for execution.", len(due)),
	})

	// Execution pass.
	for _, entry := range due {
		result.Messages = append(result.Messages, intentMessage(ExecutionIntent{
			Action:    ActionExecuteScheduledPayment,
			PaymentID: entry.ID,
			Recipient: entry.Recipient,
			Amount:    entry.Amount,
			Token:     entry.Token,
		}))

		fired := now
		entry.LastExecuted = &fired
		entry.ExecutionCount++
		if entry.Kind != ScheduleRecurring {
			entry.Status = ScheduleExecuted
		}

		result.Fired = append(result.Fired, entry.ID)
	}

	return result
}

// dueNow decides whether a pending entry is eligible to fire at now.
func dueNow(entry *ScheduleEntry, now time.Time) bool {
	switch entry.Kind {
	case ScheduleImmediate:
		return true

	case ScheduleScheduled:
		return entry.ExecuteAt != nil && !now.Before(*entry.ExecuteAt)

	case ScheduleRecurring:
		if entry.LastExecuted != nil {
			interval := entry.RecurringInterval
			if interval <= 0 {
				interval = defaultRecurringInterval
			}
			return now.Sub(*entry.LastExecuted) >= interval
		}
		// Never executed: start at ExecuteAt, or immediately if unset.
		return entry.ExecuteAt == nil || !now.Before(*entry.ExecuteAt)

	default:
		// Conditional entries are defined but never evaluated.
		return false
	}
}

// Cancel marks a pending entry cancelled. Returns false if the entry does
// not exist or is no longer pending; a fired one-shot entry cannot be
// cancelled.
func (s *Scheduler) Cancel(payer, entryID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entry := range s.schedules[payer] {
		if entry.ID == entryID && entry.Status == SchedulePending {
			entry.Status = ScheduleCancelled
			return true
		}
	}
	return false
}
