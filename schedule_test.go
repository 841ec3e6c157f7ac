package payflow

import (
	"encoding/json"
	"testing"
	"time"
)

// fixedClock returns a Clock pinned to t, with a pointer so tests can
// advance it.
func fixedClock(t time.Time) (Clock, *time.Time) {
	now := t
	return func() time.Time { return now }, &now
}

var baseTime = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func TestScheduler_ImmediateFires(t *testing.T) {
	clock, _ := fixedClock(baseTime)
	s := NewScheduler(WithClock(clock))

	entry := s.Add("0xpayer", "0xrecv", "1.00", "USDC", ScheduleImmediate, nil, 0)
	result := s.RunCycle("0xpayer")

	if len(result.Fired) != 1 || result.Fired[0] != entry.ID {
		t.Fatalf("fired = %v, want [%s]", result.Fired, entry.ID)
	}

	stored := s.List("0xpayer")[0]
	if stored.Status != ScheduleExecuted {
		t.Errorf("status = %s, a one-shot entry is terminal after firing", stored.Status)
	}
	if stored.ExecutionCount != 1 {
		t.Errorf("execution count = %d, want 1", stored.ExecutionCount)
	}
	if stored.LastExecuted == nil || !stored.LastExecuted.Equal(baseTime) {
		t.Error("last executed should record the cycle time")
	}
}

func TestScheduler_ScheduledWaitsForExecuteAt(t *testing.T) {
	clock, now := fixedClock(baseTime)
	s := NewScheduler(WithClock(clock))

	at := baseTime.Add(time.Hour)
	entry := s.Add("0xpayer", "0xrecv", "1.00", "USDC", ScheduleScheduled, &at, 0)

	if result := s.RunCycle("0xpayer"); len(result.Fired) != 0 {
		t.Fatal("entry fired before its execute_at")
	}

	*now = at
	if result := s.RunCycle("0xpayer"); len(result.Fired) != 1 {
		t.Fatal("entry should fire once execute_at is reached")
	}

	// A later cycle never fires it again.
	*now = at.Add(48 * time.Hour)
	if result := s.RunCycle("0xpayer"); len(result.Fired) != 0 {
		t.Error("an executed one-shot entry must never fire again")
	}
	if got := s.List("0xpayer")[0]; got.Status != ScheduleExecuted || got.ID != entry.ID {
		t.Errorf("status = %s, want executed", got.Status)
	}
}

func TestScheduler_RecurringInterval(t *testing.T) {
	clock, now := fixedClock(baseTime)
	s := NewScheduler(WithClock(clock))

	s.Add("0xpayer", "0xrecv", "1.00", "USDC", ScheduleRecurring, nil, time.Hour)

	// Never executed and no start time: fires immediately.
	if result := s.RunCycle("0xpayer"); len(result.Fired) != 1 {
		t.Fatal("recurring entry with no start time should fire on the first cycle")
	}

	// Half the interval elapsed: not eligible.
	*now = baseTime.Add(30 * time.Minute)
	if result := s.RunCycle("0xpayer"); len(result.Fired) != 0 {
		t.Error("entry fired before the interval elapsed")
	}

	// Exactly one interval after the last execution: eligible again.
	*now = baseTime.Add(time.Hour)
	if result := s.RunCycle("0xpayer"); len(result.Fired) != 1 {
		t.Error("entry should fire once the interval has elapsed")
	}

	stored := s.List("0xpayer")[0]
	if stored.Status != SchedulePending {
		t.Errorf("status = %s, recurring entries stay pending", stored.Status)
	}
	if stored.ExecutionCount != 2 {
		t.Errorf("execution count = %d, want 2", stored.ExecutionCount)
	}
}

func TestScheduler_RecurringDefaultInterval(t *testing.T) {
	clock, now := fixedClock(baseTime)
	s := NewScheduler(WithClock(clock))

	s.Add("0xpayer", "0xrecv", "1.00", "USDC", ScheduleRecurring, nil, 0)
	s.RunCycle("0xpayer")

	*now = baseTime.Add(12 * time.Hour)
	if result := s.RunCycle("0xpayer"); len(result.Fired) != 0 {
		t.Error("default interval is 24h; 12h elapsed should not fire")
	}

	*now = baseTime.Add(24 * time.Hour)
	if result := s.RunCycle("0xpayer"); len(result.Fired) != 1 {
		t.Error("entry should fire after the default 24h interval")
	}
}

func TestScheduler_RecurringWithStartTime(t *testing.T) {
	clock, now := fixedClock(baseTime)
	s := NewScheduler(WithClock(clock))

	at := baseTime.Add(2 * time.Hour)
	s.Add("0xpayer", "0xrecv", "1.00", "USDC", ScheduleRecurring, &at, time.Hour)

	if result := s.RunCycle("0xpayer"); len(result.Fired) != 0 {
		t.Error("recurring entry must not fire before its start time")
	}

	*now = at
	if result := s.RunCycle("0xpayer"); len(result.Fired) != 1 {
		t.Error("recurring entry should fire at its start time")
	}
}

func TestScheduler_ConditionalNeverFires(t *testing.T) {
	clock, now := fixedClock(baseTime)
	s := NewScheduler(WithClock(clock))

	s.Add("0xpayer", "0xrecv", "1.00", "USDC", ScheduleConditional, nil, 0)

	*now = baseTime.Add(1000 * time.Hour)
	if result := s.RunCycle("0xpayer"); len(result.Fired) != 0 {
		t.Error("conditional entries are stored but never evaluated")
	}
	if got := s.List("0xpayer")[0]; got.Status != SchedulePending {
		t.Errorf("status = %s, want pending", got.Status)
	}
}

func TestScheduler_CycleMessages(t *testing.T) {
	clock, _ := fixedClock(baseTime)
	s := NewScheduler(WithClock(clock))

	if result := s.RunCycle("0xpayer"); len(result.Messages) != 1 ||
		result.Messages[0].Content != "No payments due at this time." {
		t.Errorf("messages = %v, want the no-payments note", result.Messages)
	}

	entry := s.Add("0xpayer", "0xrecv", "2.50", "DAI", ScheduleImmediate, nil, 0)
	result := s.RunCycle("0xpayer")
	if len(result.Messages) != 2 {
		t.Fatalf("messages = %d, want the found note plus one intent", len(result.Messages))
	}

	var intent ExecutionIntent
	if err := json.Unmarshal([]byte(result.Messages[1].Content), &intent); err != nil {
		t.Fatalf("intent message is not valid JSON: %v", err)
	}
	if intent.Action != ActionExecuteScheduledPayment {
		t.Errorf("action = %q, want %q", intent.Action, ActionExecuteScheduledPayment)
	}
	if intent.PaymentID != entry.ID || intent.Recipient != "0xrecv" ||
		intent.Amount != "2.50" || intent.Token != "DAI" {
		t.Errorf("intent = %+v, want the entry's transfer fields", intent)
	}
}

func TestScheduler_CancelPending(t *testing.T) {
	clock, _ := fixedClock(baseTime)
	s := NewScheduler(WithClock(clock))

	entry := s.Add("0xpayer", "0xrecv", "1.00", "USDC", ScheduleImmediate, nil, 0)
	if !s.Cancel("0xpayer", entry.ID) {
		t.Fatal("cancelling a pending entry should succeed")
	}
	if result := s.RunCycle("0xpayer"); len(result.Fired) != 0 {
		t.Error("a cancelled entry must never fire")
	}
	if got := s.List("0xpayer")[0]; got.Status != ScheduleCancelled {
		t.Errorf("status = %s, want cancelled", got.Status)
	}
}

func TestScheduler_CancelExecutedFails(t *testing.T) {
	clock, _ := fixedClock(baseTime)
	s := NewScheduler(WithClock(clock))

	entry := s.Add("0xpayer", "0xrecv", "1.00", "USDC", ScheduleImmediate, nil, 0)
	s.RunCycle("0xpayer")

	if s.Cancel("0xpayer", entry.ID) {
		t.Error("cancelling an executed entry must fail")
	}
	if s.Cancel("0xpayer", "unknown") {
		t.Error("cancelling an unknown entry must fail")
	}
}

func TestScheduler_PayersIsolated(t *testing.T) {
	clock, _ := fixedClock(baseTime)
	s := NewScheduler(WithClock(clock))

	s.Add("0xalice", "0xrecv", "1.00", "USDC", ScheduleImmediate, nil, 0)
	s.Add("0xbob", "0xrecv", "2.00", "USDC", ScheduleImmediate, nil, 0)

	result := s.RunCycle("0xalice")
	if len(result.Fired) != 1 {
		t.Fatalf("fired = %d, want only alice's entry", len(result.Fired))
	}
	if got := s.List("0xbob")[0]; got.Status != SchedulePending {
		t.Error("a cycle for one payer must not touch another payer's entries")
	}
}

func TestScheduler_ListCopies(t *testing.T) {
	clock, _ := fixedClock(baseTime)
	s := NewScheduler(WithClock(clock))

	s.Add("0xpayer", "0xrecv", "1.00", "USDC", ScheduleImmediate, nil, 0)
	listed := s.List("0xpayer")
	listed[0].Status = ScheduleCancelled

	if got := s.List("0xpayer")[0]; got.Status != SchedulePending {
		t.Error("List must return copies, not live entries")
	}
}
