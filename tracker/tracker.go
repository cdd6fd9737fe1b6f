// Package tracker records speed test execution statistics with simple
// pluggable persistence.
package tracker

import (
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"
)

// failureHistorySize bounds the retained failure-reason ring.
const failureHistorySize = 10

// state is the persisted counter set. Absent fields default to
// zero/empty on load so partial state from older versions still loads.
type state struct {
	TotalAttempts     int       `json:"total_attempts"`
	AutomatedAttempts int       `json:"automated_attempts"`
	ManualAttempts    int       `json:"manual_attempts"`
	Successes         int       `json:"successes"`
	AutomatedSuccess  int       `json:"automated_successes"`
	Failures          int       `json:"failures"`
	AutomatedFailures int       `json:"automated_failures"`
	LastAttempt       time.Time `json:"last_attempt,omitempty"`
	LastSuccess       time.Time `json:"last_success,omitempty"`
	LastFailure       time.Time `json:"last_failure,omitempty"`
	FailureReasons    []string  `json:"failure_reasons,omitempty"`
}

// Tracker keeps running attempt/success/failure counters and a bounded
// history of failure reasons. Attempt and outcome calls are not
// transactionally paired; the caller is responsible for following every
// RecordAttempt with exactly one outcome call.
type Tracker struct {
	mu    sync.Mutex
	store Store
	key   string
	st    state
	now   func() time.Time
}

// New creates a tracker persisting under key in the given store.
func New(store Store, key string) *Tracker {
	return &Tracker{
		store: store,
		key:   key,
		now:   time.Now,
	}
}

// RecordAttempt counts a speed test attempt, automated or manual.
func (t *Tracker) RecordAttempt(automated bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.st.TotalAttempts++
	if automated {
		t.st.AutomatedAttempts++
	} else {
		t.st.ManualAttempts++
	}
	t.st.LastAttempt = t.now()
}

// RecordSuccess counts a successful outcome.
func (t *Tracker) RecordSuccess(automated bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.st.Successes++
	if automated {
		t.st.AutomatedSuccess++
	}
	t.st.LastSuccess = t.now()
}

// RecordFailure counts a failed outcome and remembers the reason,
// keeping only the most recent entries.
func (t *Tracker) RecordFailure(automated bool, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.st.Failures++
	if automated {
		t.st.AutomatedFailures++
	}
	t.st.LastFailure = t.now()
	t.st.FailureReasons = append(t.st.FailureReasons, reason)
	if len(t.st.FailureReasons) > failureHistorySize {
		t.st.FailureReasons = t.st.FailureReasons[len(t.st.FailureReasons)-failureHistorySize:]
	}
}

// SuccessRate is successes over attempts as a percentage rounded to one
// decimal, 0 when nothing has been attempted.
func (t *Tracker) SuccessRate() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return rate(t.st.Successes, t.st.TotalAttempts)
}

// AutomatedSuccessRate is the automated-only success percentage.
func (t *Tracker) AutomatedSuccessRate() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return rate(t.st.AutomatedSuccess, t.st.AutomatedAttempts)
}

func rate(successes, attempts int) float64 {
	if attempts == 0 {
		return 0
	}
	return math.Round(float64(successes)/float64(attempts)*1000) / 10
}

// Stats is a copy of the current counters for reporting.
type Stats struct {
	TotalAttempts     int
	AutomatedAttempts int
	ManualAttempts    int
	Successes         int
	Failures          int
	LastAttempt       time.Time
	LastSuccess       time.Time
	LastFailure       time.Time
	FailureReasons    []string
}

// Snapshot returns a copy of the counters.
func (t *Tracker) Snapshot() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	reasons := make([]string, len(t.st.FailureReasons))
	copy(reasons, t.st.FailureReasons)
	return Stats{
		TotalAttempts:     t.st.TotalAttempts,
		AutomatedAttempts: t.st.AutomatedAttempts,
		ManualAttempts:    t.st.ManualAttempts,
		Successes:         t.st.Successes,
		Failures:          t.st.Failures,
		LastAttempt:       t.st.LastAttempt,
		LastSuccess:       t.st.LastSuccess,
		LastFailure:       t.st.LastFailure,
		FailureReasons:    reasons,
	}
}

// Save serializes the full counter set to the store.
func (t *Tracker) Save() error {
	t.mu.Lock()
	data, err := json.Marshal(t.st)
	t.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to marshal tracker state: %w", err)
	}
	if err := t.store.Set(t.key, data); err != nil {
		return fmt.Errorf("failed to save tracker state: %w", err)
	}
	return nil
}

// Load restores the counter set from the store. Missing state leaves
// the counters at zero; partial state fills in what it has.
func (t *Tracker) Load() error {
	data, err := t.store.Get(t.key)
	if err != nil {
		return fmt.Errorf("failed to load tracker state: %w", err)
	}
	if data == nil {
		return nil
	}

	var st state
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("failed to unmarshal tracker state: %w", err)
	}
	if len(st.FailureReasons) > failureHistorySize {
		st.FailureReasons = st.FailureReasons[len(st.FailureReasons)-failureHistorySize:]
	}

	t.mu.Lock()
	t.st = st
	t.mu.Unlock()
	return nil
}
