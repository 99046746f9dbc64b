package errors

import (
	"fmt"
	"log"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

// Kind classifies recoverable and fatal workflow errors.
type Kind string

const (
	// KindTemplate covers template/condition rendering failures.
	KindTemplate Kind = "template"
	// KindTargetResolution covers manual target ids/queries resolving to
	// nothing or to the wrong record type.
	KindTargetResolution Kind = "target-resolution"
	// KindCycle is the fatal too-many-jumps condition.
	KindCycle Kind = "cycle"
	// KindBudget marks a scheduler pass exceeding its per-workflow
	// wall-clock budget.
	KindBudget Kind = "budget"
	// KindStore covers record-store failures seen by the engine.
	KindStore Kind = "store"
)

// WorkflowError is a workflow-context error fed to the Recorder.
type WorkflowError struct {
	Kind       Kind
	WorkflowID string
	StatusID   string
	ActionID   string
	Summary    string
	Err        error
}

func (e *WorkflowError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Kind, e.Summary)
	if e.WorkflowID != "" {
		fmt.Fprintf(&b, " (workflow=%s", e.WorkflowID)
		if e.StatusID != "" {
			fmt.Fprintf(&b, " status=%s", e.StatusID)
		}
		if e.ActionID != "" {
			fmt.Fprintf(&b, " action=%s", e.ActionID)
		}
		b.WriteString(")")
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *WorkflowError) Unwrap() error { return e.Err }

var digits = regexp.MustCompile(`\d+`)

// Fingerprint is the stable dedup key: workflow + status + action +
// kind + digit-stripped summary, so repeats of the same failure on
// different records collapse into one entry.
func (e *WorkflowError) Fingerprint() string {
	summary := digits.ReplaceAllString(e.Summary, "")
	return strings.Join([]string{e.WorkflowID, e.StatusID, e.ActionID, string(e.Kind), summary}, "-")
}

// RecordedError is one deduplicated entry with its occurrence counter.
type RecordedError struct {
	First       *WorkflowError
	Occurrences int
	FirstSeen   time.Time
	LatestSeen  time.Time
}

// Recorder deduplicates recoverable workflow errors by fingerprint so
// repeated occurrences increment a counter instead of flooding the log.
type Recorder struct {
	mu      sync.Mutex
	entries map[string]*RecordedError
}

// NewRecorder creates an empty error recorder.
func NewRecorder() *Recorder {
	return &Recorder{entries: make(map[string]*RecordedError)}
}

// Record registers an occurrence. The first occurrence of a
// fingerprint is logged in full; repeats only bump the counter.
func (r *Recorder) Record(err *WorkflowError) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	fingerprint := err.Fingerprint()
	if entry, ok := r.entries[fingerprint]; ok {
		entry.Occurrences++
		entry.LatestSeen = now
		return
	}
	r.entries[fingerprint] = &RecordedError{
		First:       err,
		Occurrences: 1,
		FirstSeen:   now,
		LatestSeen:  now,
	}
	log.Printf("⚠️ workflow error: %v", err)
}

// Occurrences returns the count for an error's fingerprint.
func (r *Recorder) Occurrences(err *WorkflowError) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.entries[err.Fingerprint()]; ok {
		return entry.Occurrences
	}
	return 0
}

// Entries returns a stable snapshot of recorded errors, most frequent
// first.
func (r *Recorder) Entries() []*RecordedError {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := make([]*RecordedError, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Occurrences != entries[j].Occurrences {
			return entries[i].Occurrences > entries[j].Occurrences
		}
		return entries[i].FirstSeen.Before(entries[j].FirstSeen)
	})
	return entries
}
