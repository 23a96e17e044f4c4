// =============================================================================
// NF-e Supplier Classifier - Audit Reporter
// =============================================================================
//
// The reporter keeps the audit trail of a run:
//   - one PlacementRecord per document, appended when its destination is
//     decided (before the move)
//   - relocation failures, reported apart from the decisions so the two can
//     be reconciled
//   - skipped documents (extraction failures), tagged with the rule that
//     routed them when there was one
//   - SemGrupo folders renamed after Stage-2, so records naming a tax id
//     folder can be matched to the bundle
//
// All methods are safe for concurrent use.
//
// =============================================================================

package audit

import (
	"sync"
	"time"

	"github.com/ginjaninja78/nfe-classifier/internal/faults"
	"github.com/ginjaninja78/nfe-classifier/internal/types"
)

// Entry is a failed or skipped document.
type Entry struct {
	FileName string
	Kind     string
	Message  string

	// Rule is the Stage-1 rule the document had already gone through, if any.
	Rule string
	At   time.Time
}

// FolderRename maps a folder named in placement records to its final name.
type FolderRename struct {
	From string
	To   string
}

// Reporter accumulates the audit trail of one run.
type Reporter struct {
	runID string
	start time.Time

	mu         sync.Mutex
	placements []types.PlacementRecord
	failures   []Entry
	skips      []Entry
	renames    []FolderRename
}

// NewReporter creates a Reporter for the run identified by runID.
func NewReporter(runID string) *Reporter {
	return &Reporter{runID: runID, start: time.Now()}
}

// RunID returns the identifier given at creation.
func (r *Reporter) RunID() string { return r.runID }

// Started returns the creation time of the reporter.
func (r *Reporter) Started() time.Time { return r.start }

// Record appends a placement decision.
func (r *Reporter) Record(rec types.PlacementRecord) {
	r.mu.Lock()
	r.placements = append(r.placements, rec)
	r.mu.Unlock()
}

// RecordFailure registers a document whose decided move did not happen.
func (r *Reporter) RecordFailure(fileName string, err error) {
	r.mu.Lock()
	r.failures = append(r.failures, newEntry(fileName, err))
	r.mu.Unlock()
}

// RecordSkip registers a document excluded from classification.
func (r *Reporter) RecordSkip(fileName string, err error) {
	r.RecordSkipRule(fileName, "", err)
}

// RecordSkipRule registers a skipped document that rule had already routed,
// e.g. a document deferred by R1 whose issuer cannot be read.
func (r *Reporter) RecordSkipRule(fileName, rule string, err error) {
	e := newEntry(fileName, err)
	e.Rule = rule
	r.mu.Lock()
	r.skips = append(r.skips, e)
	r.mu.Unlock()
}

// RecordRename registers a folder renamed after its placement records were
// written. Paths are relative to the output root.
func (r *Reporter) RecordRename(from, to string) {
	r.mu.Lock()
	r.renames = append(r.renames, FolderRename{From: from, To: to})
	r.mu.Unlock()
}

// Placements returns a copy of the placement records in decision order.
func (r *Reporter) Placements() []types.PlacementRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.PlacementRecord(nil), r.placements...)
}

// Failures returns a copy of the relocation failures.
func (r *Reporter) Failures() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.failures...)
}

// Skips returns a copy of the skipped documents.
func (r *Reporter) Skips() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.skips...)
}

// Renames returns a copy of the folder renames in the order they happened.
func (r *Reporter) Renames() []FolderRename {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]FolderRename(nil), r.renames...)
}

// CountByRule tallies placement records per rule identifier.
func (r *Reporter) CountByRule() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int)
	for _, p := range r.placements {
		out[p.Rule]++
	}
	return out
}

func newEntry(fileName string, err error) Entry {
	e := Entry{FileName: fileName, Kind: faults.KindOf(err).String(), At: time.Now()}
	if err != nil {
		e.Message = err.Error()
	}
	return e
}
