package workflow

import (
	"sort"
	"time"
)

// Readiness is the completion state of a set of required documents.
type Readiness struct {
	Completed int      `json:"completed"`
	Total     int      `json:"total"`
	Ready     bool     `json:"ready"`
	Missing   []DocKey `json:"missing"`
}

// StageReadiness is Readiness scoped to the documents one stage cares about.
type StageReadiness struct {
	Stage string `json:"stage"`
	Readiness
}

// Completion counts how many of required are marked Complete in status.
// It works over any comparable key type.
func Completion[K comparable, S ~string](required map[K]struct{}, status map[K]S) (completed, total int) {
	for k := range required {
		if string(status[k]) == string(DocComplete) {
			completed++
		}
	}
	return completed, len(required)
}

// IsReady is true iff at least one document is required and all are complete.
// An empty requirement set is not ready.
func IsReady[K comparable, S ~string](required map[K]struct{}, status map[K]S) bool {
	completed, total := Completion(required, status)
	return total > 0 && completed == total
}

// MissingDocs lists the required keys not marked Complete, sorted.
func MissingDocs(required DocSet, status map[DocKey]DocStatus) []DocKey {
	missing := make([]DocKey, 0)
	for k := range required {
		if status[k] != DocComplete {
			missing = append(missing, k)
		}
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
	return missing
}

// EvaluateReadiness summarises completion and the ready gate.
func EvaluateReadiness(required DocSet, status map[DocKey]DocStatus) Readiness {
	completed, total := Completion(required, status)
	return Readiness{
		Completed: completed,
		Total:     total,
		Ready:     total > 0 && completed == total,
		Missing:   MissingDocs(required, status),
	}
}

// StageRelevantDocs scopes a patient's required documents to one stage.
func StageRelevantDocs(required DocSet, stage Stage) DocSet {
	return required.Intersect(stage.RequiredDocs)
}

// EvaluateStageReadiness reports what is still needed to leave stage.
func EvaluateStageReadiness(required DocSet, stage Stage, status map[DocKey]DocStatus) StageReadiness {
	return StageReadiness{
		Stage:     stage.Name,
		Readiness: EvaluateReadiness(StageRelevantDocs(required, stage), status),
	}
}

// DwellStatus reports how long an order has sat in its current stage.
type DwellStatus struct {
	Stage       string `json:"stage"`
	DaysInStage int    `json:"days_in_stage"`
	TargetDays  *int   `json:"target_days,omitempty"`
	Overdue     bool   `json:"overdue"`
}

// Dwell computes whole days since the order's last stage change. Orders
// with no recorded change report zero days.
func Dwell(o Order, stage Stage, now time.Time) DwellStatus {
	d := DwellStatus{Stage: stage.Name, TargetDays: stage.TargetDays}
	if o.LastStageChange != nil && now.After(*o.LastStageChange) {
		d.DaysInStage = int(now.Sub(*o.LastStageChange) / (24 * time.Hour))
	}
	if stage.TargetDays != nil {
		d.Overdue = d.DaysInStage > *stage.TargetDays
	}
	return d
}
