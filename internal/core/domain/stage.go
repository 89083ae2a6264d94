package domain

import "strings"

// =============================================================================
// Stage Results
// =============================================================================

// StageStatus is the outcome of one CI pipeline stage.
type StageStatus string

const (
	StageSuccess StageStatus = "SUCCESS"
	StageFailed  StageStatus = "FAILED"
	StageAborted StageStatus = "ABORTED"
)

// ParseStageStatus maps a CI-reported stage status onto the three outcomes
// the gate cares about. Anything that is neither failed nor aborted, such as
// UNSTABLE or NOT_EXECUTED, is treated as success so only hard outcomes stop
// the pipeline.
func ParseStageStatus(s string) StageStatus {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "FAILED", "FAILURE":
		return StageFailed
	case "ABORTED":
		return StageAborted
	default:
		return StageSuccess
	}
}

// StageResult is the name and outcome of a single CI stage.
type StageResult struct {
	Name   string      `json:"name"`
	Status StageStatus `json:"status"`
}

// AggregateStatus returns the worst status across stages with precedence
// FAILED > ABORTED > SUCCESS. An empty list aggregates to SUCCESS.
//
// Example:
//
//	AggregateStatus([]StageResult{{"build", StageSuccess}, {"test", StageAborted}}) // StageAborted
func AggregateStatus(stages []StageResult) StageStatus {
	aborted := false
	for _, s := range stages {
		switch s.Status {
		case StageFailed:
			return StageFailed
		case StageAborted:
			aborted = true
		}
	}
	if aborted {
		return StageAborted
	}
	return StageSuccess
}
