package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAggregateStatus(t *testing.T) {
	tests := []struct {
		name   string
		stages []StageResult
		want   StageStatus
	}{
		{"empty", nil, StageSuccess},
		{"all success", []StageResult{{"a", StageSuccess}, {"b", StageSuccess}}, StageSuccess},
		{"aborted", []StageResult{{"a", StageSuccess}, {"b", StageAborted}}, StageAborted},
		{"failed beats aborted", []StageResult{{"a", StageAborted}, {"b", StageFailed}}, StageFailed},
		{"failed first", []StageResult{{"a", StageFailed}, {"b", StageAborted}}, StageFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AggregateStatus(tt.stages))
		})
	}
}

func TestParseStageStatus(t *testing.T) {
	assert.Equal(t, StageFailed, ParseStageStatus("FAILED"))
	assert.Equal(t, StageFailed, ParseStageStatus("FAILURE"))
	assert.Equal(t, StageAborted, ParseStageStatus("aborted"))
	assert.Equal(t, StageSuccess, ParseStageStatus("SUCCESS"))
	assert.Equal(t, StageSuccess, ParseStageStatus("UNSTABLE"))
}
