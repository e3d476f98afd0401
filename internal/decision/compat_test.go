package decision

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompatible(t *testing.T) {
	act := ScheduleActivity{ActivityID: "a", Name: "A", Version: "1"}
	marker := RecordMarker{Name: "m"}
	complete := CompleteWorkflow{Result: "done"}
	fail := FailWorkflow{Reason: "R"}
	cancel := CancelWorkflow{Details: "c"}

	tests := []struct {
		name  string
		batch []Decision
		want  []Decision
	}{
		{"empty", nil, []Decision{}},
		{"no close", []Decision{act, marker}, []Decision{act, marker}},
		{"close moved last", []Decision{fail, marker}, []Decision{marker, fail}},
		{"fail beats complete", []Decision{complete, fail}, []Decision{fail}},
		{"cancel beats complete", []Decision{complete, cancel}, []Decision{cancel}},
		{"fail beats cancel", []Decision{cancel, fail}, []Decision{fail}},
		{"first of equals wins", []Decision{FailWorkflow{Reason: "1"}, FailWorkflow{Reason: "2"}}, []Decision{FailWorkflow{Reason: "1"}}},
		{"complete dropped when scheduling", []Decision{complete, act}, []Decision{act}},
		{"fail kept when scheduling", []Decision{act, fail}, []Decision{act, fail}},
		{"complete kept with markers", []Decision{marker, complete}, []Decision{marker, complete}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Compatible(tt.batch))
		})
	}
}

func TestCloses(t *testing.T) {
	assert.False(t, Closes([]Decision{RecordMarker{Name: "m"}}))
	assert.True(t, Closes([]Decision{CancelWorkflow{}}))
}
