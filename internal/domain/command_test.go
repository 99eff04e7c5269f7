package domain

import "testing"

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to CommandStatus
		want     bool
	}{
		{CommandStatusPending, CommandStatusSent, true},
		{CommandStatusSent, CommandStatusExecuting, true},
		{CommandStatusSent, CommandStatusCompleted, true},
		{CommandStatusSent, CommandStatusTimeout, true},
		{CommandStatusExecuting, CommandStatusCompleted, true},
		{CommandStatusExecuting, CommandStatusFailed, true},
		{CommandStatusExecuting, CommandStatusTimeout, true},
		{CommandStatusPending, CommandStatusExecuting, false},
		{CommandStatusCompleted, CommandStatusSent, false},
		{CommandStatusCompleted, CommandStatusFailed, false},
		{CommandStatusTimeout, CommandStatusCompleted, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}
