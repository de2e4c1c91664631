package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransitionTo(t *testing.T) {
	cases := []struct {
		from    ProcessingStatus
		to      ProcessingStatus
		allowed bool
	}{
		{StatusPending, StatusProcessing, true},
		{StatusPending, StatusFailed, true},
		{StatusPending, StatusCompleted, false}, // no transition skips PROCESSING
		{StatusPending, StatusPending, false},

		{StatusProcessing, StatusProcessing, true}, // safe re-run after crash
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusFailed, true},
		{StatusProcessing, StatusPending, false},

		{StatusFailed, StatusProcessing, true}, // retry trigger
		{StatusFailed, StatusFailed, true},
		{StatusFailed, StatusCompleted, false},
		{StatusFailed, StatusPending, false},

		{StatusCompleted, StatusProcessing, false},
		{StatusCompleted, StatusFailed, false},
		{StatusCompleted, StatusCompleted, false},
		{StatusCompleted, StatusPending, false},
	}

	for _, tc := range cases {
		got := tc.from.CanTransitionTo(tc.to)
		assert.Equalf(t, tc.allowed, got, "%s -> %s", tc.from, tc.to)
	}
}

func TestStatusHelpers(t *testing.T) {
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusProcessing.IsTerminal())

	for _, s := range []ProcessingStatus{StatusPending, StatusProcessing, StatusCompleted, StatusFailed} {
		assert.True(t, s.IsValid(), s)
	}
	assert.False(t, ProcessingStatus("uploading").IsValid())
}

func TestInvalidTransitionError(t *testing.T) {
	err := &InvalidTransitionError{From: StatusCompleted, To: StatusProcessing}
	assert.Equal(t, "invalid status transition completed -> processing", err.Error())
}
