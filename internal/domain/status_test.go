package domain

import "testing"

import "github.com/stretchr/testify/assert"

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to RecordStatus
		want     bool
	}{
		{StatusWaiting, StatusRunning, true},
		{StatusWaiting, StatusComplete, false},
		{StatusRunning, StatusComplete, true},
		{StatusRunning, StatusError, true},
		{StatusRunning, StatusWaiting, true},
		{StatusError, StatusWaiting, true},
		{StatusError, StatusRunning, false},
		{StatusComplete, StatusInvalid, true},
		{StatusInvalid, StatusComplete, true},
		{StatusComplete, StatusWaiting, false},
		{StatusWaiting, StatusCancelled, true},
		{StatusComplete, StatusCancelled, true},
		{StatusDeleted, StatusCancelled, false},
		{StatusWaiting, StatusDeleted, true},
	}
	for _, c := range cases {
		got := CanTransition(c.from, c.to)
		assert.Equalf(t, c.want, got, "%s -> %s", c.from, c.to)
	}
}

func TestStatusHasTask(t *testing.T) {
	assert.True(t, StatusWaiting.HasTask())
	assert.True(t, StatusRunning.HasTask())
	assert.False(t, StatusComplete.HasTask())
	assert.False(t, StatusError.HasTask())
}

func TestStatusTerminal(t *testing.T) {
	assert.True(t, StatusComplete.Terminal())
	assert.True(t, StatusError.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.True(t, StatusInvalid.Terminal())
	assert.False(t, StatusWaiting.Terminal())
	assert.False(t, StatusRunning.Terminal())
}

func TestParsePriority(t *testing.T) {
	assert.Equal(t, PriorityLow, ParsePriority("low"))
	assert.Equal(t, PriorityHigh, ParsePriority("high"))
	assert.Equal(t, PriorityNormal, ParsePriority("normal"))
	assert.Equal(t, PriorityNormal, ParsePriority("garbage"))
}
