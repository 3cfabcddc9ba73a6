package lifecycle

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Phase Tests
// =============================================================================

func TestStage_Phase(t *testing.T) {
	tests := []struct {
		stage Stage
		want  Phase
	}{
		{StageNone, PhaseNone},
		{InstanceCreated, PhaseCreation},
		{ImagePrepared, PhaseCreation},
		{ContainerCreated, PhaseCreation},
		{ContainerStarted, PhaseCreation},
		{ContainerStopped, PhaseDestruction},
		{ContainerRemoved, PhaseDestruction},
		{ImageReleased, PhaseDestruction},
		{InstanceDiscarded, PhaseDestruction},
	}

	for _, tt := range tests {
		t.Run(tt.stage.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.stage.Phase())
		})
	}
}

func TestStages_OrderedAndValid(t *testing.T) {
	stages := Stages()
	require.Len(t, stages, 8)
	for i, s := range stages {
		assert.True(t, s.Valid())
		if i > 0 {
			assert.Greater(t, s, stages[i-1])
		}
	}
	assert.False(t, StageNone.Valid())
	assert.False(t, Stage(42).Valid())
}

func TestStage_String(t *testing.T) {
	assert.Equal(t, "container_started", ContainerStarted.String())
	assert.Equal(t, "stage(42)", Stage(42).String())
}

// =============================================================================
// Transition Tests
// =============================================================================

func TestTransition_ForwardSequence(t *testing.T) {
	from := StageNone
	for _, to := range Stages() {
		require.NoError(t, Transition(from, to), "%s -> %s", from, to)
		from = to
	}
}

func TestTransition_Restart(t *testing.T) {
	assert.NoError(t, Transition(ContainerStopped, ContainerStarted))
	assert.True(t, IsRestart(ContainerStopped, ContainerStarted))
	assert.False(t, IsRestart(ContainerCreated, ContainerStarted))
}

func TestTransition_Rejected(t *testing.T) {
	tests := []struct {
		name string
		from Stage
		to   Stage
	}{
		{"skip image", InstanceCreated, ContainerCreated},
		{"backwards", ContainerCreated, ImagePrepared},
		{"revisit", ContainerStarted, ContainerStarted},
		{"stop before start", ContainerCreated, ContainerStopped},
		{"after discard", InstanceDiscarded, InstanceCreated},
		{"remove running", ContainerStarted, ContainerRemoved},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Transition(tt.from, tt.to)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrIllegalTransition))

			var te *TransitionError
			require.True(t, errors.As(err, &te))
			assert.Equal(t, tt.from, te.From)
			assert.Equal(t, tt.to, te.To)
		})
	}
}
