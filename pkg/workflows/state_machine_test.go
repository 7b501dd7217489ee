package workflows

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type light string
type press string

var (
	states = []light{"off", "on", "broken"}
	events = []press{"toggle", "smash"}
)

func TestStateMachineLookup(t *testing.T) {
	sm, err := NewStateMachine(states, events,
		Transition[light, press, int]{From: "off", Event: "toggle", To: "on", Effect: 1},
		Transition[light, press, int]{From: "on", Event: "toggle", To: "off", Effect: -1},
		Transition[light, press, int]{From: "on", Event: "smash", To: "broken"},
	)
	require.NoError(t, err)

	tr, ok := sm.Lookup("off", "toggle")
	require.True(t, ok)
	assert.Equal(t, light("on"), tr.To)
	assert.Equal(t, 1, tr.Effect)

	_, ok = sm.Lookup("off", "smash")
	assert.False(t, ok)

	assert.True(t, sm.CanTransition("on", "broken"))
	assert.False(t, sm.CanTransition("broken", "on"))
	assert.Equal(t, []press{"toggle", "smash"}, sm.GetAllowedEvents("on"))
	assert.Equal(t, []light{"off", "broken"}, sm.GetAllowedTransitions("on"))
	assert.Empty(t, sm.GetAllowedTransitions("broken"))
}

func TestStateMachineWalkCoversCrossProduct(t *testing.T) {
	sm := MustNewStateMachine(states, events,
		Transition[light, press, struct{}]{From: "off", Event: "toggle", To: "on"},
	)

	visited, legal := 0, 0
	sm.Walk(func(_ light, _ press, _ Transition[light, press, struct{}], ok bool) {
		visited++
		if ok {
			legal++
		}
	})
	assert.Equal(t, len(states)*len(events), visited)
	assert.Equal(t, 1, legal)
}

func TestStateMachineRejectsBadTables(t *testing.T) {
	_, err := NewStateMachine(states, events,
		Transition[light, press, int]{From: "off", Event: "toggle", To: "dimmed"},
	)
	assert.Error(t, err)

	_, err = NewStateMachine(states, events,
		Transition[light, press, int]{From: "off", Event: "kick", To: "on"},
	)
	assert.Error(t, err)

	_, err = NewStateMachine(states, events,
		Transition[light, press, int]{From: "off", Event: "toggle", To: "on"},
		Transition[light, press, int]{From: "off", Event: "toggle", To: "broken"},
	)
	assert.Error(t, err)

	assert.Panics(t, func() {
		MustNewStateMachine[light, press, int]([]light{"off", "off"}, events)
	})
}
