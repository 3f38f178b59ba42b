package transport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStdioTransportSendRequestFailsWhenNotConnected(t *testing.T) {
	tr := NewStdioTransport(StdioSpec{Command: "unused"}, nil)
	assert.False(t, tr.Healthy())

	_, err := tr.SendRequest(context.Background(), "echo.node", nil)
	assert.Error(t, err)
}

func TestStdioTransportDisconnectBeforeConnectIsNoop(t *testing.T) {
	tr := NewStdioTransport(StdioSpec{Command: "unused"}, nil)
	assert.NoError(t, tr.Disconnect(context.Background()))
	assert.False(t, tr.Healthy())
}

func TestStdioTransportConnectFailsForMissingCommand(t *testing.T) {
	var transitions []Transition
	sink := func(serverID string, transition Transition, err error) {
		transitions = append(transitions, transition)
	}

	tr := NewStdioTransport(StdioSpec{Command: "enginecore-definitely-not-a-real-binary"}, sink)
	err := tr.Connect(context.Background())
	assert.Error(t, err)
	assert.False(t, tr.Healthy())
	assert.Contains(t, transitions, TransitionFailed)
}
