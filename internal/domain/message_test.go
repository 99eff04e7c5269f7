package domain

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEnvelopeRoundTrip(t *testing.T) {
	payload := HeartbeatAckPayload{}
	env, err := NewEnvelope(MsgHeartbeatAck, payload)
	require.NoError(t, err)
	assert.Equal(t, MsgHeartbeatAck, env.Type)

	raw, err := json.Marshal(env)
	require.NoError(t, err)

	var decoded Envelope
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, MsgHeartbeatAck, decoded.Type)
}

func TestNewEnvelopePreservesPayloadFields(t *testing.T) {
	agentID := uuid.New()
	env, err := NewEnvelope(MsgRegistrationConfirmed, RegistrationConfirmedPayload{AgentID: agentID})
	require.NoError(t, err)

	var decoded RegistrationConfirmedPayload
	require.NoError(t, json.Unmarshal(env.Payload, &decoded))
	assert.Equal(t, agentID, decoded.AgentID)
}

func TestNewEnvelopeRejectsUnmarshalableValue(t *testing.T) {
	_, err := NewEnvelope(MsgHeartbeat, make(chan int))
	assert.Error(t, err)
}

func TestEnvelopeUnmarshalFromRawFrame(t *testing.T) {
	raw := []byte(`{"type":"CommandResponse","payload":{"command_id":"` + uuid.New().String() + `","status":"Completed"}}`)

	var env Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	assert.Equal(t, MsgCommandResponse, env.Type)

	var payload CommandResponsePayload
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, CommandStatusCompleted, payload.Status)
}
