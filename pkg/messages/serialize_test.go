package messages

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializeDeserializeMessage(t *testing.T) {
	tests := []struct {
		name    string
		message *Message
	}{
		{
			name:    "login from unknown connection",
			message: &Message{ConnectionID: 0, Type: MessageTypeClientLogin, Payload: []byte{1, 2, 3}},
		},
		{
			name:    "datagram with empty payload",
			message: &Message{ConnectionID: 42, Type: MessageTypeDatagram, Payload: []byte{}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := SerializeMessage(tt.message)
			require.NoError(t, err)

			got, err := DeserializeMessage(b)
			require.NoError(t, err)
			assert.Equal(t, tt.message.ConnectionID, got.ConnectionID)
			assert.Equal(t, tt.message.Type, got.Type)
			assert.Equal(t, len(tt.message.Payload), len(got.Payload))
		})
	}
}

func TestDeserializeMessage_Malformed(t *testing.T) {
	tests := []struct {
		name string
		b    []byte
	}{
		{name: "empty", b: nil},
		{name: "truncated", b: []byte{0xff, 0xff, 0xff, 0x7f}},
		{name: "garbage", b: []byte{8, 0, 0, 0, 1, 2, 3, 4, 5, 6}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DeserializeMessage(tt.b)
			assert.Error(t, err)
		})
	}
}

func TestDeserializeMessage_UnknownType(t *testing.T) {
	b, err := SerializeMessage(&Message{Type: MessageType(200)})
	require.NoError(t, err)
	_, err = DeserializeMessage(b)
	assert.True(t, IsProtocolViolation(err))
}

func TestLoginRoundTrip(t *testing.T) {
	login := &ClientLogin{Name: "diver", Token: "abc", ReconnectToken: "tok"}
	b, err := SerializeClientLogin(login)
	require.NoError(t, err)
	got, err := DeserializeClientLogin(b)
	require.NoError(t, err)
	assert.Equal(t, login, got)

	result := &ServerLoginResult{
		Accepted:       true,
		ConnectionID:   7,
		SessionID:      3,
		ReconnectToken: "tok",
		TickRate:       60,
		MidRound:       true,
	}
	msg, err := EncodeMessage(0, MessageTypeServerLoginSuccess, result, SerializeServerLoginResult)
	require.NoError(t, err)
	gotResult, err := DeserializeServerLoginResult(msg.Payload)
	require.NoError(t, err)
	assert.Equal(t, result, gotResult)
}

func TestTimeSyncAndDisconnect(t *testing.T) {
	b, err := SerializeTimeSync(&TimeSync{Timestamp: 100, ClientTimestamp: 90})
	require.NoError(t, err)
	sync, err := DeserializeTimeSync(b)
	require.NoError(t, err)
	assert.Equal(t, int64(100), sync.Timestamp)
	assert.Equal(t, int64(90), sync.ClientTimestamp)

	b, err = SerializeServerDisconnect(&ServerDisconnect{Reason: "kicked"})
	require.NoError(t, err)
	d, err := DeserializeServerDisconnect(b)
	require.NoError(t, err)
	assert.Equal(t, "kicked", d.Reason)
}
