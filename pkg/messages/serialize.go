package messages

import (
	"fmt"

	controlfb "github.com/cbodonnell/tether/flatbuffers/control"
	flatbuffers "github.com/google/flatbuffers/go"
)

// decodeGuard converts a panic from reading a truncated flatbuffer into a
// protocol violation so a malformed message never takes down a reader goroutine.
func decodeGuard(what string, err *error) {
	if r := recover(); r != nil {
		*err = NewProtocolViolation("malformed %s: %v", what, r)
	}
}

func SerializeMessage(m *Message) ([]byte, error) {
	builder := flatbuffers.NewBuilder(len(m.Payload) + 32)

	payload := builder.CreateByteVector(m.Payload)

	controlfb.MessageStart(builder)
	controlfb.MessageAddConnectionId(builder, m.ConnectionID)
	controlfb.MessageAddType(builder, byte(m.Type))
	controlfb.MessageAddPayload(builder, payload)
	messageOffset := controlfb.MessageEnd(builder)
	builder.Finish(messageOffset)

	return builder.FinishedBytes(), nil
}

func DeserializeMessage(b []byte) (m *Message, err error) {
	defer decodeGuard("message", &err)
	if len(b) < flatbuffers.SizeUOffsetT {
		return nil, NewProtocolViolation("message of %d bytes is too short", len(b))
	}

	fb := controlfb.GetRootAsMessage(b, 0)
	m = &Message{
		ConnectionID: fb.ConnectionId(),
		Type:         MessageType(fb.Type()),
	}
	// copy so the message does not alias the read buffer
	m.Payload = append([]byte(nil), fb.PayloadBytes()...)
	if m.Type < MessageTypeClientLogin || m.Type > MessageTypeDatagram {
		return nil, NewProtocolViolation("unknown message type %d", byte(m.Type))
	}

	return m, nil
}

func SerializeClientLogin(login *ClientLogin) ([]byte, error) {
	builder := flatbuffers.NewBuilder(0)
	name := builder.CreateString(login.Name)
	token := builder.CreateString(login.Token)
	reconnectToken := builder.CreateString(login.ReconnectToken)

	controlfb.LoginStart(builder)
	controlfb.LoginAddName(builder, name)
	controlfb.LoginAddToken(builder, token)
	controlfb.LoginAddReconnectToken(builder, reconnectToken)
	builder.Finish(controlfb.LoginEnd(builder))

	return builder.FinishedBytes(), nil
}

func DeserializeClientLogin(b []byte) (login *ClientLogin, err error) {
	defer decodeGuard("login", &err)
	if len(b) < flatbuffers.SizeUOffsetT {
		return nil, NewProtocolViolation("login of %d bytes is too short", len(b))
	}

	fb := controlfb.GetRootAsLogin(b, 0)
	return &ClientLogin{
		Name:           string(fb.Name()),
		Token:          string(fb.Token()),
		ReconnectToken: string(fb.ReconnectToken()),
	}, nil
}

func SerializeServerLoginResult(result *ServerLoginResult) ([]byte, error) {
	builder := flatbuffers.NewBuilder(0)
	reason := builder.CreateString(result.Reason)
	reconnectToken := builder.CreateString(result.ReconnectToken)

	controlfb.LoginResultStart(builder)
	controlfb.LoginResultAddAccepted(builder, result.Accepted)
	controlfb.LoginResultAddReason(builder, reason)
	controlfb.LoginResultAddConnectionId(builder, result.ConnectionID)
	controlfb.LoginResultAddSessionId(builder, result.SessionID)
	controlfb.LoginResultAddReconnectToken(builder, reconnectToken)
	controlfb.LoginResultAddTickRate(builder, result.TickRate)
	controlfb.LoginResultAddMidRound(builder, result.MidRound)
	builder.Finish(controlfb.LoginResultEnd(builder))

	return builder.FinishedBytes(), nil
}

func DeserializeServerLoginResult(b []byte) (result *ServerLoginResult, err error) {
	defer decodeGuard("login result", &err)
	if len(b) < flatbuffers.SizeUOffsetT {
		return nil, NewProtocolViolation("login result of %d bytes is too short", len(b))
	}

	fb := controlfb.GetRootAsLoginResult(b, 0)
	return &ServerLoginResult{
		Accepted:       fb.Accepted(),
		Reason:         string(fb.Reason()),
		ConnectionID:   fb.ConnectionId(),
		SessionID:      fb.SessionId(),
		ReconnectToken: string(fb.ReconnectToken()),
		TickRate:       fb.TickRate(),
		MidRound:       fb.MidRound(),
	}, nil
}

func SerializeTimeSync(sync *TimeSync) ([]byte, error) {
	builder := flatbuffers.NewBuilder(0)
	controlfb.TimeSyncStart(builder)
	controlfb.TimeSyncAddTimestamp(builder, sync.Timestamp)
	controlfb.TimeSyncAddClientTimestamp(builder, sync.ClientTimestamp)
	builder.Finish(controlfb.TimeSyncEnd(builder))
	return builder.FinishedBytes(), nil
}

func DeserializeTimeSync(b []byte) (sync *TimeSync, err error) {
	defer decodeGuard("time sync", &err)
	if len(b) < flatbuffers.SizeUOffsetT {
		return nil, NewProtocolViolation("time sync of %d bytes is too short", len(b))
	}

	fb := controlfb.GetRootAsTimeSync(b, 0)
	return &TimeSync{
		Timestamp:       fb.Timestamp(),
		ClientTimestamp: fb.ClientTimestamp(),
	}, nil
}

func SerializeServerDisconnect(d *ServerDisconnect) ([]byte, error) {
	builder := flatbuffers.NewBuilder(0)
	reason := builder.CreateString(d.Reason)
	controlfb.DisconnectStart(builder)
	controlfb.DisconnectAddReason(builder, reason)
	builder.Finish(controlfb.DisconnectEnd(builder))
	return builder.FinishedBytes(), nil
}

func DeserializeServerDisconnect(b []byte) (d *ServerDisconnect, err error) {
	defer decodeGuard("disconnect", &err)
	if len(b) < flatbuffers.SizeUOffsetT {
		return nil, NewProtocolViolation("disconnect of %d bytes is too short", len(b))
	}

	fb := controlfb.GetRootAsDisconnect(b, 0)
	return &ServerDisconnect{Reason: string(fb.Reason())}, nil
}

// NewMessage wraps an already serialized payload in an envelope.
func NewMessage(connectionID uint32, t MessageType, payload []byte) *Message {
	return &Message{
		ConnectionID: connectionID,
		Type:         t,
		Payload:      payload,
	}
}

// EncodeMessage serializes payload with serialize and wraps it in an envelope.
func EncodeMessage[T any](connectionID uint32, t MessageType, payload *T, serialize func(*T) ([]byte, error)) (*Message, error) {
	b, err := serialize(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize %s: %v", t, err)
	}
	return NewMessage(connectionID, t, b), nil
}
