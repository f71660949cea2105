package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
)

type EventType string

const (
	EventConnected    EventType = "CONNECTED"
	EventNewMessage   EventType = "NEW_MESSAGE"
	EventMessageSent  EventType = "MESSAGE_SENT"
	EventMessagesRead EventType = "MESSAGES_READ"
	EventUserStatus   EventType = "USER_STATUS"
	EventPing         EventType = "PING"
	EventPong         EventType = "PONG"
)

var (
	ErrUnknownType     = errors.New("unknown envelope type")
	ErrMissingReceiver = errors.New("message payload is missing receiverId")
	ErrMissingContact  = errors.New("envelope is missing contactId")
)

// Envelope is the wire-level unit exchanged with clients. Message carries the
// chat payload as raw JSON; the relay forwards it verbatim and only ever reads
// the receiverId routing key out of it.
type Envelope struct {
	Type      EventType       `json:"type"`
	Message   json.RawMessage `json:"message,omitempty"`
	MessageID string          `json:"messageId,omitempty"`
	ContactID string          `json:"contactId,omitempty"`
	UserID    string          `json:"userId,omitempty"`
	IsOnline  *bool           `json:"isOnline,omitempty"`

	// ReceiverID is extracted from Message during decode for NEW_MESSAGE
	// envelopes. It is never serialized at the top level.
	ReceiverID string `json:"-"`
}

// DecodeEnvelope parses an inbound frame and enforces the fields each
// envelope type requires. Anything that fails to match a known shape comes
// back as an error so the caller can log and drop it.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("malformed envelope: %w", err)
	}

	switch env.Type {
	case EventNewMessage:
		var payload struct {
			ReceiverID string `json:"receiverId"`
		}
		if len(env.Message) == 0 {
			return nil, ErrMissingReceiver
		}
		if err := json.Unmarshal(env.Message, &payload); err != nil {
			return nil, fmt.Errorf("malformed message payload: %w", err)
		}
		if payload.ReceiverID == "" {
			return nil, ErrMissingReceiver
		}
		env.ReceiverID = payload.ReceiverID
	case EventMessagesRead:
		if env.ContactID == "" {
			return nil, ErrMissingContact
		}
	case EventPing:
		// no companion fields
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}

	return &env, nil
}

func connectedEnvelope(userID string) *Envelope {
	ack, _ := json.Marshal("Connected to WebSocket server")
	return &Envelope{Type: EventConnected, UserID: userID, Message: ack}
}

func newMessageEnvelope(payload json.RawMessage) *Envelope {
	return &Envelope{Type: EventNewMessage, Message: payload}
}

func messageSentEnvelope(payload json.RawMessage) *Envelope {
	return &Envelope{Type: EventMessageSent, Message: payload}
}

func messagesReadEnvelope(readerID string) *Envelope {
	return &Envelope{Type: EventMessagesRead, UserID: readerID}
}

func userStatusEnvelope(userID string, online bool) *Envelope {
	return &Envelope{Type: EventUserStatus, UserID: userID, IsOnline: &online}
}

func pongEnvelope() *Envelope {
	return &Envelope{Type: EventPong}
}
