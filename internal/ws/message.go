package ws

import "encoding/json"

type EventType string

// Client → server.
const (
	EventUserJoin      EventType = "userJoin"
	EventUserLeave     EventType = "userLeave"
	EventTyping        EventType = "typing"
	EventStopTyping    EventType = "stopTyping"
	EventSendMessage   EventType = "sendMessage"
	EventDeleteMessage EventType = "deleteMessage"
)

// Server → client.
const (
	EventMessage          EventType = "message"
	EventPreviousMessages EventType = "previousMessages"
	EventMessageDeleted   EventType = "messageDeleted"
	EventUserTyping       EventType = "userTyping"
	EventDeleteError      EventType = "deleteError"
	EventMessageError     EventType = "messageError"
)

// EventConnectError is raised locally by Manager when a dial fails; it never travels on the wire.
const EventConnectError EventType = "connect_error"

// Envelope is one inbound frame: {"event": ..., "data": ...}.
type Envelope struct {
	Event EventType       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// OutgoingMessage is one outbound frame. Data is encoded by the write pump.
type OutgoingMessage struct {
	Event EventType `json:"event"`
	Data  any       `json:"data,omitempty"`
}

// ConnectError is the payload of EventConnectError.
type ConnectError struct {
	Message string `json:"message"`
}
