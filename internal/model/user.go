package model

// Credentials is the body of POST /api/login.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// DeleteRequest is the payload of the outbound deleteMessage event.
type DeleteRequest struct {
	MessageID string `json:"messageId"`
	Username  string `json:"username"`
}

// MessageDeleted is the payload of the inbound messageDeleted event.
type MessageDeleted struct {
	MessageID string `json:"messageId"`
}

// ServerError is the payload of deleteError and messageError.
type ServerError struct {
	Message  string `json:"message"`
	ClientID string `json:"clientId,omitempty"`
}
