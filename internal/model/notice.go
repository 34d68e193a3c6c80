package model

type NoticeKind string

const (
	NoticeNetwork    NoticeKind = "network"
	NoticeValidation NoticeKind = "validation"
	NoticeRejected   NoticeKind = "rejected"
	NoticeUnexpected NoticeKind = "unexpected"
)

// Notice is a user-visible message produced at the boundary where a failure happened.
type Notice struct {
	Kind NoticeKind `json:"kind"`
	Text string     `json:"text"`
}

// Blocking reports whether the notice should stop the user until acknowledged.
func (n Notice) Blocking() bool {
	return n.Kind == NoticeNetwork
}
