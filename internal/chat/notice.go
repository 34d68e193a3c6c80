package chat

import (
	"errors"

	"github.com/duochat/internal/api"
	"github.com/duochat/internal/composer"
	"github.com/duochat/internal/logger"
	"github.com/duochat/internal/model"
	"github.com/duochat/internal/ws"
)

const (
	unavailableText = "Unable to reach the chat server. Please check your connection and try again."
	unexpectedText  = "Something went wrong. Please try again."
)

// Classify maps an error to the notice shown to the user.
func Classify(err error) model.Notice {
	var (
		ve     *composer.ValidationError
		apiErr *api.Error
	)
	switch {
	case errors.As(err, &ve):
		return model.Notice{Kind: model.NoticeValidation, Text: ve.Message}
	case errors.Is(err, api.ErrUnavailable), errors.Is(err, ws.ErrReconnectExhausted):
		return model.Notice{Kind: model.NoticeNetwork, Text: unavailableText}
	case errors.Is(err, composer.ErrNotSent):
		return model.Notice{Kind: model.NoticeNetwork, Text: "Message not sent: the connection is busy. Please try again."}
	case errors.As(err, &apiErr):
		return model.Notice{Kind: model.NoticeRejected, Text: apiErr.Error()}
	}
	logger.Errorf("chat: unexpected error: %v", err)
	return model.Notice{Kind: model.NoticeUnexpected, Text: unexpectedText}
}

// Rejected builds the notice for a server-side deleteError or messageError.
func Rejected(e model.ServerError, fallback string) model.Notice {
	text := e.Message
	if text == "" {
		text = fallback
	}
	return model.Notice{Kind: model.NoticeRejected, Text: text}
}
