package handler

import (
	"net/http"

	"github.com/duochat/internal/logger"
	"github.com/duochat/internal/model"
	"github.com/duochat/internal/repository"
)

type MessageHandler struct {
	msgRepo  repository.Messages
	pageSize int
}

func NewMessageHandler(msgRepo repository.Messages, pageSize int) *MessageHandler {
	if pageSize <= 0 {
		pageSize = 50
	}
	return &MessageHandler{msgRepo: msgRepo, pageSize: pageSize}
}

// GetMessages отдаёт страницу истории (?page=N, с 1 — самая новая), в порядке от старых к новым.
func (h *MessageHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	if page < 1 {
		page = 1
	}
	msgs, hasMore, err := h.msgRepo.Page(r.Context(), page, h.pageSize)
	if err != nil {
		logger.Errorf("GetMessages page=%d: %v", page, err)
		writeError(w, http.StatusInternalServerError, "failed to get messages")
		return
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	writeJSON(w, http.StatusOK, model.Page{Messages: msgs, HasMore: hasMore})
}
