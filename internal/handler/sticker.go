package handler

import (
	"net/http"
	"strings"

	"github.com/duochat/internal/fileserver"
	"github.com/duochat/internal/logger"
	"github.com/duochat/internal/model"
	"github.com/duochat/internal/repository"
)

type StickerHandler struct {
	stickers repository.Stickers
	fileSvc  *fileserver.Service
}

func NewStickerHandler(stickers repository.Stickers, fileSvc *fileserver.Service) *StickerHandler {
	return &StickerHandler{stickers: stickers, fileSvc: fileSvc}
}

func (h *StickerHandler) List(w http.ResponseWriter, r *http.Request) {
	packs, err := h.stickers.Packs(r.Context())
	if err != nil {
		logger.Errorf("stickers list: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to get stickers")
		return
	}
	writeJSON(w, http.StatusOK, packs)
}

// Upload сохраняет изображение (поле "image") и добавляет его в пакет packName.
// В ответе — все пакеты после добавления.
func (h *StickerHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if err := h.fileSvc.Accept(w, r); err != nil {
		writeUploadError(w, err)
		return
	}
	username := strings.TrimSpace(r.FormValue("username"))
	if username == "" {
		writeError(w, http.StatusBadRequest, "username is required")
		return
	}
	pack := strings.TrimSpace(r.FormValue("packName"))
	if pack == "" {
		pack = model.DefaultCustomPack
	}
	up, err := h.fileSvc.Store(r.Context(), r, "image", fileserver.KindImage)
	if err != nil {
		writeUploadError(w, err)
		return
	}
	if err := h.stickers.Add(r.Context(), username, pack, model.Sticker{URL: up.URL}); err != nil {
		logger.Errorf("stickers add: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to save sticker")
		return
	}
	h.List(w, r)
}
