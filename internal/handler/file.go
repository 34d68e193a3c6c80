package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/duochat/internal/fileserver"
	"github.com/duochat/internal/logger"
)

type FileHandler struct {
	fileSvc *fileserver.Service
}

func NewFileHandler(fileSvc *fileserver.Service) *FileHandler {
	return &FileHandler{fileSvc: fileSvc}
}

// UploadImage принимает поле "image"; отвечает {"url": "/uploads/<name>"}.
func (h *FileHandler) UploadImage(w http.ResponseWriter, r *http.Request) {
	h.upload(w, r, "image", fileserver.KindImage)
}

// UploadAudio принимает поле "audio".
func (h *FileHandler) UploadAudio(w http.ResponseWriter, r *http.Request) {
	h.upload(w, r, "audio", fileserver.KindAudio)
}

func (h *FileHandler) upload(w http.ResponseWriter, r *http.Request, field string, kind fileserver.Kind) {
	if err := h.fileSvc.Accept(w, r); err != nil {
		writeUploadError(w, err)
		return
	}
	resp, err := h.fileSvc.Store(r.Context(), r, field, kind)
	if err != nil {
		writeUploadError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *FileHandler) Serve(w http.ResponseWriter, r *http.Request) {
	h.fileSvc.Serve(w, chi.URLParam(r, "filename"))
}

func writeUploadError(w http.ResponseWriter, err error) {
	var ue *fileserver.UploadError
	if errors.As(err, &ue) {
		writeError(w, ue.Status, ue.Message)
		return
	}
	logger.Errorf("upload: %v", err)
	writeError(w, http.StatusInternalServerError, "failed to save file")
}
