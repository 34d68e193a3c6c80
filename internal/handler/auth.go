package handler

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/duochat/internal/logger"
	"github.com/duochat/internal/model"
)

type AuthHandler struct {
	users map[string]string
}

func NewAuthHandler(users map[string]string) *AuthHandler {
	return &AuthHandler{users: users}
}

type messageResponse struct {
	Message string `json:"message"`
}

// Login проверяет пару логин/пароль из конфигурации релея. Сессий нет:
// клиент сам хранит имя после успешного ответа.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req model.Credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, messageResponse{Message: "Username and password are required"})
		return
	}
	want, ok := h.users[req.Username]
	if !ok || subtle.ConstantTimeCompare([]byte(want), []byte(req.Password)) != 1 {
		logger.Infof("login rejected: username=%s", req.Username)
		writeJSON(w, http.StatusUnauthorized, messageResponse{Message: "Invalid credentials"})
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Login successful"})
}
