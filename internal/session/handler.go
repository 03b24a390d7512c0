package session

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-todo-go/pkg/utilities"
)

// Handler exposes refresh and logout. Login lives with the account handlers since
// it needs password authentication.
type Handler struct {
	svc    *Service
	logger *zap.SugaredLogger
}

func NewHandler(svc *Service, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := utilities.DecodeJSON(r, &req); err != nil {
		h.logger.Debugw("invalid refresh payload", "err", err)
		utilities.WriteMessage(w, http.StatusBadRequest, utilities.CategoryError, "invalid payload", "")
		return
	}
	pair, err := h.svc.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, ErrInvalidToken) || errors.Is(err, ErrInactive) {
			utilities.WriteMessage(w, http.StatusUnauthorized, utilities.CategoryError, "Your session has expired, please log in again.", "/user/login")
			return
		}
		h.logger.Warnw("refresh failed", "err", err)
		utilities.WriteMessage(w, http.StatusInternalServerError, utilities.CategoryError, "refresh failed", "")
		return
	}
	utilities.WriteJSON(w, http.StatusOK, pair)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	u, ok := UserFrom(r.Context())
	if !ok {
		utilities.WriteMessage(w, http.StatusUnauthorized, utilities.CategoryError, "Please log in to access this page.", "/user/login")
		return
	}
	if err := h.svc.Logout(r.Context(), u.ID); err != nil {
		h.logger.Warnw("logout failed", "user", u.ID, "err", err)
		utilities.WriteMessage(w, http.StatusInternalServerError, utilities.CategoryError, "logout failed", "")
		return
	}
	utilities.WriteMessage(w, http.StatusOK, utilities.CategoryInfo, "You have been logged out.", "/user/login")
}
