package setting

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-todo-go/internal/session"
	"github.com/ovaphlow/pitchfork/service-todo-go/pkg/utilities"
)

// Handler contains dependencies for handling setting endpoints.
type Handler struct {
	svc    *Service
	logger *zap.SugaredLogger
}

// NewHandler constructs a new Handler.
func NewHandler(svc *Service, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// UpdateRequest carries the settings to change and the version they were read at.
type UpdateRequest struct {
	Version  int64             `json:"version"`
	Settings map[string]string `json:"settings"`
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	u, ok := session.UserFrom(r.Context())
	if !ok {
		utilities.WriteMessage(w, http.StatusUnauthorized, utilities.CategoryError, "Please log in to access this page.", "/user/login")
		return
	}
	st, err := h.svc.Get(r.Context(), u.ID)
	if err != nil {
		h.logger.Warnw("get settings failed", "user", u.ID, "err", err)
		utilities.WriteMessage(w, http.StatusInternalServerError, utilities.CategoryError, "get settings failed", "")
		return
	}
	utilities.WriteJSON(w, http.StatusOK, st)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	u, ok := session.UserFrom(r.Context())
	if !ok {
		utilities.WriteMessage(w, http.StatusUnauthorized, utilities.CategoryError, "Please log in to access this page.", "/user/login")
		return
	}
	var req UpdateRequest
	if err := utilities.DecodeJSON(r, &req); err != nil {
		utilities.WriteMessage(w, http.StatusBadRequest, utilities.CategoryError, "invalid payload", "")
		return
	}
	st, err := h.svc.Update(r.Context(), u.ID, req.Settings, req.Version)
	switch {
	case err == nil:
		utilities.WriteJSON(w, http.StatusOK, utilities.Message{Message: "Settings Updated SuccessFully", Category: utilities.CategorySuccess, Data: st})
	case errors.Is(err, ErrVersionConflict):
		utilities.WriteMessage(w, http.StatusConflict, utilities.CategoryError, "Settings were changed elsewhere, reload and try again.", "")
	case errors.Is(err, ErrUnknownField), errors.Is(err, ErrInvalidValue), errors.Is(err, ErrNoFields):
		utilities.WriteMessage(w, http.StatusBadRequest, utilities.CategoryError, "Couldn't update Account settings: "+err.Error(), "")
	default:
		h.logger.Warnw("update settings failed", "user", u.ID, "err", err)
		utilities.WriteMessage(w, http.StatusInternalServerError, utilities.CategoryError, "update settings failed", "")
	}
}
