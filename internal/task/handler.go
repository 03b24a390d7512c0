package task

import (
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-todo-go/internal/session"
	"github.com/ovaphlow/pitchfork/service-todo-go/pkg/utilities"
)

const pathTasks = "/tasks"

type Handler struct {
	svc      *Service
	validate *utilities.Validator
	logger   *zap.SugaredLogger
}

func NewHandler(svc *Service, v *utilities.Validator, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, validate: v, logger: logger}
}

// TaskRequest is the body of create and update.
type TaskRequest struct {
	TaskName string `json:"task_name" validate:"required,max=100"`
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	uid, ok := h.userID(w, r)
	if !ok {
		return
	}
	tasks, err := h.svc.List(r.Context(), uid)
	if err != nil {
		h.fail(w, "list tasks", err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, tasks)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	uid, ok := h.userID(w, r)
	if !ok {
		return
	}
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	t, err := h.svc.Get(r.Context(), uid, id)
	if err != nil {
		h.fail(w, "get task", err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, t)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	uid, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req TaskRequest
	if !h.decode(w, r, &req) {
		return
	}
	t, err := h.svc.Create(r.Context(), uid, req.TaskName)
	if err != nil {
		h.fail(w, "create task", err)
		return
	}
	utilities.WriteJSON(w, http.StatusCreated, utilities.Message{Message: "Task Created", Category: utilities.CategorySuccess, Data: t})
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	uid, ok := h.userID(w, r)
	if !ok {
		return
	}
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	var req TaskRequest
	if !h.decode(w, r, &req) {
		return
	}
	t, err := h.svc.Update(r.Context(), uid, id, req.TaskName)
	if errors.Is(err, ErrNoChanges) {
		utilities.WriteJSON(w, http.StatusOK, utilities.Message{Message: "No Changes Made", Category: utilities.CategoryWarning, Redirect: pathTasks, Data: t})
		return
	}
	if err != nil {
		h.fail(w, "update task", err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, utilities.Message{Message: "Task Updated", Category: utilities.CategorySuccess, Redirect: pathTasks, Data: t})
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	uid, ok := h.userID(w, r)
	if !ok {
		return
	}
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	if err := h.svc.Delete(r.Context(), uid, id); err != nil {
		h.fail(w, "delete task", err)
		return
	}
	utilities.WriteMessage(w, http.StatusOK, utilities.CategoryInfo, "Task Deleted", pathTasks)
}

func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	u, ok := session.UserFrom(r.Context())
	if !ok {
		utilities.WriteMessage(w, http.StatusUnauthorized, utilities.CategoryError, "Please log in to access this page.", "/user/login")
		return 0, false
	}
	return u.ID, true
}

func taskID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		utilities.WriteMessage(w, http.StatusNotFound, utilities.CategoryError, "task not found", pathTasks)
		return 0, false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := utilities.DecodeJSON(r, dst); err != nil {
		utilities.WriteMessage(w, http.StatusBadRequest, utilities.CategoryError, "invalid payload", "")
		return false
	}
	if errs := h.validate.Struct(dst); errs != nil {
		utilities.WriteJSON(w, http.StatusUnprocessableEntity, utilities.Message{Message: "Please correct the errors below.", Category: utilities.CategoryError, Errors: errs})
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		utilities.WriteMessage(w, http.StatusNotFound, utilities.CategoryError, "task not found", pathTasks)
	case errors.Is(err, ErrInvalidContent):
		utilities.WriteJSON(w, http.StatusUnprocessableEntity, utilities.Message{
			Message: err.Error(), Category: utilities.CategoryError, Errors: map[string]string{"task_name": err.Error()},
		})
	default:
		h.logger.Warnw(op+" failed", "err", err)
		utilities.WriteMessage(w, http.StatusInternalServerError, utilities.CategoryError, op+" failed", "")
	}
}
