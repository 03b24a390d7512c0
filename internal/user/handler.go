package user

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-todo-go/internal/session"
	sessionentity "github.com/ovaphlow/pitchfork/service-todo-go/internal/session/entity"
	"github.com/ovaphlow/pitchfork/service-todo-go/internal/token"
	"github.com/ovaphlow/pitchfork/service-todo-go/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-todo-go/pkg/utilities"
)

const (
	pathManage = "/user/manage"
	pathLogin  = "/user/login"

	msgInvalidLogin = "Invalid email or password."
	msgInvalidLink  = "The confirmation link is invalid or has expired."
)

// SessionIssuer creates login sessions.
type SessionIssuer interface {
	Issue(ctx context.Context, u *entity.MinimalAuthView, clientID string, remember bool) (*sessionentity.Pair, error)
}

// Handler exposes HTTP endpoints for account operations.
type Handler struct {
	svc      *UserService
	sessions SessionIssuer
	validate *utilities.Validator
	logger   *zap.SugaredLogger
}

func NewHandler(svc *UserService, sessions SessionIssuer, v *utilities.Validator, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, sessions: sessions, validate: v, logger: logger}
}

// RegisterRequest request body for the register endpoint.
type RegisterRequest struct {
	Username    string `json:"username" validate:"required,max=64"`
	FirstName   string `json:"first_name" validate:"required,max=64"`
	LastName    string `json:"last_name" validate:"required,max=64"`
	Email       string `json:"email" validate:"required,email,max=64"`
	DateOfBirth string `json:"date_of_birth" validate:"required,datetime=2006-01-02"`
	Password    string `json:"password" validate:"required,min=8"`
	Password2   string `json:"password2" validate:"required,eqfield=Password"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !h.decode(w, r, &req) {
		return
	}
	u, err := h.svc.Register(r.Context(), RegisterInput{
		Username:    req.Username,
		Email:       req.Email,
		Password:    req.Password,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		DateOfBirth: req.DateOfBirth,
	})
	if err != nil {
		h.writeError(w, "register", err)
		return
	}
	utilities.WriteJSON(w, http.StatusCreated, utilities.Message{
		Message:  fmt.Sprintf("A confirmation link has been sent to %s.", u.Email),
		Category: utilities.CategoryWarning,
		Redirect: pathManage,
		Data:     u,
	})
}

// LoginRequest login payload.
type LoginRequest struct {
	Identifier string `json:"identifier" validate:"required,max=64"`
	Password   string `json:"password" validate:"required"`
	RememberMe bool   `json:"remember_me"`
	ClientID   string `json:"client_id" validate:"max=64"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !h.decode(w, r, &req) {
		return
	}
	view, err := h.svc.AuthenticatePassword(r.Context(), req.Identifier, req.Password)
	if err != nil {
		h.logger.Debugw("login failed", "err", err)
		h.writeError(w, "login", err)
		return
	}
	pair, err := h.sessions.Issue(r.Context(), view, req.ClientID, req.RememberMe)
	if err != nil {
		h.writeError(w, "issue session", err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, utilities.Message{
		Message:  "You are now logged in. Welcome back!",
		Category: utilities.CategorySuccess,
		Redirect: pathManage,
		Data:     pair,
	})
}

func (h *Handler) Manage(w http.ResponseWriter, r *http.Request) {
	cur, ok := h.current(w, r)
	if !ok {
		return
	}
	p, err := h.svc.Profile(r.Context(), cur.ID)
	if err != nil {
		h.writeError(w, "profile", err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, p)
}

func (h *Handler) RequestConfirmation(w http.ResponseWriter, r *http.Request) {
	cur, ok := h.current(w, r)
	if !ok {
		return
	}
	email, err := h.svc.RequestConfirmation(r.Context(), cur.ID)
	if err != nil {
		h.writeError(w, "request confirmation", err)
		return
	}
	utilities.WriteMessage(w, http.StatusOK, utilities.CategorySuccess,
		fmt.Sprintf("A new confirmation link has been sent to %s.", email), pathManage)
}

func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	cur, ok := h.current(w, r)
	if !ok {
		return
	}
	err := h.svc.ConfirmAccount(r.Context(), cur.ID, r.PathValue("token"))
	switch {
	case err == nil:
		utilities.WriteMessage(w, http.StatusOK, utilities.CategorySuccess, "Your account has been confirmed.", pathManage)
	case errors.Is(err, ErrAlreadyConfirmed):
		utilities.WriteMessage(w, http.StatusOK, utilities.CategoryInfo, "Your account is already confirmed.", pathManage)
	default:
		h.writeError(w, "confirm", err)
	}
}

// Unconfirmed reports whether the current user still has to confirm their email.
func (h *Handler) Unconfirmed(w http.ResponseWriter, r *http.Request) {
	cur, ok := h.current(w, r)
	if !ok {
		return
	}
	if cur.Confirmed {
		utilities.WriteJSON(w, http.StatusOK, utilities.Message{Category: utilities.CategoryInfo, Redirect: pathManage, Data: map[string]bool{"confirmed": true}})
		return
	}
	utilities.WriteJSON(w, http.StatusOK, utilities.Message{
		Message:  "You have not confirmed your account yet.",
		Category: utilities.CategoryWarning,
		Data:     map[string]bool{"confirmed": false},
	})
}

type RequestResetRequest struct {
	Email string `json:"email" validate:"required,email,max=64"`
}

func (h *Handler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req RequestResetRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.svc.RequestPasswordReset(r.Context(), req.Email); err != nil {
		h.writeError(w, "request reset", err)
		return
	}
	utilities.WriteMessage(w, http.StatusOK, utilities.CategoryWarning,
		fmt.Sprintf("A password reset link has been sent to %s.", req.Email), pathLogin)
}

type ResetPasswordRequest struct {
	Email        string `json:"email" validate:"required,email,max=64"`
	NewPassword  string `json:"new_password" validate:"required,min=8"`
	NewPassword2 string `json:"new_password2" validate:"required,eqfield=NewPassword"`
}

func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if !h.decode(w, r, &req) {
		return
	}
	err := h.svc.ResetPassword(r.Context(), req.Email, r.PathValue("token"), req.NewPassword)
	switch {
	case err == nil:
		utilities.WriteMessage(w, http.StatusOK, utilities.CategorySuccess, "Your password has been updated.", pathLogin)
	case errors.Is(err, ErrUserNotFound):
		utilities.WriteMessage(w, http.StatusBadRequest, utilities.CategoryError, "Invalid email address.", pathManage)
	case token.IsVerificationError(err):
		utilities.WriteMessage(w, http.StatusBadRequest, utilities.CategoryError, "The password reset link is invalid or has expired.", pathManage)
	default:
		h.writeError(w, "reset password", err)
	}
}

type ChangePasswordRequest struct {
	OldPassword  string `json:"old_password" validate:"required"`
	NewPassword  string `json:"new_password" validate:"required,min=8"`
	NewPassword2 string `json:"new_password2" validate:"required,eqfield=NewPassword"`
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	cur, ok := h.current(w, r)
	if !ok {
		return
	}
	var req ChangePasswordRequest
	if !h.decode(w, r, &req) {
		return
	}
	err := h.svc.ChangePassword(r.Context(), cur.ID, req.OldPassword, req.NewPassword)
	if errors.Is(err, ErrBadCredentials) {
		utilities.WriteMessage(w, http.StatusBadRequest, utilities.CategoryError, "Original password is invalid.", "")
		return
	}
	if err != nil {
		h.writeError(w, "change password", err)
		return
	}
	utilities.WriteMessage(w, http.StatusOK, utilities.CategorySuccess, "Your password has been updated.", pathManage)
}

type ChangeUsernameRequest struct {
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password"`
}

func (h *Handler) ChangeUsername(w http.ResponseWriter, r *http.Request) {
	cur, ok := h.current(w, r)
	if !ok {
		return
	}
	var req ChangeUsernameRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.svc.ChangeUsername(r.Context(), cur.ID, req.Password, req.Username); err != nil {
		h.writeError(w, "change username", err)
		return
	}
	utilities.WriteMessage(w, http.StatusOK, utilities.CategorySuccess,
		fmt.Sprintf("New username changed to %s.", req.Username), pathManage)
}

func (h *Handler) UpdateDetails(w http.ResponseWriter, r *http.Request) {
	cur, ok := h.current(w, r)
	if !ok {
		return
	}
	fields := map[string]string{}
	if err := utilities.DecodeJSON(r, &fields); err != nil {
		utilities.WriteMessage(w, http.StatusBadRequest, utilities.CategoryError, "invalid payload", "")
		return
	}
	u, err := h.svc.UpdateDetails(r.Context(), cur.ID, fields)
	if err != nil {
		h.writeError(w, "update details", err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, utilities.Message{
		Message:  "Edited Successfully.",
		Category: utilities.CategorySuccess,
		Redirect: pathManage,
		Data:     u,
	})
}

type ChangeEmailRequest struct {
	Email    string `json:"email" validate:"required,email,max=64"`
	Password string `json:"password" validate:"required"`
}

func (h *Handler) RequestEmailChange(w http.ResponseWriter, r *http.Request) {
	cur, ok := h.current(w, r)
	if !ok {
		return
	}
	var req ChangeEmailRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.svc.RequestEmailChange(r.Context(), cur.ID, req.Password, req.Email); err != nil {
		h.writeError(w, "request email change", err)
		return
	}
	utilities.WriteMessage(w, http.StatusOK, utilities.CategoryWarning,
		fmt.Sprintf("A confirmation link has been sent to %s.", req.Email), pathManage)
}

func (h *Handler) ChangeEmail(w http.ResponseWriter, r *http.Request) {
	cur, ok := h.current(w, r)
	if !ok {
		return
	}
	_, err := h.svc.ChangeEmail(r.Context(), cur.ID, r.PathValue("token"))
	if err != nil {
		if errors.Is(err, ErrMissingNewEmail) || errors.Is(err, ErrEmailTaken) {
			utilities.WriteMessage(w, http.StatusBadRequest, utilities.CategoryError, msgInvalidLink, pathManage)
			return
		}
		h.writeError(w, "change email", err)
		return
	}
	utilities.WriteMessage(w, http.StatusOK, utilities.CategorySuccess, "Your email address has been updated.", pathManage)
}

type PasswordRequest struct {
	Password string `json:"password" validate:"required"`
}

func (h *Handler) Deactivate(w http.ResponseWriter, r *http.Request) {
	cur, ok := h.current(w, r)
	if !ok {
		return
	}
	var req PasswordRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.svc.Deactivate(r.Context(), cur.ID, req.Password); err != nil {
		h.writeError(w, "deactivate", err)
		return
	}
	utilities.WriteMessage(w, http.StatusOK, utilities.CategoryInfo, "Your account has been deactivated.", pathLogin)
}

type InviteRequest struct {
	Email     string `json:"email" validate:"required,email,max=64"`
	FirstName string `json:"first_name" validate:"required,max=64"`
	LastName  string `json:"last_name" validate:"required,max=64"`
}

func (h *Handler) Invite(w http.ResponseWriter, r *http.Request) {
	var req InviteRequest
	if !h.decode(w, r, &req) {
		return
	}
	u, err := h.svc.Invite(r.Context(), InviteInput{Email: req.Email, FirstName: req.FirstName, LastName: req.LastName})
	if err != nil {
		h.writeError(w, "invite", err)
		return
	}
	utilities.WriteJSON(w, http.StatusCreated, utilities.Message{
		Message:  fmt.Sprintf("User %s successfully invited.", u.FullName()),
		Category: utilities.CategorySuccess,
		Data:     u,
	})
}

type JoinRequest struct {
	Password  string `json:"password" validate:"required,min=8"`
	Password2 string `json:"password2" validate:"required,eqfield=Password"`
}

func (h *Handler) JoinFromInvite(w http.ResponseWriter, r *http.Request) {
	if _, ok := session.UserFrom(r.Context()); ok {
		utilities.WriteMessage(w, http.StatusBadRequest, utilities.CategoryError, "You are already logged in.", pathManage)
		return
	}
	userID, err := strconv.ParseInt(r.PathValue("user_id"), 10, 64)
	if err != nil {
		utilities.WriteMessage(w, http.StatusNotFound, utilities.CategoryError, "not found", "")
		return
	}
	var req JoinRequest
	if !h.decode(w, r, &req) {
		return
	}
	err = h.svc.JoinFromInvite(r.Context(), userID, r.PathValue("token"), req.Password)
	switch {
	case err == nil:
		utilities.WriteMessage(w, http.StatusOK, utilities.CategorySuccess,
			`Your password has been set. After you log in, you can go to the "Your Account" page to review your account information and settings.`, pathLogin)
	case errors.Is(err, ErrAlreadyJoined):
		utilities.WriteMessage(w, http.StatusBadRequest, utilities.CategoryError, "You have already joined.", pathManage)
	case errors.Is(err, ErrInviteResent):
		utilities.WriteMessage(w, http.StatusBadRequest, utilities.CategoryError,
			msgInvalidLink+" Another invite email with a new link has been sent to you.", pathManage)
	default:
		h.writeError(w, "join from invite", err)
	}
}

// current returns the authenticated user or writes a 401.
func (h *Handler) current(w http.ResponseWriter, r *http.Request) (*entity.MinimalAuthView, bool) {
	u, ok := session.UserFrom(r.Context())
	if !ok {
		utilities.WriteMessage(w, http.StatusUnauthorized, utilities.CategoryError, "Please log in to access this page.", pathLogin)
		return nil, false
	}
	return u, true
}

// decode reads and validates the body into dst, writing a 400 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := utilities.DecodeJSON(r, dst); err != nil {
		h.logger.Debugw("invalid payload", "path", r.URL.Path, "err", err)
		utilities.WriteMessage(w, http.StatusBadRequest, utilities.CategoryError, "invalid payload", "")
		return false
	}
	if errs := h.validate.Struct(dst); errs != nil {
		utilities.WriteJSON(w, http.StatusUnprocessableEntity, utilities.Message{
			Message:  "Please correct the errors below.",
			Category: utilities.CategoryError,
			Errors:   errs,
		})
		return false
	}
	return true
}

// writeError maps service errors to responses. Anything unknown is a 500.
func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	field := func(status int, name, msg string) {
		utilities.WriteJSON(w, status, utilities.Message{
			Message:  msg,
			Category: utilities.CategoryError,
			Errors:   map[string]string{name: msg},
		})
	}
	switch {
	case token.IsVerificationError(err):
		utilities.WriteMessage(w, http.StatusBadRequest, utilities.CategoryError, msgInvalidLink, pathManage)
	case errors.Is(err, ErrBadCredentials):
		utilities.WriteMessage(w, http.StatusUnauthorized, utilities.CategoryError, msgInvalidLogin, "")
	case errors.Is(err, ErrLocked):
		utilities.WriteMessage(w, http.StatusForbidden, utilities.CategoryError, "Your account is temporarily locked, please try again later.", "")
	case errors.Is(err, ErrDisabled):
		utilities.WriteMessage(w, http.StatusForbidden, utilities.CategoryError, "Your account has been disabled.", "")
	case errors.Is(err, ErrEmailTaken):
		field(http.StatusConflict, "email", "Email already registered.")
	case errors.Is(err, ErrUsernameTaken):
		field(http.StatusConflict, "username", "Username not available. Choose another username")
	case errors.Is(err, ErrInvalidDateOfBirth):
		field(http.StatusUnprocessableEntity, "date_of_birth", "Invalid date of birth format, please enter values of this format: YYYY-MM-DD")
	case errors.Is(err, ErrUnderage):
		field(http.StatusUnprocessableEntity, "date_of_birth", "You must be 18 years and above before you can use our platform")
	case errors.Is(err, ErrUnknownField):
		utilities.WriteMessage(w, http.StatusBadRequest, utilities.CategoryError, err.Error(), "")
	case errors.Is(err, ErrNoFields):
		utilities.WriteMessage(w, http.StatusBadRequest, utilities.CategoryWarning, "No Changes Made", "")
	case errors.Is(err, ErrUserNotFound):
		utilities.WriteMessage(w, http.StatusNotFound, utilities.CategoryError, "not found", "")
	default:
		h.logger.Warnw(op+" failed", "err", err)
		utilities.WriteMessage(w, http.StatusInternalServerError, utilities.CategoryError, op+" failed", "")
	}
}
