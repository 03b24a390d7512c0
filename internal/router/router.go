package router

import (
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-todo-go/internal/notify"
	"github.com/ovaphlow/pitchfork/service-todo-go/internal/session"
	"github.com/ovaphlow/pitchfork/service-todo-go/internal/setting"
	"github.com/ovaphlow/pitchfork/service-todo-go/internal/task"
	"github.com/ovaphlow/pitchfork/service-todo-go/internal/user"
	"github.com/ovaphlow/pitchfork/service-todo-go/pkg/utilities"
)

// Pinger reports database reachability for the health check.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Deps is everything RegisterRoutes mounts.
type Deps struct {
	Logger     *zap.SugaredLogger
	DB         Pinger
	Auth       Authenticator
	Users      *user.Handler
	Sessions   *session.Handler
	Tasks      *task.Handler
	Settings   *setting.Handler
	Deliveries *notify.DeliveryHandler
	Origins    []*regexp.Regexp
}

// RegisterRoutes mounts HTTP handlers using the standard library's http.ServeMux.
func RegisterRoutes(d Deps) http.Handler {
	mux := http.NewServeMux()
	auth := NewAuth(d.Auth, d.Logger)

	public := func(pattern string, h http.HandlerFunc) { mux.Handle(pattern, h) }
	optional := func(pattern string, h http.HandlerFunc) { mux.Handle(pattern, auth.Optional(h)) }
	bearer := func(pattern string, h http.HandlerFunc) { mux.Handle(pattern, auth.Required(h)) }
	confirmed := func(pattern string, h http.HandlerFunc) { mux.Handle(pattern, auth.Required(auth.Confirmed(h))) }
	admin := func(pattern string, h http.HandlerFunc) { mux.Handle(pattern, auth.Required(auth.Admin(h))) }

	public("GET /health", health(d.DB, d.Logger))

	// accounts
	public("POST /user/register", d.Users.Register)
	public("POST /user/login", d.Users.Login)
	public("POST /user/refresh", d.Sessions.Refresh)
	bearer("POST /user/logout", d.Sessions.Logout)
	bearer("GET /user/manage", d.Users.Manage)
	bearer("POST /user/confirm-account", d.Users.RequestConfirmation)
	bearer("GET /user/confirm-account/{token}", d.Users.Confirm)
	bearer("GET /user/unconfirmed", d.Users.Unconfirmed)
	public("POST /user/reset-password", d.Users.RequestPasswordReset)
	public("POST /user/reset-password/{token}", d.Users.ResetPassword)
	bearer("POST /user/manage/change-password", d.Users.ChangePassword)
	bearer("POST /user/manage/change-username", d.Users.ChangeUsername)
	bearer("POST /user/manage/update-details", d.Users.UpdateDetails)
	bearer("POST /user/manage/change-email", d.Users.RequestEmailChange)
	bearer("GET /user/manage/change-email/{token}", d.Users.ChangeEmail)
	bearer("POST /user/manage/deactivate", d.Users.Deactivate)
	admin("POST /user/invite", d.Users.Invite)
	optional("POST /user/join-from-invite/{user_id}/{token}", d.Users.JoinFromInvite)

	// settings
	bearer("GET /user/settings", d.Settings.Get)
	bearer("PUT /user/settings", d.Settings.Update)

	// tasks
	confirmed("GET /tasks", d.Tasks.List)
	confirmed("POST /tasks", d.Tasks.Create)
	confirmed("GET /tasks/{id}", d.Tasks.Get)
	confirmed("PUT /tasks/{id}", d.Tasks.Update)
	confirmed("DELETE /tasks/{id}", d.Tasks.Delete)

	// admin
	admin("GET /admin/deliveries", d.Deliveries.List)

	// outermost first: request id, recovery, logging, cors, security headers, gzip
	var h http.Handler = mux
	h = gzhttp.GzipHandler(h)
	h = SecurityHeadersMiddleware()(h)
	h = CORSMiddleware(d.Origins)(h)
	h = LoggingMiddleware(d.Logger)(h)
	h = RecoveryMiddleware(d.Logger)(h)
	h = RequestIDMiddleware()(h)
	return h
}

func health(db Pinger, logger *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			logger.Warnw("health check failed", "err", err)
			utilities.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		utilities.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
