package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/dropDatabas3/fedlogin/internal/http/apperr"
	"github.com/dropDatabas3/fedlogin/internal/i18n"
	"github.com/dropDatabas3/fedlogin/internal/loginflow"
	"github.com/dropDatabas3/fedlogin/internal/observability/logger"
	"github.com/dropDatabas3/fedlogin/internal/session"
	"github.com/go-chi/chi/v5"
)

// Session keys written once a login succeeds.
const (
	SessionPrincipal = "fedlogin.principal"
)

// Form fields read as prompt callbacks.
const (
	FieldPassword        = "password"
	FieldConfirmPassword = "confirm_password"
	FieldActivationCode  = "activation_code"
	FieldCancel          = "cancel"
)

// AuthHandler drives one login flow step per request.
type AuthHandler struct {
	flows    map[string]*loginflow.Flow
	sessions *session.Store
	cookie   CookieConfig
	messages loginflow.Localizer
}

// NewAuthHandler indexes flows by provider name.
func NewAuthHandler(flows []*loginflow.Flow, sessions *session.Store, cookie CookieConfig, messages loginflow.Localizer) *AuthHandler {
	byName := make(map[string]*loginflow.Flow, len(flows))
	for _, f := range flows {
		byName[f.Provider()] = f
	}
	if messages == nil {
		messages = i18n.Default()
	}
	if cookie.Name == "" {
		cookie.Name = "fedlogin_session"
	}
	return &AuthHandler{flows: byName, sessions: sessions, cookie: cookie, messages: messages}
}

// Register mounts the login routes.
func (h *AuthHandler) Register(r chi.Router) {
	r.Get("/auth/{provider}", h.serve)
	r.Post("/auth/{provider}", h.serve)
	r.Get("/auth/{provider}/callback", h.serveCallback)
	r.Post("/auth/{provider}/callback", h.serveCallback)
}

type promptResponse struct {
	Provider string `json:"provider"`
	Step     string `json:"step"`
	Message  string `json:"message"`
	Error    string `json:"error,omitempty"`
}

type successResponse struct {
	Status     string            `json:"status"`
	Principal  string            `json:"principal"`
	Anonymous  bool              `json:"anonymous,omitempty"`
	Properties map[string]string `json:"properties"`
}

type statusResponse struct {
	Status string `json:"status"`
}

func (h *AuthHandler) serve(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, false)
}

// serveCallback also accepts response_mode=form_post: the authorization
// response in the body counts as request parameters, never as a prompt.
func (h *AuthHandler) serveCallback(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, true)
}

func (h *AuthHandler) handle(w http.ResponseWriter, r *http.Request, callback bool) {
	ctx := r.Context()
	name := chi.URLParam(r, "provider")
	log := logger.From(ctx).With(logger.Layer("http"), logger.Component("auth"), logger.Provider(name))

	flow, ok := h.flows[name]
	if !ok {
		apperr.WriteError(w, apperr.ErrProviderNotFound)
		return
	}
	if err := r.ParseForm(); err != nil {
		apperr.WriteError(w, apperr.ErrBadRequest.WithCause(err))
		return
	}

	var sid string
	if ck, err := r.Cookie(h.cookie.Name); err == nil {
		sid = ck.Value
	}
	sess, err := h.sessions.Load(ctx, sid)
	if err != nil {
		log.Error("session load failed", logger.Err(err))
		apperr.WriteError(w, apperr.ErrServiceUnavailable.WithCause(err))
		return
	}

	req := loginflow.Request{
		Params: r.URL.Query(),
		Header: r.Header,
		Locale: requestLocale(r),
	}
	if callback {
		if r.Method == http.MethodPost {
			req.Params = r.Form
		}
	} else {
		req.Callbacks = callbacksFrom(r)
	}
	res, flowErr := flow.Process(ctx, sess, req)
	if flowErr == nil && res.Outcome == loginflow.OutcomeSuccess {
		// never keep a pre-login session id
		if sess, err = h.sessions.Rotate(ctx, sess); err != nil {
			log.Error("session rotate failed", logger.Err(err))
			apperr.WriteError(w, apperr.ErrServiceUnavailable.WithCause(err))
			return
		}
		sess.Put(SessionPrincipal, res.Principal)
		for k, v := range res.SessionProperties {
			sess.Put(k, v)
		}
	}

	if err := h.sessions.Save(ctx, sess); err != nil {
		log.Error("session save failed", logger.Err(err))
		apperr.WriteError(w, apperr.ErrServiceUnavailable.WithCause(err))
		return
	}
	h.setCookie(w, sess, sid)

	if flowErr != nil {
		h.writeFlowError(w, req.Locale, flowErr)
		return
	}

	switch res.Outcome {
	case loginflow.OutcomeRedirect:
		w.Header().Set("Cache-Control", "no-store")
		http.Redirect(w, r, res.RedirectURL, http.StatusFound)
	case loginflow.OutcomePrompt:
		out := promptResponse{Provider: name, Step: string(res.Step)}
		if res.Prompt != nil {
			out.Message = res.Prompt.Message
			out.Error = res.Prompt.Error
		}
		apperr.WriteJSON(w, http.StatusOK, out)
	case loginflow.OutcomeSuccess:
		apperr.WriteJSON(w, http.StatusOK, successResponse{
			Status:     "authenticated",
			Principal:  res.Principal,
			Anonymous:  res.Anonymous,
			Properties: publicProperties(res.SessionProperties),
		})
	case loginflow.OutcomeAbandon:
		apperr.WriteJSON(w, http.StatusOK, statusResponse{Status: "ignored"})
	default:
		apperr.WriteError(w, apperr.ErrInternalServerError)
	}
}

// setCookie keeps the browser pointed at the session while it has content
// and removes the cookie once the session is gone.
func (h *AuthHandler) setCookie(w http.ResponseWriter, sess *session.Session, previous string) {
	if sess.Len() > 0 {
		http.SetCookie(w, h.cookie.build(sess.ID, h.sessions.TTL()))
		return
	}
	if previous != "" {
		http.SetCookie(w, h.cookie.deletion())
	}
}

func (h *AuthHandler) writeFlowError(w http.ResponseWriter, locale string, err error) {
	var fe *loginflow.FlowError
	if !errors.As(err, &fe) {
		apperr.WriteError(w, apperr.ErrInternalServerError.WithCause(err))
		return
	}
	var base *apperr.AppError
	switch fe.Kind {
	case loginflow.KindSecurity:
		base = apperr.ErrAuthenticationFailed
	case loginflow.KindRejected, loginflow.KindNoUserMapped:
		base = apperr.ErrAccessDenied
	case loginflow.KindProvisioning, loginflow.KindEmail, loginflow.KindDirectory:
		base = apperr.ErrBadGateway
	default:
		apperr.WriteError(w, apperr.ErrInternalServerError.WithCause(fe))
		return
	}
	apperr.WriteError(w, base.WithMessage(h.messages.Lookup(locale, i18n.KeyErrorGeneric)).WithCause(fe))
}

func callbacksFrom(r *http.Request) loginflow.Callbacks {
	if r.Method != http.MethodPost {
		return loginflow.Callbacks{}
	}
	cancel, _ := strconv.ParseBool(r.PostForm.Get(FieldCancel))
	return loginflow.Callbacks{
		Submitted:       true,
		Password:        r.PostForm.Get(FieldPassword),
		ConfirmPassword: r.PostForm.Get(FieldConfirmPassword),
		ActivationCode:  r.PostForm.Get(FieldActivationCode),
		Cancel:          cancel,
	}
}

func requestLocale(r *http.Request) string {
	if l := strings.TrimSpace(r.URL.Query().Get("locale")); l != "" {
		return l
	}
	return r.Header.Get("Accept-Language")
}

// publicProperties drops the provider access token; it stays in the
// server-side session only.
func publicProperties(props map[string]string) map[string]string {
	out := make(map[string]string, len(props))
	for k, v := range props {
		if k == loginflow.PropAccessToken {
			continue
		}
		out[k] = v
	}
	return out
}
