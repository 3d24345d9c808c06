package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gabrielee5/grafo-sub000/internal/auth"
	"github.com/gabrielee5/grafo-sub000/internal/domain"
	"github.com/gabrielee5/grafo-sub000/internal/history"
	"github.com/gabrielee5/grafo-sub000/internal/i18n"
	"github.com/gabrielee5/grafo-sub000/internal/infra"
	"github.com/gabrielee5/grafo-sub000/internal/middleware"
	"github.com/gabrielee5/grafo-sub000/internal/pipeline"
	"github.com/gabrielee5/grafo-sub000/internal/storage"
)

// Accounts is the account service behind the /auth routes.
type Accounts interface {
	Register(ctx context.Context, in auth.RegisterInput) (*auth.Session, error)
	Login(ctx context.Context, email, password string) (*auth.Session, error)
	Profile(ctx context.Context, userID string) (*domain.User, error)
	UpdateProfile(ctx context.Context, userID string, in auth.ProfileUpdate) (*domain.User, error)
	LoginWithFirebase(ctx context.Context, id auth.FirebaseIdentity) (*auth.Session, error)
}

// IDTokenVerifier checks third-party identity tokens.
type IDTokenVerifier interface {
	Verify(ctx context.Context, token string) (*auth.FirebaseIdentity, error)
}

// Processor runs one processing attempt.
type Processor interface {
	Process(ctx context.Context, sub pipeline.Submission) (*domain.OutcomeRecord, error)
}

// HistoryStore is the read/delete side of the history recorder.
type HistoryStore interface {
	Get(ctx context.Context, id, requester string) (*domain.HistoryEntry, error)
	List(ctx context.Context, ownerID string, opts history.ListOptions) (*history.ListResult, error)
	Delete(ctx context.Context, id, ownerID string) error
	ExportAll(ctx context.Context, ownerID string) (*history.Export, error)
}

type App struct {
	Accounts       Accounts
	Firebase       IDTokenVerifier
	Processor      Processor
	History        HistoryStore
	Blobs          storage.BlobStore
	Logger         *infra.Logger
	MaxUploadBytes int64
	Now            func() time.Time
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, r *http.Request, status int, key i18n.Key, args ...any) {
	middleware.WriteError(w, r, status, key, args...)
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}

func (a *App) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now().UTC()
}

// fail maps err onto a status and translated message. notFound picks the
// message used for domain.ErrNotFound.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error, notFound i18n.Key) {
	var vErr *domain.ValidationError
	switch {
	case errors.As(err, &vErr):
		a.validationError(w, r, vErr)
	case errors.Is(err, domain.ErrInvalidCredentials):
		a.error(w, r, http.StatusUnauthorized, i18n.MsgInvalidCredentials)
	case errors.Is(err, domain.ErrUnauthorized):
		a.error(w, r, http.StatusUnauthorized, i18n.MsgInvalidToken)
	case errors.Is(err, domain.ErrAccessDenied):
		a.error(w, r, http.StatusForbidden, i18n.MsgAccessDenied)
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, r, http.StatusNotFound, notFound)
	case errors.Is(err, domain.ErrConflict):
		a.error(w, r, http.StatusConflict, i18n.MsgEmailTaken)
	default:
		ev := a.logger().Error().Err(err).Str("request_id", middleware.RequestIDFromContext(r.Context()))
		if errors.Is(err, domain.ErrConfiguration) {
			ev = ev.Bool("configuration", true)
		}
		ev.Str("path", r.URL.Path).Msg("request failed")
		a.error(w, r, http.StatusInternalServerError, i18n.MsgInternal)
	}
}

func (a *App) validationError(w http.ResponseWriter, r *http.Request, vErr *domain.ValidationError) {
	switch vErr.Code {
	case domain.CodeFileTooLarge:
		a.error(w, r, http.StatusRequestEntityTooLarge, i18n.MsgFileTooLarge, a.maxUploadMB())
	case domain.CodeInvalidField:
		a.error(w, r, http.StatusBadRequest, i18n.MsgInvalidField, vErr.Detail)
	default:
		a.error(w, r, http.StatusBadRequest, i18n.Key(vErr.Code))
	}
}

func (a *App) maxUploadMB() int64 {
	mb := a.MaxUploadBytes / (1 << 20)
	if mb < 1 {
		mb = 1
	}
	return mb
}

var nopLogger = infra.NopLogger()

func (a *App) logger() *infra.Logger {
	if a.Logger == nil {
		return &nopLogger
	}
	return a.Logger
}
