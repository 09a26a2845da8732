package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/orema/pos-backend/internal/events"
	"github.com/orema/pos-backend/internal/logger"
)

// maxBodyBytes bounds login request bodies.
const maxBodyBytes = 4 << 10

// APIResponse represents the standard API response format
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// APIError represents the error detail in API response
type APIError struct {
	Code    string              `json:"code"`
	Message string              `json:"message"`
	Details map[string][]string `json:"details,omitempty"`
}

// EventReader returns recent security events for a tenant.
type EventReader interface {
	GetEventsSince(tenantID string, lastEventID string) ([]events.Event, error)
}

// AuthHandler handles HTTP requests for authentication endpoints
type AuthHandler struct {
	service    *SessionService
	cookies    *CookieManager
	events     EventReader
	recoverURL string
	logger     *slog.Logger
}

// AuthHandlerConfig holds dependencies for AuthHandler
type AuthHandlerConfig struct {
	Service *SessionService
	Cookies *CookieManager
	Events  EventReader
	// RecoverURL is where /recover redirects after clearing cookies.
	RecoverURL string
	Logger     *slog.Logger
}

// NewAuthHandler creates a new AuthHandler instance
func NewAuthHandler(cfg AuthHandlerConfig) *AuthHandler {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	recoverURL := cfg.RecoverURL
	if recoverURL == "" {
		recoverURL = "/login"
	}
	return &AuthHandler{
		service:    cfg.Service,
		cookies:    cfg.Cookies,
		events:     cfg.Events,
		recoverURL: recoverURL,
		logger:     log,
	}
}

// Login handles password authentication
// POST /api/v1/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.service.Login(r.Context(), req)
	h.finishLogin(w, r, result, err)
}

// PinLogin handles PIN authentication on a POS terminal
// POST /api/v1/auth/pin-login
func (h *AuthHandler) PinLogin(w http.ResponseWriter, r *http.Request) {
	var req PinLoginRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.service.LoginWithPin(r.Context(), req)
	h.finishLogin(w, r, result, err)
}

func (h *AuthHandler) finishLogin(w http.ResponseWriter, r *http.Request, result *LoginResult, err error) {
	if err != nil {
		h.writeLoginError(w, r, err)
		return
	}

	logger.AddRequestFields(r.Context(),
		slog.String(logger.FieldUserID, result.Session.UserID),
		slog.String(logger.FieldEtablissementID, result.Session.EtablissementID),
		slog.Bool(logger.FieldPinSession, result.Session.IsPinAuth),
	)
	h.cookies.SetSession(w, result.Token, result.ExpiresAt)
	h.writeSuccess(w, http.StatusOK, result)
}

func (h *AuthHandler) writeLoginError(w http.ResponseWriter, r *http.Request, err error) {
	var verrs ValidationErrors
	if errors.As(err, &verrs) {
		details := make(map[string][]string)
		for _, ve := range verrs {
			details[ve.Field] = append(details[ve.Field], ve.Message)
		}
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Request validation failed", details)
		return
	}

	var attempt *AttemptError
	if errors.As(err, &attempt) {
		if errors.Is(err, ErrAccountLocked) {
			logger.AddRequestFields(r.Context(), slog.String(logger.FieldRejection, "account_locked"))
			retry := attempt.RetryAfter(h.service.now())
			seconds := strconv.Itoa(int(retry / time.Second))
			w.Header().Set("Retry-After", seconds)
			h.writeError(w, http.StatusTooManyRequests, CodeAccountLocked,
				"Too many failed attempts. Please try again later.",
				map[string][]string{
					"retry_after":     {seconds},
					"lockout_ends_at": {attempt.LockoutEndsAt.UTC().Format(time.RFC3339)},
				})
			return
		}
		logger.AddRequestFields(r.Context(), slog.String(logger.FieldRejection, "invalid_credentials"))
		h.writeError(w, http.StatusUnauthorized, CodeInvalidCredentials, "Invalid email or credentials",
			map[string][]string{
				"remaining_attempts": {strconv.Itoa(attempt.RemainingAttempts)},
			})
		return
	}

	logger.WithCorrelationID(r.Context(), h.logger).Error("login failed", slog.Any("error", err))
	h.writeError(w, http.StatusInternalServerError, CodeInternalError, "An unexpected error occurred", nil)
}

// Logout clears the session cookie. It always succeeds.
// POST /api/v1/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.service.Logout(r.Context(), h.cookies.ReadSession(r))
	h.cookies.ClearSession(w)
	h.writeSuccess(w, http.StatusOK, map[string]string{
		"message": "Successfully logged out",
	})
}

// GetSession returns the current session payload
// GET /api/v1/auth/session
func (h *AuthHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	payload, err := h.service.GetSession(r.Context(), h.cookies.ReadSession(r))
	if err != nil {
		switch {
		case errors.Is(err, ErrNoSession):
			h.writeError(w, http.StatusUnauthorized, CodeSessionMissing, "Not authenticated", nil)
		case errors.Is(err, ErrSessionInvalid):
			h.cookies.ClearSession(w)
			h.writeError(w, http.StatusUnauthorized, CodeSessionInvalid, "Session is invalid or expired", nil)
		default:
			logger.WithCorrelationID(r.Context(), h.logger).Error("session lookup failed", slog.Any("error", err))
			h.writeError(w, http.StatusInternalServerError, CodeInternalError, "An unexpected error occurred", nil)
		}
		return
	}

	h.writeSuccess(w, http.StatusOK, map[string]interface{}{
		"session": payload,
	})
}

// Recover clears every auth-related cookie and redirects to the login page.
// It is the escape hatch for browsers stuck with an unreadable session.
// GET /api/v1/auth/recover
func (h *AuthHandler) Recover(w http.ResponseWriter, r *http.Request) {
	cleared := h.cookies.ClearAll(w, r)
	logger.WithCorrelationID(r.Context(), h.logger).Info("session cookies cleared",
		slog.Int("count", len(cleared)),
		slog.Any("names", cleared),
	)
	http.Redirect(w, r, h.recoverURL, http.StatusSeeOther)
}

// SecurityEvents lists recent security events for the caller's etablissement
// GET /api/v1/auth/security-events?since=<event id>
func (h *AuthHandler) SecurityEvents(w http.ResponseWriter, r *http.Request) {
	session, ok := SessionFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, CodeSessionMissing, "Not authenticated", nil)
		return
	}

	list, err := h.events.GetEventsSince(session.EtablissementID, r.URL.Query().Get("since"))
	if err != nil {
		logger.WithCorrelationID(r.Context(), h.logger).Error("read security events", slog.Any("error", err))
		h.writeError(w, http.StatusInternalServerError, CodeInternalError, "An unexpected error occurred", nil)
		return
	}

	h.writeSuccess(w, http.StatusOK, map[string]interface{}{
		"events": list,
	})
}

func (h *AuthHandler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, "Invalid request body", nil)
		return false
	}
	return true
}

// writeSuccess writes a success JSON response
func (h *AuthHandler) writeSuccess(w http.ResponseWriter, statusCode int, data interface{}) {
	WriteJSON(w, statusCode, APIResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
}

// writeError writes an error JSON response
func (h *AuthHandler) writeError(w http.ResponseWriter, statusCode int, code, message string, details map[string][]string) {
	WriteError(w, statusCode, code, message, details)
}

// WriteError writes the standard error envelope. Middleware shares it.
func WriteError(w http.ResponseWriter, statusCode int, code, message string, details map[string][]string) {
	WriteJSON(w, statusCode, APIResponse{
		Success: false,
		Error: &APIError{
			Code:    code,
			Message: message,
			Details: details,
		},
		Timestamp: time.Now().UTC(),
	})
}

// WriteJSON encodes v with the given status code.
func WriteJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}
