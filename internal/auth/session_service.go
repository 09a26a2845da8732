package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/orema/pos-backend/internal/events"
	"github.com/orema/pos-backend/internal/lockout"
	"github.com/orema/pos-backend/internal/repository"
)

// Session service errors
var (
	ErrInvalidCredentials = errors.New("invalid email or credentials")
	ErrAccountLocked      = errors.New("account temporarily locked")
	ErrNoSession          = errors.New("no session")
	ErrSessionInvalid     = errors.New("invalid session")
	ErrStaleTenant        = fmt.Errorf("%w: etablissement no longer exists", ErrSessionInvalid)
)

// Error codes for API responses
const (
	CodeValidationError    = "VALIDATION_ERROR"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeAccountLocked      = "ACCOUNT_LOCKED"
	CodeSessionMissing     = "SESSION_MISSING"
	CodeSessionInvalid     = "SESSION_INVALID"
	CodeForbidden          = "FORBIDDEN"
	CodeInternalError      = "INTERNAL_ERROR"
)

const (
	methodPassword = "password"
	methodPIN      = "pin"
)

// LoginRequest represents the password login request payload
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=256"`
}

// PinLoginRequest represents the PIN login request payload
type PinLoginRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
	Pin   string `json:"pin" validate:"required,len=4,numeric"`
}

// LoginResult is returned by a successful login.
type LoginResult struct {
	Token     string         `json:"-"`
	Session   SessionPayload `json:"session"`
	ExpiresAt time.Time      `json:"expires_at"`
}

// ValidationError represents a validation error with field details
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is returned when a request fails struct validation.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	return "request validation failed"
}

// AttemptError describes a rejected login. It unwraps to ErrInvalidCredentials
// or ErrAccountLocked.
type AttemptError struct {
	Err               error
	RemainingAttempts int
	LockoutEndsAt     time.Time
}

func (e *AttemptError) Error() string { return e.Err.Error() }

func (e *AttemptError) Unwrap() error { return e.Err }

// RetryAfter returns the time left until the lockout ends, rounded up to a second.
func (e *AttemptError) RetryAfter(now time.Time) time.Duration {
	if e.LockoutEndsAt.IsZero() {
		return 0
	}
	d := e.LockoutEndsAt.Sub(now)
	if d <= 0 {
		return 0
	}
	return (d + time.Second - 1).Truncate(time.Second)
}

// LockoutTracker is the subset of lockout.Tracker used by the service.
type LockoutTracker interface {
	CheckLockout(ctx context.Context, identifier string, isPin bool) (lockout.Status, error)
	RecordFailedAttempt(ctx context.Context, identifier string, isPin bool) (lockout.Status, error)
	ResetAttempts(ctx context.Context, identifier string, isPin bool) error
}

// TenantChecker reports whether an etablissement still exists.
type TenantChecker interface {
	Exists(ctx context.Context, etablissementID string) (bool, error)
}

// NameSanitizer cleans display names before they are signed into a token.
type NameSanitizer interface {
	Sanitize(name string) string
}

// EventPublisher receives security events.
type EventPublisher interface {
	Publish(event events.Event) error
}

// SessionServiceDeps groups the collaborators of SessionService.
type SessionServiceDeps struct {
	Users     repository.UserRepository
	Tenants   TenantChecker
	Codec     *TokenCodec
	Hasher    *Hasher
	Lockout   LockoutTracker
	Sanitizer NameSanitizer
	Events    EventPublisher
	Logger    *slog.Logger
}

// SessionServiceConfig holds session lifetimes.
type SessionServiceConfig struct {
	SessionTTL    time.Duration
	PinSessionTTL time.Duration
}

// SessionService authenticates staff and resolves session tokens.
type SessionService struct {
	users     repository.UserRepository
	tenants   TenantChecker
	codec     *TokenCodec
	hasher    *Hasher
	lockout   LockoutTracker
	sanitizer NameSanitizer
	events    EventPublisher
	logger    *slog.Logger
	validate  *validator.Validate

	sessionTTL    time.Duration
	pinSessionTTL time.Duration
	now           func() time.Time
}

// NewSessionService creates a new SessionService instance
func NewSessionService(deps SessionServiceDeps, cfg SessionServiceConfig) *SessionService {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	if cfg.PinSessionTTL <= 0 {
		cfg.PinSessionTTL = 12 * time.Hour
	}
	return &SessionService{
		users:         deps.Users,
		tenants:       deps.Tenants,
		codec:         deps.Codec,
		hasher:        deps.Hasher,
		lockout:       deps.Lockout,
		sanitizer:     deps.Sanitizer,
		events:        deps.Events,
		logger:        logger,
		validate:      validator.New(),
		sessionTTL:    cfg.SessionTTL,
		pinSessionTTL: cfg.PinSessionTTL,
		now:           time.Now,
	}
}

// Login authenticates with email and password.
func (s *SessionService) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	req.Email = strings.TrimSpace(req.Email)
	if verrs := s.validateRequest(req); verrs != nil {
		return nil, verrs
	}
	return s.login(ctx, req.Email, req.Password, false)
}

// LoginWithPin authenticates with email and 4-digit PIN. The resulting
// session is marked IsPinAuth and lives for the shorter PIN TTL.
func (s *SessionService) LoginWithPin(ctx context.Context, req PinLoginRequest) (*LoginResult, error) {
	req.Email = strings.TrimSpace(req.Email)
	if verrs := s.validateRequest(req); verrs != nil {
		return nil, verrs
	}
	return s.login(ctx, req.Email, req.Pin, true)
}

func (s *SessionService) login(ctx context.Context, email, secret string, isPin bool) (*LoginResult, error) {
	identifier := normalizeEmail(email)
	method := methodName(isPin)

	status, err := s.lockout.CheckLockout(ctx, identifier, isPin)
	if err != nil {
		return nil, fmt.Errorf("check lockout: %w", err)
	}
	if status.Locked {
		s.publish(events.EventTypeLoginLocked, "", "", identifier, map[string]string{
			events.MetaMethod:        method,
			events.MetaReason:        "active",
			events.MetaLockoutEndsAt: status.LockoutEndsAt.UTC().Format(time.RFC3339),
		})
		return nil, &AttemptError{Err: ErrAccountLocked, LockoutEndsAt: status.LockoutEndsAt}
	}

	user, err := s.users.GetByEmail(ctx, identifier)
	if err != nil && !errors.Is(err, repository.ErrUserNotFound) {
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	if !s.verify(user, secret, isPin) {
		return nil, s.recordFailure(ctx, identifier, user, isPin)
	}

	if err := s.lockout.ResetAttempts(ctx, identifier, isPin); err != nil {
		s.logger.Warn("failed to reset lockout counter",
			slog.String("identifier", identifier),
			slog.String("method", method),
			slog.Any("error", err),
		)
	}

	ttl := s.sessionTTL
	if isPin {
		ttl = s.pinSessionTTL
	}

	payload := SessionPayload{
		Version:         PayloadVersion,
		UserID:          user.ID,
		Email:           user.Email,
		Role:            Role(user.Role),
		EtablissementID: user.EtablissementID,
		Nom:             s.sanitize(user.Nom),
		Prenom:          s.sanitize(user.Prenom),
		IsPinAuth:       isPin,
	}

	token, err := s.codec.Encode(payload, ttl)
	if err != nil {
		return nil, fmt.Errorf("encode session: %w", err)
	}

	if err := s.users.UpdateLastLogin(ctx, user.ID); err != nil {
		s.logger.Warn("failed to update derniere_connexion",
			slog.String("user_id", user.ID),
			slog.Any("error", err),
		)
	}

	s.publish(events.EventTypeLoginSucceeded, user.EtablissementID, user.ID, identifier, map[string]string{
		events.MetaMethod: method,
	})

	return &LoginResult{
		Token:     token,
		Session:   payload,
		ExpiresAt: s.now().Add(ttl),
	}, nil
}

// verify checks the secret against the stored hash. Unknown, inactive and
// PIN-less accounts still pay for one hash derivation.
func (s *SessionService) verify(user *repository.User, secret string, isPin bool) bool {
	if user == nil || !user.Actif || !Role(user.Role).Valid() {
		s.hasher.Dummy(secret)
		return false
	}

	stored := user.PasswordHash
	if isPin {
		if !user.HasPin() {
			s.hasher.Dummy(secret)
			return false
		}
		stored = *user.PinHash
	}
	return s.hasher.Verify(secret, stored)
}

func (s *SessionService) recordFailure(ctx context.Context, identifier string, user *repository.User, isPin bool) error {
	method := methodName(isPin)
	var tenantID, userID string
	if user != nil {
		tenantID, userID = user.EtablissementID, user.ID
	}

	status, err := s.lockout.RecordFailedAttempt(ctx, identifier, isPin)
	if err != nil {
		return fmt.Errorf("record failed attempt: %w", err)
	}

	if status.Locked {
		s.publish(events.EventTypeLoginLocked, tenantID, userID, identifier, map[string]string{
			events.MetaMethod:        method,
			events.MetaReason:        "threshold",
			events.MetaLockoutEndsAt: status.LockoutEndsAt.UTC().Format(time.RFC3339),
		})
		return &AttemptError{Err: ErrAccountLocked, LockoutEndsAt: status.LockoutEndsAt}
	}

	s.publish(events.EventTypeLoginFailed, tenantID, userID, identifier, map[string]string{
		events.MetaMethod:            method,
		events.MetaRemainingAttempts: strconv.Itoa(status.RemainingAttempts),
	})
	return &AttemptError{Err: ErrInvalidCredentials, RemainingAttempts: status.RemainingAttempts}
}

// GetSession resolves a token into its payload. The token must verify and
// its etablissement must still exist; a missing etablissement is reported
// as ErrStaleTenant so the caller can clear the cookie.
func (s *SessionService) GetSession(ctx context.Context, token string) (*SessionPayload, error) {
	if token == "" {
		return nil, ErrNoSession
	}

	payload, err := s.codec.Decode(token)
	if err != nil {
		s.publish(events.EventTypeSessionRejected, "", "", "", map[string]string{
			events.MetaReason: tokenRejectReason(err),
		})
		return nil, fmt.Errorf("%w: %w", ErrSessionInvalid, err)
	}

	exists, err := s.tenants.Exists(ctx, payload.EtablissementID)
	if err != nil {
		return nil, fmt.Errorf("check etablissement: %w", err)
	}
	if !exists {
		s.logger.Warn("session references a missing etablissement",
			slog.String("user_id", payload.UserID),
			slog.String("etablissement_id", payload.EtablissementID),
		)
		s.publish(events.EventTypeSessionStale, "", payload.UserID, payload.Email, nil)
		return nil, ErrStaleTenant
	}

	return payload, nil
}

// Logout records the end of a session. Tokens are stateless, so the only
// effect beyond the audit trail is the caller clearing its cookie.
func (s *SessionService) Logout(ctx context.Context, token string) {
	if token == "" {
		return
	}
	payload, err := s.codec.Decode(token)
	if err != nil {
		return
	}
	s.publish(events.EventTypeLogout, payload.EtablissementID, payload.UserID, payload.Email, map[string]string{
		events.MetaMethod: methodName(payload.IsPinAuth),
	})
}

func (s *SessionService) validateRequest(req any) ValidationErrors {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return ValidationErrors{{Field: "body", Message: "invalid request"}}
	}

	verrs := make(ValidationErrors, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		verrs = append(verrs, ValidationError{
			Field:   strings.ToLower(fe.Field()),
			Message: validationMessage(fe),
		})
	}
	return verrs
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required"
	case "email":
		return "Invalid email format"
	case "len", "numeric":
		return "PIN must be exactly 4 digits"
	case "max":
		return "Value is too long"
	default:
		return "Invalid value"
	}
}

func (s *SessionService) sanitize(name string) string {
	if s.sanitizer == nil {
		return name
	}
	return s.sanitizer.Sanitize(name)
}

func (s *SessionService) publish(eventType, tenantID, userID, identifier string, metadata map[string]string) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(events.New(eventType, tenantID, userID, identifier, metadata)); err != nil {
		s.logger.Error("failed to publish security event",
			slog.String("event_type", eventType),
			slog.Any("error", err),
		)
	}
}

func tokenRejectReason(err error) string {
	switch {
	case errors.Is(err, ErrTokenExpired):
		return "expired"
	case errors.Is(err, ErrTokenSignature):
		return "signature"
	case errors.Is(err, ErrTokenVersion):
		return "version"
	default:
		return "malformed"
	}
}

func methodName(isPin bool) string {
	if isPin {
		return methodPIN
	}
	return methodPassword
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
