package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/orema/pos-backend/internal/events"
	"github.com/orema/pos-backend/internal/lockout"
	"github.com/orema/pos-backend/internal/repository"
	"github.com/orema/pos-backend/internal/sanitizer"
)

// mockUserRepository is an in-memory UserRepository.
type mockUserRepository struct {
	mu         sync.Mutex
	users      map[string]*repository.User
	lookups    int
	lastLogins []string
	err        error
}

func (m *mockUserRepository) GetByEmail(_ context.Context, email string) (*repository.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups++
	if m.err != nil {
		return nil, m.err
	}
	user, ok := m.users[email]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	cp := *user
	return &cp, nil
}

func (m *mockUserRepository) UpdateLastLogin(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastLogins = append(m.lastLogins, id)
	return nil
}

type mockTenants struct {
	known map[string]bool
	err   error
}

func (m *mockTenants) Exists(_ context.Context, id string) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	return m.known[id], nil
}

type eventRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *eventRecorder) Publish(event events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *eventRecorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func (r *eventRecorder) last() events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

type serviceFixture struct {
	svc     *SessionService
	users   *mockUserRepository
	tenants *mockTenants
	events  *eventRecorder
	codec   *TokenCodec
	now     time.Time
}

func (f *serviceFixture) clock() time.Time { return f.now }

func (f *serviceFixture) advance(d time.Duration) { f.now = f.now.Add(d) }

const (
	testEmail    = "marie@orema.ga"
	testPassword = "Caisse2024!"
	testPIN      = "4821"
	testEtab     = "etab-libreville"
)

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	h := fastHasher()
	pwHash, err := h.Hash(testPassword)
	require.NoError(t, err)
	pinHash, err := h.Hash(testPIN)
	require.NoError(t, err)

	f := &serviceFixture{
		now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		users: &mockUserRepository{users: map[string]*repository.User{
			testEmail: {
				ID:              "user-1",
				Email:           testEmail,
				PasswordHash:    pwHash,
				PinHash:         &pinHash,
				Role:            string(RoleCaissier),
				EtablissementID: testEtab,
				Nom:             "<b>Nguema</b>",
				Prenom:          "Marie",
				Actif:           true,
			},
			"nopin@orema.ga": {
				ID:              "user-2",
				Email:           "nopin@orema.ga",
				PasswordHash:    pwHash,
				Role:            string(RoleManager),
				EtablissementID: testEtab,
				Actif:           true,
			},
			"ancien@orema.ga": {
				ID:              "user-3",
				Email:           "ancien@orema.ga",
				PasswordHash:    pwHash,
				Role:            string(RoleServeur),
				EtablissementID: testEtab,
				Actif:           false,
			},
		}},
		tenants: &mockTenants{known: map[string]bool{testEtab: true}},
		events:  &eventRecorder{},
	}

	f.codec, err = NewTokenCodec(TokenCodecConfig{Secret: testSecret, Now: f.clock})
	require.NoError(t, err)

	store := lockout.NewMemoryStore(lockout.MemoryStoreConfig{Now: f.clock})
	t.Cleanup(func() { _ = store.Close() })

	f.svc = NewSessionService(SessionServiceDeps{
		Users:     f.users,
		Tenants:   f.tenants,
		Codec:     f.codec,
		Hasher:    h,
		Lockout:   lockout.NewTracker(store, lockout.DefaultPasswordPolicy(), lockout.DefaultPINPolicy()),
		Sanitizer: sanitizer.NewNameSanitizer(),
		Events:    f.events,
	}, SessionServiceConfig{SessionTTL: 8 * time.Hour, PinSessionTTL: 2 * time.Hour})
	f.svc.now = f.clock
	return f
}

func TestSessionService_LoginSuccess(t *testing.T) {
	f := newServiceFixture(t)

	result, err := f.svc.Login(context.Background(), LoginRequest{Email: "  Marie@Orema.GA ", Password: testPassword})
	require.NoError(t, err)
	require.NotEmpty(t, result.Token)
	require.Equal(t, "user-1", result.Session.UserID)
	require.Equal(t, testEtab, result.Session.EtablissementID)
	require.Equal(t, RoleCaissier, result.Session.Role)
	require.False(t, result.Session.IsPinAuth)
	require.Equal(t, "Nguema", result.Session.Nom)
	require.Equal(t, f.now.Add(8*time.Hour), result.ExpiresAt)

	decoded, err := f.codec.Decode(result.Token)
	require.NoError(t, err)
	require.Equal(t, result.Session, *decoded)

	require.Equal(t, []string{"user-1"}, f.users.lastLogins)
	require.Equal(t, events.EventTypeLoginSucceeded, f.events.last().Type)
	require.Equal(t, testEtab, f.events.last().TenantID)
}

func TestSessionService_PinLoginSuccess(t *testing.T) {
	f := newServiceFixture(t)

	result, err := f.svc.LoginWithPin(context.Background(), PinLoginRequest{Email: testEmail, Pin: testPIN})
	require.NoError(t, err)
	require.True(t, result.Session.IsPinAuth)
	require.Equal(t, f.now.Add(2*time.Hour), result.ExpiresAt)

	f.advance(2*time.Hour + time.Second)
	_, err = f.svc.GetSession(context.Background(), result.Token)
	require.ErrorIs(t, err, ErrSessionInvalid)
	require.ErrorIs(t, err, ErrTokenExpired)
}

func TestSessionService_Validation(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.svc.Login(context.Background(), LoginRequest{Email: "not-an-email"})
	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	fields := map[string]bool{}
	for _, ve := range verrs {
		fields[ve.Field] = true
	}
	require.True(t, fields["email"])
	require.True(t, fields["password"])

	_, err = f.svc.LoginWithPin(context.Background(), PinLoginRequest{Email: testEmail, Pin: "12a4"})
	require.ErrorAs(t, err, &verrs)
	require.Equal(t, "pin", verrs[0].Field)

	require.Zero(t, f.users.lookups, "invalid requests must not reach the user lookup")
}

func TestSessionService_InvalidCredentialsReportRemaining(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.svc.Login(context.Background(), LoginRequest{Email: testEmail, Password: "wrong"})
	require.ErrorIs(t, err, ErrInvalidCredentials)

	var attempt *AttemptError
	require.ErrorAs(t, err, &attempt)
	require.Equal(t, 4, attempt.RemainingAttempts)

	last := f.events.last()
	require.Equal(t, events.EventTypeLoginFailed, last.Type)
	require.Equal(t, "4", last.Metadata[events.MetaRemainingAttempts])
	require.Equal(t, "password", last.Metadata[events.MetaMethod])
}

func TestSessionService_UnknownEmailLooksLikeWrongPassword(t *testing.T) {
	f := newServiceFixture(t)

	_, known := f.svc.Login(context.Background(), LoginRequest{Email: testEmail, Password: "wrong"})
	_, unknown := f.svc.Login(context.Background(), LoginRequest{Email: "personne@orema.ga", Password: "wrong"})

	require.ErrorIs(t, unknown, ErrInvalidCredentials)
	require.Equal(t, known.Error(), unknown.Error())

	var a, b *AttemptError
	require.ErrorAs(t, known, &a)
	require.ErrorAs(t, unknown, &b)
	require.Equal(t, a.RemainingAttempts, b.RemainingAttempts)
}

func TestSessionService_InactiveAndPinlessAccounts(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.svc.Login(context.Background(), LoginRequest{Email: "ancien@orema.ga", Password: testPassword})
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = f.svc.LoginWithPin(context.Background(), PinLoginRequest{Email: "nopin@orema.ga", Pin: "0000"})
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestSessionService_LockoutScenario(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	var err error
	for i := 0; i < 4; i++ {
		_, err = f.svc.Login(ctx, LoginRequest{Email: testEmail, Password: "wrong"})
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}

	_, err = f.svc.Login(ctx, LoginRequest{Email: testEmail, Password: "wrong"})
	require.ErrorIs(t, err, ErrAccountLocked)
	var attempt *AttemptError
	require.ErrorAs(t, err, &attempt)
	require.Equal(t, f.now.Add(15*time.Minute), attempt.LockoutEndsAt)
	require.Equal(t, 15*time.Minute, attempt.RetryAfter(f.now))

	lookups := f.users.lookups
	_, err = f.svc.Login(ctx, LoginRequest{Email: testEmail, Password: testPassword})
	require.ErrorIs(t, err, ErrAccountLocked)
	require.Equal(t, lookups, f.users.lookups, "a locked identifier must not reach credential verification")
	require.Equal(t, "active", f.events.last().Metadata[events.MetaReason])

	// PIN namespace is independent of the password lockout.
	result, err := f.svc.LoginWithPin(ctx, PinLoginRequest{Email: testEmail, Pin: testPIN})
	require.NoError(t, err)
	require.True(t, result.Session.IsPinAuth)

	f.advance(15*time.Minute + time.Second)
	_, err = f.svc.Login(ctx, LoginRequest{Email: testEmail, Password: testPassword})
	require.NoError(t, err)
}

func TestSessionService_PinLockoutThreshold(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := f.svc.LoginWithPin(ctx, PinLoginRequest{Email: testEmail, Pin: "0000"})
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}
	_, err := f.svc.LoginWithPin(ctx, PinLoginRequest{Email: testEmail, Pin: "0000"})
	require.ErrorIs(t, err, ErrAccountLocked)

	require.Contains(t, f.events.types(), events.EventTypeLoginLocked)
	require.Equal(t, "threshold", f.events.last().Metadata[events.MetaReason])

	_, err = f.svc.Login(ctx, LoginRequest{Email: testEmail, Password: testPassword})
	require.NoError(t, err)
}

func TestSessionService_SuccessResetsAttempts(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := f.svc.Login(ctx, LoginRequest{Email: testEmail, Password: "wrong"})
		require.Error(t, err)
	}
	_, err := f.svc.Login(ctx, LoginRequest{Email: testEmail, Password: testPassword})
	require.NoError(t, err)

	_, err = f.svc.Login(ctx, LoginRequest{Email: testEmail, Password: "wrong"})
	var attempt *AttemptError
	require.ErrorAs(t, err, &attempt)
	require.Equal(t, 4, attempt.RemainingAttempts)
}

func TestSessionService_LookupFailureIsNotACredentialFailure(t *testing.T) {
	f := newServiceFixture(t)
	f.users.err = errors.New("connection refused")

	_, err := f.svc.Login(context.Background(), LoginRequest{Email: testEmail, Password: testPassword})
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrInvalidCredentials)
	require.Empty(t, f.events.types())
}

func TestSessionService_GetSession(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.svc.GetSession(ctx, "")
	require.ErrorIs(t, err, ErrNoSession)

	_, err = f.svc.GetSession(ctx, "garbage")
	require.ErrorIs(t, err, ErrSessionInvalid)
	require.Equal(t, events.EventTypeSessionRejected, f.events.last().Type)
	require.Equal(t, "malformed", f.events.last().Metadata[events.MetaReason])

	result, err := f.svc.Login(ctx, LoginRequest{Email: testEmail, Password: testPassword})
	require.NoError(t, err)

	payload, err := f.svc.GetSession(ctx, result.Token)
	require.NoError(t, err)
	require.Equal(t, result.Session, *payload)

	f.advance(8*time.Hour + time.Second)
	_, err = f.svc.GetSession(ctx, result.Token)
	require.ErrorIs(t, err, ErrSessionInvalid)
	require.Equal(t, "expired", f.events.last().Metadata[events.MetaReason])
}

func TestSessionService_StaleTenant(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	result, err := f.svc.Login(ctx, LoginRequest{Email: testEmail, Password: testPassword})
	require.NoError(t, err)

	delete(f.tenants.known, testEtab)
	_, err = f.svc.GetSession(ctx, result.Token)
	require.ErrorIs(t, err, ErrStaleTenant)
	require.ErrorIs(t, err, ErrSessionInvalid)
	require.Equal(t, events.EventTypeSessionStale, f.events.last().Type)

	f.tenants.err = errors.New("db down")
	_, err = f.svc.GetSession(ctx, result.Token)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrSessionInvalid)
}

func TestSessionService_Logout(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	f.svc.Logout(ctx, "")
	f.svc.Logout(ctx, "not.a.token")
	require.Empty(t, f.events.types())

	result, err := f.svc.LoginWithPin(ctx, PinLoginRequest{Email: testEmail, Pin: testPIN})
	require.NoError(t, err)

	f.svc.Logout(ctx, result.Token)
	last := f.events.last()
	require.Equal(t, events.EventTypeLogout, last.Type)
	require.Equal(t, "pin", last.Metadata[events.MetaMethod])
}

func TestSessionService_ConcurrentFailuresAllCounted(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.svc.Login(ctx, LoginRequest{Email: testEmail, Password: "wrong"})
		}()
	}
	wg.Wait()

	_, err := f.svc.Login(ctx, LoginRequest{Email: testEmail, Password: testPassword})
	require.ErrorIs(t, err, ErrAccountLocked)
}

func TestAttemptError_RetryAfter(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	e := &AttemptError{Err: ErrAccountLocked, LockoutEndsAt: now.Add(90*time.Second + 10*time.Millisecond)}
	require.Equal(t, 91*time.Second, e.RetryAfter(now))
	require.Zero(t, e.RetryAfter(now.Add(time.Hour)))
	require.Zero(t, (&AttemptError{Err: ErrInvalidCredentials}).RetryAfter(now))
}
