package auth

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// PayloadVersion is the session payload schema version written by Encode.
const PayloadVersion = 1

var (
	// ErrMissingSecret is returned when no signing secret is configured.
	ErrMissingSecret = errors.New("session signing secret is not configured")

	// ErrTokenInvalid matches every token rejection.
	ErrTokenInvalid = errors.New("invalid session token")

	ErrTokenMalformed = fmt.Errorf("%w: malformed", ErrTokenInvalid)
	ErrTokenSignature = fmt.Errorf("%w: signature mismatch", ErrTokenInvalid)
	ErrTokenExpired   = fmt.Errorf("%w: expired", ErrTokenInvalid)
	ErrTokenVersion   = fmt.Errorf("%w: unsupported payload version", ErrTokenInvalid)
)

// Role is a staff role inside an etablissement.
type Role string

const (
	RoleSuperAdmin Role = "SUPER_ADMIN"
	RoleAdmin      Role = "ADMIN"
	RoleManager    Role = "MANAGER"
	RoleCaissier   Role = "CAISSIER"
	RoleServeur    Role = "SERVEUR"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSuperAdmin, RoleAdmin, RoleManager, RoleCaissier, RoleServeur:
		return true
	}
	return false
}

// SessionPayload is the identity carried inside a session token.
type SessionPayload struct {
	Version         int    `json:"v"`
	UserID          string `json:"userId"`
	Email           string `json:"email"`
	Role            Role   `json:"role"`
	EtablissementID string `json:"etablissementId"`
	Nom             string `json:"nom"`
	Prenom          string `json:"prenom"`
	IsPinAuth       bool   `json:"isPinAuth,omitempty"`
}

// sessionClaims is the wire form: payload fields plus iat/exp/iss/sub/jti.
type sessionClaims struct {
	SessionPayload
	jwt.RegisteredClaims
}

// TokenCodecConfig holds configuration for TokenCodec
type TokenCodecConfig struct {
	Secret string
	Issuer string
	// Now overrides the clock, mainly for tests.
	Now func() time.Time
}

// TokenCodec signs and verifies stateless session tokens (HS256, compact JWS).
type TokenCodec struct {
	secret []byte
	issuer string
	now    func() time.Time
	parser *jwt.Parser
}

// NewTokenCodec creates a new TokenCodec instance
func NewTokenCodec(cfg TokenCodecConfig) (*TokenCodec, error) {
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, ErrMissingSecret
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithStrictDecoding(),
		jwt.WithTimeFunc(now),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	return &TokenCodec{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		now:    now,
		parser: jwt.NewParser(opts...),
	}, nil
}

// Encode signs payload into a token that expires ttl from now.
// The returned payload version is always PayloadVersion.
func (c *TokenCodec) Encode(payload SessionPayload, ttl time.Duration) (string, error) {
	now := c.now()

	p := payload
	p.Version = PayloadVersion

	claims := sessionClaims{
		SessionPayload: p,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   p.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.New().String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// Decode verifies token and returns its payload without the timing claims.
// Every failure matches ErrTokenInvalid.
func (c *TokenCodec) Decode(token string) (*SessionPayload, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, ErrTokenMalformed
	}

	version, err := peekVersion(parts[1])
	if err != nil {
		return nil, ErrTokenMalformed
	}
	if version > PayloadVersion {
		return nil, ErrTokenVersion
	}

	claims := &sessionClaims{}
	_, err = c.parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return c.secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrTokenSignature
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, ErrTokenMalformed
		default:
			return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
		}
	}

	payload := claims.SessionPayload
	payload.Version = version
	if payload.UserID == "" || !payload.Role.Valid() {
		return nil, ErrTokenMalformed
	}

	return &payload, nil
}

// peekVersion reads the "v" claim without trusting the token.
// Tokens minted before versioning carry no "v" and count as version 1.
func peekVersion(segment string) (int, error) {
	raw, err := DecodeSegment(segment)
	if err != nil {
		return 0, err
	}

	var probe struct {
		V *int `json:"v"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return 0, err
	}
	if probe.V == nil {
		return 1, nil
	}
	if *probe.V < 1 {
		return 0, fmt.Errorf("invalid payload version %d", *probe.V)
	}
	return *probe.V, nil
}

// EncodeSegment renders data as unpadded base64url.
func EncodeSegment(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}

// DecodeSegment parses base64url, tolerating "=" padding and the
// standard-alphabet characters "+" and "/".
func DecodeSegment(segment string) ([]byte, error) {
	s := strings.TrimRight(segment, "=")
	s = strings.NewReplacer("+", "-", "/", "_").Replace(s)
	return base64.RawURLEncoding.DecodeString(s)
}
