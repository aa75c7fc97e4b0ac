package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// RoleAdmin marks tokens allowed to call the admin surface.
const RoleAdmin = "admin"

const (
	roleClaim = "role"

	defaultAccessTTL = 15 * time.Minute
	defaultClockSkew = 30 * time.Second
	defaultIssuer    = "fees-engine"
	defaultAudience  = "fees-admin"
)

var (
	// ErrInvalidToken covers signature, algorithm and claim failures.
	ErrInvalidToken = errors.New("invalid token")
	// ErrInvalidAPIKey is returned when the presented admin key does not match.
	ErrInvalidAPIKey = errors.New("invalid api key")
	// ErrAPIKeyNotConfigured is returned when no admin key hash is deployed.
	ErrAPIKeyNotConfigured = errors.New("admin api key not configured")
)

// Identity is the principal carried by a verified admin token.
type Identity struct {
	Subject string
	Role    string
}

// Config configures the admin token service.
type Config struct {
	Secret         string
	APIKeyHash     string
	AccessTokenTTL time.Duration
	ClockSkew      time.Duration
	Issuer         string
	Audience       string
}

// Service mints and verifies the short-lived tokens that guard the admin
// surface. There are no user accounts: callers exchange the deploy-time admin
// API key for a token and present it as a bearer credential.
type Service struct {
	secret     []byte
	apiKeyHash string
	accessTTL  time.Duration
	clockSkew  time.Duration
	issuer     string
	audience   string
	validator  TokenValidator
	now        func() time.Time
}

// NewService validates the configuration and returns a ready service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Secret == "" {
		return nil, errors.New("auth: secret is required")
	}
	svc := &Service{
		secret:     []byte(cfg.Secret),
		apiKeyHash: cfg.APIKeyHash,
		accessTTL:  cfg.AccessTokenTTL,
		clockSkew:  cfg.ClockSkew,
		issuer:     cfg.Issuer,
		audience:   cfg.Audience,
		now:        time.Now,
	}
	if svc.accessTTL <= 0 {
		svc.accessTTL = defaultAccessTTL
	}
	if svc.clockSkew <= 0 {
		svc.clockSkew = defaultClockSkew
	}
	if svc.issuer == "" {
		svc.issuer = defaultIssuer
	}
	if svc.audience == "" {
		svc.audience = defaultAudience
	}
	svc.validator = TokenValidator{
		Issuer:    svc.issuer,
		Audience:  svc.audience,
		ClockSkew: svc.clockSkew,
		Algorithm: jwa.HS256,
	}
	return svc, nil
}

// WithNow overrides the clock used for issuing and validating tokens.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// ExchangeAPIKey verifies the presented admin key against the configured
// argon2id hash and mints an admin token on success.
func (s *Service) ExchangeAPIKey(subject, key string) (string, time.Time, error) {
	if s.apiKeyHash == "" {
		return "", time.Time{}, ErrAPIKeyNotConfigured
	}
	match, err := argon2id.ComparePasswordAndHash(key, s.apiKeyHash)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("compare api key: %w", err)
	}
	if !match {
		return "", time.Time{}, ErrInvalidAPIKey
	}
	return s.IssueAdminToken(subject)
}

// IssueAdminToken signs a token carrying the admin role for subject.
func (s *Service) IssueAdminToken(subject string) (string, time.Time, error) {
	now := s.now().UTC()
	expiresAt := now.Add(s.accessTTL)
	token, err := jwt.NewBuilder().
		Subject(subject).
		Issuer(s.issuer).
		Audience([]string{s.audience}).
		IssuedAt(now).
		NotBefore(now.Add(-s.clockSkew)).
		Expiration(expiresAt).
		Claim(roleClaim, RoleAdmin).
		Build()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("build token: %w", err)
	}
	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, s.secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return string(signed), expiresAt, nil
}

// ParseAdminToken verifies the signature and registered claims and returns
// the identity embedded in the token.
func (s *Service) ParseAdminToken(raw string) (Identity, error) {
	parsed, err := jwt.Parse([]byte(raw), jwt.WithKey(jwa.HS256, s.secret), jwt.WithValidate(false))
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	alg, err := extractTokenAlgorithm([]byte(raw))
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if err := s.validator.Validate(parsed, alg, s.now()); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	identity := Identity{Subject: parsed.Subject()}
	if role, ok := parsed.Get(roleClaim); ok {
		if str, ok := role.(string); ok {
			identity.Role = str
		}
	}
	return identity, nil
}

// extractTokenAlgorithm reports the algorithm of the token's sole signature.
// Unsigned tokens and multi-signature envelopes are rejected.
func extractTokenAlgorithm(raw []byte) (jwa.SignatureAlgorithm, error) {
	msg, err := jws.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse signature envelope: %w", err)
	}
	signatures := msg.Signatures()
	if len(signatures) != 1 {
		return "", fmt.Errorf("unexpected signature count: %d", len(signatures))
	}
	alg := signatures[0].ProtectedHeaders().Algorithm()
	if alg == "" || alg == jwa.NoSignature {
		return "", errors.New("token algorithm missing")
	}
	return alg, nil
}

// HashAPIKey derives the argon2id hash stored in ADMIN_API_KEY_HASH.
func HashAPIKey(key string) (string, error) {
	if key == "" {
		return "", errors.New("auth: api key is empty")
	}
	return argon2id.CreateHash(key, argon2id.DefaultParams)
}
