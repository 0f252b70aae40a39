package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"StayRelay/pkg/logger"
)

type credential struct {
	digest  [sha256.Size]byte
	subject *Subject
}

// Service validates bearer tokens against the configured static tokens or,
// in jwt mode, against the shared signing secret.
type Service struct {
	mode        Mode
	credentials []credential
	jwt         *jwtManager
	audit       *slog.Logger
}

// NewService validates the configuration and indexes the token digests.
func NewService(cfg Config) (*Service, error) {
	mode := cfg.Mode
	if mode == "" {
		mode = ModeDisabled
	}
	svc := &Service{mode: mode, audit: logger.Audit()}
	switch mode {
	case ModeDisabled:
		return svc, nil
	case ModeToken:
	case ModeJWT:
		manager, err := newJWTManager(cfg.JWT)
		if err != nil {
			return nil, err
		}
		svc.jwt = manager
		return svc, nil
	default:
		return nil, fmt.Errorf("unsupported auth mode %q", cfg.Mode)
	}

	if len(cfg.Tokens) == 0 {
		return nil, fmt.Errorf("auth mode %q requires at least one token", mode)
	}
	for i, token := range cfg.Tokens {
		secret := strings.TrimSpace(token.Secret)
		if secret == "" {
			return nil, fmt.Errorf("auth token %d has an empty secret", i)
		}
		name := strings.TrimSpace(token.Name)
		if name == "" {
			name = fmt.Sprintf("token-%d", i)
		}
		svc.credentials = append(svc.credentials, credential{
			digest:  sha256.Sum256([]byte(secret)),
			subject: newSubject(name, token.Permissions),
		})
	}
	return svc, nil
}

// Mode returns the configured authentication mode.
func (s *Service) Mode() Mode {
	if s == nil {
		return ModeDisabled
	}
	return s.mode
}

// AuthenticateRequest resolves the subject behind an Authorization header.
func (s *Service) AuthenticateRequest(_ context.Context, authorization string) (*Subject, error) {
	token, ok := bearerToken(authorization)
	if !ok {
		return nil, ErrMissingToken
	}
	if s.jwt != nil {
		return s.jwt.Verify(token)
	}
	digest := sha256.Sum256([]byte(token))
	var matched *Subject
	for _, cred := range s.credentials {
		if subtle.ConstantTimeCompare(digest[:], cred.digest[:]) == 1 {
			matched = cred.subject
		}
	}
	if matched == nil {
		return nil, ErrInvalidToken
	}
	return matched, nil
}

// IssueToken mints a signed access token. It is only available in jwt mode.
func (s *Service) IssueToken(subject string, perms []string, ttl time.Duration) (string, error) {
	if s == nil || s.jwt == nil {
		return "", fmt.Errorf("token issuance requires auth mode %q", ModeJWT)
	}
	if strings.TrimSpace(subject) == "" {
		return "", fmt.Errorf("token subject cannot be empty")
	}
	return s.jwt.Issue(subject, perms, ttl)
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
