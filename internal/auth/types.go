package auth

import (
	"strings"

	xerrors "StayRelay/internal/errors"
)

// Error codes returned by the authentication subsystem.
const (
	CodeUnauthenticated  xerrors.Code = "UNAUTHENTICATED"
	CodePermissionDenied xerrors.Code = "PERMISSION_DENIED"
)

func init() {
	xerrors.Register(CodeUnauthenticated, xerrors.Attributes{
		Message:  "missing or unknown API token",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodePermissionDenied, xerrors.Attributes{
		Message:  "API token lacks the required permission",
		Severity: xerrors.SeverityWarning,
	})
}

// Common errors returned by the authentication subsystem.
var (
	ErrMissingToken     = xerrors.New(CodeUnauthenticated, "missing bearer token")
	ErrInvalidToken     = xerrors.New(CodeUnauthenticated, "invalid token")
	ErrPermissionDenied = xerrors.New(CodePermissionDenied, "permission denied")
)

// Permissions guarded by the API.
const (
	PermAgentsWrite = "agents:write"
	PermTasksCancel = "tasks:cancel"
	// PermAll grants every permission.
	PermAll = "*"
)

// Mode enumerates the supported authentication providers.
type Mode string

const (
	ModeDisabled Mode = "disabled"
	ModeToken    Mode = "token"
	ModeJWT      Mode = "jwt"
)

// Config configures the authentication service.
type Config struct {
	Mode   Mode
	Tokens []Token
	JWT    JWTOptions
}

// JWTOptions verifies HS256 tokens minted by an operator or an upstream
// identity service.
type JWTOptions struct {
	Secret   string
	Issuer   string
	Audience string
}

// Token is a static bearer token and the permissions it carries.
type Token struct {
	Name        string   `mapstructure:"name"`
	Secret      string   `mapstructure:"secret"`
	Permissions []string `mapstructure:"permissions"`
}

// Subject captures the caller identified by a token and is passed to
// request handlers via context.
type Subject struct {
	Name        string
	Permissions []string

	permissionsSet map[string]struct{}
}

func newSubject(name string, perms []string) *Subject {
	subject := &Subject{Name: name, Permissions: append([]string(nil), perms...)}
	subject.permissionsSet = make(map[string]struct{}, len(perms))
	for _, perm := range perms {
		subject.permissionsSet[strings.ToLower(strings.TrimSpace(perm))] = struct{}{}
	}
	return subject
}

// HasPermission reports whether the subject has the specified permission.
func (s *Subject) HasPermission(permission string) bool {
	if s == nil {
		return false
	}
	if _, ok := s.permissionsSet[PermAll]; ok {
		return true
	}
	_, ok := s.permissionsSet[strings.ToLower(strings.TrimSpace(permission))]
	return ok
}

// Authorize ensures the subject has all required permissions.
func (s *Subject) Authorize(perms ...string) error {
	if s == nil {
		return ErrInvalidToken
	}
	for _, perm := range perms {
		if perm == "" {
			continue
		}
		if !s.HasPermission(perm) {
			return xerrors.New(CodePermissionDenied, "missing permission "+perm)
		}
	}
	return nil
}
