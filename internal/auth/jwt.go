package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// jwtClaims 定义访问令牌中携带的声明。
type jwtClaims struct {
	Permissions []string `json:"permissions,omitempty"`
	jwt.RegisteredClaims
}

// jwtManager 负责 HS256 令牌的签发与校验。
type jwtManager struct {
	secret   []byte
	issuer   string
	audience string
	parser   *jwt.Parser
}

func newJWTManager(opts JWTOptions) (*jwtManager, error) {
	secret := strings.TrimSpace(opts.Secret)
	if secret == "" {
		return nil, fmt.Errorf("auth mode %q requires a jwt secret", ModeJWT)
	}
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30 * time.Second),
	}
	if opts.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(opts.Issuer))
	}
	if opts.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(opts.Audience))
	}
	return &jwtManager{
		secret:   []byte(secret),
		issuer:   opts.Issuer,
		audience: opts.Audience,
		parser:   jwt.NewParser(parserOpts...),
	}, nil
}

// Issue 为 subject 签发一个 ttl 内有效的访问令牌。
func (m *jwtManager) Issue(subject string, perms []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwtClaims{
		Permissions: append([]string(nil), perms...),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if m.audience != "" {
		claims.Audience = jwt.ClaimStrings{m.audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// Verify 校验签名、有效期、签发方与受众，返回令牌对应的主体。
func (m *jwtManager) Verify(token string) (*Subject, error) {
	var claims jwtClaims
	if _, err := m.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	}); err != nil {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	return newSubject(claims.Subject, claims.Permissions), nil
}
