package auth

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrExpiredToken  = errors.New("token expired")
	ErrMissingSecret = errors.New("jwt secret is empty")
)

// Roles carried in service tokens.
const (
	RoleService  = "service_role"
	RoleOperator = "operator"
)

// DefaultTokenExpiry is used when no expiry is configured.
const DefaultTokenExpiry = time.Hour

// Claims are the validated contents of a service token.
type Claims struct {
	Subject string
	Role    string
	Exp     int64
}

type serviceClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Service mints and validates HS256 service tokens. It also acts as a token
// source for outbound calls, reusing a minted token until it nears expiry.
type Service struct {
	jwtSecret []byte
	tokenExp  time.Duration
	issuer    string
	now       func() time.Time

	mu        sync.Mutex
	cached    string
	cachedExp time.Time
}

// NewService creates a service signing with secret. A zero expiry selects
// DefaultTokenExpiry.
func NewService(secret string, expiry time.Duration, issuer string) (*Service, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	if expiry <= 0 {
		expiry = DefaultTokenExpiry
	}
	return &Service{
		jwtSecret: []byte(secret),
		tokenExp:  expiry,
		issuer:    issuer,
		now:       time.Now,
	}, nil
}

// GenerateToken signs a token for subject with role.
func (s *Service) GenerateToken(subject, role string) (string, error) {
	token, _, err := s.generate(subject, role)
	return token, err
}

func (s *Service) generate(subject, role string) (string, time.Time, error) {
	now := s.now()
	exp := now.Add(s.tokenExp)
	claims := serviceClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Token returns a service-role token for the simulator, minting a new one
// when the cached token has less than a tenth of its lifetime left.
func (s *Service) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached != "" && s.now().Add(s.tokenExp/10).Before(s.cachedExp) {
		return s.cached, nil
	}
	token, exp, err := s.generate(s.issuer, RoleService)
	if err != nil {
		return "", err
	}
	s.cached, s.cachedExp = token, exp
	return token, nil
}

// ValidateToken validates a token, with or without a "Bearer " prefix.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	tokenString = strings.TrimPrefix(tokenString, "Bearer ")

	var claims serviceClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	if !token.Valid || claims.Role == "" || claims.ExpiresAt == nil {
		return nil, ErrInvalidToken
	}

	return &Claims{
		Subject: claims.Subject,
		Role:    claims.Role,
		Exp:     claims.ExpiresAt.Unix(),
	}, nil
}

// ExtractTokenFromHeader extracts token from Authorization header
func (s *Service) ExtractTokenFromHeader(authHeader string) (string, error) {
	if authHeader == "" {
		return "", ErrInvalidToken
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", ErrInvalidToken
	}

	return parts[1], nil
}
