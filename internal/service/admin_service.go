package service

import (
	"errors"
	"time"

	"talkingrock/internal/config"
	"talkingrock/internal/pkg/jwt"
	"talkingrock/internal/pkg/password"
)

var (
	ErrAdminDisabled   = errors.New("admin access is not configured")
	ErrInvalidPassword = errors.New("invalid password")
)

// AdminService authenticates the single site owner. There are no visitor
// accounts anywhere in the system; this gate only protects the analytics
// and inbox read surface.
type AdminService struct {
	passwordHash string
	jwt          *jwt.JWT
}

// NewAdminService creates the admin auth service
func NewAdminService(cfg *config.AdminConfig) *AdminService {
	expiry := cfg.TokenExpiry
	if expiry == 0 {
		expiry = 24 * time.Hour
	}
	return &AdminService{
		passwordHash: cfg.PasswordHash,
		jwt:          jwt.NewJWT(cfg.JWTSecret, expiry),
	}
}

// Enabled reports whether admin login is configured
func (s *AdminService) Enabled() bool {
	return s.passwordHash != ""
}

// Login checks the owner password and mints a session token
func (s *AdminService) Login(pwd string) (token string, expiresIn int, err error) {
	if !s.Enabled() {
		return "", 0, ErrAdminDisabled
	}
	if !password.Verify(pwd, s.passwordHash) {
		return "", 0, ErrInvalidPassword
	}

	token, err = s.jwt.GenerateToken("owner", "admin")
	if err != nil {
		return "", 0, err
	}
	return token, int(s.jwt.GetExpiration().Seconds()), nil
}

// JWT exposes the token validator for the auth middleware
func (s *AdminService) JWT() *jwt.JWT {
	return s.jwt
}
