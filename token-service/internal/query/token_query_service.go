package query

import (
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/userpreference/platform/shared/apperrors"
	"github.com/userpreference/platform/shared/cqrs"
	"github.com/userpreference/platform/shared/logging"
	"github.com/userpreference/platform/shared/middleware"
	"github.com/userpreference/platform/shared/utils"
	"github.com/userpreference/platform/token-service/internal/repository"
)

var ErrInvalidCredentials = apperrors.Unauthorized("Invalid credentials")

// dummyHash keeps the bcrypt cost paid for unknown client IDs.
var dummyHash, _ = utils.HashSecret("unknown-client")

type ClientReader interface {
	GetByID(id string) (*repository.Client, error)
}

// TokenQueryService issues and refreshes tokens. Nothing is persisted, so there
// is no command side.
type TokenQueryService struct {
	clients ClientReader
	auth    middleware.AuthConfig
	ttl     time.Duration
	now     func() time.Time
}

func NewTokenQueryService(clients ClientReader, auth middleware.AuthConfig, ttl time.Duration) *TokenQueryService {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenQueryService{clients: clients, auth: auth, ttl: ttl, now: time.Now}
}

func (s *TokenQueryService) IssueToken(cmd cqrs.IssueTokenCommand) (string, error) {
	client, err := s.clients.GetByID(cmd.ClientID)
	if err != nil {
		utils.CheckSecret(cmd.ClientSecret, dummyHash)
		return "", ErrInvalidCredentials
	}
	if !utils.CheckSecret(cmd.ClientSecret, client.SecretHash) {
		return "", ErrInvalidCredentials
	}
	slog.Info("token issued", "client_id", client.ID, logging.FieldUserID, client.UserID)
	return s.generateToken(client.UserID)
}

func (s *TokenQueryService) RefreshToken(cmd cqrs.RefreshTokenCommand) (string, error) {
	claims, err := middleware.ParseToken(s.auth, cmd.Token)
	if err != nil {
		return "", apperrors.Unauthorized("Invalid token")
	}
	userID := claims.Identity()
	if userID == "" {
		return "", apperrors.Unauthorized("Invalid token")
	}
	return s.generateToken(userID)
}

func (s *TokenQueryService) generateToken(userID string) (string, error) {
	now := s.now()
	claims := middleware.Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    s.auth.Issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	if s.auth.Audience != "" {
		claims.Audience = jwt.ClaimStrings{s.auth.Audience}
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.auth.Secret)
	if err != nil {
		return "", apperrors.Dependency("failed to generate token", err)
	}
	return signed, nil
}
