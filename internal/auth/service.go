package auth

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/openstipend/openstipend/internal/platform/httpx"
	"github.com/openstipend/openstipend/internal/shared"
)

// Service wraps authentication and bearer-token lifecycle. Tokens are opaque
// and stored in redis with a TTL.
type Service struct {
	repo  Repository
	redis *redis.Client
	ttl   time.Duration
}

// NewService constructs a new Service.
func NewService(repo Repository, redisClient *redis.Client, ttl time.Duration) *Service {
	return &Service{repo: repo, redis: redisClient, ttl: ttl}
}

func tokenKey(token string) string {
	return "auth:token:" + token
}

// Login validates credentials and issues a bearer token.
func (s *Service) Login(ctx context.Context, email, password string) (string, *User, error) {
	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return "", nil, httpx.ErrUnauthorized
	}
	if !user.IsActive {
		return "", nil, httpx.ErrUnauthorized
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", nil, httpx.ErrUnauthorized
	}

	token := uuid.NewString()
	if err := s.redis.Set(ctx, tokenKey(token), user.ID, s.ttl).Err(); err != nil {
		return "", nil, fmt.Errorf("auth: store token: %w", err)
	}
	return token, user, nil
}

// Logout revokes a bearer token.
func (s *Service) Logout(ctx context.Context, token string) error {
	return s.redis.Del(ctx, tokenKey(token)).Err()
}

// Resolve maps a bearer token back to its actor.
func (s *Service) Resolve(ctx context.Context, token string) (*shared.Actor, error) {
	raw, err := s.redis.Get(ctx, tokenKey(token)).Result()
	if err != nil {
		return nil, httpx.ErrUnauthorized
	}
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, httpx.ErrUnauthorized
	}
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil || !user.IsActive {
		return nil, httpx.ErrUnauthorized
	}
	return &shared.Actor{ID: user.ID, Email: user.Email}, nil
}
