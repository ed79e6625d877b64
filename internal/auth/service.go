package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"auth-serverless/internal/common"
	"auth-serverless/internal/observability"
	"auth-serverless/internal/password"
	"auth-serverless/internal/refresh"
	"auth-serverless/internal/token"
	"auth-serverless/internal/users"
)

const (
	tracerName          = "auth-serverless/internal/auth"
	defaultStoreTimeout = 5 * time.Second
)

type Service struct {
	users        UserStore
	sessions     *refresh.Lifecycle
	codec        *token.Codec
	hasher       *password.Hasher
	logger       *observability.Logger
	tracer       trace.Tracer
	storeTimeout time.Duration
}

type ServiceOption func(*Service)

func WithLogger(logger *observability.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithStoreTimeout bounds each user store call.
func WithStoreTimeout(timeout time.Duration) ServiceOption {
	return func(s *Service) {
		if timeout > 0 {
			s.storeTimeout = timeout
		}
	}
}

func NewService(userStore UserStore, sessions *refresh.Lifecycle, codec *token.Codec, hasher *password.Hasher, opts ...ServiceOption) *Service {
	s := &Service{
		users:        userStore,
		sessions:     sessions,
		codec:        codec,
		hasher:       hasher,
		logger:       observability.Discard(),
		tracer:       otel.Tracer(tracerName),
		storeTimeout: defaultStoreTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Signup registers a new account and opens its first session.
func (s *Service) Signup(ctx context.Context, email, plain string) (sess Session, err error) {
	ctx, span := s.tracer.Start(ctx, "auth.Signup")
	defer func() { endSpan(span, err) }()

	normalized, err := validateCredentials(email, plain)
	if err != nil {
		return Session{}, err
	}

	_, exists, err := s.findByEmail(ctx, normalized)
	if err != nil {
		return Session{}, err
	}
	if exists {
		return Session{}, common.ErrConflict
	}

	hash, err := s.hasher.Hash(ctx, plain)
	if err != nil {
		return Session{}, fmt.Errorf("hash password: %w", err)
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	user, err := s.users.Create(storeCtx, normalized, hash)
	cancel()
	if err != nil {
		if errors.Is(err, users.ErrEmailTaken) {
			return Session{}, common.ErrConflict
		}
		return Session{}, common.Storage("create user", err)
	}

	tokens, err := s.open(ctx, user.ID)
	if err != nil {
		return Session{}, err
	}

	span.SetAttributes(attribute.Int64("auth.subject_id", user.ID))
	s.logger.Info("signup_succeeded", map[string]any{"user_id": user.ID})
	return Session{Identity: identityOf(user), Tokens: tokens}, nil
}

// Signin authenticates an existing account. Unknown emails and wrong
// passwords both return common.ErrInvalidCredentials after the same amount
// of password work.
func (s *Service) Signin(ctx context.Context, email, plain string) (sess Session, err error) {
	ctx, span := s.tracer.Start(ctx, "auth.Signin")
	defer func() { endSpan(span, err) }()

	normalized, err := validateCredentials(email, plain)
	if err != nil {
		return Session{}, err
	}

	user, found, err := s.findByEmail(ctx, normalized)
	if err != nil {
		return Session{}, err
	}
	if !found {
		if err := s.hasher.Dummy(ctx, plain); err != nil {
			return Session{}, fmt.Errorf("verify password: %w", err)
		}
		return Session{}, common.ErrInvalidCredentials
	}

	ok, err := s.hasher.Verify(ctx, plain, user.PasswordHash)
	if err != nil {
		return Session{}, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		s.logger.Info("signin_rejected", map[string]any{"user_id": user.ID})
		return Session{}, common.ErrInvalidCredentials
	}

	tokens, err := s.open(ctx, user.ID)
	if err != nil {
		return Session{}, err
	}

	span.SetAttributes(attribute.Int64("auth.subject_id", user.ID))
	s.logger.Info("signin_succeeded", map[string]any{"user_id": user.ID})
	return Session{Identity: identityOf(user), Tokens: tokens}, nil
}

// Refresh rotates refreshToken and mints a new access token for its
// subject. ok is false when the token does not name an active session.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (tokens Tokens, ok bool, err error) {
	ctx, span := s.tracer.Start(ctx, "auth.Refresh")
	defer func() { endSpan(span, err) }()

	issued, ok, err := s.sessions.Rotate(ctx, refreshToken)
	if err != nil || !ok {
		return Tokens{}, false, err
	}

	access, accessExp, err := s.codec.Mint(issued.Record.SubjectID)
	if err != nil {
		return Tokens{}, false, fmt.Errorf("mint access token: %w", err)
	}

	span.SetAttributes(attribute.Int64("auth.subject_id", issued.Record.SubjectID))
	return Tokens{
		AccessToken:      access,
		RefreshToken:     issued.Token,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: issued.Record.ExpiresAt,
	}, true, nil
}

// Logout revokes refreshToken. Empty, unknown and already revoked tokens
// succeed; only a storage failure is returned.
func (s *Service) Logout(ctx context.Context, refreshToken string) (err error) {
	ctx, span := s.tracer.Start(ctx, "auth.Logout")
	defer func() { endSpan(span, err) }()

	return s.sessions.Revoke(ctx, refreshToken)
}

func (s *Service) IdentityFor(ctx context.Context, subjectID int64) (id Identity, found bool, err error) {
	ctx, span := s.tracer.Start(ctx, "auth.IdentityFor", trace.WithAttributes(attribute.Int64("auth.subject_id", subjectID)))
	defer func() { endSpan(span, err) }()

	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	user, found, err := s.users.FindByID(ctx, subjectID)
	if err != nil {
		return Identity{}, false, common.Storage("find user by id", err)
	}
	if !found {
		return Identity{}, false, nil
	}
	return identityOf(user), true, nil
}

func (s *Service) open(ctx context.Context, subjectID int64) (Tokens, error) {
	access, accessExp, err := s.codec.Mint(subjectID)
	if err != nil {
		return Tokens{}, fmt.Errorf("mint access token: %w", err)
	}

	issued, err := s.sessions.Issue(ctx, subjectID)
	if err != nil {
		return Tokens{}, err
	}

	return Tokens{
		AccessToken:      access,
		RefreshToken:     issued.Token,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: issued.Record.ExpiresAt,
	}, nil
}

func (s *Service) findByEmail(ctx context.Context, email string) (users.User, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	user, found, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return users.User{}, false, common.Storage("find user by email", err)
	}
	return user, found, nil
}

// endSpan records only hard failures; rejected credentials are normal.
func endSpan(span trace.Span, err error) {
	if err != nil && common.IsStorage(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
