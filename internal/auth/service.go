package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/gabrielee5/grafo-sub000/internal/domain"
	"github.com/gabrielee5/grafo-sub000/internal/infra"
	"github.com/gabrielee5/grafo-sub000/internal/kv"
)

// MinPasswordLength is the shortest password Register and UpdateProfile accept.
const MinPasswordLength = 8

func userKey(id string) string { return "user:" + id }

func emailKey(email string) string { return "user_email:" + email }

func firebaseKey(uid string) string { return "user_firebase:" + uid }

type Options struct {
	BcryptCost int
	Logger     *infra.Logger
	Now        func() time.Time
	NewID      func() string
}

// Service owns user records in the key-value store.
type Service struct {
	kv     kv.Store
	tokens *TokenIssuer
	cost   int
	logger *infra.Logger
	now    func() time.Time
	newID  func() string
}

func NewService(store kv.Store, tokens *TokenIssuer, opts Options) *Service {
	s := &Service{
		kv:     store,
		tokens: tokens,
		cost:   opts.BcryptCost,
		logger: opts.Logger,
		now:    opts.Now,
		newID:  opts.NewID,
	}
	if s.cost == 0 {
		s.cost = bcrypt.DefaultCost
	}
	if s.logger == nil {
		l := infra.NopLogger()
		s.logger = &l
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	return s
}

// Session is a freshly issued bearer token and the user it belongs to.
type Session struct {
	Token     string
	ExpiresAt time.Time
	User      domain.User
}

type RegisterInput struct {
	Email       string
	Password    string
	DisplayName string
}

// Register creates an account. The email index entry is claimed first so two
// concurrent registrations for one address cannot both succeed.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	if len(in.Password) < MinPasswordLength {
		return nil, domain.NewValidationError(domain.CodeInvalidField,
			fmt.Sprintf("password must be at least %d characters", MinPasswordLength))
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("auth: hash password: %w", err)
	}

	name := strings.TrimSpace(in.DisplayName)
	if name == "" {
		name = strings.SplitN(email, "@", 2)[0]
	}
	now := s.now()
	user := domain.User{
		ID:           s.newID(),
		Email:        email,
		DisplayName:  name,
		PasswordHash: string(hash),
		CreatedAt:    now,
		LastLoginAt:  &now,
		Active:       true,
	}
	if err := s.create(ctx, &user); err != nil {
		return nil, err
	}
	s.logger.Info().Str("user_id", user.ID).Msg("auth: user registered")
	return s.session(user)
}

// Login checks the password and stamps lastLoginAt. Unknown emails and wrong
// passwords are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, domain.ErrInvalidCredentials
	}
	user, err := s.byEmail(ctx, email)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if user.PasswordHash == "" {
		return nil, domain.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, domain.ErrInvalidCredentials
	}
	if !user.Active {
		return nil, fmt.Errorf("%w: account is disabled", domain.ErrUnauthorized)
	}
	if err := s.touch(ctx, user); err != nil {
		return nil, err
	}
	return s.session(*user)
}

// Authenticate resolves a bearer token to an active user.
func (s *Service) Authenticate(ctx context.Context, token string) (*domain.User, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return nil, err
	}
	user, err := s.Profile(ctx, claims.Subject)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%w: unknown user", domain.ErrUnauthorized)
	}
	if err != nil {
		return nil, err
	}
	if !user.Active {
		return nil, fmt.Errorf("%w: account is disabled", domain.ErrUnauthorized)
	}
	return user, nil
}

func (s *Service) Profile(ctx context.Context, userID string) (*domain.User, error) {
	var user domain.User
	err := kv.GetJSON(ctx, s.kv, userKey(userID), &user)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("auth: load user: %w", err)
	}
	return &user, nil
}

// ProfileUpdate changes the display name and, given the current password,
// the password.
type ProfileUpdate struct {
	DisplayName     *string
	CurrentPassword string
	NewPassword     string
}

func (s *Service) UpdateProfile(ctx context.Context, userID string, in ProfileUpdate) (*domain.User, error) {
	user, err := s.Profile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if in.DisplayName != nil {
		name := strings.TrimSpace(*in.DisplayName)
		if name == "" {
			return nil, domain.NewValidationError(domain.CodeInvalidField, "display name cannot be empty")
		}
		user.DisplayName = name
	}
	if in.NewPassword != "" {
		if len(in.NewPassword) < MinPasswordLength {
			return nil, domain.NewValidationError(domain.CodeInvalidField,
				fmt.Sprintf("password must be at least %d characters", MinPasswordLength))
		}
		// Accounts created through Firebase have no password to confirm.
		if user.PasswordHash != "" {
			if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(in.CurrentPassword)); err != nil {
				return nil, domain.ErrInvalidCredentials
			}
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(in.NewPassword), s.cost)
		if err != nil {
			return nil, fmt.Errorf("auth: hash password: %w", err)
		}
		user.PasswordHash = string(hash)
	}
	if err := kv.PutJSON(ctx, s.kv, userKey(user.ID), user); err != nil {
		return nil, fmt.Errorf("auth: store user: %w", err)
	}
	return user, nil
}

// LoginWithFirebase maps a verified Firebase identity to a local account,
// creating it on first sight or linking it to an existing account with the
// same email.
func (s *Service) LoginWithFirebase(ctx context.Context, id FirebaseIdentity) (*Session, error) {
	if id.UID == "" {
		return nil, fmt.Errorf("%w: firebase identity has no uid", domain.ErrUnauthorized)
	}

	raw, err := s.kv.Get(ctx, firebaseKey(id.UID))
	switch {
	case err == nil:
		user, err := s.Profile(ctx, string(raw))
		if err != nil {
			return nil, err
		}
		return s.finishFirebase(ctx, user)
	case !errors.Is(err, kv.ErrNotFound):
		return nil, fmt.Errorf("auth: load firebase link: %w", err)
	}

	if id.Email != "" {
		user, err := s.byEmail(ctx, id.Email)
		if err == nil {
			user.FirebaseUID = id.UID
			if err := s.link(ctx, user); err != nil {
				return nil, err
			}
			return s.finishFirebase(ctx, user)
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
	}

	email := id.Email
	if email == "" {
		email = id.UID + "@firebase.local"
	}
	name := strings.TrimSpace(id.DisplayName)
	if name == "" {
		name = strings.SplitN(email, "@", 2)[0]
	}
	now := s.now()
	user := domain.User{
		ID:          s.newID(),
		Email:       email,
		DisplayName: name,
		FirebaseUID: id.UID,
		CreatedAt:   now,
		Active:      true,
	}
	if err := s.create(ctx, &user); err != nil {
		return nil, err
	}
	if err := s.link(ctx, &user); err != nil {
		return nil, err
	}
	s.logger.Info().Str("user_id", user.ID).Msg("auth: user created from firebase")
	return s.finishFirebase(ctx, &user)
}

func (s *Service) finishFirebase(ctx context.Context, user *domain.User) (*Session, error) {
	if !user.Active {
		return nil, fmt.Errorf("%w: account is disabled", domain.ErrUnauthorized)
	}
	if err := s.touch(ctx, user); err != nil {
		return nil, err
	}
	return s.session(*user)
}

func (s *Service) create(ctx context.Context, user *domain.User) error {
	claimed, err := s.kv.PutIfAbsent(ctx, emailKey(user.Email), []byte(user.ID))
	if err != nil {
		return fmt.Errorf("auth: claim email: %w", err)
	}
	if !claimed {
		return fmt.Errorf("%w: email already registered", domain.ErrConflict)
	}
	if err := kv.PutJSON(ctx, s.kv, userKey(user.ID), user); err != nil {
		if derr := s.kv.Delete(ctx, emailKey(user.Email)); derr != nil {
			s.logger.Warn().Err(derr).Str("user_id", user.ID).Msg("auth: release email claim failed")
		}
		return fmt.Errorf("auth: store user: %w", err)
	}
	return nil
}

func (s *Service) link(ctx context.Context, user *domain.User) error {
	if err := s.kv.Put(ctx, firebaseKey(user.FirebaseUID), []byte(user.ID)); err != nil {
		return fmt.Errorf("auth: store firebase link: %w", err)
	}
	if err := kv.PutJSON(ctx, s.kv, userKey(user.ID), user); err != nil {
		return fmt.Errorf("auth: store user: %w", err)
	}
	return nil
}

func (s *Service) touch(ctx context.Context, user *domain.User) error {
	now := s.now()
	user.LastLoginAt = &now
	if err := kv.PutJSON(ctx, s.kv, userKey(user.ID), user); err != nil {
		return fmt.Errorf("auth: store user: %w", err)
	}
	return nil
}

func (s *Service) byEmail(ctx context.Context, email string) (*domain.User, error) {
	raw, err := s.kv.Get(ctx, emailKey(email))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("auth: load email index: %w", err)
	}
	return s.Profile(ctx, string(raw))
}

func (s *Service) session(user domain.User) (*Session, error) {
	token, expires, err := s.tokens.Issue(user)
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, ExpiresAt: expires, User: user.Public()}, nil
}

func normalizeEmail(v string) (string, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	addr, err := mail.ParseAddress(v)
	if err != nil || addr.Address != v {
		return "", domain.NewValidationError(domain.CodeInvalidField, "a valid email address is required")
	}
	return v, nil
}
