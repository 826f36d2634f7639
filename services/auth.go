package services

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/CrowderSoup/taskpro/database"
)

const defaultTokenTTL = 3 * time.Hour

// ErrBadCredentials is returned by Login for an unknown email or wrong password
var ErrBadCredentials = fmt.Errorf("%w: email or password is wrong", ErrNotAuthorized)

type AuthService struct {
	store     *database.Store
	jwtSecret []byte
	tokenTTL  time.Duration
	logger    *log.Logger
	now       func() time.Time
}

type claims struct {
	UserID string `json:"id"`
	jwt.RegisteredClaims
}

func NewAuthService(store *database.Store, secret string, ttl time.Duration, logger *log.Logger) *AuthService {
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &AuthService{
		store:     store,
		jwtSecret: []byte(secret),
		tokenTTL:  ttl,
		logger:    logger,
		now:       time.Now,
	}
}

// Register creates a new account
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*database.User, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	if _, err := s.store.FindUserByEmail(ctx, in.Email); err == nil {
		return nil, conflict("Email already registered!")
	} else if !errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}

	hash, err := hashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	user := &database.User{
		Name:         in.Name,
		Email:        in.Email,
		PasswordHash: hash,
		Theme:        "dark",
		AvatarURL:    gravatarURL(in.Email),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			return nil, conflict("Email already registered!")
		}
		return nil, err
	}

	s.logger.WithField("user", user.ID).Info("user registered")
	return user, nil
}

// Login checks the credentials and issues a session token, replacing any
// previous one.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*database.User, string, error) {
	if err := in.Validate(); err != nil {
		return nil, "", err
	}

	user, err := s.store.FindUserByEmail(ctx, in.Email)
	if errors.Is(err, database.ErrNotFound) {
		s.logger.WithField("email", in.Email).Debug("login for unknown email")
		return nil, "", ErrBadCredentials
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to query user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(in.Password)); err != nil {
		s.logger.WithField("user", user.ID).Debug("login with wrong password")
		return nil, "", ErrBadCredentials
	}

	token, err := s.CreateJWT(user.ID)
	if err != nil {
		return nil, "", err
	}
	user.Token = &token
	if err := s.store.UpdateUser(ctx, user); err != nil {
		return nil, "", err
	}

	return user, token, nil
}

// Logout clears the stored session token so it can no longer be resolved
func (s *AuthService) Logout(ctx context.Context, user *database.User) error {
	user.Token = nil
	return s.store.UpdateUser(ctx, user)
}

// CreateJWT generates a JWT token for a user
func (s *AuthService) CreateJWT(userID string) (string, error) {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		},
	})

	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

// VerifyJWT verifies a JWT token and returns the user id it was issued for
func (s *AuthService) VerifyJWT(tokenString string) (string, error) {
	var c claims
	token, err := jwt.ParseWithClaims(tokenString, &c, func(token *jwt.Token) (any, error) {
		return s.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		return "", fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return "", errors.New("invalid token")
	}
	if c.UserID == "" {
		return "", errors.New("id claim missing")
	}
	return c.UserID, nil
}

// Resolve returns the user a bearer token belongs to. The token must still
// be the user's current session token.
func (s *AuthService) Resolve(ctx context.Context, tokenString string) (*database.User, error) {
	if tokenString == "" {
		return nil, ErrNotAuthorized
	}
	userID, err := s.VerifyJWT(tokenString)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotAuthorized, err)
	}

	user, err := s.store.GetUser(ctx, userID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrNotAuthorized
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	if user.Token == nil || *user.Token != tokenString {
		return nil, ErrNotAuthorized
	}
	return user, nil
}

// UpdateProfile changes the caller's name, email or password
func (s *AuthService) UpdateProfile(ctx context.Context, user *database.User, in ProfileInput) (*database.User, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	if in.Name != nil {
		user.Name = *in.Name
	}
	if in.Password != nil {
		hash, err := hashPassword(*in.Password)
		if err != nil {
			return nil, err
		}
		user.PasswordHash = hash
	}
	if in.Email != nil && !strings.EqualFold(*in.Email, user.Email) {
		if _, err := s.store.FindUserByEmail(ctx, *in.Email); err == nil {
			return nil, conflict("Email already registered!")
		} else if !errors.Is(err, database.ErrNotFound) {
			return nil, fmt.Errorf("failed to query user: %w", err)
		}
		user.Email = *in.Email
	}

	if err := s.store.UpdateUser(ctx, user); err != nil {
		return nil, storeError("User", err)
	}
	return user, nil
}

func (s *AuthService) ChangeTheme(ctx context.Context, user *database.User, in ThemeInput) (*database.User, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	user.Theme = in.Theme
	if err := s.store.UpdateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// SetBackground stores the background picked by the user. Users may only
// change their own background.
func (s *AuthService) SetBackground(ctx context.Context, user *database.User, userID string, in BackgroundInput) (*database.User, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if userID != user.ID {
		return nil, notFound("User")
	}

	user.BackgroundImage = ""
	if in.BackgroundImage != nil && *in.BackgroundImage != "" {
		user.BackgroundImage = "/images/" + *in.BackgroundImage
	}
	if err := s.store.UpdateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

func gravatarURL(email string) string {
	sum := md5.Sum([]byte(strings.ToLower(strings.TrimSpace(email))))
	return "https://s.gravatar.com/avatar/" + hex.EncodeToString(sum[:]) + "?s=250&r=pg&d=monsterid"
}
