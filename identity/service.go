package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidCredentials signals wrong address or password.
	ErrInvalidCredentials = errors.New("identity: invalid credentials")
	// ErrWeakPassword signals password doesn't meet requirements.
	ErrWeakPassword = errors.New("identity: password must be at least 8 characters")
)

// Service handles actor authentication business logic.
type Service struct {
	repo      Repository
	jwtSecret []byte
}

// LoginResult bundles the token and domain actor returned after a successful login.
type LoginResult struct {
	Token string
	Actor Actor
}

// NewService creates a new identity service.
func NewService(repo Repository, jwtSecret string) *Service {
	return &Service{
		repo:      repo,
		jwtSecret: []byte(jwtSecret),
	}
}

// Register creates a new actor account.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*Actor, error) {
	if len(req.Password) < 8 {
		return nil, ErrWeakPassword
	}
	if req.Address == "" {
		return nil, fmt.Errorf("identity: address is required")
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("identity: hash password: %w", err)
	}

	role := Role(strings.TrimSpace(string(req.Role)))
	if role == "" {
		role = RoleDisputer
	}
	if !isValidRole(role) {
		return nil, fmt.Errorf("identity: invalid role %q", role)
	}

	actor, err := s.repo.CreateActor(ctx, CreateActorParams{
		Address:      req.Address,
		Role:         role,
		PasswordHash: string(passwordHash),
	})
	if err != nil {
		return nil, err
	}
	return &actor, nil
}

// Login authenticates an actor and returns a JWT token.
func (s *Service) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	actor, err := s.repo.GetActorByAddress(ctx, req.Address)
	if err != nil {
		if errors.Is(err, ErrActorNotFound) {
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(actor.PasswordHash), []byte(req.Password)); err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}

	token, err := s.generateToken(actor.Address, actor.Role)
	if err != nil {
		return LoginResult{}, fmt.Errorf("identity: generate token: %w", err)
	}

	return LoginResult{
		Token: token,
		Actor: actor,
	}, nil
}

// GetActorByAddress retrieves actor information by address.
func (s *Service) GetActorByAddress(ctx context.Context, address string) (*Actor, error) {
	actor, err := s.repo.GetActorByAddress(ctx, address)
	if err != nil {
		return nil, err
	}
	return &actor, nil
}

// VerifyToken validates a JWT token and returns the actor address and role.
func (s *Service) VerifyToken(tokenString string) (string, Role, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return "", "", fmt.Errorf("identity: parse token: %w", err)
	}

	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		address, ok := claims["address"].(string)
		if !ok {
			return "", "", fmt.Errorf("identity: invalid address in token")
		}
		roleStr, ok := claims["role"].(string)
		if !ok {
			return "", "", fmt.Errorf("identity: invalid role in token")
		}
		role := Role(roleStr)
		if !isValidRole(role) {
			return "", "", fmt.Errorf("identity: invalid role %q in token", roleStr)
		}
		return address, role, nil
	}

	return "", "", fmt.Errorf("identity: invalid token")
}

// generateToken creates a JWT token for the actor.
func (s *Service) generateToken(address string, role Role) (string, error) {
	claims := jwt.MapClaims{
		"address": address,
		"role":    role,
		"exp":     time.Now().Add(24 * time.Hour).Unix(),
		"iat":     time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", err
	}
	return tokenString, nil
}

func isValidRole(role Role) bool {
	switch role {
	case RoleCommittee, RoleExpertCommittee, RoleCourt, RoleDisputer, RoleGovernance:
		return true
	default:
		return false
	}
}
