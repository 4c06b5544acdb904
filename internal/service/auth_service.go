package service

import (
	"context"
	"errors"
	"pixbin/image-app/internal/domain"
	"pixbin/image-app/internal/repository"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/crypto/bcrypt"
)

// --- Error Definitions ---
var (
	ErrAccountAlreadyExists = errors.New("account with this email already exists")
	ErrAuthenticationFailed = errors.New("authentication failed: invalid email or password")
	ErrHashingFailed        = errors.New("failed to hash password")
	ErrTokenGeneration      = errors.New("failed to generate authentication token")
)

// AuthService handles registration, login, and JWT issuance.
type AuthService interface {
	Register(ctx context.Context, email, password string, plan domain.Plan) (*domain.Account, error)
	Login(ctx context.Context, email, password string) (token string, account *domain.Account, err error)
}

// --- Service Implementation ---

type authService struct {
	accountRepo   repository.AccountRepository
	jwtSecret     string
	jwtExpiration time.Duration
}

// NewAuthService creates a new instance of authService.
func NewAuthService(accountRepo repository.AccountRepository, jwtSecret string, jwtExpiration time.Duration) AuthService {
	if jwtSecret == "" {
		panic("JWT secret cannot be empty") // Critical configuration
	}
	if jwtExpiration <= 0 {
		jwtExpiration = time.Hour * 1
	}
	return &authService{
		accountRepo:   accountRepo,
		jwtSecret:     jwtSecret,
		jwtExpiration: jwtExpiration,
	}
}

// Register handles new account registration. Unknown or empty plans become
// the free tier.
func (s *authService) Register(ctx context.Context, email, password string, plan domain.Plan) (*domain.Account, error) {
	if email == "" || password == "" {
		return nil, errors.New("email and password cannot be empty")
	}
	switch plan {
	case domain.PlanFree, domain.PlanPro, domain.PlanTeam:
	default:
		plan = domain.PlanFree
	}

	_, err := s.accountRepo.GetByEmail(ctx, email)
	if err == nil {
		return nil, ErrAccountAlreadyExists
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, ErrHashingFailed
	}

	account := &domain.Account{
		Email:        email,
		PasswordHash: string(hashedPassword),
		Plan:         plan,
	}

	accountID, err := s.accountRepo.Create(ctx, account)
	if err != nil {
		// The unique email index closes the check-then-create race.
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrAccountAlreadyExists
		}
		return nil, err
	}
	account.ID = accountID

	account.PasswordHash = ""
	return account, nil
}

// Login handles account authentication and JWT generation.
func (s *authService) Login(ctx context.Context, email, password string) (token string, account *domain.Account, err error) {
	if email == "" || password == "" {
		err = errors.New("email and password cannot be empty")
		return
	}

	account, err = s.accountRepo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			err = ErrAuthenticationFailed
			return
		}
		return
	}

	err = bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password))
	if err != nil {
		err = ErrAuthenticationFailed
		account = nil
		return
	}

	token, err = s.generateJWT(account)
	if err != nil {
		return "", nil, ErrTokenGeneration
	}

	account.PasswordHash = ""
	return token, account, nil
}

// --- JWT Helper ---

// jwtClaims defines the structure of the JWT payload.
type jwtClaims struct {
	AccountID string      `json:"uid"`
	Plan      domain.Plan `json:"plan"`
	jwt.RegisteredClaims
}

// generateJWT creates a new JWT token for the given account.
func (s *authService) generateJWT(account *domain.Account) (string, error) {
	expirationTime := time.Now().Add(s.jwtExpiration)
	claims := &jwtClaims{
		AccountID: account.ID.Hex(),
		Plan:      account.Plan,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   account.ID.Hex(),
			ExpiresAt: jwt.NewNumericDate(expirationTime),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "pixbin",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		return "", err
	}
	return signedToken, nil
}
