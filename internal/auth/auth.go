// Package auth signs users in against the users table and tracks the
// current identity for the CLI.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"github.com/raphaelgruber/hairscan/internal/db"
	"github.com/raphaelgruber/hairscan/internal/models"
)

var (
	// ErrAuthRequired indicates no user is signed in.
	ErrAuthRequired = errors.New("authentication required")

	// ErrInvalidCredentials indicates the password does not match.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrUserNotFound indicates no account exists for the email.
	ErrUserNotFound = errors.New("user not found")

	// ErrRateLimited indicates too many sign-in attempts for one email.
	ErrRateLimited = errors.New("too many sign-in attempts")

	// ErrEmailTaken indicates sign-up with an email that already has an account.
	ErrEmailTaken = errors.New("email already registered")
)

// UserStore is the account storage the provider needs.
type UserStore interface {
	CreateUser(ctx context.Context, u models.User) (*models.User, error)
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
}

// Identity is the signed-in user as seen by the rest of the program.
type Identity struct {
	UserID   string    `yaml:"user_id"`
	Email    string    `yaml:"email"`
	Name     string    `yaml:"name"`
	SignedIn time.Time `yaml:"signed_in_at"`
}

// SignUpInput carries the profile fields collected at registration.
type SignUpInput struct {
	models.Profile
	Password string
}

// Provider implements sign-up, sign-in and the current-user source.
type Provider struct {
	store   UserStore
	session *SessionFile
	logger  *slog.Logger
	cost    int

	limit rate.Limit
	burst int

	mu       sync.Mutex
	current  *Identity
	limiters map[string]*rate.Limiter
}

// Option configures a Provider.
type Option func(*Provider)

// WithSessionFile persists the signed-in identity across CLI invocations.
func WithSessionFile(f *SessionFile) Option {
	return func(p *Provider) { p.session = f }
}

// WithLogger sets the provider's logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) { p.logger = l }
}

// WithRateLimit sets the per-email sign-in rate and burst.
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(p *Provider) {
		p.limit = r
		p.burst = burst
	}
}

// WithBcryptCost overrides the password hashing cost.
func WithBcryptCost(cost int) Option {
	return func(p *Provider) { p.cost = cost }
}

// NewProvider creates a provider over store. Defaults allow five attempts
// per email, refilling one every 12 seconds.
func NewProvider(store UserStore, opts ...Option) *Provider {
	p := &Provider{
		store:    store,
		logger:   slog.Default(),
		cost:     bcrypt.DefaultCost,
		limit:    rate.Every(12 * time.Second),
		burst:    5,
		limiters: make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (p *Provider) limiter(email string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	l, ok := p.limiters[email]
	if !ok {
		l = rate.NewLimiter(p.limit, p.burst)
		p.limiters[email] = l
	}
	return l
}

// SignUp creates an account and signs it in.
func (p *Provider) SignUp(ctx context.Context, in SignUpInput) (*Identity, error) {
	email := normalizeEmail(in.Email)
	if email == "" || in.Password == "" {
		return nil, fmt.Errorf("%w: email and password are required", ErrInvalidCredentials)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), p.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u, err := p.store.CreateUser(ctx, models.User{
		Name:         in.Name,
		Surname:      in.Surname,
		Email:        email,
		Phone:        in.Phone,
		BirthDate:    in.BirthDate,
		PasswordHash: string(hash),
	})
	if errors.Is(err, db.ErrAlreadyExists) {
		return nil, fmt.Errorf("%w: %s", ErrEmailTaken, email)
	}
	if err != nil {
		return nil, fmt.Errorf("sign up: %w", err)
	}

	p.logger.Info("user signed up", "user_id", u.UserID())
	return p.setCurrent(u)
}

// SignIn verifies the password for email and makes it the current user.
func (p *Provider) SignIn(ctx context.Context, email, password string) (*Identity, error) {
	email = normalizeEmail(email)
	if !p.limiter(email).Allow() {
		p.logger.Warn("sign-in rate limited", "email", email)
		return nil, ErrRateLimited
	}

	u, err := p.store.GetUserByEmail(ctx, email)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sign in: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		p.logger.Info("sign-in rejected", "user_id", u.UserID())
		return nil, ErrInvalidCredentials
	}

	p.logger.Info("user signed in", "user_id", u.UserID())
	return p.setCurrent(u)
}

func (p *Provider) setCurrent(u *models.User) (*Identity, error) {
	id := &Identity{
		UserID:   u.UserID(),
		Email:    u.Email,
		Name:     u.Name,
		SignedIn: time.Now().UTC(),
	}

	p.mu.Lock()
	p.current = id
	p.mu.Unlock()

	if p.session != nil {
		if err := p.session.Save(*id); err != nil {
			return id, fmt.Errorf("save session: %w", err)
		}
	}
	return id, nil
}

// CurrentUser returns the signed-in identity or ErrAuthRequired.
func (p *Provider) CurrentUser() (*Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current == nil {
		return nil, ErrAuthRequired
	}
	cp := *p.current
	return &cp, nil
}

// Restore loads the persisted session and checks the account still exists.
// A missing or stale session leaves the provider signed out.
func (p *Provider) Restore(ctx context.Context) error {
	if p.session == nil {
		return nil
	}

	id, err := p.session.Load()
	if errors.Is(err, ErrNoSession) {
		return nil
	}
	if err != nil {
		return err
	}

	if _, err := p.store.GetUser(ctx, id.UserID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			p.logger.Warn("discarding session for missing user", "user_id", id.UserID)
			return p.session.Remove()
		}
		return fmt.Errorf("restore session: %w", err)
	}

	p.mu.Lock()
	p.current = id
	p.mu.Unlock()
	return nil
}

// SignOut clears the current user and the persisted session.
func (p *Provider) SignOut() error {
	p.mu.Lock()
	p.current = nil
	p.mu.Unlock()

	if p.session != nil {
		return p.session.Remove()
	}
	return nil
}
