package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"

	"github.com/sydlexius/pushhook/internal/filesystem"
)

// MinPasswordLength is the shortest accepted admin password.
const MinPasswordLength = 6

var (
	// ErrInvalidCredentials is returned for any failed login or a wrong
	// current password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidSession is returned for unknown or expired session tokens.
	ErrInvalidSession = errors.New("invalid session")
	// ErrNotInitialized is returned before Bootstrap has run.
	ErrNotInitialized = errors.New("admin account not initialized")
)

// PasswordError describes a rejected new password.
type PasswordError struct {
	Reason string
}

func (e *PasswordError) Error() string { return e.Reason }

// adminRecord is the admin.json document.
type adminRecord struct {
	Username  string       `json:"username"`
	Password  passwordHash `json:"password"`
	UpdatedAt time.Time    `json:"updated_at,omitzero"`
}

// BootstrapResult reports how the admin account was established.
type BootstrapResult struct {
	Username string
	// Password is set only when it was generated and must be shown once.
	Password   string
	Created    bool
	FromConfig bool
}

// Service provides admin authentication backed by a single admin.json
// record and in-memory sessions.
type Service struct {
	path     string
	logger   *slog.Logger
	sessions *sessionStore
	cost     int

	mu     sync.RWMutex
	record *adminRecord
}

// NewService creates an auth service storing its record at path.
func NewService(path string, logger *slog.Logger) *Service {
	now := func() time.Time { return time.Now().UTC() }
	return &Service{
		path:     path,
		logger:   logger.With(slog.String("component", "auth")),
		sessions: newSessionStore(now),
		cost:     bcrypt.DefaultCost,
	}
}

// Bootstrap loads the admin record, creating it when absent. A new record
// uses username and password when both are non-empty; otherwise random
// credentials are generated and returned so the caller can show them once.
func (s *Service) Bootstrap(username, password string) (BootstrapResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.load()
	if err != nil {
		return BootstrapResult{}, err
	}
	if rec != nil {
		s.record = rec
		return BootstrapResult{Username: rec.Username}, nil
	}

	res := BootstrapResult{Created: true}
	if username != "" && password != "" {
		res.Username = username
		res.FromConfig = true
	} else {
		u, err := randomString(10)
		if err != nil {
			return BootstrapResult{}, err
		}
		p, err := randomString(14)
		if err != nil {
			return BootstrapResult{}, err
		}
		res.Username = "u_" + u
		res.Password = "p_" + p
		password = res.Password
	}

	hash, err := hashPassword(password, s.cost)
	if err != nil {
		return BootstrapResult{}, err
	}
	rec = &adminRecord{Username: res.Username, Password: hash, UpdatedAt: time.Now().UTC()}
	if err := s.save(rec); err != nil {
		return BootstrapResult{}, err
	}
	s.record = rec

	s.logger.Info("admin account created",
		slog.String("username", res.Username),
		slog.Bool("from_config", res.FromConfig),
	)
	return res, nil
}

// Username returns the admin username, or "" before Bootstrap.
func (s *Service) Username() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.record == nil {
		return ""
	}
	return s.record.Username
}

// Login verifies the credentials and returns a new session token. Records
// hashed with a legacy algorithm are rehashed on success.
func (s *Service) Login(username, password string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.record == nil {
		return "", ErrNotInitialized
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.record.Username)) == 1
	passOK := s.record.Password.verify(password)
	if !userOK || !passOK {
		return "", ErrInvalidCredentials
	}

	if s.record.Password.legacy() {
		if err := s.rehash(password); err != nil {
			s.logger.Warn("upgrading legacy password hash failed", slog.String("error", err.Error()))
		} else {
			s.logger.Info("legacy password hash upgraded to bcrypt")
		}
	}

	token, err := s.sessions.create()
	if err != nil {
		return "", fmt.Errorf("generating session token: %w", err)
	}
	return token, nil
}

// ValidateSession checks that token belongs to a live session.
func (s *Service) ValidateSession(token string) error {
	if token == "" || !s.sessions.valid(token) {
		return ErrInvalidSession
	}
	return nil
}

// Logout ends a session.
func (s *Service) Logout(token string) {
	s.sessions.delete(token)
}

// ChangePassword replaces the admin password after verifying the current
// one. Every session, including the caller's, is revoked.
func (s *Service) ChangePassword(current, next string) error {
	if err := checkPassword(next); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.record == nil {
		return ErrNotInitialized
	}
	if !s.record.Password.verify(current) {
		return ErrInvalidCredentials
	}
	if err := s.rehash(next); err != nil {
		return err
	}
	s.sessions.deleteAll()
	s.logger.Info("admin password changed")
	return nil
}

// SetPassword overwrites the admin record without knowing the current
// password. It backs the set-password command, which requires local access
// to the data directory. An empty username keeps the existing one.
func (s *Service) SetPassword(username, password string) error {
	if err := checkPassword(password); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.load()
	if err != nil {
		return err
	}
	if username == "" {
		if rec == nil {
			return errors.New("username is required when no admin account exists")
		}
		username = rec.Username
	}

	hash, err := hashPassword(password, s.cost)
	if err != nil {
		return err
	}
	rec = &adminRecord{Username: username, Password: hash, UpdatedAt: time.Now().UTC()}
	if err := s.save(rec); err != nil {
		return err
	}
	s.record = rec
	s.sessions.deleteAll()
	return nil
}

// rehash stores a fresh bcrypt hash of password. Callers hold s.mu.
func (s *Service) rehash(password string) error {
	hash, err := hashPassword(password, s.cost)
	if err != nil {
		return err
	}
	next := &adminRecord{Username: s.record.Username, Password: hash, UpdatedAt: time.Now().UTC()}
	if err := s.save(next); err != nil {
		return err
	}
	s.record = next
	return nil
}

func (s *Service) load() (*adminRecord, error) {
	var rec adminRecord
	found, err := filesystem.ReadJSON(s.path, &rec)
	if err != nil {
		return nil, fmt.Errorf("reading admin record: %w", err)
	}
	if !found || rec.Username == "" || rec.Password.Hash == "" {
		return nil, nil
	}
	return &rec, nil
}

func (s *Service) save(rec *adminRecord) error {
	if err := filesystem.WriteJSON(s.path, rec, 0o600); err != nil {
		return fmt.Errorf("writing admin record: %w", err)
	}
	return nil
}

func checkPassword(p string) error {
	if utf8.RuneCountInString(p) < MinPasswordLength {
		return &PasswordError{Reason: fmt.Sprintf("password must be at least %d characters", MinPasswordLength)}
	}
	if strings.TrimSpace(p) == "" {
		return &PasswordError{Reason: "password must not be blank"}
	}
	return nil
}
