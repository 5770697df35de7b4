// Package guard verifies admin and master PINs against their stored digests
// and enforces the shared failure counter and timed lockout.
package guard

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/msageha/nestcheck/internal/audit"
	"github.com/msageha/nestcheck/internal/model"
)

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMaster Role = "master"
)

const (
	DefaultAdminPIN  = "7717"
	DefaultMasterPIN = "2969"

	// DefaultActor stamps a bypass when the master leaves the name blank.
	DefaultActor = "Master"

	DefaultMaxFailures = 5
	DefaultLockout     = 5 * time.Minute
)

var (
	ErrWrongPIN    = errors.New("wrong PIN")
	ErrLocked      = errors.New("PIN entry locked")
	ErrUnknownRole = errors.New("unknown role")
	ErrEmptyPIN    = errors.New("PIN must not be empty")
)

// Hash returns the hex SHA-256 digest of the trimmed PIN.
func Hash(pin string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(pin)))
	return hex.EncodeToString(sum[:])
}

// DefaultSettings returns first-run settings carrying the built-in PINs.
func DefaultSettings() model.Settings {
	return model.DefaultSettings(Hash(DefaultAdminPIN), Hash(DefaultMasterPIN))
}

// ActorName normalizes the name collected after a master verification.
func ActorName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return DefaultActor
	}
	return name
}

// SettingsStore is the slice of settings.Manager the guard needs.
type SettingsStore interface {
	Get() model.Settings
	Update(fn func(s *model.Settings)) (model.Settings, error)
}

type Guard struct {
	settings    SettingsStore
	audit       audit.Recorder
	logger      *zap.Logger
	now         func() time.Time
	maxFailures int
	lockout     time.Duration
}

type Option func(*Guard)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) { g.now = now }
}

// WithPolicy overrides the failure threshold and lockout duration.
func WithPolicy(maxFailures int, lockout time.Duration) Option {
	return func(g *Guard) {
		if maxFailures > 0 {
			g.maxFailures = maxFailures
		}
		if lockout > 0 {
			g.lockout = lockout
		}
	}
}

func New(settings SettingsStore, rec audit.Recorder, logger *zap.Logger, opts ...Option) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Guard{
		settings:    settings,
		audit:       rec,
		logger:      logger.Named("guard"),
		now:         time.Now,
		maxFailures: DefaultMaxFailures,
		lockout:     DefaultLockout,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Verify reports whether candidate is the PIN for role.
func (g *Guard) Verify(role Role, candidate string) bool {
	return g.Check(role, candidate) == nil
}

// Check verifies candidate and returns ErrLocked, ErrWrongPIN or
// ErrUnknownRole on failure. While locked the digest is not consulted and
// the counter is left alone. The counter is shared by both roles and only a
// success resets it.
func (g *Guard) Check(role Role, candidate string) error {
	if role != RoleAdmin && role != RoleMaster {
		return fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}

	var (
		outcome error
		locked  bool
	)
	now := unixSeconds(g.now())
	_, err := g.settings.Update(func(s *model.Settings) {
		if s.PINLockUntil != nil && now < *s.PINLockUntil {
			locked = true
			outcome = ErrLocked
			return
		}
		if Hash(candidate) == storedHash(s, role) {
			s.PINErrorCount = 0
			s.PINLockUntil = nil
			return
		}
		s.PINErrorCount++
		if s.PINErrorCount >= g.maxFailures {
			until := now + g.lockout.Seconds()
			s.PINLockUntil = &until
		}
		outcome = ErrWrongPIN
	})
	if err != nil {
		g.logger.Warn("persist PIN counters failed", zap.Error(err))
	}

	g.record(audit.PINAttempt(string(role), outcome == nil, locked))
	if outcome != nil {
		g.logger.Info("PIN rejected", zap.String("role", string(role)), zap.Bool("locked", locked))
	}
	return outcome
}

// LockedUntil returns the lockout expiry when one is active.
func (g *Guard) LockedUntil() (time.Time, bool) {
	s := g.settings.Get()
	if s.PINLockUntil == nil {
		return time.Time{}, false
	}
	until := fromUnixSeconds(*s.PINLockUntil)
	if !g.now().Before(until) {
		return time.Time{}, false
	}
	return until, true
}

func (g *Guard) Failures() int {
	return g.settings.Get().PINErrorCount
}

// MustChange reports whether the built-in PINs are still in force.
func (g *Guard) MustChange() bool {
	return g.settings.Get().PINsMustChange
}

// ChangePINs replaces both digests and clears the forced-change flag.
func (g *Guard) ChangePINs(master, admin string) error {
	master = strings.TrimSpace(master)
	admin = strings.TrimSpace(admin)
	if master == "" || admin == "" {
		return ErrEmptyPIN
	}
	if _, err := g.settings.Update(func(s *model.Settings) {
		s.MasterPINHash = Hash(master)
		s.AdminPINHash = Hash(admin)
		s.PINsMustChange = false
	}); err != nil {
		return fmt.Errorf("change PINs: %w", err)
	}
	g.record(audit.PINsChanged())
	g.logger.Info("PINs changed")
	return nil
}

func (g *Guard) record(e audit.Event) {
	if g.audit == nil {
		return
	}
	if err := g.audit.Record(e); err != nil {
		g.logger.Warn("audit record failed", zap.String("event", string(e.Type)), zap.Error(err))
	}
}

func storedHash(s *model.Settings, role Role) string {
	if role == RoleMaster {
		return s.MasterPINHash
	}
	return s.AdminPINHash
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func fromUnixSeconds(ts float64) time.Time {
	return time.Unix(0, int64(ts*1e9))
}
