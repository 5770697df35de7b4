package guard

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/nestcheck/internal/audit"
	"github.com/msageha/nestcheck/internal/model"
)

type memSettings struct {
	mu sync.Mutex
	s  model.Settings
}

func (m *memSettings) Get() model.Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s
}

func (m *memSettings) Update(fn func(s *model.Settings)) (model.Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&m.s)
	return m.s, nil
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newGuard(t *testing.T) (*Guard, *memSettings, *audit.Memory, *fakeClock) {
	t.Helper()
	st := &memSettings{s: DefaultSettings()}
	rec := audit.NewMemory()
	clock := &fakeClock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	return New(st, rec, nil, WithClock(clock.Now)), st, rec, clock
}

func TestHash_TrimsInput(t *testing.T) {
	assert.Equal(t, Hash("7717"), Hash("  7717\n"))
	assert.NotEqual(t, Hash("7717"), Hash("2969"))
	assert.Len(t, Hash("1"), 64)
}

func TestVerify_RolesAreIndependent(t *testing.T) {
	g, _, rec, _ := newGuard(t)

	assert.True(t, g.Verify(RoleAdmin, DefaultAdminPIN))
	assert.True(t, g.Verify(RoleMaster, DefaultMasterPIN))
	assert.False(t, g.Verify(RoleAdmin, DefaultMasterPIN))
	assert.False(t, g.Verify(RoleMaster, DefaultAdminPIN))

	assert.Equal(t, 4, rec.Count(audit.EventPINAttempt))
	entries := rec.Entries()
	assert.Equal(t, "admin", entries[0].Role)
	assert.Equal(t, "master", entries[1].Role)
}

func TestCheck_SuccessResetsCounter(t *testing.T) {
	g, st, _, _ := newGuard(t)

	for i := 0; i < 3; i++ {
		require.ErrorIs(t, g.Check(RoleAdmin, "0000"), ErrWrongPIN)
	}
	assert.Equal(t, 3, st.Get().PINErrorCount)

	require.NoError(t, g.Check(RoleAdmin, DefaultAdminPIN))
	assert.Equal(t, 0, st.Get().PINErrorCount)
	assert.Nil(t, st.Get().PINLockUntil)
}

func TestCheck_LockoutTiming(t *testing.T) {
	g, st, rec, clock := newGuard(t)
	lockedAt := clock.Now()

	for i := 0; i < DefaultMaxFailures; i++ {
		require.ErrorIs(t, g.Check(RoleAdmin, "1111"), ErrWrongPIN)
	}
	until, locked := g.LockedUntil()
	require.True(t, locked)
	assert.WithinDuration(t, lockedAt.Add(DefaultLockout), until, time.Millisecond)

	// One second before expiry the correct PIN is still rejected without
	// touching the counter.
	clock.t = lockedAt.Add(DefaultLockout - time.Second)
	err := g.Check(RoleAdmin, DefaultAdminPIN)
	require.ErrorIs(t, err, ErrLocked)
	assert.Equal(t, DefaultMaxFailures, st.Get().PINErrorCount)

	entries := rec.Entries()
	last := entries[len(entries)-1]
	assert.Equal(t, true, last.Details["locked"])

	clock.t = lockedAt.Add(DefaultLockout + time.Second)
	require.NoError(t, g.Check(RoleAdmin, DefaultAdminPIN))
	_, locked = g.LockedUntil()
	assert.False(t, locked)
	assert.Equal(t, 0, g.Failures())
}

func TestCheck_CounterSharedAcrossRoles(t *testing.T) {
	g, _, _, _ := newGuard(t)

	for i := 0; i < 3; i++ {
		_ = g.Check(RoleAdmin, "bad")
	}
	for i := 0; i < 2; i++ {
		_ = g.Check(RoleMaster, "bad")
	}
	assert.ErrorIs(t, g.Check(RoleMaster, DefaultMasterPIN), ErrLocked)
}

func TestCheck_FailureAfterExpiryRelocks(t *testing.T) {
	g, _, _, clock := newGuard(t)
	for i := 0; i < DefaultMaxFailures; i++ {
		_ = g.Check(RoleAdmin, "bad")
	}
	clock.Advance(DefaultLockout + time.Second)

	require.ErrorIs(t, g.Check(RoleAdmin, "bad"), ErrWrongPIN)
	_, locked := g.LockedUntil()
	assert.True(t, locked, "counter is only reset by a success")
}

func TestCheck_UnknownRole(t *testing.T) {
	g, st, rec, _ := newGuard(t)
	err := g.Check(Role("operator"), "7717")
	assert.True(t, errors.Is(err, ErrUnknownRole))
	assert.Equal(t, 0, st.Get().PINErrorCount)
	assert.Equal(t, 0, rec.Count(audit.EventPINAttempt))
}

func TestWithPolicy(t *testing.T) {
	st := &memSettings{s: DefaultSettings()}
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	g := New(st, nil, nil, WithClock(clock.Now), WithPolicy(2, time.Minute))

	_ = g.Check(RoleAdmin, "x")
	assert.ErrorIs(t, g.Check(RoleAdmin, "x"), ErrWrongPIN)
	until, locked := g.LockedUntil()
	require.True(t, locked)
	assert.WithinDuration(t, clock.Now().Add(time.Minute), until, time.Millisecond)
}

func TestChangePINs(t *testing.T) {
	g, _, rec, _ := newGuard(t)
	require.True(t, g.MustChange())

	assert.ErrorIs(t, g.ChangePINs(" ", "1234"), ErrEmptyPIN)
	assert.True(t, g.MustChange())

	require.NoError(t, g.ChangePINs("4321", "1234"))
	assert.False(t, g.MustChange())
	assert.True(t, g.Verify(RoleMaster, "4321"))
	assert.True(t, g.Verify(RoleAdmin, "1234"))
	assert.False(t, g.Verify(RoleAdmin, DefaultAdminPIN))
	assert.Equal(t, 1, rec.Count(audit.EventPINsChanged))
}

func TestActorName(t *testing.T) {
	assert.Equal(t, "A. Operator", ActorName("  A. Operator "))
	assert.Equal(t, DefaultActor, ActorName("   "))
}
