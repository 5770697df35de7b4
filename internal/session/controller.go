package session

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/msageha/nestcheck/internal/audit"
	"github.com/msageha/nestcheck/internal/checklist"
	"github.com/msageha/nestcheck/internal/guard"
	"github.com/msageha/nestcheck/internal/model"
	"github.com/msageha/nestcheck/internal/store"
)

// Outcome tells the caller what a mark did.
type Outcome int

const (
	OutcomeCompleted Outcome = iota
	// OutcomeBypassRequired means a critical item was marked failed and now
	// waits for Bypass with the master PIN.
	OutcomeBypassRequired
)

// Choice is the answer to an unfinished session found at start.
type Choice int

const (
	ChoiceResume Choice = iota
	ChoiceRestart
	ChoiceCancel
)

// Resolver decides what to do with an unfinished session.
type Resolver interface {
	Resolve(existing *model.Session) Choice
}

type ResolverFunc func(existing *model.Session) Choice

func (f ResolverFunc) Resolve(existing *model.Session) Choice {
	return f(existing)
}

// Persister is satisfied by *store.Store.
type Persister interface {
	Save(key string, v any) error
	Load(key string, v any) (bool, error)
}

// Verifier is satisfied by *guard.Guard.
type Verifier interface {
	Check(role guard.Role, candidate string) error
}

// Instrumenter opens a timing span; the returned func closes it.
type Instrumenter interface {
	Begin(op string) func()
}

// View is a read-only picture of the cursor position.
type View struct {
	Order         string
	BlockIdx      int
	BlockCount    int
	BlockTitle    string
	ItemIdx       int
	ItemCount     int
	Item          model.Item
	Finished      bool
	PendingBypass bool
	Done          int
	Total         int
}

// Controller owns the single active session. Every exported method is safe
// for concurrent use; the autosave ticker is the only expected concurrent
// caller.
type Controller struct {
	mu       sync.Mutex
	state    *model.Session
	complete bool
	version  uint64
	saved    uint64

	store    Persister
	provider checklist.Provider
	guard    Verifier
	audit    audit.Recorder
	spans    Instrumenter
	logger   *zap.Logger
	now      func() time.Time

	saves singleflight.Group
}

type Option func(*Controller)

func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

func WithInstrumenter(in Instrumenter) Option {
	return func(c *Controller) { c.spans = in }
}

func New(st Persister, provider checklist.Provider, g Verifier, rec audit.Recorder, logger *zap.Logger, opts ...Option) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Controller{
		store:    st,
		provider: provider,
		guard:    g,
		audit:    rec,
		logger:   logger.Named("session"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Pending returns the persisted session when it was not finished, or nil.
func (c *Controller) Pending() (*model.Session, error) {
	var doc model.SessionDoc
	found, err := c.store.Load(store.KeySession, &doc)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if !found || doc.State == nil || doc.Completed {
		return nil, nil
	}
	if err := doc.State.Validate(); err != nil {
		c.logger.Warn("persisted session is unusable", zap.Error(err))
		return nil, nil
	}
	return doc.State, nil
}

// Start opens a session for order. An unfinished persisted session is
// handed to r; a nil resolver restarts.
func (c *Controller) Start(order string, r Resolver) error {
	order, ok := model.NormalizeOrder(order)
	if !ok {
		return ErrInvalidOrderFormat
	}

	existing, err := c.Pending()
	if err != nil {
		c.logger.Warn("reading previous session failed", zap.Error(err))
	}
	if existing == nil {
		return c.restart(order, "")
	}
	if r == nil {
		return c.restart(order, existing.OrderNumber)
	}

	switch r.Resolve(existing) {
	case ChoiceResume:
		return c.Resume(existing)
	case ChoiceRestart:
		return c.restart(order, existing.OrderNumber)
	default:
		return ErrCancelled
	}
}

// Resume makes existing the active session.
func (c *Controller) Resume(existing *model.Session) error {
	if existing == nil {
		return ErrNoActiveSession
	}
	if err := existing.Validate(); err != nil {
		return fmt.Errorf("resume session: %w", err)
	}
	s, err := existing.Clone()
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.install(s)
	c.mu.Unlock()

	c.logger.Info("session resumed", zap.String("order", s.OrderNumber))
	c.record(audit.SessionResume(s.OrderNumber))
	c.flush()
	return nil
}

// Attach loads the unfinished persisted session without treating it as a
// resume. One-shot commands use it to act on the session left by the
// previous invocation.
func (c *Controller) Attach() (bool, error) {
	existing, err := c.Pending()
	if err != nil {
		return false, err
	}
	if existing == nil {
		return false, nil
	}
	c.mu.Lock()
	c.install(existing)
	c.saved = c.version
	c.mu.Unlock()
	return true, nil
}

// RestartFresh replaces any current session with a new one built from the
// template, cursor at the first item, and persists it immediately. An
// unfinished session it supersedes is recorded as ended incomplete.
func (c *Controller) RestartFresh(order string) error {
	order, ok := model.NormalizeOrder(order)
	if !ok {
		return ErrInvalidOrderFormat
	}
	abandoned := ""
	c.mu.Lock()
	if c.state != nil && !c.complete {
		abandoned = c.state.OrderNumber
	}
	c.mu.Unlock()
	if abandoned == "" {
		if existing, err := c.Pending(); err == nil && existing != nil {
			abandoned = existing.OrderNumber
		}
	}
	return c.restart(order, abandoned)
}

func (c *Controller) restart(order, abandoned string) error {
	tpl, err := c.provider.Template()
	if err != nil {
		return fmt.Errorf("load checklist template: %w", err)
	}

	s := &model.Session{
		OrderNumber: order,
		StartedAt:   c.now().Format(model.TimeLayout),
		Blocks:      tpl.Instantiate(),
		Version:     tpl.Version,
	}
	if s.Version == "" {
		s.Version = model.DefaultChecklistVersion
	}

	c.mu.Lock()
	c.install(s)
	c.mu.Unlock()

	if abandoned != "" {
		c.logger.Info("unfinished session abandoned", zap.String("order", abandoned))
		c.record(audit.SessionEnd(abandoned, false))
	}
	c.logger.Info("session started", zap.String("order", order), zap.String("version", s.Version))
	c.record(audit.SessionStart(order))
	c.flush()
	return nil
}

func (c *Controller) install(s *model.Session) {
	c.state = s
	c.complete = false
	c.version++
}

// Mark records the operator's verdict on the current item.
func (c *Controller) Mark(ok bool) (Outcome, error) {
	defer c.span("mark")()

	c.mu.Lock()
	if c.state == nil {
		c.mu.Unlock()
		return OutcomeCompleted, ErrNoActiveSession
	}
	if c.state.Finished {
		c.mu.Unlock()
		return OutcomeCompleted, ErrSessionFinished
	}

	now := c.now()
	_, it := c.state.Current()
	it.Start(now)

	if !ok && it.Critical {
		// Recorded as failed but left incomplete; the item now blocks
		// Advance until Bypass or a passing re-mark.
		it.Status = model.StatusFail
		it.BypassedBy = nil
		c.version++
		itemID := it.ID
		c.mu.Unlock()
		c.logger.Warn("critical item failed, master bypass required", zap.String("item", itemID))
		c.flush()
		return OutcomeBypassRequired, nil
	}

	if err := it.Complete(model.StatusFromOK(ok), now); err != nil {
		c.mu.Unlock()
		return OutcomeCompleted, err
	}
	if ok {
		it.BypassedBy = nil
	}
	c.version++
	ev := audit.ItemCompleted(c.state.OrderNumber, it.ID, ok, it.Critical)
	c.mu.Unlock()

	c.record(ev)
	c.flush()
	return OutcomeCompleted, nil
}

// Bypass verifies the master PIN and completes the suspended critical item
// as failed, stamped with the actor name.
func (c *Controller) Bypass(pin, actor string) error {
	c.mu.Lock()
	if c.state == nil {
		c.mu.Unlock()
		return ErrNoActiveSession
	}
	if _, it := c.state.Current(); c.state.Finished || !it.Blocked() {
		c.mu.Unlock()
		return ErrNoPendingBypass
	}
	if c.guard == nil {
		c.mu.Unlock()
		return fmt.Errorf("master verification: no guard configured")
	}
	if err := c.guard.Check(guard.RoleMaster, pin); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("master verification: %w", err)
	}

	name := guard.ActorName(actor)
	_, it := c.state.Current()
	if err := it.Complete(model.StatusFail, c.now()); err != nil {
		c.mu.Unlock()
		return err
	}
	it.BypassedBy = &name
	c.version++
	order := c.state.OrderNumber
	completed := audit.ItemCompleted(order, it.ID, false, true)
	bypass := audit.CriticalBypass(order, it.ID, name)
	c.mu.Unlock()

	c.logger.Info("critical item bypassed", zap.String("item", bypass.ItemID), zap.String("actor", name))
	c.record(completed)
	c.record(bypass)
	c.flush()
	return nil
}

// Advance moves the cursor forward. A failed critical item without a bypass
// refuses with ErrCriticalUnresolved and leaves the cursor in place. Past
// the last item the session is parked as finished.
func (c *Controller) Advance() error {
	defer c.span("advance")()

	c.mu.Lock()
	if c.state == nil {
		c.mu.Unlock()
		return ErrNoActiveSession
	}
	s := c.state
	if s.Finished {
		c.mu.Unlock()
		return nil
	}
	b, it := s.Current()
	if it.Blocked() {
		c.mu.Unlock()
		return ErrCriticalUnresolved
	}

	switch {
	case s.CurrentItemIdx+1 < len(b.Items):
		s.CurrentItemIdx++
	case s.CurrentBlockIdx+1 < len(s.Blocks):
		s.CurrentBlockIdx++
		s.CurrentItemIdx = 0
	default:
		s.Finished = true
		c.logger.Info("all items visited", zap.String("order", s.OrderNumber))
	}
	c.version++
	c.mu.Unlock()

	c.flush()
	return nil
}

// Retreat moves the cursor back one item, to the last item of the previous
// block when at a block start, and is a no-op on the very first item. A
// parked session is un-parked onto its last item. Completions are kept.
func (c *Controller) Retreat() error {
	c.mu.Lock()
	if c.state == nil {
		c.mu.Unlock()
		return ErrNoActiveSession
	}
	s := c.state
	switch {
	case s.Finished:
		s.Finished = false
	case s.CurrentItemIdx > 0:
		s.CurrentItemIdx--
	case s.CurrentBlockIdx > 0:
		s.CurrentBlockIdx--
		s.CurrentItemIdx = len(s.Blocks[s.CurrentBlockIdx].Items) - 1
	default:
		c.mu.Unlock()
		return nil
	}
	c.version++
	c.mu.Unlock()

	c.flush()
	return nil
}

// SetNote replaces the note of the current item.
func (c *Controller) SetNote(text string) error {
	return c.mutateItem(func(it *model.Item) error {
		it.Note = strings.TrimSpace(text)
		return nil
	})
}

// AttachPhoto appends an image path to the current item.
func (c *Controller) AttachPhoto(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("attach photo: empty path")
	}
	return c.mutateItem(func(it *model.Item) error {
		it.Photos = append(it.Photos, path)
		return nil
	})
}

func (c *Controller) mutateItem(fn func(it *model.Item) error) error {
	c.mu.Lock()
	if c.state == nil {
		c.mu.Unlock()
		return ErrNoActiveSession
	}
	_, it := c.state.Current()
	if err := fn(it); err != nil {
		c.mu.Unlock()
		return err
	}
	c.version++
	c.mu.Unlock()

	c.flush()
	return nil
}

// Hint returns the hint text of the current item.
func (c *Controller) Hint() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == nil {
		return "", ErrNoActiveSession
	}
	_, it := c.state.Current()
	return it.Hint, nil
}

// Current describes the cursor position.
func (c *Controller) Current() (View, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == nil {
		return View{}, ErrNoActiveSession
	}
	s := c.state
	b, it := s.Current()
	item := *it
	item.Photos = append([]string(nil), it.Photos...)
	done, total := s.Progress()
	return View{
		Order:         s.OrderNumber,
		BlockIdx:      s.CurrentBlockIdx,
		BlockCount:    len(s.Blocks),
		BlockTitle:    b.Title,
		ItemIdx:       s.CurrentItemIdx,
		ItemCount:     len(b.Items),
		Item:          item,
		Finished:      s.Finished,
		PendingBypass: !s.Finished && it.Blocked(),
		Done:          done,
		Total:         total,
	}, nil
}

// Progress returns completed and total item counts.
func (c *Controller) Progress() (done, total int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == nil {
		return 0, 0, ErrNoActiveSession
	}
	done, total = c.state.Progress()
	return done, total, nil
}

// Snapshot returns a deep copy of the active session.
func (c *Controller) Snapshot() (*model.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == nil {
		return nil, ErrNoActiveSession
	}
	return c.state.Clone()
}

// Active reports whether a session is open.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state != nil
}

// Finish persists the session as completed, records session_end and
// closes it. It returns whether the session was complete, i.e. parked with
// no unresolved critical failure.
func (c *Controller) Finish() (bool, error) {
	c.mu.Lock()
	if c.state == nil {
		c.mu.Unlock()
		return false, ErrNoActiveSession
	}
	complete := c.state.Complete()
	order := c.state.OrderNumber
	c.complete = true
	c.version++
	c.mu.Unlock()

	c.flush()

	c.mu.Lock()
	c.state = nil
	c.mu.Unlock()

	c.logger.Info("session finished", zap.String("order", order), zap.Bool("complete", complete))
	c.record(audit.SessionEnd(order, complete))
	return complete, nil
}

func (c *Controller) span(op string) func() {
	if c.spans == nil {
		return func() {}
	}
	return c.spans.Begin(op)
}

func (c *Controller) record(e audit.Event) {
	if c.audit == nil {
		return
	}
	if err := c.audit.Record(e); err != nil {
		c.logger.Warn("audit record failed", zap.String("event", string(e.Type)), zap.Error(err))
	}
}
