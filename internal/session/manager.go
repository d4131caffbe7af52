package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/starford/skillnotes/internal/apperr"
	"github.com/starford/skillnotes/internal/credential"
	"github.com/starford/skillnotes/internal/models"
)

const (
	defaultRefreshMargin = time.Minute
	refreshRetry         = 30 * time.Second
)

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option { return func(m *Manager) { m.clock = c } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(m *Manager) { m.logger = l } }

// WithRefreshMargin sets how long before expiry tokens are refreshed.
func WithRefreshMargin(d time.Duration) Option { return func(m *Manager) { m.margin = d } }

// WithSources adds external credential change sources.
func WithSources(src ...ChangeSource) Option {
	return func(m *Manager) { m.sources = append(m.sources, src...) }
}

// Manager owns the single live Session of the process. Other components
// only ever see copies.
type Manager struct {
	provider Provider
	store    credential.Store
	sources  []ChangeSource
	clock    Clock
	logger   *slog.Logger
	margin   time.Duration

	// applyMu serializes state transitions with their persistence and
	// listener notification so listeners observe changes in apply order.
	applyMu   sync.Mutex
	refreshMu sync.Mutex

	mu         sync.Mutex
	session    *models.Session
	resolved   bool
	lastChange time.Time
	timer      Timer
	listeners  map[int]func(AccessState)
	nextID     int

	startOnce sync.Once
	ready     chan struct{}
	runCtx    context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewManager creates a manager. Start (or the first AwaitReady) triggers
// the one-time resolution of the persisted credential.
func NewManager(provider Provider, store credential.Store, opts ...Option) *Manager {
	m := &Manager{
		provider:  provider,
		store:     store,
		clock:     realClock{},
		logger:    slog.Default(),
		margin:    defaultRefreshMargin,
		listeners: make(map[int]func(AccessState)),
		ready:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.runCtx, m.cancel = context.WithCancel(context.Background())
	return m
}

// Start resolves the persisted credential asynchronously and subscribes to
// the external change sources. Calls after the first are no-ops.
func (m *Manager) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		if ctx != nil {
			go func() {
				select {
				case <-ctx.Done():
					m.cancel()
				case <-m.runCtx.Done():
				}
			}()
		}
		for _, src := range m.sources {
			ch, err := src.Changes(m.runCtx)
			if err != nil {
				m.logger.Warn("session: subscribe to change source failed", slog.String("error", err.Error()))
				continue
			}
			m.wg.Add(1)
			go m.mirror(ch)
		}

		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.resolve(m.runCtx)
		}()
	})
}

// Close stops background work. The session itself is left as is.
func (m *Manager) Close() {
	m.cancel()
	m.mu.Lock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.mu.Unlock()
	m.wg.Wait()
}

// AwaitReady blocks until the initial resolution has completed and returns
// the resolved state. It never returns Unknown without an error.
func (m *Manager) AwaitReady(ctx context.Context) (AccessState, error) {
	m.Start(context.Background())
	select {
	case <-m.ready:
		return m.State(), nil
	case <-ctx.Done():
		return Unknown, ctx.Err()
	}
}

// State returns the current access state. Expired sessions count as Anonymous.
func (m *Manager) State() AccessState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.resolved {
		return Unknown
	}
	return deriveState(m.session, m.clock.Now())
}

// Current returns a copy of the live session, or nil when none is usable.
func (m *Manager) Current() *models.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session.Expired(m.clock.Now()) {
		return nil
	}
	return m.session.Clone()
}

// OnChange registers fn to be called with the new state after every
// credential change. Listeners must not call SignIn or SignOut. The
// returned func unregisters fn.
func (m *Manager) OnChange(fn func(AccessState)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.listeners, id)
			m.mu.Unlock()
		})
	}
}

// SignIn authenticates and makes the issued session live. A failed
// attempt leaves the current session untouched.
func (m *Manager) SignIn(ctx context.Context, email, password string) (*models.Session, error) {
	s, err := m.provider.Authenticate(ctx, email, password)
	if err != nil {
		if errors.Is(err, apperr.ErrAuth) {
			return nil, err
		}
		return nil, fmt.Errorf("session: sign in: %v: %w", err, apperr.ErrAuth)
	}
	m.apply(Change{Session: s, At: m.clock.Now()}, true)
	m.logger.Info("session: signed in", slog.String("user_id", s.UserID))
	return s.Clone(), nil
}

// SignOut clears the local session and then revokes it with the provider.
// It is idempotent. A non-nil result is always a *Warning: the local state
// is Anonymous either way.
func (m *Manager) SignOut(ctx context.Context) error {
	m.mu.Lock()
	cur := m.session.Clone()
	m.mu.Unlock()

	m.apply(Change{At: m.clock.Now()}, true)
	if cur == nil {
		return nil
	}
	m.logger.Info("session: signed out", slog.String("user_id", cur.UserID))

	if err := m.provider.Revoke(ctx, cur); err != nil {
		m.logger.Warn("session: revoke failed", slog.String("error", err.Error()))
		return &Warning{Err: err}
	}
	return nil
}

// Token returns an access token for attaching to requests, refreshing it
// first when it is within the refresh margin of expiry.
func (m *Manager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	s := m.session.Clone()
	m.mu.Unlock()
	if s == nil {
		return "", fmt.Errorf("session: not signed in: %w", apperr.ErrAuth)
	}
	if m.clock.Now().Add(m.margin).Before(s.ExpiresAt) {
		return s.AccessToken, nil
	}
	ns, err := m.refresh(ctx)
	if err != nil {
		if cur := m.Current(); cur != nil && cur.RefreshToken == s.RefreshToken && !s.Expired(m.clock.Now()) {
			return s.AccessToken, nil
		}
		return "", fmt.Errorf("session: token expired: %v: %w", err, apperr.ErrAuth)
	}
	return ns.AccessToken, nil
}

// UserID returns the signed-in identity, or an ErrAuth error.
func (m *Manager) UserID() (string, error) {
	s := m.Current()
	if s == nil {
		return "", fmt.Errorf("session: not signed in: %w", apperr.ErrAuth)
	}
	return s.UserID, nil
}

func (m *Manager) resolve(ctx context.Context) {
	started := m.clock.Now()
	defer close(m.ready)

	s, err := m.store.Load()
	if err != nil {
		m.logger.Warn("session: load credential failed", slog.String("error", err.Error()))
		s = nil
	}

	persist := false
	if s != nil && (m.nearExpiry(s) || m.rejected(s)) {
		ns, rerr := m.provider.Refresh(ctx, s.RefreshToken)
		switch {
		case rerr == nil:
			s, persist = ns, true
		case errors.Is(rerr, apperr.ErrAuth):
			m.logger.Info("session: restore refresh rejected", slog.String("error", rerr.Error()))
			s, persist = nil, true
		case s.Expired(m.clock.Now()) || m.rejected(s):
			// Transient failure: keep the stored credential for the next run
			// but do not serve a token that is unusable now.
			m.logger.Warn("session: restore refresh failed", slog.String("error", rerr.Error()))
			s = nil
		}
	}

	m.mu.Lock()
	m.resolved = true
	m.mu.Unlock()

	m.apply(Change{Session: s, At: started}, persist)
	m.logger.Info("session: resolved", slog.String("state", m.State().String()))
}

func (m *Manager) nearExpiry(s *models.Session) bool {
	return !m.clock.Now().Add(m.margin).Before(s.ExpiresAt)
}

// rejected reports whether the provider can check s locally and refuses it.
func (m *Manager) rejected(s *models.Session) bool {
	v, ok := m.provider.(Validator)
	return ok && v.Validate(s.AccessToken) != nil
}

func (m *Manager) mirror(ch <-chan Change) {
	defer m.wg.Done()
	for change := range ch {
		m.apply(change, false)
	}
}

// apply makes change live unless a later change already won.
func (m *Manager) apply(change Change, persist bool) {
	m.applyIf(change, persist, nil)
}

// applyIf is apply guarded by expect: when set, change only lands while
// the live session still carries expect's refresh token.
func (m *Manager) applyIf(change Change, persist bool, expect *models.Session) bool {
	m.applyMu.Lock()
	defer m.applyMu.Unlock()

	m.mu.Lock()
	if change.At.Before(m.lastChange) {
		m.mu.Unlock()
		m.logger.Debug("session: dropped superseded change", slog.Time("at", change.At))
		return false
	}
	if expect != nil && (m.session == nil || m.session.RefreshToken != expect.RefreshToken) {
		m.mu.Unlock()
		m.logger.Debug("session: dropped refresh of a replaced session")
		return false
	}
	if change.Session == nil && change.UserID != "" && (m.session == nil || m.session.UserID != change.UserID) {
		m.mu.Unlock()
		return false
	}
	prev := m.session
	m.lastChange = change.At
	m.session = change.Session.Clone()
	changed := !sameCredential(prev, m.session)
	m.scheduleLocked()
	state := Anonymous
	if m.resolved {
		state = deriveState(m.session, m.clock.Now())
	}
	listeners := make([]func(AccessState), 0, len(m.listeners))
	for _, fn := range m.listeners {
		listeners = append(listeners, fn)
	}
	m.mu.Unlock()

	if persist {
		var err error
		if change.Session == nil {
			err = m.store.Clear()
		} else {
			err = m.store.Save(change.Session)
		}
		if err != nil {
			m.logger.Warn("session: persist credential failed", slog.String("error", err.Error()))
		}
	}

	if changed && m.isResolved() {
		for _, fn := range listeners {
			fn(state)
		}
	}
	return true
}

func (m *Manager) isResolved() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resolved
}

// refresh exchanges the refresh token once even when called concurrently.
func (m *Manager) refresh(ctx context.Context) (*models.Session, error) {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	m.mu.Lock()
	s := m.session.Clone()
	m.mu.Unlock()
	if s == nil {
		return nil, fmt.Errorf("session: not signed in: %w", apperr.ErrAuth)
	}
	if m.clock.Now().Add(m.margin).Before(s.ExpiresAt) {
		return s, nil
	}

	// Stamped before the exchange so that a sign-out during it wins.
	started := m.clock.Now()
	ns, err := m.provider.Refresh(ctx, s.RefreshToken)
	if err != nil {
		if errors.Is(err, apperr.ErrAuth) && m.applyIf(Change{At: started}, true, s) {
			m.logger.Info("session: refresh rejected, signing out", slog.String("error", err.Error()))
		}
		return nil, err
	}
	if !m.applyIf(Change{Session: ns, At: started}, true, s) {
		return nil, fmt.Errorf("session: signed out during refresh: %w", apperr.ErrAuth)
	}
	m.logger.Debug("session: refreshed", slog.Time("expires_at", ns.ExpiresAt))
	return ns, nil
}

// scheduleLocked arms the refresh timer for the current session.
func (m *Manager) scheduleLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.session == nil || m.session.RefreshToken == "" {
		return
	}
	wait := m.session.ExpiresAt.Sub(m.clock.Now()) - m.margin
	if wait < 0 {
		wait = 0
	}
	m.timer = m.clock.AfterFunc(wait, m.autoRefresh)
}

func (m *Manager) autoRefresh() {
	if m.runCtx.Err() != nil {
		return
	}
	_, err := m.refresh(m.runCtx)
	if err == nil || errors.Is(err, apperr.ErrAuth) {
		return
	}

	now := m.clock.Now()
	m.mu.Lock()
	s := m.session
	m.mu.Unlock()
	if s == nil {
		return
	}
	if s.Expired(now) {
		m.logger.Warn("session: expired and refresh failed", slog.String("error", err.Error()))
		m.apply(Change{At: now}, true)
		return
	}

	retry := refreshRetry
	if left := s.ExpiresAt.Sub(now); left < retry {
		retry = left
	}
	m.mu.Lock()
	if m.session == s {
		if m.timer != nil {
			m.timer.Stop()
		}
		m.timer = m.clock.AfterFunc(retry, m.autoRefresh)
	}
	m.mu.Unlock()
}

func sameCredential(a, b *models.Session) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.UserID == b.UserID && a.AccessToken == b.AccessToken
}
