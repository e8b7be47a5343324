package app

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"mathgamified/internal/events"
	"mathgamified/internal/identity"
	"mathgamified/internal/presence"
	"mathgamified/internal/session"
	"mathgamified/internal/view"
)

// Redirect targets issued by the auth flow.
const (
	registerPage = "/register"
	loginPage    = "/?show=login"
)

const ensureTimeout = 5 * time.Second

// Entry describes where a page session entered the dashboard. The show=login
// marker suppresses the first-load redirect to the registration page.
type Entry struct {
	Path  string
	Query url.Values
}

func (e Entry) defaultPage() bool {
	if e.Path != "" && e.Path != "/" && e.Path != "/index.html" {
		return false
	}
	return e.Query.Get("show") == ""
}

// DashboardSession is the server-side half of one browser page: one identity
// store, one presence tracker, one view router, and the one-shot first-load
// redirect latch. Identity transitions are driven exclusively by provider
// notifications flowing through the identity store; SignIn and Register only
// talk to the provider and emit.
type DashboardSession struct {
	ID string

	app        *App
	identities *session.Store
	tracker    *presence.Tracker
	views      *view.Router
	logger     *slog.Logger

	mu         sync.Mutex
	latchArmed bool
	entryHome  bool
	redirect   string
	lastSeen   time.Time
	closed     bool
}

// NewSession starts a dashboard session for a page that entered at entry.
// Subscriptions are registered before the initial "no identity" report, so
// the auth flow sees every transition first and presence second.
func (a *App) NewSession(id string, entry Entry) *DashboardSession {
	s := &DashboardSession{
		ID:         id,
		app:        a,
		identities: session.NewStore(),
		tracker: presence.NewTracker(presence.Config{
			Docs:              a.docs,
			Cache:             a.cache,
			Events:            a.events,
			Logger:            a.logger,
			HeartbeatInterval: a.interval,
		}),
		views:      view.NewRouter(),
		logger:     a.logger.With("session", id),
		latchArmed: true,
		entryHome:  entry.defaultPage(),
		lastSeen:   time.Now(),
	}
	for _, name := range view.Names() {
		s.views.OnActivate(name, s.activationHook(name))
	}
	s.identities.Subscribe(s.onIdentity)
	s.identities.Subscribe(s.onPresence)
	// The provider's initial credential report: nobody is signed in yet.
	s.identities.SetIdentity(nil)
	return s
}

// Identity returns the signed-in teacher, if any.
func (s *DashboardSession) Identity() (identity.Identity, bool) {
	return s.identities.CurrentIdentity()
}

// Views exposes the session's view router.
func (s *DashboardSession) Views() *view.Router { return s.views }

// Presence reports the uid currently tracked as online, if any.
func (s *DashboardSession) Presence() (string, bool) { return s.tracker.Tracking() }

// ConsumeRedirect returns a pending navigation target at most once.
func (s *DashboardSession) ConsumeRedirect() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	target := s.redirect
	s.redirect = ""
	return target, target != ""
}

// Touch records page activity for the idle sweeper.
func (s *DashboardSession) Touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

// IdleSince reports the last recorded activity.
func (s *DashboardSession) IdleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Close is the page-unload analogue: it stops presence with a best-effort
// offline write. Safe to call twice.
func (s *DashboardSession) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.tracker.Stop()
}

// SignIn runs the sign-in protocol. The registry is consulted before any
// credential call so an unregistered email never reaches the provider, and
// the success transition is left entirely to the identity notification.
func (s *DashboardSession) SignIn(ctx context.Context, email, password string) error {
	normalized := strings.ToLower(strings.TrimSpace(email))
	rec, err := s.app.teachers.lookup(ctx, normalized, email)
	if err != nil {
		return err
	}

	id, err := s.app.provider.SignIn(ctx, email, password)
	if err != nil {
		return err
	}
	s.identities.SetIdentity(&id)

	if rec.UID != "" && rec.UID != id.UID {
		s.logger.Warn("teacher record bound to a different identity",
			"record", rec.ID, "recordUid", rec.UID, "uid", id.UID)
		s.identities.SetIdentity(nil)
		return ErrAccountMismatch
	}
	if rec.UID == "" {
		if err := s.app.teachers.bind(ctx, rec, id.UID, normalized, nil); err != nil {
			// Bookkeeping only; the sign-in itself stands.
			s.logger.Warn("binding teacher record failed", "record", rec.ID, "err", err)
		}
	}
	return nil
}

// Register creates a credential for a pre-provisioned teacher, then forces a
// fresh sign-in. A record-update failure after the credential exists leaves
// an orphaned credential; it is reported, never retried.
func (s *DashboardSession) Register(ctx context.Context, email, password, confirm string) error {
	if password != confirm {
		return ErrPasswordMismatch
	}
	rec, err := s.app.teachers.lookupExact(ctx, email)
	if err != nil {
		return err
	}

	id, err := s.app.provider.CreateAccount(ctx, email, password)
	if err != nil {
		return err
	}
	s.identities.SetIdentity(&id)

	bindErr := s.app.teachers.bind(ctx, rec, id.UID,
		strings.ToLower(strings.TrimSpace(email)),
		map[string]any{"registeredAt": time.Now().UTC()})

	// Registration always ends signed out so login starts clean.
	s.identities.SetIdentity(nil)
	if bindErr != nil {
		s.logger.Error("teacher record update failed after credential creation, credential orphaned",
			"record", rec.ID, "uid", id.UID, "err", bindErr)
		return bindErr
	}
	s.setRedirect(loginPage)
	return nil
}

// SignOut emits the signed-out transition; presence stop and view reset
// follow from the notification.
func (s *DashboardSession) SignOut() {
	s.identities.SetIdentity(nil)
}

// onIdentity is the auth-flow listener, always registered first. It consumes
// the first-load latch and drives view navigation.
func (s *DashboardSession) onIdentity(id *identity.Identity) {
	s.mu.Lock()
	fireLatch := false
	if s.latchArmed {
		s.latchArmed = false
		fireLatch = id == nil && s.entryHome
	}
	if fireLatch {
		s.redirect = registerPage
	}
	s.mu.Unlock()

	if id == nil {
		return
	}
	s.views.ShowView(view.ThreadList)
	ctx, cancel := context.WithTimeout(context.Background(), ensureTimeout)
	defer cancel()
	if err := s.app.Points.Ensure(ctx, *id); err != nil {
		s.logger.Warn("ensuring teacher points record failed", "uid", id.UID, "err", err)
	}
}

// activationHook reports each view activation as an activity event so usage
// shows up alongside presence and quiz changes.
func (s *DashboardSession) activationHook(name string) view.ActivateFunc {
	return func() {
		id, ok := s.identities.CurrentIdentity()
		if !ok {
			return
		}
		s.app.events.Publish(context.Background(), events.TypeViewActivated, id.UID,
			map[string]any{"view": name})
	}
}

// onPresence mirrors identity transitions into the presence tracker.
func (s *DashboardSession) onPresence(id *identity.Identity) {
	if id == nil {
		s.tracker.Stop()
		return
	}
	s.tracker.Start(*id)
}

func (s *DashboardSession) setRedirect(target string) {
	s.mu.Lock()
	s.redirect = target
	s.mu.Unlock()
}
