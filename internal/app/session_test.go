package app

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"mathgamified/internal/docstore"
	"mathgamified/internal/identity"
	"mathgamified/internal/view"
)

// fakeProvider counts credential calls and hands out fixed identities.
type fakeProvider struct {
	signIns   int
	creates   int
	identity  identity.Identity
	signInErr error
	createErr error
}

func (p *fakeProvider) SignIn(_ context.Context, email, _ string) (identity.Identity, error) {
	p.signIns++
	if p.signInErr != nil {
		return identity.Identity{}, p.signInErr
	}
	id := p.identity
	if id.Email == "" {
		id.Email = email
	}
	return id, nil
}

func (p *fakeProvider) CreateAccount(_ context.Context, email, _ string) (identity.Identity, error) {
	p.creates++
	if p.createErr != nil {
		return identity.Identity{}, p.createErr
	}
	id := p.identity
	if id.Email == "" {
		id.Email = email
	}
	return id, nil
}

// brokenTeachers fails every write to the teachers collection.
type brokenTeachers struct {
	docstore.Store
}

func (b *brokenTeachers) Set(ctx context.Context, collection, id string, fields map[string]any, merge bool) error {
	if collection == teachersCollection {
		return errors.New("write rejected")
	}
	return b.Store.Set(ctx, collection, id, fields, merge)
}

func newTestApp(t *testing.T, docs docstore.Store, provider identity.Provider) *App {
	t.Helper()
	a, err := New(Config{Docs: docs, Provider: provider, HeartbeatInterval: time.Hour})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func seedTeacher(t *testing.T, docs *docstore.MemoryStore, fields map[string]any) string {
	t.Helper()
	id, err := docs.Add(context.Background(), teachersCollection, fields)
	if err != nil {
		t.Fatalf("seed teacher: %v", err)
	}
	return id
}

func homeEntry() Entry { return Entry{Path: "/"} }

func loginEntry() Entry {
	return Entry{Path: "/", Query: url.Values{"show": []string{"login"}}}
}

func TestSignInUnregisteredSkipsProvider(t *testing.T) {
	docs := docstore.NewMemoryStore()
	provider := &fakeProvider{}
	ses := newTestApp(t, docs, provider).NewSession("s1", loginEntry())

	err := ses.SignIn(context.Background(), "t2@x.com", "secret")
	if !errors.Is(err, ErrUnregisteredAccount) {
		t.Fatalf("err = %v, want ErrUnregisteredAccount", err)
	}
	if provider.signIns != 0 {
		t.Fatalf("provider called %d times, want 0", provider.signIns)
	}
	if _, ok := ses.Identity(); ok {
		t.Fatal("identity present after failed sign-in")
	}
}

func TestSignInBindsUnboundRecord(t *testing.T) {
	docs := docstore.NewMemoryStore()
	recID := seedTeacher(t, docs, map[string]any{"email": "T1@X.com", "emailLower": "t1@x.com"})
	provider := &fakeProvider{identity: identity.Identity{UID: "uid-1", Email: "t1@x.com"}}
	ses := newTestApp(t, docs, provider).NewSession("s1", loginEntry())

	// Mixed-case input must resolve through the normalized email.
	if err := ses.SignIn(context.Background(), "T1@x.COM", "secret"); err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	id, ok := ses.Identity()
	if !ok || id.UID != "uid-1" {
		t.Fatalf("identity = %+v ok=%v", id, ok)
	}
	if uid, online := ses.Presence(); !online || uid != "uid-1" {
		t.Fatalf("presence = %q online=%v", uid, online)
	}
	if ses.Views().ActiveView() != view.ThreadList {
		t.Fatalf("active view = %q", ses.Views().ActiveView())
	}

	rec, err := docs.GetDoc(context.Background(), teachersCollection, recID)
	if err != nil {
		t.Fatalf("GetDoc: %v", err)
	}
	if rec.String("uid") != "uid-1" || rec.String("emailLower") != "t1@x.com" {
		t.Fatalf("record = %+v", rec.Fields)
	}
	if _, err := docs.GetDoc(context.Background(), "teacher_points", "uid-1"); err != nil {
		t.Fatalf("points record: %v", err)
	}
}

func TestSignInBindFailureIsNonFatal(t *testing.T) {
	docs := docstore.NewMemoryStore()
	seedTeacher(t, docs, map[string]any{"email": "t1@x.com", "emailLower": "t1@x.com"})
	provider := &fakeProvider{identity: identity.Identity{UID: "uid-1", Email: "t1@x.com"}}
	ses := newTestApp(t, &brokenTeachers{Store: docs}, provider).NewSession("s1", loginEntry())

	if err := ses.SignIn(context.Background(), "t1@x.com", "secret"); err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if _, ok := ses.Identity(); !ok {
		t.Fatal("identity missing after sign-in with bind failure")
	}
}

func TestSignInAccountMismatchSignsOut(t *testing.T) {
	docs := docstore.NewMemoryStore()
	seedTeacher(t, docs, map[string]any{
		"email": "t1@x.com", "emailLower": "t1@x.com", "uid": "someone-else",
	})
	provider := &fakeProvider{identity: identity.Identity{UID: "uid-1", Email: "t1@x.com"}}
	ses := newTestApp(t, docs, provider).NewSession("s1", loginEntry())

	err := ses.SignIn(context.Background(), "t1@x.com", "secret")
	if !errors.Is(err, ErrAccountMismatch) {
		t.Fatalf("err = %v, want ErrAccountMismatch", err)
	}
	if _, ok := ses.Identity(); ok {
		t.Fatal("identity still present after mismatch")
	}
	if _, online := ses.Presence(); online {
		t.Fatal("presence still tracking after mismatch")
	}
}

func TestSignInCredentialErrorPassesThrough(t *testing.T) {
	docs := docstore.NewMemoryStore()
	seedTeacher(t, docs, map[string]any{"email": "t1@x.com", "emailLower": "t1@x.com"})
	provider := &fakeProvider{
		signInErr: &identity.CredentialError{Category: identity.CategoryWrongSecret, Code: "INVALID_PASSWORD"},
	}
	ses := newTestApp(t, docs, provider).NewSession("s1", loginEntry())

	err := ses.SignIn(context.Background(), "t1@x.com", "bad")
	var cerr *identity.CredentialError
	if !errors.As(err, &cerr) || cerr.Category != identity.CategoryWrongSecret {
		t.Fatalf("err = %v", err)
	}
	if _, ok := ses.Identity(); ok {
		t.Fatal("identity present after credential failure")
	}
}

func TestInitialRedirectLatch(t *testing.T) {
	docs := docstore.NewMemoryStore()
	a := newTestApp(t, docs, &fakeProvider{})

	ses := a.NewSession("s1", homeEntry())
	target, ok := ses.ConsumeRedirect()
	if !ok || target != registerPage {
		t.Fatalf("redirect = %q ok=%v", target, ok)
	}
	// Consumed: a later sign-out never re-fires it.
	ses.SignOut()
	if target, ok := ses.ConsumeRedirect(); ok {
		t.Fatalf("redirect re-fired: %q", target)
	}

	withMarker := a.NewSession("s2", loginEntry())
	if target, ok := withMarker.ConsumeRedirect(); ok {
		t.Fatalf("show=login entry still redirected: %q", target)
	}

	elsewhere := a.NewSession("s3", Entry{Path: "/register"})
	if target, ok := elsewhere.ConsumeRedirect(); ok {
		t.Fatalf("non-default entry redirected: %q", target)
	}
}

func TestRegisterFlow(t *testing.T) {
	docs := docstore.NewMemoryStore()
	recID := seedTeacher(t, docs, map[string]any{"email": "t1@x.com"})
	provider := &fakeProvider{identity: identity.Identity{UID: "uid-9", Email: "t1@x.com"}}
	ses := newTestApp(t, docs, provider).NewSession("s1", Entry{Path: "/register"})

	if err := ses.Register(context.Background(), "t1@x.com", "p", "p"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if provider.creates != 1 {
		t.Fatalf("creates = %d", provider.creates)
	}
	if _, ok := ses.Identity(); ok {
		t.Fatal("still signed in after registration")
	}
	if _, online := ses.Presence(); online {
		t.Fatal("presence still tracking after registration")
	}
	if target, ok := ses.ConsumeRedirect(); !ok || target != loginPage {
		t.Fatalf("redirect = %q ok=%v", target, ok)
	}
	rec, err := docs.GetDoc(context.Background(), teachersCollection, recID)
	if err != nil {
		t.Fatalf("GetDoc: %v", err)
	}
	if rec.String("uid") != "uid-9" {
		t.Fatalf("record uid = %q", rec.String("uid"))
	}
	if _, ok := rec.Fields["registeredAt"]; !ok {
		t.Fatal("registeredAt missing")
	}
}

func TestRegisterPasswordMismatchBeforeAnyCall(t *testing.T) {
	provider := &fakeProvider{}
	ses := newTestApp(t, docstore.NewMemoryStore(), provider).NewSession("s1", Entry{Path: "/register"})

	err := ses.Register(context.Background(), "t1@x.com", "p", "q")
	if !errors.Is(err, ErrPasswordMismatch) {
		t.Fatalf("err = %v", err)
	}
	if provider.creates != 0 {
		t.Fatalf("creates = %d, want 0", provider.creates)
	}
}

func TestRegisterRequiresExactEmailRecord(t *testing.T) {
	docs := docstore.NewMemoryStore()
	// Only the normalized form exists; registration matches exact email only.
	seedTeacher(t, docs, map[string]any{"email": "t1@x.com", "emailLower": "t1@x.com"})
	provider := &fakeProvider{}
	ses := newTestApp(t, docs, provider).NewSession("s1", Entry{Path: "/register"})

	err := ses.Register(context.Background(), "T1@X.com", "p", "p")
	if !errors.Is(err, ErrUnregisteredAccount) {
		t.Fatalf("err = %v", err)
	}
	if provider.creates != 0 {
		t.Fatalf("creates = %d, want 0", provider.creates)
	}
}

func TestRegisterOrphanedCredentialSurfaces(t *testing.T) {
	docs := docstore.NewMemoryStore()
	seedTeacher(t, docs, map[string]any{"email": "t1@x.com"})
	provider := &fakeProvider{identity: identity.Identity{UID: "uid-9", Email: "t1@x.com"}}
	ses := newTestApp(t, &brokenTeachers{Store: docs}, provider).NewSession("s1", Entry{Path: "/register"})

	err := ses.Register(context.Background(), "t1@x.com", "p", "p")
	if err == nil {
		t.Fatal("record update failure not surfaced")
	}
	// The credential was created and is now orphaned; the session must still
	// end signed out with no redirect to login.
	if provider.creates != 1 {
		t.Fatalf("creates = %d", provider.creates)
	}
	if _, ok := ses.Identity(); ok {
		t.Fatal("still signed in after failed registration")
	}
	if target, ok := ses.ConsumeRedirect(); ok {
		t.Fatalf("unexpected redirect %q", target)
	}
}

func TestSignOutStopsPresence(t *testing.T) {
	docs := docstore.NewMemoryStore()
	seedTeacher(t, docs, map[string]any{"email": "t1@x.com", "emailLower": "t1@x.com"})
	provider := &fakeProvider{identity: identity.Identity{UID: "uid-1", Email: "t1@x.com"}}
	ses := newTestApp(t, docs, provider).NewSession("s1", loginEntry())

	if err := ses.SignIn(context.Background(), "t1@x.com", "secret"); err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	ses.SignOut()
	if _, online := ses.Presence(); online {
		t.Fatal("presence still tracking after sign-out")
	}
	rec, err := docs.Get(context.Background(), teachersCollection, docstore.Query{
		FilterField: "uid", FilterValue: "uid-1",
	})
	if err != nil || len(rec) != 1 {
		t.Fatalf("record fetch: %v (%d)", err, len(rec))
	}
	if rec[0].String("status") != "offline" {
		t.Fatalf("status = %q, want offline", rec[0].String("status"))
	}
}

func TestCloseStopsPresence(t *testing.T) {
	docs := docstore.NewMemoryStore()
	seedTeacher(t, docs, map[string]any{"email": "t1@x.com", "emailLower": "t1@x.com"})
	provider := &fakeProvider{identity: identity.Identity{UID: "uid-1", Email: "t1@x.com"}}
	ses := newTestApp(t, docs, provider).NewSession("s1", loginEntry())

	if err := ses.SignIn(context.Background(), "t1@x.com", "secret"); err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	ses.Close()
	if _, online := ses.Presence(); online {
		t.Fatal("presence still tracking after close")
	}
	ses.Close() // idempotent
}
