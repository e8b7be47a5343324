// Package view switches between the mutually-exclusive regions of the
// dashboard. Exactly one managed view is visible at a time.
package view

import "sync"

// Managed view names. These are the stable keys the surrounding UI binds to.
const (
	ThreadList   = "thread-list-view"
	ThreadDetail = "thread-detail-view"
	Leaderboard  = "leaderboard-view"
	Analytics    = "analytics-view"
	Content      = "content-view"
	Settings     = "settings-view"
)

// Header is the title/description pair shown above a view.
type Header struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// DefaultHeader is shown before any view has been activated.
var DefaultHeader = Header{Title: "Math Gamified", Description: "Teacher Dashboard"}

var headers = map[string]Header{
	ThreadList:   {Title: "Community Forum", Description: "Connect with other educators and share insights"},
	ThreadDetail: {Title: "Discussion Thread", Description: "View and participate in the discussion"},
	Leaderboard:  {Title: "Student Leaderboard", Description: "Track student progress and achievements"},
	Analytics:    {Title: "Class Analytics", Description: "Track student progress and performance metrics"},
	Content:      {Title: "Content Management", Description: "Create and manage learning materials"},
	Settings:     {Title: "Settings", Description: "Manage your account preferences"},
}

// ActivateFunc runs when its view becomes visible, typically to kick off the
// view's data loader. It runs once per activation, after visibility has been
// switched.
type ActivateFunc func()

type managedView struct {
	visible  bool
	activate ActivateFunc
}

// Router owns view visibility for one dashboard session. There is no back
// stack: returning to a view is just another ShowView call.
type Router struct {
	mu     sync.Mutex
	views  map[string]*managedView
	active string
	header Header
}

// Names lists every managed view name.
func Names() []string {
	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	return names
}

// NewRouter registers the managed views, all hidden.
func NewRouter() *Router {
	r := &Router{
		views:  make(map[string]*managedView, len(headers)),
		header: DefaultHeader,
	}
	for name := range headers {
		r.views[name] = &managedView{}
	}
	return r
}

// OnActivate installs the activation hook for a view. Unknown names are
// ignored.
func (r *Router) OnActivate(name string, fn ActivateFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.views[name]; ok {
		v.activate = fn
	}
}

// ShowView hides every managed view, reveals the named one, updates the
// header and runs the view's activation hook. An unknown name is a no-op.
func (r *Router) ShowView(name string) {
	r.mu.Lock()
	target, ok := r.views[name]
	if !ok {
		r.mu.Unlock()
		return
	}
	for _, v := range r.views {
		v.visible = false
	}
	target.visible = true
	r.active = name
	if h, ok := headers[name]; ok {
		r.header = h
	}
	activate := target.activate
	r.mu.Unlock()

	if activate != nil {
		activate()
	}
}

// ActiveView returns the currently visible view name, empty when none.
func (r *Router) ActiveView() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Header returns the current title/description pair.
func (r *Router) Header() Header {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.header
}

// VisibleViews lists every visible view. The router's invariant is that this
// never has more than one element.
func (r *Router) VisibleViews() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for name, v := range r.views {
		if v.visible {
			out = append(out, name)
		}
	}
	return out
}

// Known reports whether a name is a managed view.
func Known(name string) bool {
	_, ok := headers[name]
	return ok
}
