package feed

import (
	"sync"
	"time"

	"framez/internal/models"
)

// PostView is one feed row with its derived state.
type PostView struct {
	Post         *models.Post
	LikedByMe    bool
	LikeCount    int
	CommentCount int
	IsOwner      bool
	TimeAgo      string
	ShareText    string
}

// BuildViews derives rows for uid from a snapshot and the local like overlay.
// An empty uid sees nothing as liked or owned.
func BuildViews(posts []*models.Post, uid string, overlay map[string]bool, now time.Time) []PostView {
	views := make([]PostView, 0, len(posts))
	for _, p := range posts {
		liked := uid != "" && p.LikedBy(uid)
		count := len(p.Likes)
		if want, ok := overlay[p.ID]; ok && uid != "" && want != liked {
			if want {
				count++
			} else {
				count--
			}
			liked = want
		}
		views = append(views, PostView{
			Post:         p,
			LikedByMe:    liked,
			LikeCount:    count,
			CommentCount: len(p.Comments),
			IsOwner:      uid != "" && p.UserID == uid,
			TimeAgo:      TimeAgo(p.CreatedAt, now),
			ShareText:    ShareText(p),
		})
	}
	return views
}

// ViewModel keeps the rendered feed current as snapshots arrive and likes
// are toggled.
type ViewModel struct {
	sub    *Subscription
	facade *Facade
	ident  Identity
	now    func() time.Time

	mu        sync.Mutex
	posts     []*models.Post
	views     []PostView
	err       error
	loaded    bool
	closed    bool
	listeners map[int]func([]PostView)
	nextID    int

	unsubscribe func()
	finished    chan struct{}
}

// NewViewModel starts consuming sub. Close releases sub as well.
func NewViewModel(sub *Subscription, facade *Facade, ident Identity) *ViewModel {
	vm := &ViewModel{
		sub:       sub,
		facade:    facade,
		ident:     ident,
		now:       time.Now,
		listeners: make(map[int]func([]PostView)),
		finished:  make(chan struct{}),
	}
	vm.unsubscribe = facade.Subscribe(vm.rebuild)
	go vm.run()
	return vm
}

func (vm *ViewModel) run() {
	defer close(vm.finished)
	for u := range vm.sub.Updates() {
		if u.Err != nil {
			vm.mu.Lock()
			vm.err = u.Err
			vm.mu.Unlock()
			vm.rebuild()
			continue
		}
		vm.facade.Track(u.Posts)
		vm.mu.Lock()
		vm.posts = u.Posts
		vm.err = nil
		vm.loaded = true
		vm.mu.Unlock()
		vm.rebuild()
	}
}

func (vm *ViewModel) rebuild() {
	uid := ""
	if u := vm.ident.User(); u != nil {
		uid = u.UID
	}
	overlay := vm.facade.Overlay()

	vm.mu.Lock()
	if vm.closed {
		vm.mu.Unlock()
		return
	}
	vm.views = BuildViews(vm.posts, uid, overlay, vm.now())
	views := vm.views
	fns := make([]func([]PostView), 0, len(vm.listeners))
	for id := 1; id <= vm.nextID; id++ {
		if fn, ok := vm.listeners[id]; ok {
			fns = append(fns, fn)
		}
	}
	vm.mu.Unlock()

	for _, fn := range fns {
		fn(views)
	}
}

// Views returns the current rows.
func (vm *ViewModel) Views() []PostView {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.views
}

// Loaded reports whether the first snapshot has arrived.
func (vm *ViewModel) Loaded() bool {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.loaded
}

// Err returns the last stream error, cleared by the next snapshot.
func (vm *ViewModel) Err() error {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.err
}

// Stats summarizes the posts currently shown.
func (vm *ViewModel) Stats() ProfileStats {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return Stats(vm.posts)
}

// OnChange calls fn with the rows after every rebuild.
func (vm *ViewModel) OnChange(fn func([]PostView)) func() {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.nextID++
	id := vm.nextID
	vm.listeners[id] = fn
	return func() {
		vm.mu.Lock()
		defer vm.mu.Unlock()
		delete(vm.listeners, id)
	}
}

// Done is closed once the view-model stops receiving updates, either after
// Close or because the subscription ended.
func (vm *ViewModel) Done() <-chan struct{} {
	return vm.finished
}

// Close stops updates and closes the subscription. Listeners are not called
// afterwards.
func (vm *ViewModel) Close() error {
	vm.mu.Lock()
	if vm.closed {
		vm.mu.Unlock()
		return nil
	}
	vm.closed = true
	vm.listeners = make(map[int]func([]PostView))
	vm.mu.Unlock()

	vm.unsubscribe()
	err := vm.sub.Close()
	<-vm.finished
	return err
}
