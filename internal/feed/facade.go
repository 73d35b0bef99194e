package feed

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"framez/internal/models"
	"framez/internal/provider"
)

// ErrClosed is returned by a Facade used after Close.
var ErrClosed = errors.New("feed: closed")

// Identity is the part of the session the feed needs.
type Identity interface {
	User() *provider.User
	// Epoch changes whenever the session ends.
	Epoch() uint64
}

// likeOp is the locally applied like state for one post. A committed op
// stays until a snapshot agrees with it or until the first snapshot tracked
// after the commit, whichever comes first. From then on the snapshot wins.
type likeOp struct {
	liked     bool
	seq       uint64
	committed bool
	// tracked is the Track count at commit time.
	tracked uint64
}

// Facade performs post mutations for the signed-in user. Likes are applied
// locally first and rolled back when the write fails.
type Facade struct {
	docs  provider.DocumentStore
	ident Identity
	now   func() time.Time

	mu        sync.Mutex
	posts     map[string]*models.Post
	pending   map[string]*likeOp
	epoch     uint64
	seq       uint64
	tracked   uint64
	tails     map[string]chan struct{}
	listeners map[int]func()
	nextID    int
	closed    bool
}

// NewFacade creates a facade writing to docs as ident's user.
func NewFacade(docs provider.DocumentStore, ident Identity) *Facade {
	return &Facade{
		docs:      docs,
		ident:     ident,
		now:       func() time.Time { return time.Now().UTC() },
		posts:     make(map[string]*models.Post),
		pending:   make(map[string]*likeOp),
		epoch:     ident.Epoch(),
		tails:     make(map[string]chan struct{}),
		listeners: make(map[int]func()),
	}
}

func mutationErr(err error, msg string) error {
	for _, code := range []string{models.CodeMutation, models.CodeAuthRequired, models.CodeValidation} {
		if models.HasCode(err, code) {
			return err
		}
	}
	return models.NewMutationError(msg, err)
}

func (f *Facade) requireUser() (*provider.User, error) {
	u := f.ident.User()
	if u == nil {
		return nil, models.NewAuthRequiredError("Please sign in first")
	}
	return u, nil
}

// syncEpochLocked drops the overlay of a session that has ended.
func (f *Facade) syncEpochLocked() {
	if e := f.ident.Epoch(); e != f.epoch {
		f.epoch = e
		f.pending = make(map[string]*likeOp)
	}
}

// Subscribe calls fn whenever the local like overlay changes.
func (f *Facade) Subscribe(fn func()) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := f.nextID
	f.listeners[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.listeners, id)
	}
}

func (f *Facade) notify() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	fns := make([]func(), 0, len(f.listeners))
	for id := 1; id <= f.nextID; id++ {
		if fn, ok := f.listeners[id]; ok {
			fns = append(fns, fn)
		}
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Track records the latest snapshot so owner checks and like state have a
// base. Committed likes are retired once a snapshot reflects them or once a
// snapshot arrives after their commit, even one that disagrees.
func (f *Facade) Track(posts []*models.Post) {
	u := f.ident.User()
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.syncEpochLocked()
	f.tracked++
	for _, p := range posts {
		f.posts[p.ID] = p
	}
	changed := false
	for id, op := range f.pending {
		if !op.committed {
			continue
		}
		p, ok := f.posts[id]
		agrees := ok && u != nil && p.LikedBy(u.UID) == op.liked
		if agrees || f.tracked > op.tracked {
			delete(f.pending, id)
			changed = true
		}
	}
	f.mu.Unlock()
	if changed {
		f.notify()
	}
}

// Overlay returns the locally applied like state per post ID.
func (f *Facade) Overlay() map[string]bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncEpochLocked()
	out := make(map[string]bool, len(f.pending))
	for id, op := range f.pending {
		out[id] = op.liked
	}
	return out
}

// Liked reports the like state the user currently sees for postID.
func (f *Facade) Liked(postID string) bool {
	u := f.ident.User()
	if u == nil {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncEpochLocked()
	return f.likedLocked(postID, u.UID)
}

func (f *Facade) likedLocked(postID, uid string) bool {
	if op, ok := f.pending[postID]; ok {
		return op.liked
	}
	if p, ok := f.posts[postID]; ok {
		return p.LikedBy(uid)
	}
	return false
}

// ToggleLike flips the user's like on postID. The new state is visible
// through Overlay before the write completes; a failed write restores the
// previous state and returns a MutationError. It returns the requested state.
func (f *Facade) ToggleLike(ctx context.Context, postID string) (bool, error) {
	u, err := f.requireUser()
	if err != nil {
		return false, err
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return false, ErrClosed
	}
	f.syncEpochLocked()
	before := f.likedLocked(postID, u.UID)
	prev := f.pending[postID]
	f.seq++
	op := &likeOp{liked: !before, seq: f.seq}
	f.pending[postID] = op
	epoch := f.epoch
	// Writes for one post go out in the order they were applied locally.
	wait := f.tails[postID]
	mine := make(chan struct{})
	f.tails[postID] = mine
	f.mu.Unlock()
	f.notify()

	if wait != nil {
		<-wait
	}
	patch := provider.Patch{RemoveLike: u.UID}
	if op.liked {
		patch = provider.Patch{AddLike: u.UID}
	}
	err = f.docs.Update(ctx, models.PostsCollection, postID, patch)
	close(mine)

	f.mu.Lock()
	if f.tails[postID] == mine {
		delete(f.tails, postID)
	}
	if f.closed || f.ident.Epoch() != epoch {
		// The session or the screen is gone: the result is dropped.
		f.mu.Unlock()
		if err != nil {
			return op.liked, models.NewMutationError("Could not update like", err)
		}
		return op.liked, nil
	}
	if err != nil {
		if f.pending[postID] == op {
			if prev == nil {
				delete(f.pending, postID)
			} else {
				f.pending[postID] = &likeOp{liked: before, seq: op.seq, committed: true, tracked: f.tracked}
			}
		}
		f.mu.Unlock()
		f.notify()
		return before, models.NewMutationError("Could not update like", err)
	}
	if f.pending[postID] == op {
		op.committed = true
		op.tracked = f.tracked
		if p, ok := f.posts[postID]; ok && p.LikedBy(u.UID) == op.liked {
			delete(f.pending, postID)
		}
	}
	f.mu.Unlock()
	f.notify()
	return op.liked, nil
}

// Create publishes a new post. A post needs a caption or an image.
func (f *Facade) Create(ctx context.Context, caption string, imageURL *string) (*models.Post, error) {
	caption = strings.TrimSpace(caption)
	var image *string
	if imageURL != nil && strings.TrimSpace(*imageURL) != "" {
		v := strings.TrimSpace(*imageURL)
		image = &v
	}
	if caption == "" && image == nil {
		return nil, models.NewValidationError("Please add a caption or an image")
	}
	u, err := f.requireUser()
	if err != nil {
		return nil, err
	}
	if f.isClosed() {
		return nil, ErrClosed
	}

	doc := &models.Post{
		UserID:    u.UID,
		UserName:  u.Name(),
		UserEmail: u.EmailOrEmpty(),
		Caption:   caption,
		ImageURL:  image,
		Likes:     []string{},
		Comments:  []models.Comment{},
		CreatedAt: f.now(),
	}
	created, err := f.docs.Insert(ctx, models.PostsCollection, doc)
	if err != nil {
		return nil, mutationErr(err, "Could not create post")
	}
	return created, nil
}

// AddComment appends a comment to postID.
func (f *Facade) AddComment(ctx context.Context, postID, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.NewValidationError("Comment cannot be empty")
	}
	u, err := f.requireUser()
	if err != nil {
		return err
	}
	if f.isClosed() {
		return ErrClosed
	}
	comment := &models.Comment{UserID: u.UID, UserName: u.Name(), Text: text, CreatedAt: f.now()}
	if err := f.docs.Update(ctx, models.PostsCollection, postID, provider.Patch{AppendComment: comment}); err != nil {
		return mutationErr(err, "Could not add comment")
	}
	return nil
}

// EditCaption replaces the caption of a post the user owns.
func (f *Facade) EditCaption(ctx context.Context, postID, caption string) error {
	caption = strings.TrimSpace(caption)
	if caption == "" {
		return models.NewValidationError("Caption cannot be empty")
	}
	u, err := f.requireUser()
	if err != nil {
		return err
	}
	if err := f.checkOwner(postID, u.UID, "Only the owner can edit this post"); err != nil {
		return err
	}
	if err := f.docs.Update(ctx, models.PostsCollection, postID, provider.Patch{Caption: &caption}); err != nil {
		return mutationErr(err, "Could not edit post")
	}
	return nil
}

// Delete removes a post the user owns, with its likes and comments.
func (f *Facade) Delete(ctx context.Context, postID string) error {
	u, err := f.requireUser()
	if err != nil {
		return err
	}
	if err := f.checkOwner(postID, u.UID, "Only the owner can delete this post"); err != nil {
		return err
	}
	if err := f.docs.Delete(ctx, models.PostsCollection, postID); err != nil {
		return mutationErr(err, "Could not delete post")
	}

	f.mu.Lock()
	delete(f.posts, postID)
	delete(f.pending, postID)
	f.mu.Unlock()
	return nil
}

// checkOwner rejects a known post owned by someone else. Unknown posts are
// left to the store's owner rule.
func (f *Facade) checkOwner(postID, uid, msg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	if p, ok := f.posts[postID]; ok && p.UserID != uid {
		return models.NewMutationError(msg, nil)
	}
	return nil
}

func (f *Facade) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Close makes in-flight results inert and drops all listeners.
func (f *Facade) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.listeners = make(map[int]func())
	f.pending = make(map[string]*likeOp)
}
