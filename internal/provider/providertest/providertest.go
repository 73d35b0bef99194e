// Package providertest provides in-memory implementations of the provider
// interfaces for tests.
package providertest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"framez/internal/models"
	"framez/internal/provider"

	"github.com/google/uuid"
)

// Identity is an in-memory identity provider. Its state stays unknown until
// Resolve or a sign-in publishes the first event.
type Identity struct {
	emitter *provider.StateEmitter

	mu        sync.Mutex
	accounts  map[string]*account
	current   *provider.User
	failNext  error
	signOuts  int
	listeners int
}

type account struct {
	user     *provider.User
	password string
}

// NewIdentity creates an identity provider with no accounts.
func NewIdentity() *Identity {
	return &Identity{emitter: provider.NewStateEmitter(), accounts: make(map[string]*account)}
}

// Close stops event delivery.
func (i *Identity) Close() {
	i.emitter.Close()
}

// Resolve publishes the initial authoritative state.
func (i *Identity) Resolve(u *provider.User) {
	i.mu.Lock()
	i.current = provider.CloneUser(u)
	i.mu.Unlock()
	i.emitter.Publish(u)
}

// FailNext makes the next call fail with err.
func (i *Identity) FailNext(err error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.failNext = err
}

// AddAccount registers an account without signing it in.
func (i *Identity) AddAccount(email, password, displayName string) *provider.User {
	i.mu.Lock()
	defer i.mu.Unlock()
	u := newUser(email, displayName)
	i.accounts[strings.ToLower(email)] = &account{user: u, password: password}
	return provider.CloneUser(u)
}

// SignOuts counts SignOut calls.
func (i *Identity) SignOuts() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.signOuts
}

// Listeners reports how many OnStateChange callbacks are registered.
func (i *Identity) Listeners() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.listeners
}

// CurrentUID returns the signed-in uid, or "".
func (i *Identity) CurrentUID() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.current == nil {
		return ""
	}
	return i.current.UID
}

func (i *Identity) takeFailure() error {
	err := i.failNext
	i.failNext = nil
	return err
}

func newUser(email, displayName string) *provider.User {
	e := strings.ToLower(email)
	u := &provider.User{UID: uuid.NewString(), Email: &e}
	if displayName != "" {
		u.DisplayName = &displayName
	}
	return u
}

func (i *Identity) CreateAccount(_ context.Context, email, password string) (*provider.User, error) {
	i.mu.Lock()
	if err := i.takeFailure(); err != nil {
		i.mu.Unlock()
		return nil, err
	}
	key := strings.ToLower(email)
	if _, exists := i.accounts[key]; exists {
		i.mu.Unlock()
		return nil, models.NewAuthError("Email already registered", nil)
	}
	if len(password) < 6 {
		i.mu.Unlock()
		return nil, models.NewAuthError("Password is too weak", nil)
	}
	u := newUser(email, "")
	i.accounts[key] = &account{user: u, password: password}
	i.current = provider.CloneUser(u)
	i.mu.Unlock()

	i.emitter.Publish(u)
	return provider.CloneUser(u), nil
}

func (i *Identity) SignIn(_ context.Context, email, password string) (*provider.User, error) {
	i.mu.Lock()
	if err := i.takeFailure(); err != nil {
		i.mu.Unlock()
		return nil, err
	}
	acct, ok := i.accounts[strings.ToLower(email)]
	if !ok || acct.password != password {
		i.mu.Unlock()
		return nil, models.NewAuthError("Invalid credentials", nil)
	}
	i.current = provider.CloneUser(acct.user)
	u := provider.CloneUser(acct.user)
	i.mu.Unlock()

	i.emitter.Publish(u)
	return u, nil
}

func (i *Identity) SignOut(context.Context) error {
	i.mu.Lock()
	i.signOuts++
	if err := i.takeFailure(); err != nil {
		i.mu.Unlock()
		return err
	}
	i.current = nil
	i.mu.Unlock()

	i.emitter.Publish(nil)
	return nil
}

func (i *Identity) OnStateChange(cb func(*provider.User)) func() {
	i.mu.Lock()
	i.listeners++
	i.mu.Unlock()

	unsubscribe := i.emitter.Subscribe(cb)
	var once sync.Once
	return func() {
		once.Do(func() {
			unsubscribe()
			i.mu.Lock()
			i.listeners--
			i.mu.Unlock()
		})
	}
}

func (i *Identity) UpdateProfile(_ context.Context, user *provider.User, update provider.ProfileUpdate) (*provider.User, error) {
	i.mu.Lock()
	if err := i.takeFailure(); err != nil {
		i.mu.Unlock()
		return nil, err
	}
	var acct *account
	for _, a := range i.accounts {
		if a.user.UID == user.UID {
			acct = a
		}
	}
	if acct == nil {
		i.mu.Unlock()
		return nil, models.NewAuthError("Unknown account", nil)
	}
	name := update.DisplayName
	acct.user.DisplayName = &name
	u := provider.CloneUser(acct.user)
	signedIn := i.current != nil && i.current.UID == u.UID
	if signedIn {
		i.current = provider.CloneUser(u)
	}
	i.mu.Unlock()

	if signedIn {
		i.emitter.Publish(u)
	}
	return u, nil
}

// Documents is an in-memory post collection with live queries. Mutations run
// as the identity's current user and follow the API's owner rules.
type Documents struct {
	identity *Identity

	mu        sync.Mutex
	posts     map[string]*models.Post
	queries   map[*liveQuery]struct{}
	failNext  error
	gate      chan struct{}
	mutations int
	now       func() time.Time
}

// NewDocuments creates an empty collection acting on behalf of identity.
func NewDocuments(identity *Identity) *Documents {
	return &Documents{
		identity: identity,
		posts:    make(map[string]*models.Post),
		queries:  make(map[*liveQuery]struct{}),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// FailNext makes the next mutation fail with err.
func (d *Documents) FailNext(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failNext = err
}

// Hold makes mutations wait until the returned release func is called.
func (d *Documents) Hold() (release func()) {
	gate := make(chan struct{})
	d.mu.Lock()
	d.gate = gate
	d.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			if d.gate == gate {
				d.gate = nil
			}
			d.mu.Unlock()
			close(gate)
		})
	}
}

// Mutations counts successful writes.
func (d *Documents) Mutations() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mutations
}

// Seed stores posts directly, bypassing owner rules.
func (d *Documents) Seed(posts ...*models.Post) {
	d.mu.Lock()
	for _, p := range posts {
		cp := clonePost(p)
		cp.Normalize()
		d.posts[cp.ID] = cp
	}
	d.mu.Unlock()
	d.publish()
}

// Get returns a copy of a stored post.
func (d *Documents) Get(id string) (*models.Post, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.posts[id]
	if !ok {
		return nil, false
	}
	return clonePost(p), true
}

// LiveQueries reports how many queries are open.
func (d *Documents) LiveQueries() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queries)
}

func (d *Documents) begin(ctx context.Context) (string, error) {
	d.mu.Lock()
	gate := d.gate
	d.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	uid := d.identity.CurrentUID()
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.failNext; err != nil {
		d.failNext = nil
		return "", err
	}
	if uid == "" {
		return "", models.NewAuthRequiredError("Sign in required")
	}
	return uid, nil
}

func (d *Documents) Insert(ctx context.Context, collection string, doc *models.Post) (*models.Post, error) {
	if collection != models.PostsCollection {
		return nil, fmt.Errorf("unknown collection %q", collection)
	}
	uid, err := d.begin(ctx)
	if err != nil {
		return nil, err
	}
	p := clonePost(doc)
	p.ID = uuid.NewString()
	p.UserID = uid
	if p.CreatedAt.IsZero() {
		p.CreatedAt = d.now()
	}
	p.Normalize()

	d.mu.Lock()
	d.posts[p.ID] = p
	d.mutations++
	out := clonePost(p)
	d.mu.Unlock()
	d.publish()
	return out, nil
}

func (d *Documents) Update(ctx context.Context, collection, id string, patch provider.Patch) error {
	if collection != models.PostsCollection {
		return fmt.Errorf("unknown collection %q", collection)
	}
	uid, err := d.begin(ctx)
	if err != nil {
		return err
	}

	d.mu.Lock()
	p, ok := d.posts[id]
	if !ok {
		d.mu.Unlock()
		return models.NewNotFoundError("Post", id)
	}
	if patch.Caption != nil {
		if p.UserID != uid {
			d.mu.Unlock()
			return models.NewMutationError("Only the owner can edit this post", nil)
		}
		p.Caption = *patch.Caption
	}
	if patch.AddLike != "" && !p.LikedBy(patch.AddLike) {
		p.Likes = append(p.Likes, patch.AddLike)
	}
	if patch.RemoveLike != "" {
		kept := p.Likes[:0]
		for _, l := range p.Likes {
			if l != patch.RemoveLike {
				kept = append(kept, l)
			}
		}
		p.Likes = kept
	}
	if c := patch.AppendComment; c != nil {
		comment := *c
		comment.ID = uuid.NewString()
		comment.UserID = uid
		comment.CreatedAt = d.now()
		p.Comments = append(p.Comments, comment)
	}
	d.mutations++
	d.mu.Unlock()
	d.publish()
	return nil
}

func (d *Documents) Delete(ctx context.Context, collection, id string) error {
	if collection != models.PostsCollection {
		return fmt.Errorf("unknown collection %q", collection)
	}
	uid, err := d.begin(ctx)
	if err != nil {
		return err
	}

	d.mu.Lock()
	p, ok := d.posts[id]
	if !ok {
		d.mu.Unlock()
		return models.NewNotFoundError("Post", id)
	}
	if p.UserID != uid {
		d.mu.Unlock()
		return models.NewMutationError("Only the owner can delete this post", nil)
	}
	delete(d.posts, id)
	d.mutations++
	d.mu.Unlock()
	d.publish()
	return nil
}

func (d *Documents) LiveQuery(_ context.Context, collection string, filter provider.Filter, order provider.OrderBy) (provider.LiveQuery, error) {
	if collection != models.PostsCollection {
		return nil, fmt.Errorf("unknown collection %q", collection)
	}
	if order != provider.NewestFirst {
		return nil, errors.New("only newest-first ordering is supported")
	}
	q := &liveQuery{docs: d, filter: filter, out: make(chan provider.Snapshot), wake: make(chan struct{}, 1), done: make(chan struct{})}
	d.mu.Lock()
	d.queries[q] = struct{}{}
	q.push(d.resultLocked(filter))
	d.mu.Unlock()
	go q.run()
	return q, nil
}

// Disconnect ends every open live query as a dropped connection would.
func (d *Documents) Disconnect() {
	d.mu.Lock()
	queries := make([]*liveQuery, 0, len(d.queries))
	for q := range d.queries {
		queries = append(queries, q)
	}
	d.mu.Unlock()
	for _, q := range queries {
		_ = q.Close()
	}
}

func (d *Documents) resultLocked(filter provider.Filter) []*models.Post {
	out := make([]*models.Post, 0, len(d.posts))
	for _, p := range d.posts {
		if filter.UserID == "" || p.UserID == filter.UserID {
			out = append(out, clonePost(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (d *Documents) publish() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for q := range d.queries {
		q.push(d.resultLocked(q.filter))
	}
}

type liveQuery struct {
	docs   *Documents
	filter provider.Filter

	mu      sync.Mutex
	pending []provider.Snapshot
	closed  bool

	out  chan provider.Snapshot
	wake chan struct{}
	done chan struct{}
	once sync.Once
}

func (q *liveQuery) push(posts []*models.Post) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.pending = append(q.pending, provider.Snapshot{Posts: posts})
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *liveQuery) run() {
	defer close(q.out)
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.mu.Unlock()
			select {
			case <-q.done:
				return
			case <-q.wake:
				continue
			}
		}
		next := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		select {
		case q.out <- next:
		case <-q.done:
			return
		}
	}
}

func (q *liveQuery) Snapshots() <-chan provider.Snapshot {
	return q.out
}

func (q *liveQuery) Close() error {
	q.once.Do(func() {
		q.docs.mu.Lock()
		delete(q.docs.queries, q)
		q.docs.mu.Unlock()
		q.mu.Lock()
		q.closed = true
		q.pending = nil
		q.mu.Unlock()
		close(q.done)
	})
	return nil
}

func clonePost(p *models.Post) *models.Post {
	cp := *p
	if p.ImageURL != nil {
		v := *p.ImageURL
		cp.ImageURL = &v
	}
	cp.Likes = append([]string{}, p.Likes...)
	cp.Comments = append([]models.Comment{}, p.Comments...)
	cp.LikeRows = nil
	return &cp
}

// Blobs is an in-memory blob store.
type Blobs struct {
	BaseURL   string
	ChunkSize int

	mu       sync.Mutex
	objects  map[string][]byte
	failNext error
}

// NewBlobs creates an empty store serving URLs under baseURL.
func NewBlobs(baseURL string) *Blobs {
	return &Blobs{BaseURL: strings.TrimRight(baseURL, "/"), ChunkSize: 64 * 1024, objects: make(map[string][]byte)}
}

// FailNext makes the next upload fail with err after its first chunk.
func (b *Blobs) FailNext(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failNext = err
}

// Object returns stored bytes.
func (b *Blobs) Object(path string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[path]
	return data, ok
}

func (b *Blobs) PutBytes(ctx context.Context, path string, r io.Reader, size int64, progress provider.ProgressFunc) (string, error) {
	b.mu.Lock()
	fail := b.failNext
	b.failNext = nil
	b.mu.Unlock()

	var buf bytes.Buffer
	chunk := make([]byte, b.ChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		n, err := r.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			if progress != nil {
				progress(int64(buf.Len()), size)
			}
			if fail != nil {
				return "", fail
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
	}
	if fail != nil {
		return "", fail
	}

	b.mu.Lock()
	b.objects[path] = buf.Bytes()
	b.mu.Unlock()
	return b.BaseURL + "/media/" + path, nil
}
