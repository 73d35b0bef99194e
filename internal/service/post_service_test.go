package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"framez/internal/livequery"
	"framez/internal/models"
	"framez/internal/notifications"
	"framez/internal/repository"
	"framez/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// postRepoStub is a stub for repository.PostRepository.
type postRepoStub struct {
	createFn        func(context.Context, *models.Post) error
	getByIDFn       func(context.Context, string) (*models.Post, error)
	listFn          func(context.Context, repository.ListFilter) ([]*models.Post, error)
	updateCaptionFn func(context.Context, string, string) error
	deleteFn        func(context.Context, string) error
	likeFn          func(context.Context, string, string) error
	unlikeFn        func(context.Context, string, string) error
}

func (s *postRepoStub) Create(ctx context.Context, post *models.Post) error {
	return s.createFn(ctx, post)
}
func (s *postRepoStub) GetByID(ctx context.Context, id string) (*models.Post, error) {
	return s.getByIDFn(ctx, id)
}
func (s *postRepoStub) List(ctx context.Context, filter repository.ListFilter) ([]*models.Post, error) {
	return s.listFn(ctx, filter)
}
func (s *postRepoStub) UpdateCaption(ctx context.Context, id, caption string) error {
	return s.updateCaptionFn(ctx, id, caption)
}
func (s *postRepoStub) Delete(ctx context.Context, id string) error {
	return s.deleteFn(ctx, id)
}
func (s *postRepoStub) Like(ctx context.Context, postID, userID string) error {
	return s.likeFn(ctx, postID, userID)
}
func (s *postRepoStub) Unlike(ctx context.Context, postID, userID string) error {
	return s.unlikeFn(ctx, postID, userID)
}

func noopPostRepo() *postRepoStub {
	return &postRepoStub{
		createFn: func(_ context.Context, _ *models.Post) error { return nil },
		getByIDFn: func(_ context.Context, id string) (*models.Post, error) {
			return &models.Post{ID: id, UserID: "owner", Likes: []string{}, Comments: []models.Comment{}}, nil
		},
		listFn:          func(_ context.Context, _ repository.ListFilter) ([]*models.Post, error) { return nil, nil },
		updateCaptionFn: func(_ context.Context, _, _ string) error { return nil },
		deleteFn:        func(_ context.Context, _ string) error { return nil },
		likeFn:          func(_ context.Context, _, _ string) error { return nil },
		unlikeFn:        func(_ context.Context, _, _ string) error { return nil },
	}
}

// userRepoStub is a stub for repository.UserRepository.
type userRepoStub struct {
	getByIDFn func(context.Context, string) (*models.User, error)
}

func (s *userRepoStub) GetByID(ctx context.Context, id string) (*models.User, error) {
	return s.getByIDFn(ctx, id)
}
func (s *userRepoStub) GetByEmail(_ context.Context, _ string) (*models.User, error) {
	return nil, nil
}
func (s *userRepoStub) Create(_ context.Context, _ *models.User) error { return nil }
func (s *userRepoStub) UpdateDisplayName(_ context.Context, _, _ string) error {
	return nil
}

func knownUsers(users ...*models.User) *userRepoStub {
	return &userRepoStub{getByIDFn: func(_ context.Context, id string) (*models.User, error) {
		for _, u := range users {
			if u.ID == id {
				return u, nil
			}
		}
		return nil, models.NewNotFoundError("User", id)
	}}
}

// busRecorder is a notifications.Bus that keeps published events.
type busRecorder struct {
	mu     sync.Mutex
	events []notifications.ChangeEvent
	err    error
}

func (b *busRecorder) Publish(_ context.Context, ev notifications.ChangeEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.events = append(b.events, ev)
	return nil
}
func (b *busRecorder) Subscribe(_ context.Context, _ notifications.Handler) error { return nil }
func (b *busRecorder) Name() string                                               { return "recorder" }
func (b *busRecorder) Close() error                                               { return nil }

func (b *busRecorder) kinds() []notifications.ChangeKind {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]notifications.ChangeKind, 0, len(b.events))
	for _, ev := range b.events {
		out = append(out, ev.Kind)
	}
	return out
}

type mediaCleanerStub struct {
	urls []string
	err  error
}

func (m *mediaCleanerStub) DeleteByURL(_ context.Context, url string) error {
	m.urls = append(m.urls, url)
	return m.err
}

func strPtr(s string) *string { return &s }

// newIntegrationPostService wires the service to sqlite-backed repositories.
func newIntegrationPostService(t *testing.T) (*PostService, *busRecorder, repository.UserRepository) {
	t.Helper()
	db := testutil.NewDB(t)
	users := repository.NewUserRepository(db)
	bus := &busRecorder{}
	svc := NewPostService(repository.NewPostRepository(db), repository.NewCommentRepository(db), users, bus, nil)
	return svc, bus, users
}

func seedUser(t *testing.T, users repository.UserRepository, id, name string) *models.User {
	t.Helper()
	u := &models.User{ID: id, Email: id + "@example.com", PasswordHash: "x"}
	if name != "" {
		u.DisplayName = &name
	}
	require.NoError(t, users.Create(context.Background(), u))
	return u
}

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, code, models.CodeOf(err), "unexpected error: %v", err)
}

func TestPostService_CreatePost(t *testing.T) {
	svc, bus, users := newIntegrationPostService(t)
	ctx := context.Background()
	seedUser(t, users, "u1", "Ada")
	seedUser(t, users, "u2", "")

	post, err := svc.CreatePost(ctx, CreatePostInput{UserID: "u1", Caption: "  <i>hello</i> "})
	require.NoError(t, err)
	assert.Equal(t, "hello", post.Caption)
	assert.Equal(t, "Ada", post.UserName)
	assert.Equal(t, "u1@example.com", post.UserEmail)
	assert.Nil(t, post.ImageURL)
	assert.Empty(t, post.Likes)
	assert.Empty(t, post.Comments)
	assert.NotNil(t, post.Likes)
	assert.NotNil(t, post.Comments)

	imageOnly, err := svc.CreatePost(ctx, CreatePostInput{UserID: "u2", ImageURL: strPtr(" http://x/media/posts/u2/1.jpg ")})
	require.NoError(t, err)
	assert.Equal(t, models.DefaultUserName, imageOnly.UserName)
	require.NotNil(t, imageOnly.ImageURL)
	assert.Equal(t, "http://x/media/posts/u2/1.jpg", *imageOnly.ImageURL)

	assert.Equal(t, []notifications.ChangeKind{notifications.KindInsert, notifications.KindInsert}, bus.kinds())

	stored, err := svc.GetPost(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", stored.Caption)
}

func TestPostService_CreatePostRejects(t *testing.T) {
	repo := noopPostRepo()
	created := false
	repo.createFn = func(_ context.Context, _ *models.Post) error {
		created = true
		return nil
	}
	svc := NewPostService(repo, nil, knownUsers(&models.User{ID: "u1"}), nil, nil)
	ctx := context.Background()

	_, err := svc.CreatePost(ctx, CreatePostInput{UserID: "u1", Caption: "   ", ImageURL: strPtr("  ")})
	assertCode(t, err, models.CodeValidation)

	_, err = svc.CreatePost(ctx, CreatePostInput{UserID: "u1", Caption: "<script></script>"})
	assertCode(t, err, models.CodeValidation)

	_, err = svc.CreatePost(ctx, CreatePostInput{Caption: "hi"})
	assertCode(t, err, models.CodeAuthRequired)

	_, err = svc.CreatePost(ctx, CreatePostInput{UserID: "deleted-user", Caption: "hi"})
	assertCode(t, err, models.CodeAuthRequired)

	assert.False(t, created, "no document may be written")
}

func TestPostService_CreatePostRepoFailure(t *testing.T) {
	repo := noopPostRepo()
	repo.createFn = func(_ context.Context, _ *models.Post) error { return errors.New("disk full") }
	bus := &busRecorder{}
	svc := NewPostService(repo, nil, knownUsers(&models.User{ID: "u1"}), bus, nil)

	_, err := svc.CreatePost(context.Background(), CreatePostInput{UserID: "u1", Caption: "hi"})
	assertCode(t, err, models.CodeMutation)
	assert.Empty(t, bus.kinds())
}

func TestPostService_PublishFailureDoesNotFailWrite(t *testing.T) {
	bus := &busRecorder{err: errors.New("broker down")}
	svc := NewPostService(noopPostRepo(), nil, knownUsers(&models.User{ID: "u1"}), bus, nil)

	post, err := svc.CreatePost(context.Background(), CreatePostInput{UserID: "u1", Caption: "hi"})
	require.NoError(t, err)
	assert.NotEmpty(t, post.ID)
}

func TestPostService_EditCaption(t *testing.T) {
	svc, bus, users := newIntegrationPostService(t)
	ctx := context.Background()
	seedUser(t, users, "owner", "Owner")
	seedUser(t, users, "other", "Other")

	post, err := svc.CreatePost(ctx, CreatePostInput{UserID: "owner", Caption: "first"})
	require.NoError(t, err)

	updated, err := svc.EditCaption(ctx, EditCaptionInput{UserID: "owner", PostID: post.ID, Caption: "X"})
	require.NoError(t, err)
	assert.Equal(t, "X", updated.Caption)

	reread, err := svc.GetPost(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, "X", reread.Caption)

	_, err = svc.EditCaption(ctx, EditCaptionInput{UserID: "owner", PostID: post.ID, Caption: "  "})
	assertCode(t, err, models.CodeValidation)

	_, err = svc.EditCaption(ctx, EditCaptionInput{UserID: "other", PostID: post.ID, Caption: "hijack"})
	assertCode(t, err, models.CodeMutation)

	_, err = svc.EditCaption(ctx, EditCaptionInput{UserID: "owner", PostID: "missing", Caption: "Y"})
	assertCode(t, err, models.CodeNotFound)

	assert.Equal(t, []notifications.ChangeKind{notifications.KindInsert, notifications.KindUpdate}, bus.kinds())
}

func TestPostService_DeletePost(t *testing.T) {
	repo := noopPostRepo()
	image := "http://localhost:8375/media/posts/owner/1.jpg"
	repo.getByIDFn = func(_ context.Context, id string) (*models.Post, error) {
		return &models.Post{ID: id, UserID: "owner", ImageURL: &image}, nil
	}
	deleted := ""
	repo.deleteFn = func(_ context.Context, id string) error {
		deleted = id
		return nil
	}
	bus := &busRecorder{}
	cleaner := &mediaCleanerStub{err: errors.New("bucket gone")}
	svc := NewPostService(repo, nil, knownUsers(), bus, cleaner)
	ctx := context.Background()

	err := svc.DeletePost(ctx, "intruder", "p1")
	assertCode(t, err, models.CodeMutation)
	assert.Empty(t, deleted)

	err = svc.DeletePost(ctx, "", "p1")
	assertCode(t, err, models.CodeAuthRequired)

	require.NoError(t, svc.DeletePost(ctx, "owner", "p1"))
	assert.Equal(t, "p1", deleted)
	assert.Equal(t, []string{image}, cleaner.urls)
	assert.Equal(t, []notifications.ChangeKind{notifications.KindDelete}, bus.kinds())
}

func TestPostService_DeleteCascades(t *testing.T) {
	svc, _, users := newIntegrationPostService(t)
	ctx := context.Background()
	seedUser(t, users, "owner", "Owner")
	seedUser(t, users, "fan", "Fan")

	post, err := svc.CreatePost(ctx, CreatePostInput{UserID: "owner", Caption: "bye"})
	require.NoError(t, err)
	require.NoError(t, svc.Like(ctx, "fan", post.ID))
	_, err = svc.AddComment(ctx, AddCommentInput{UserID: "fan", PostID: post.ID, Text: "nice"})
	require.NoError(t, err)

	require.NoError(t, svc.DeletePost(ctx, "owner", post.ID))
	_, err = svc.GetPost(ctx, post.ID)
	assertCode(t, err, models.CodeNotFound)
}

func TestPostService_LikeIsIdempotent(t *testing.T) {
	svc, bus, users := newIntegrationPostService(t)
	ctx := context.Background()
	seedUser(t, users, "owner", "Owner")
	seedUser(t, users, "fan", "Fan")

	post, err := svc.CreatePost(ctx, CreatePostInput{UserID: "owner", Caption: "like me"})
	require.NoError(t, err)

	require.NoError(t, svc.Like(ctx, "fan", post.ID))
	require.NoError(t, svc.Like(ctx, "fan", post.ID))
	got, err := svc.GetPost(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"fan"}, got.Likes)

	require.NoError(t, svc.Unlike(ctx, "fan", post.ID))
	require.NoError(t, svc.Unlike(ctx, "fan", post.ID))
	got, err = svc.GetPost(ctx, post.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Likes)

	err = svc.Like(ctx, "", post.ID)
	assertCode(t, err, models.CodeAuthRequired)

	err = svc.Like(ctx, "fan", "missing")
	assertCode(t, err, models.CodeNotFound)

	bus.mu.Lock()
	last := bus.events[len(bus.events)-1]
	bus.mu.Unlock()
	assert.Equal(t, post.ID, last.DocID)
	assert.Equal(t, "owner", last.OwnerID)
}

func TestPostService_LikeRepoFailure(t *testing.T) {
	repo := noopPostRepo()
	repo.likeFn = func(_ context.Context, _, _ string) error { return errors.New("deadlock") }
	svc := NewPostService(repo, nil, knownUsers(), nil, nil)

	err := svc.Like(context.Background(), "fan", "p1")
	assertCode(t, err, models.CodeMutation)
}

func TestPostService_AddComment(t *testing.T) {
	svc, _, users := newIntegrationPostService(t)
	ctx := context.Background()
	seedUser(t, users, "owner", "Owner")
	seedUser(t, users, "anon", "")

	post, err := svc.CreatePost(ctx, CreatePostInput{UserID: "owner", Caption: "talk"})
	require.NoError(t, err)

	first, err := svc.AddComment(ctx, AddCommentInput{UserID: "anon", PostID: post.ID, Text: " first "})
	require.NoError(t, err)
	assert.Equal(t, models.DefaultUserName, first.UserName)
	assert.Equal(t, "first", first.Text)

	svc.now = func() time.Time { return first.CreatedAt.Add(time.Second) }
	_, err = svc.AddComment(ctx, AddCommentInput{UserID: "owner", PostID: post.ID, Text: "second"})
	require.NoError(t, err)

	got, err := svc.GetPost(ctx, post.ID)
	require.NoError(t, err)
	require.Len(t, got.Comments, 2)
	assert.Equal(t, "first", got.Comments[0].Text)
	assert.Equal(t, "second", got.Comments[1].Text)

	_, err = svc.AddComment(ctx, AddCommentInput{UserID: "owner", PostID: post.ID, Text: "  "})
	assertCode(t, err, models.CodeValidation)

	_, err = svc.AddComment(ctx, AddCommentInput{PostID: post.ID, Text: "hi"})
	assertCode(t, err, models.CodeAuthRequired)

	_, err = svc.AddComment(ctx, AddCommentInput{UserID: "owner", PostID: "missing", Text: "hi"})
	assertCode(t, err, models.CodeNotFound)
}

func TestPostService_FetchIsUnbounded(t *testing.T) {
	var got []repository.ListFilter
	posts := noopPostRepo()
	posts.listFn = func(_ context.Context, f repository.ListFilter) ([]*models.Post, error) {
		got = append(got, f)
		return nil, nil
	}
	svc := NewPostService(posts, nil, nil, nil, nil)

	_, err := svc.Fetch(context.Background(), livequery.Query{Collection: models.PostsCollection})
	require.NoError(t, err)
	_, err = svc.Fetch(context.Background(), livequery.Query{Collection: models.PostsCollection, UserID: "a"})
	require.NoError(t, err)
	_, err = svc.ListPosts(context.Background(), "a", 10)
	require.NoError(t, err)

	assert.Equal(t, []repository.ListFilter{
		{Unbounded: true},
		{UserID: "a", Unbounded: true},
		{UserID: "a", Limit: 10},
	}, got)
}

func TestPostService_FetchOrdersNewestFirst(t *testing.T) {
	svc, _, users := newIntegrationPostService(t)
	ctx := context.Background()
	seedUser(t, users, "a", "A")
	seedUser(t, users, "b", "B")

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	var ids []string
	for i, owner := range []string{"a", "b", "a"} {
		at := base.Add(time.Duration(i) * time.Minute)
		svc.now = func() time.Time { return at }
		p, err := svc.CreatePost(ctx, CreatePostInput{UserID: owner, Caption: "post"})
		require.NoError(t, err)
		ids = append(ids, p.ID)
	}

	all, err := svc.Fetch(ctx, livequery.Query{Collection: models.PostsCollection})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{ids[2], ids[1], ids[0]}, []string{all[0].ID, all[1].ID, all[2].ID})

	mine, err := svc.Fetch(ctx, livequery.Query{Collection: models.PostsCollection, UserID: "a"})
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, ids[2], mine[0].ID)

	listed, err := svc.ListPosts(ctx, "b", 10)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, ids[1], listed[0].ID)
}
