package service

import (
	"context"
	"strings"
	"time"

	"framez/internal/livequery"
	"framez/internal/models"
	"framez/internal/notifications"
	"framez/internal/observability"
	"framez/internal/repository"
	"framez/internal/validation"

	"github.com/google/uuid"
)

// MediaCleaner removes stored media that belonged to a deleted post.
type MediaCleaner interface {
	DeleteByURL(ctx context.Context, url string) error
}

type PostService struct {
	postRepo    repository.PostRepository
	commentRepo repository.CommentRepository
	userRepo    repository.UserRepository
	bus         notifications.Bus
	media       MediaCleaner
	now         func() time.Time
}

type CreatePostInput struct {
	UserID   string
	Caption  string
	ImageURL *string
}

type EditCaptionInput struct {
	UserID  string
	PostID  string
	Caption string
}

type AddCommentInput struct {
	UserID string
	PostID string
	Text   string
}

// NewPostService wires the post rules. bus and media may be nil.
func NewPostService(
	postRepo repository.PostRepository,
	commentRepo repository.CommentRepository,
	userRepo repository.UserRepository,
	bus notifications.Bus,
	media MediaCleaner,
) *PostService {
	return &PostService{
		postRepo:    postRepo,
		commentRepo: commentRepo,
		userRepo:    userRepo,
		bus:         bus,
		media:       media,
		now:         time.Now,
	}
}

func (s *PostService) ListPosts(ctx context.Context, userID string, limit int) ([]*models.Post, error) {
	posts, err := s.postRepo.List(ctx, repository.ListFilter{UserID: userID, Limit: limit})
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return posts, nil
}

func (s *PostService) GetPost(ctx context.Context, id string) (*models.Post, error) {
	post, err := s.postRepo.GetByID(ctx, id)
	if err != nil {
		return nil, wrapRepoError(err)
	}
	return post, nil
}

// Fetch runs a live query. It satisfies livequery.Fetcher. Live queries see
// every matching post, so the listing cap does not apply.
func (s *PostService) Fetch(ctx context.Context, q livequery.Query) ([]*models.Post, error) {
	return s.postRepo.List(ctx, repository.ListFilter{UserID: q.UserID, Unbounded: true})
}

func (s *PostService) CreatePost(ctx context.Context, in CreatePostInput) (post *models.Post, err error) {
	span, ctx := observability.StartServiceSpan(ctx, "PostService", "CreatePost")
	defer span.End()
	defer func() { observability.RecordMutation("create", err) }()

	caption, err := validation.Caption(in.Caption)
	if err != nil {
		return nil, models.NewValidationError(err.Error())
	}
	var imageURL *string
	if in.ImageURL != nil && strings.TrimSpace(*in.ImageURL) != "" {
		u := strings.TrimSpace(*in.ImageURL)
		imageURL = &u
	}
	if caption == "" && imageURL == nil {
		return nil, models.NewValidationError("Add a caption or an image")
	}
	if in.UserID == "" {
		return nil, models.NewAuthRequiredError("You must be signed in to post")
	}

	author, err := s.userRepo.GetByID(ctx, in.UserID)
	if err != nil {
		if models.HasCode(err, models.CodeNotFound) {
			return nil, models.NewAuthRequiredError("You must be signed in to post")
		}
		return nil, wrapRepoError(err)
	}

	post = &models.Post{
		ID:        uuid.NewString(),
		UserID:    author.ID,
		UserName:  author.Name(),
		UserEmail: author.Email,
		Caption:   caption,
		ImageURL:  imageURL,
		CreatedAt: s.now().UTC(),
		Likes:     []string{},
		Comments:  []models.Comment{},
	}
	if err := s.postRepo.Create(ctx, post); err != nil {
		span.SetError(err)
		return nil, models.NewMutationError("Failed to create post", err)
	}

	s.publish(ctx, notifications.KindInsert, post.ID, post.UserID)
	return post, nil
}

func (s *PostService) EditCaption(ctx context.Context, in EditCaptionInput) (post *models.Post, err error) {
	defer func() { observability.RecordMutation("edit_caption", err) }()

	caption, err := validation.RequiredCaption(in.Caption)
	if err != nil {
		return nil, models.NewValidationError(err.Error())
	}

	post, err = s.ownedPost(ctx, in.UserID, in.PostID, "edit")
	if err != nil {
		return nil, err
	}
	if err := s.postRepo.UpdateCaption(ctx, post.ID, caption); err != nil {
		return nil, wrapMutationError("Failed to update caption", err)
	}
	post.Caption = caption

	s.publish(ctx, notifications.KindUpdate, post.ID, post.UserID)
	return post, nil
}

// DeletePost removes the post with its likes and comments. Stored media is
// removed on a best-effort basis.
func (s *PostService) DeletePost(ctx context.Context, userID, postID string) (err error) {
	defer func() { observability.RecordMutation("delete", err) }()

	post, err := s.ownedPost(ctx, userID, postID, "delete")
	if err != nil {
		return err
	}
	if err := s.postRepo.Delete(ctx, post.ID); err != nil {
		return wrapMutationError("Failed to delete post", err)
	}

	if s.media != nil && post.HasImage() {
		if err := s.media.DeleteByURL(ctx, *post.ImageURL); err != nil {
			observability.GlobalLogger.WarnContext(ctx, "failed to remove post media",
				"post_id", post.ID, "error", err.Error())
		}
	}

	s.publish(ctx, notifications.KindDelete, post.ID, post.UserID)
	return nil
}

// Like adds userID to the like set. Liking twice leaves a single entry.
func (s *PostService) Like(ctx context.Context, userID, postID string) (err error) {
	defer func() { observability.RecordMutation("like", err) }()
	return s.setLike(ctx, userID, postID, true)
}

// Unlike removes userID from the like set. Unliking twice is a no-op.
func (s *PostService) Unlike(ctx context.Context, userID, postID string) (err error) {
	defer func() { observability.RecordMutation("unlike", err) }()
	return s.setLike(ctx, userID, postID, false)
}

func (s *PostService) setLike(ctx context.Context, userID, postID string, liked bool) error {
	if userID == "" {
		return models.NewAuthRequiredError("You must be signed in to like posts")
	}
	post, err := s.postRepo.GetByID(ctx, postID)
	if err != nil {
		return wrapRepoError(err)
	}

	if liked {
		err = s.postRepo.Like(ctx, post.ID, userID)
	} else {
		err = s.postRepo.Unlike(ctx, post.ID, userID)
	}
	if err != nil {
		return models.NewMutationError("Failed to update like", err)
	}

	s.publish(ctx, notifications.KindUpdate, post.ID, post.UserID)
	return nil
}

// AddComment appends a comment. The author name comes from the account, not the client.
func (s *PostService) AddComment(ctx context.Context, in AddCommentInput) (comment *models.Comment, err error) {
	defer func() { observability.RecordMutation("comment", err) }()

	text, err := validation.CommentText(in.Text)
	if err != nil {
		return nil, models.NewValidationError(err.Error())
	}
	if in.UserID == "" {
		return nil, models.NewAuthRequiredError("You must be signed in to comment")
	}

	author, err := s.userRepo.GetByID(ctx, in.UserID)
	if err != nil {
		return nil, wrapRepoError(err)
	}
	post, err := s.postRepo.GetByID(ctx, in.PostID)
	if err != nil {
		return nil, wrapRepoError(err)
	}

	comment = &models.Comment{
		ID:        uuid.NewString(),
		PostID:    post.ID,
		UserID:    author.ID,
		UserName:  author.Name(),
		Text:      text,
		CreatedAt: s.now().UTC(),
	}
	if err := s.commentRepo.Append(ctx, comment); err != nil {
		return nil, wrapMutationError("Failed to add comment", err)
	}

	s.publish(ctx, notifications.KindUpdate, post.ID, post.UserID)
	return comment, nil
}

// ownedPost loads the post and applies the owner rule.
func (s *PostService) ownedPost(ctx context.Context, userID, postID, action string) (*models.Post, error) {
	if userID == "" {
		return nil, models.NewAuthRequiredError("You must be signed in to " + action + " posts")
	}
	post, err := s.postRepo.GetByID(ctx, postID)
	if err != nil {
		return nil, wrapRepoError(err)
	}
	if post.UserID != userID {
		return nil, models.NewMutationError("Only the owner can "+action+" this post", nil)
	}
	return post, nil
}

// publish reports a committed write. A failed publish only delays live queries,
// so it is logged and the write still succeeds.
func (s *PostService) publish(ctx context.Context, kind notifications.ChangeKind, postID, ownerID string) {
	if s.bus == nil {
		return
	}
	ev := notifications.ChangeEvent{
		Collection: models.PostsCollection,
		Kind:       kind,
		DocID:      postID,
		OwnerID:    ownerID,
		At:         s.now().UTC(),
	}
	if err := s.bus.Publish(ctx, ev); err != nil {
		observability.GlobalLogger.WarnContext(ctx, "failed to publish change event",
			"bus", s.bus.Name(), "post_id", postID, "kind", string(kind), "error", err.Error())
	}
}

// wrapRepoError keeps AppErrors from the repository and hides anything else.
func wrapRepoError(err error) error {
	if models.CodeOf(err) != "" {
		return err
	}
	return models.NewInternalError(err)
}

func wrapMutationError(message string, err error) error {
	if models.HasCode(err, models.CodeNotFound) {
		return err
	}
	return models.NewMutationError(message, err)
}
