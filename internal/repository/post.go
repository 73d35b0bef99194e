package repository

import (
	"context"
	"errors"
	"time"

	"framez/internal/models"
	"framez/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MaxListLimit caps a single post listing.
const MaxListLimit = 500

// ListFilter narrows a post listing. An empty UserID lists every post.
// Limit is clamped to MaxListLimit unless Unbounded is set.
type ListFilter struct {
	UserID    string
	Limit     int
	Unbounded bool
}

// PostRepository defines the interface for post data operations
type PostRepository interface {
	Create(ctx context.Context, post *models.Post) error
	GetByID(ctx context.Context, id string) (*models.Post, error)
	List(ctx context.Context, filter ListFilter) ([]*models.Post, error)
	UpdateCaption(ctx context.Context, id, caption string) error
	Delete(ctx context.Context, id string) error
	Like(ctx context.Context, postID, userID string) error
	Unlike(ctx context.Context, postID, userID string) error
}

// postRepository implements PostRepository
type postRepository struct {
	db  *gorm.DB
	log *observability.RepoLogger
}

// NewPostRepository creates a new post repository
func NewPostRepository(db *gorm.DB) PostRepository {
	return &postRepository{db: db, log: observability.NewRepoLogger("posts")}
}

func (r *postRepository) Create(ctx context.Context, post *models.Post) error {
	defer observability.TrackQuery("create", "posts")()

	// Likes and comments are attached through their own tables.
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Create(post).Error; err != nil {
		r.log.LogError(ctx, err, "create")
		return err
	}
	post.Normalize()
	r.log.LogCreate(ctx, map[string]any{"post_id": post.ID, "user_id": post.UserID})
	return nil
}

// withDocument preloads the like set and the comment list in their stable orders.
func withDocument(db *gorm.DB) *gorm.DB {
	return db.
		Preload("LikeRows", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC, user_id ASC")
		}).
		Preload("Comments", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC, id ASC")
		})
}

func (r *postRepository) GetByID(ctx context.Context, id string) (*models.Post, error) {
	defer observability.TrackQuery("get_by_id", "posts")()

	var post models.Post
	if err := withDocument(r.db.WithContext(ctx)).First(&post, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Post", id)
		}
		return nil, err
	}
	post.Normalize()
	return &post, nil
}

// List returns posts newest first. Equal timestamps fall back to id DESC so the order is stable.
func (r *postRepository) List(ctx context.Context, filter ListFilter) ([]*models.Post, error) {
	defer observability.TrackQuery("list", "posts")()

	q := withDocument(r.db.WithContext(ctx)).Order("created_at DESC").Order("id DESC")
	if !filter.Unbounded {
		limit := filter.Limit
		if limit <= 0 || limit > MaxListLimit {
			limit = MaxListLimit
		}
		q = q.Limit(limit)
	}
	if filter.UserID != "" {
		q = q.Where("user_id = ?", filter.UserID)
	}

	var posts []*models.Post
	if err := q.Find(&posts).Error; err != nil {
		return nil, err
	}
	for _, p := range posts {
		p.Normalize()
	}
	return posts, nil
}

func (r *postRepository) UpdateCaption(ctx context.Context, id, caption string) error {
	defer observability.TrackQuery("update_caption", "posts")()

	result := r.db.WithContext(ctx).Model(&models.Post{}).Where("id = ?", id).
		Updates(map[string]any{"caption": caption, "updated_at": time.Now().UTC()})
	if result.Error != nil {
		r.log.LogError(ctx, result.Error, "update")
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.NewNotFoundError("Post", id)
	}
	r.log.LogUpdate(ctx, map[string]any{"post_id": id, "field": "caption"})
	return nil
}

// Delete removes the post together with its likes and comments.
func (r *postRepository) Delete(ctx context.Context, id string) error {
	defer observability.TrackQuery("delete", "posts")()

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("post_id = ?", id).Delete(&models.Like{}).Error; err != nil {
			return err
		}
		if err := tx.Where("post_id = ?", id).Delete(&models.Comment{}).Error; err != nil {
			return err
		}
		result := tx.Where("id = ?", id).Delete(&models.Post{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return models.NewNotFoundError("Post", id)
		}
		return nil
	})
	if err != nil {
		if !models.HasCode(err, models.CodeNotFound) {
			r.log.LogError(ctx, err, "delete")
		}
		return err
	}
	r.log.LogDelete(ctx, map[string]any{"post_id": id})
	return nil
}

// Like adds userID to the like set. Repeating it is a no-op.
func (r *postRepository) Like(ctx context.Context, postID, userID string) error {
	defer observability.TrackQuery("like", "likes")()

	like := &models.Like{PostID: postID, UserID: userID, CreatedAt: time.Now().UTC()}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(like).Error
	if err != nil {
		r.log.LogError(ctx, err, "like")
	}
	return err
}

// Unlike removes userID from the like set. Removing an absent like is a no-op.
func (r *postRepository) Unlike(ctx context.Context, postID, userID string) error {
	defer observability.TrackQuery("unlike", "likes")()

	err := r.db.WithContext(ctx).Where("post_id = ? AND user_id = ?", postID, userID).Delete(&models.Like{}).Error
	if err != nil {
		r.log.LogError(ctx, err, "unlike")
	}
	return err
}
