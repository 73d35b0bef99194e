package repository

import (
	"context"

	"framez/internal/models"
	"framez/internal/observability"

	"gorm.io/gorm"
)

// CommentRepository defines persistence operations for comments.
// Comments are append-only, so there is no update or delete.
type CommentRepository interface {
	Append(ctx context.Context, comment *models.Comment) error
	ListByPost(ctx context.Context, postID string) ([]models.Comment, error)
}

type commentRepository struct {
	db  *gorm.DB
	log *observability.RepoLogger
}

// NewCommentRepository returns a new CommentRepository implementation.
func NewCommentRepository(db *gorm.DB) CommentRepository {
	return &commentRepository{db: db, log: observability.NewRepoLogger("comments")}
}

func (r *commentRepository) Append(ctx context.Context, comment *models.Comment) error {
	defer observability.TrackQuery("append", "comments")()

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Post{}).Where("id = ?", comment.PostID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return models.NewNotFoundError("Post", comment.PostID)
		}
		if err := tx.Create(comment).Error; err != nil {
			r.log.LogError(ctx, err, "create")
			return err
		}
		r.log.LogCreate(ctx, map[string]any{"comment_id": comment.ID, "post_id": comment.PostID})
		return nil
	})
}

func (r *commentRepository) ListByPost(ctx context.Context, postID string) ([]models.Comment, error) {
	defer observability.TrackQuery("list_by_post", "comments")()

	var comments []models.Comment
	err := r.db.WithContext(ctx).
		Where("post_id = ?", postID).
		Order("created_at ASC, id ASC").
		Find(&comments).Error
	return comments, err
}
