package seed

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"time"

	"framez/internal/models"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultPassword is the password every generated account signs in with.
const DefaultPassword = "password123"

// Factory builds and persists sample Framez records. With DryRun set nothing
// is written and builders only log what they would create.
type Factory struct {
	db   *gorm.DB
	opts Options
	rnd  *rand.Rand
	hash string
}

// NewFactory creates a Factory bound to db.
func NewFactory(db *gorm.DB, opts Options) *Factory {
	return &Factory{
		db:   db,
		opts: opts,
		rnd:  rand.New(rand.NewSource(time.Now().UnixNano())), // #nosec G404
	}
}

func (f *Factory) passwordHash() (string, error) {
	if f.hash != "" {
		return f.hash, nil
	}
	if f.opts.SkipBcrypt {
		f.hash = DefaultPassword
		return f.hash, nil
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(DefaultPassword), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	f.hash = string(hashed)
	return f.hash, nil
}

// createdAt spreads timestamps over the last MaxDays days.
func (f *Factory) createdAt() time.Time {
	maxDays := f.opts.MaxDays
	if maxDays <= 0 {
		maxDays = 30
	}
	back := time.Duration(f.rnd.Intn(maxDays))*24*time.Hour +
		time.Duration(f.rnd.Intn(24))*time.Hour +
		time.Duration(f.rnd.Intn(60))*time.Minute
	return time.Now().Add(-back).UTC()
}

// BuildUser returns an unsaved user with a fake name and address.
func (f *Factory) BuildUser(overrides ...func(*models.User)) (*models.User, error) {
	hash, err := f.passwordHash()
	if err != nil {
		return nil, err
	}
	name := gofakeit.Name()
	user := &models.User{
		ID:           uuid.NewString(),
		Email:        strings.ToLower(fmt.Sprintf("%s%d@%s", gofakeit.Username(), gofakeit.Number(100, 999), gofakeit.DomainName())),
		DisplayName:  &name,
		PasswordHash: hash,
	}
	for _, override := range overrides {
		override(user)
	}
	return user, nil
}

// CreateUser builds and persists a sample user.
func (f *Factory) CreateUser(ctx context.Context, overrides ...func(*models.User)) (*models.User, error) {
	user, err := f.BuildUser(overrides...)
	if err != nil {
		return nil, err
	}
	if f.opts.DryRun {
		log.Printf("[dry-run] CreateUser: %s", user.Email)
		return user, nil
	}
	if err := f.db.WithContext(ctx).Create(user).Error; err != nil {
		return nil, err
	}
	return user, nil
}

// BuildPost returns an unsaved post authored by user. Roughly two in three
// generated posts carry a picsum image.
func (f *Factory) BuildPost(user *models.User, overrides ...func(*models.Post)) *models.Post {
	post := &models.Post{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		UserName:  user.Name(),
		UserEmail: user.Email,
		Caption:   gofakeit.Sentence(f.rnd.Intn(12) + 3),
		CreatedAt: f.createdAt(),
		Likes:     []string{},
		Comments:  []models.Comment{},
	}
	if f.rnd.Intn(3) > 0 {
		url := fmt.Sprintf("https://picsum.photos/seed/%s/800/800", gofakeit.UUID())
		post.ImageURL = &url
	}
	for _, override := range overrides {
		override(post)
	}
	return post
}

// CreatePost builds and persists a sample post for user.
func (f *Factory) CreatePost(ctx context.Context, user *models.User, overrides ...func(*models.Post)) (*models.Post, error) {
	post := f.BuildPost(user, overrides...)
	if f.opts.DryRun {
		log.Printf("[dry-run] CreatePost: user=%s caption=%q", post.UserID, post.Caption)
		return post, nil
	}
	if err := f.db.WithContext(ctx).Omit(clause.Associations).Create(post).Error; err != nil {
		return nil, err
	}
	return post, nil
}

// CreatePostsBatch persists posts in a single insert.
func (f *Factory) CreatePostsBatch(ctx context.Context, posts []*models.Post) error {
	if len(posts) == 0 {
		return nil
	}
	if f.opts.DryRun {
		log.Printf("[dry-run] CreatePostsBatch: %d posts (no DB write)", len(posts))
		return nil
	}
	batch := f.opts.BatchSize
	if batch <= 0 {
		batch = 100
	}
	return f.db.WithContext(ctx).Omit(clause.Associations).CreateInBatches(posts, batch).Error
}

// CreateComment appends a sample comment by user to post. Comments are never
// older than the post they belong to.
func (f *Factory) CreateComment(ctx context.Context, user *models.User, post *models.Post, overrides ...func(*models.Comment)) (*models.Comment, error) {
	at := post.CreatedAt.Add(time.Duration(f.rnd.Intn(48*60)+1) * time.Minute)
	if now := time.Now().UTC(); at.After(now) {
		at = now
	}
	comment := &models.Comment{
		ID:        uuid.NewString(),
		PostID:    post.ID,
		UserID:    user.ID,
		UserName:  user.Name(),
		Text:      gofakeit.Sentence(f.rnd.Intn(10) + 2),
		CreatedAt: at,
	}
	for _, override := range overrides {
		override(comment)
	}
	if f.opts.DryRun {
		return comment, nil
	}
	if err := f.db.WithContext(ctx).Create(comment).Error; err != nil {
		return nil, err
	}
	post.Comments = append(post.Comments, *comment)
	return comment, nil
}

// CreateLike records a like from user on post. Repeated likes are ignored.
func (f *Factory) CreateLike(ctx context.Context, user *models.User, post *models.Post) error {
	if post.LikedBy(user.ID) {
		return nil
	}
	if !f.opts.DryRun {
		like := &models.Like{PostID: post.ID, UserID: user.ID, CreatedAt: time.Now().UTC()}
		if err := f.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(like).Error; err != nil {
			return err
		}
	}
	post.Likes = append(post.Likes, user.ID)
	return nil
}
