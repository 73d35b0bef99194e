// Package seed provides database seeding utilities for development and testing.
package seed

import (
	"context"
	"errors"
	"fmt"
	"log"

	"framez/internal/models"

	"gorm.io/gorm"
)

// Options configuration for the seeder
type Options struct {
	NumUsers    int
	NumPosts    int
	ShouldClean bool
	// MaxDays bounds how far back generated posts are dated.
	MaxDays int
	// MaxComments and MaxLikes cap engagement per post.
	MaxComments int
	MaxLikes    int
	BatchSize   int
	SkipBcrypt  bool
	DryRun      bool
}

// DefaultOptions is what cmd/seed uses when no flags are given.
func DefaultOptions() Options {
	return Options{
		NumUsers:    20,
		NumPosts:    100,
		ShouldClean: true,
		MaxDays:     30,
		MaxComments: 4,
		MaxLikes:    8,
		BatchSize:   100,
	}
}

// Summary counts what a seeding run created.
type Summary struct {
	Users    int
	Posts    int
	Comments int
	Likes    int
}

// Seeder fills a database with generated Framez data.
type Seeder struct {
	db      *gorm.DB
	opts    Options
	factory *Factory
}

// NewSeeder creates a Seeder bound to db.
func NewSeeder(db *gorm.DB, opts Options) *Seeder {
	return &Seeder{db: db, opts: opts, factory: NewFactory(db, opts)}
}

// Factory exposes the record builders used by the seeder.
func (s *Seeder) Factory() *Factory {
	return s.factory
}

// ClearAll removes every like, comment, post and user. Child rows go first so
// the delete works without cascading foreign keys.
func (s *Seeder) ClearAll(ctx context.Context) error {
	if s.opts.DryRun {
		log.Println("[dry-run] ClearAll skipped")
		return nil
	}
	log.Println("🗑️  Clearing existing data...")
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, model := range []any{&models.Like{}, &models.Comment{}, &models.Post{}, &models.User{}} {
			if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(model).Error; err != nil {
				return fmt.Errorf("clear %T: %w", model, err)
			}
		}
		return nil
	})
}

// Run generates users, posts and engagement according to the seeder options.
func (s *Seeder) Run(ctx context.Context) (Summary, error) {
	var sum Summary
	if s.opts.NumUsers <= 0 {
		return sum, errors.New("seed: at least one user is required")
	}
	log.Printf("🌱 Starting database seeding with %d users and %d posts...", s.opts.NumUsers, s.opts.NumPosts)

	if s.opts.ShouldClean {
		if err := s.ClearAll(ctx); err != nil {
			return sum, err
		}
	}

	users := make([]*models.User, 0, s.opts.NumUsers)
	for i := 0; i < s.opts.NumUsers; i++ {
		user, err := s.factory.CreateUser(ctx)
		if err != nil {
			return sum, fmt.Errorf("failed to create users: %w", err)
		}
		users = append(users, user)
	}
	sum.Users = len(users)
	log.Printf("✓ %d test users created", sum.Users)

	posts := make([]*models.Post, 0, s.opts.NumPosts)
	for i := 0; i < s.opts.NumPosts; i++ {
		posts = append(posts, s.factory.BuildPost(users[s.factory.rnd.Intn(len(users))]))
	}
	if err := s.factory.CreatePostsBatch(ctx, posts); err != nil {
		return sum, fmt.Errorf("failed to create posts: %w", err)
	}
	sum.Posts = len(posts)
	log.Printf("✓ %d posts created", sum.Posts)

	for _, post := range posts {
		for n := s.factory.rnd.Intn(s.opts.MaxLikes + 1); n > 0; n-- {
			if err := s.factory.CreateLike(ctx, users[s.factory.rnd.Intn(len(users))], post); err != nil {
				return sum, fmt.Errorf("failed to create likes: %w", err)
			}
		}
		sum.Likes += len(post.Likes)
		for n := s.factory.rnd.Intn(s.opts.MaxComments + 1); n > 0; n-- {
			if _, err := s.factory.CreateComment(ctx, users[s.factory.rnd.Intn(len(users))], post); err != nil {
				return sum, fmt.Errorf("failed to create comments: %w", err)
			}
			sum.Comments++
		}
	}
	log.Printf("✓ %d likes and %d comments created", sum.Likes, sum.Comments)

	log.Println("🎉 Database seeding completed successfully!")
	return sum, nil
}

// Seed populates the database with generated test data.
func Seed(ctx context.Context, db *gorm.DB, opts Options) error {
	_, err := NewSeeder(db, opts).Run(ctx)
	return err
}

// Demo loads the bundled demo fixtures when the user table is empty, so a
// fresh development server has something to show. It is a no-op otherwise.
func Demo(ctx context.Context, db *gorm.DB) error {
	var count int64
	if err := db.WithContext(ctx).Model(&models.User{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	fx, err := DemoFixtures()
	if err != nil {
		return err
	}
	sum, err := ApplyFixtures(ctx, db, fx, Options{})
	if err != nil {
		return err
	}
	log.Printf("🌱 Demo data loaded: %d users, %d posts", sum.Users, sum.Posts)
	return nil
}
