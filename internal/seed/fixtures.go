package seed

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"framez/internal/models"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

//go:embed demo.yaml
var demoYAML []byte

// Fixtures is a hand-written data set, usually loaded from YAML.
type Fixtures struct {
	Users []FixtureUser `yaml:"users"`
	Posts []FixturePost `yaml:"posts"`
}

// FixtureUser is an account in a fixture file. Password defaults to DefaultPassword.
type FixtureUser struct {
	Email       string `yaml:"email"`
	DisplayName string `yaml:"displayName"`
	Password    string `yaml:"password"`
}

// FixturePost is a post in a fixture file. Author and LikedBy refer to users by email.
type FixturePost struct {
	Author   string           `yaml:"author"`
	Caption  string           `yaml:"caption"`
	ImageURL string           `yaml:"imageUrl"`
	Age      time.Duration    `yaml:"age"`
	LikedBy  []string         `yaml:"likedBy"`
	Comments []FixtureComment `yaml:"comments"`
}

// FixtureComment is a comment in a fixture file.
type FixtureComment struct {
	Author string `yaml:"author"`
	Text   string `yaml:"text"`
}

// ParseFixtures decodes YAML fixtures and checks that every reference resolves.
func ParseFixtures(r io.Reader) (*Fixtures, error) {
	var fx Fixtures
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&fx); err != nil {
		return nil, fmt.Errorf("decode fixtures: %w", err)
	}
	if err := fx.validate(); err != nil {
		return nil, err
	}
	return &fx, nil
}

// LoadFixtures reads fixtures from a YAML file.
func LoadFixtures(path string) (*Fixtures, error) {
	f, err := os.Open(path) // #nosec G304: path comes from the operator
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return ParseFixtures(f)
}

// DemoFixtures returns the data set bundled with the binary.
func DemoFixtures() (*Fixtures, error) {
	return ParseFixtures(bytes.NewReader(demoYAML))
}

func (fx *Fixtures) validate() error {
	known := make(map[string]bool, len(fx.Users))
	for _, u := range fx.Users {
		email := strings.ToLower(strings.TrimSpace(u.Email))
		if email == "" {
			return fmt.Errorf("fixtures: user without email")
		}
		if known[email] {
			return fmt.Errorf("fixtures: duplicate user %s", email)
		}
		known[email] = true
	}
	ref := func(email, where string) error {
		if !known[strings.ToLower(strings.TrimSpace(email))] {
			return fmt.Errorf("fixtures: %s references unknown user %q", where, email)
		}
		return nil
	}
	for i, p := range fx.Posts {
		where := fmt.Sprintf("post %d", i)
		if err := ref(p.Author, where); err != nil {
			return err
		}
		if strings.TrimSpace(p.Caption) == "" && strings.TrimSpace(p.ImageURL) == "" {
			return fmt.Errorf("fixtures: %s has neither caption nor image", where)
		}
		for _, l := range p.LikedBy {
			if err := ref(l, where+" like"); err != nil {
				return err
			}
		}
		for _, c := range p.Comments {
			if err := ref(c.Author, where+" comment"); err != nil {
				return err
			}
		}
	}
	return nil
}

// ApplyFixtures writes fx to db in one transaction. Users that already exist
// by email are reused rather than recreated.
func ApplyFixtures(ctx context.Context, db *gorm.DB, fx *Fixtures, opts Options) (Summary, error) {
	var sum Summary
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		factory := NewFactory(tx, opts)
		users := make(map[string]*models.User, len(fx.Users))

		for _, fu := range fx.Users {
			email := strings.ToLower(strings.TrimSpace(fu.Email))
			var existing models.User
			res := tx.Where("email = ?", email).Limit(1).Find(&existing)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected > 0 {
				users[email] = &existing
				continue
			}
			user, err := factory.CreateUser(ctx, func(u *models.User) {
				u.Email = email
				u.DisplayName = nil
				if name := strings.TrimSpace(fu.DisplayName); name != "" {
					u.DisplayName = &name
				}
			})
			if err != nil {
				return fmt.Errorf("create %s: %w", email, err)
			}
			if fu.Password != "" && !opts.SkipBcrypt {
				hashed, err := bcrypt.GenerateFromPassword([]byte(fu.Password), bcrypt.DefaultCost)
				if err != nil {
					return err
				}
				if err := tx.Model(user).Update("password_hash", string(hashed)).Error; err != nil {
					return err
				}
			}
			users[email] = user
			sum.Users++
		}

		lookup := func(email string) *models.User {
			return users[strings.ToLower(strings.TrimSpace(email))]
		}
		now := time.Now().UTC()
		for _, fp := range fx.Posts {
			author := lookup(fp.Author)
			post, err := factory.CreatePost(ctx, author, func(p *models.Post) {
				p.Caption = strings.TrimSpace(fp.Caption)
				p.ImageURL = nil
				if img := strings.TrimSpace(fp.ImageURL); img != "" {
					p.ImageURL = &img
				}
				p.CreatedAt = now.Add(-fp.Age)
			})
			if err != nil {
				return err
			}
			sum.Posts++
			for _, email := range fp.LikedBy {
				if err := factory.CreateLike(ctx, lookup(email), post); err != nil {
					return err
				}
			}
			sum.Likes += len(post.Likes)
			for i, fc := range fp.Comments {
				at := post.CreatedAt.Add(time.Duration(i+1) * time.Minute)
				if _, err := factory.CreateComment(ctx, lookup(fc.Author), post, func(c *models.Comment) {
					c.Text = fc.Text
					c.CreatedAt = at
				}); err != nil {
					return err
				}
				sum.Comments++
			}
		}
		return nil
	})
	return sum, err
}
