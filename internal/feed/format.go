package feed

import (
	"fmt"
	"time"

	"framez/internal/models"
)

// TimeAgo renders t relative to now the way the feed shows timestamps.
func TimeAgo(t, now time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "Just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d/time.Minute))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d/time.Hour))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d/(24*time.Hour)))
	default:
		return t.Format("Jan 2, 2006")
	}
}

// ShareText is the message used when sharing a post.
func ShareText(p *models.Post) string {
	name := p.UserName
	if name == "" {
		name = models.DefaultUserName
	}
	return fmt.Sprintf("Check out this post from %s: %s", name, p.Caption)
}

// ProfileStats summarizes one user's posts.
type ProfileStats struct {
	Posts    int `json:"posts"`
	Likes    int `json:"likes"`
	Comments int `json:"comments"`
}

// Stats totals posts and the likes and comments they received.
func Stats(posts []*models.Post) ProfileStats {
	var s ProfileStats
	for _, p := range posts {
		s.Posts++
		s.Likes += len(p.Likes)
		s.Comments += len(p.Comments)
	}
	return s
}
