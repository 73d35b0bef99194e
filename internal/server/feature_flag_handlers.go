package server

import (
	"framez/internal/featureflags"

	"github.com/gofiber/fiber/v2"
)

// featureFlagsResponse is the body of GET /api/feature-flags.
type featureFlagsResponse struct {
	Raw       map[string]string `json:"raw"`
	Evaluated map[string]bool   `json:"evaluated"`
	// PublicFeed tells a client whether /api/feed/ws accepts it as it is now.
	PublicFeed bool `json:"publicFeed"`
}

// GetFeatureFlags reports the FEATURE_FLAGS setting and what it means for the
// caller. media_webp and public_feed_stream are always evaluated, configured
// or not. Percentage rollouts only count for signed-in users.
func (s *Server) GetFeatureFlags(c *fiber.Ctx) error {
	uid := currentUserID(c)

	evaluated := s.featureFlags.Snapshot(uid)
	for _, name := range []string{featureflags.MediaWebP, featureflags.PublicFeedStream} {
		if _, ok := evaluated[name]; !ok {
			evaluated[name] = false
		}
	}

	return c.JSON(featureFlagsResponse{
		Raw:        s.featureFlags.Raw(),
		Evaluated:  evaluated,
		PublicFeed: uid != "" || s.featureFlags.Global(featureflags.PublicFeedStream),
	})
}
