package server

import (
	"bytes"

	"framez/internal/models"
	"framez/internal/service"

	"github.com/gofiber/fiber/v2"
)

// UploadMedia handles PUT /api/media/*
// @Summary Upload an image under posts/{uid}/
// @Description The raw request body is the image. It is normalized to JPEG and the stored URL is returned.
// @Tags media
// @Security BearerAuth
// @Accept image/jpeg,image/png,image/gif,image/webp
// @Produce json
// @Param key path string true "Object key"
// @Success 201 {object} service.UploadMediaResult
// @Failure 401 {object} models.ErrorResponse
// @Failure 422 {object} models.ErrorResponse
// @Router /media/{key} [put]
func (s *Server) UploadMedia(c *fiber.Ctx) error {
	if s.mediaService == nil {
		return models.RespondWithError(c, fiber.StatusServiceUnavailable,
			models.NewUploadError("Media storage is not configured", nil))
	}

	res, err := s.mediaService.Upload(c.UserContext(), service.UploadMediaInput{
		UserID:      currentUserID(c),
		Key:         c.Params("*"),
		ContentType: c.Get(fiber.HeaderContentType),
		// The request buffer is reused once the handler returns.
		Content: bytes.Clone(c.Body()),
	})
	if err != nil {
		return respond(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(res)
}

// GetMedia handles GET /media/*
func (s *Server) GetMedia(c *fiber.Ctx) error {
	if s.mediaService == nil {
		return models.RespondWithError(c, fiber.StatusNotFound, models.NewNotFoundError("Media", c.Params("*")))
	}

	rc, contentType, err := s.mediaService.Open(c.UserContext(), c.Params("*"))
	if err != nil {
		return respond(c, err)
	}

	c.Set(fiber.HeaderContentType, contentType)
	// Keys are unique per upload, so objects never change.
	c.Set(fiber.HeaderCacheControl, "public, max-age=31536000, immutable")
	return c.SendStream(rc)
}
