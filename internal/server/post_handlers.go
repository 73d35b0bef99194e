package server

import (
	"framez/internal/service"

	"github.com/gofiber/fiber/v2"
)

type createPostRequest struct {
	Caption  string  `json:"caption"`
	ImageURL *string `json:"imageUrl"`
}

type editPostRequest struct {
	Caption string `json:"caption"`
}

// GetPosts handles GET /api/posts
// @Summary List posts newest first
// @Tags posts
// @Produce json
// @Param limit query int false "Maximum posts"
// @Param user query string false "Only posts by this user"
// @Success 200 {array} models.Post
// @Router /posts [get]
func (s *Server) GetPosts(c *fiber.Ctx) error {
	posts, err := s.postService.ListPosts(c.UserContext(), c.Query("user"), parseLimit(c))
	if err != nil {
		return respond(c, err)
	}
	return c.JSON(posts)
}

// GetUserPosts handles GET /api/users/:id/posts
// @Summary List one user's posts newest first
// @Tags posts
// @Produce json
// @Param id path string true "User ID"
// @Success 200 {array} models.Post
// @Router /users/{id}/posts [get]
func (s *Server) GetUserPosts(c *fiber.Ctx) error {
	userID, ok := pathID(c, "id")
	if !ok {
		return nil
	}

	posts, err := s.postService.ListPosts(c.UserContext(), userID, parseLimit(c))
	if err != nil {
		return respond(c, err)
	}
	return c.JSON(posts)
}

// GetPost handles GET /api/posts/:id
// @Summary Get a post
// @Tags posts
// @Produce json
// @Param id path string true "Post ID"
// @Success 200 {object} models.Post
// @Failure 404 {object} models.ErrorResponse
// @Router /posts/{id} [get]
func (s *Server) GetPost(c *fiber.Ctx) error {
	id, ok := pathID(c, "id")
	if !ok {
		return nil
	}

	post, err := s.postService.GetPost(c.UserContext(), id)
	if err != nil {
		return respond(c, err)
	}
	return c.JSON(post)
}

// CreatePost handles POST /api/posts
// @Summary Create a post
// @Tags posts
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body createPostRequest true "Post"
// @Success 201 {object} models.Post
// @Failure 400 {object} models.ErrorResponse
// @Failure 401 {object} models.ErrorResponse
// @Router /posts [post]
func (s *Server) CreatePost(c *fiber.Ctx) error {
	var req createPostRequest
	if !parseBody(c, &req) {
		return nil
	}

	post, err := s.postService.CreatePost(c.UserContext(), service.CreatePostInput{
		UserID:   currentUserID(c),
		Caption:  req.Caption,
		ImageURL: req.ImageURL,
	})
	if err != nil {
		return respond(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(post)
}

// EditPost handles PATCH /api/posts/:id
// @Summary Edit the caption (owner only)
// @Tags posts
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Post ID"
// @Param request body editPostRequest true "New caption"
// @Success 200 {object} models.Post
// @Failure 403 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /posts/{id} [patch]
func (s *Server) EditPost(c *fiber.Ctx) error {
	id, ok := pathID(c, "id")
	if !ok {
		return nil
	}
	var req editPostRequest
	if !parseBody(c, &req) {
		return nil
	}

	post, err := s.postService.EditCaption(c.UserContext(), service.EditCaptionInput{
		UserID:  currentUserID(c),
		PostID:  id,
		Caption: req.Caption,
	})
	if err != nil {
		return respond(c, err)
	}
	return c.JSON(post)
}

// DeletePost handles DELETE /api/posts/:id
// @Summary Delete a post (owner only)
// @Tags posts
// @Security BearerAuth
// @Param id path string true "Post ID"
// @Success 204
// @Failure 403 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /posts/{id} [delete]
func (s *Server) DeletePost(c *fiber.Ctx) error {
	id, ok := pathID(c, "id")
	if !ok {
		return nil
	}

	if err := s.postService.DeletePost(c.UserContext(), currentUserID(c), id); err != nil {
		return respond(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// LikePost handles PUT /api/posts/:id/likes
// @Summary Like a post
// @Tags posts
// @Security BearerAuth
// @Param id path string true "Post ID"
// @Success 204
// @Failure 404 {object} models.ErrorResponse
// @Router /posts/{id}/likes [put]
func (s *Server) LikePost(c *fiber.Ctx) error {
	return s.setLike(c, true)
}

// UnlikePost handles DELETE /api/posts/:id/likes
// @Summary Unlike a post
// @Tags posts
// @Security BearerAuth
// @Param id path string true "Post ID"
// @Success 204
// @Failure 404 {object} models.ErrorResponse
// @Router /posts/{id}/likes [delete]
func (s *Server) UnlikePost(c *fiber.Ctx) error {
	return s.setLike(c, false)
}

func (s *Server) setLike(c *fiber.Ctx, liked bool) error {
	id, ok := pathID(c, "id")
	if !ok {
		return nil
	}

	var err error
	if liked {
		err = s.postService.Like(c.UserContext(), currentUserID(c), id)
	} else {
		err = s.postService.Unlike(c.UserContext(), currentUserID(c), id)
	}
	if err != nil {
		return respond(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
