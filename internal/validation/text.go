package validation

import (
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

const (
	// MaxCaptionLength bounds a post caption.
	MaxCaptionLength = 2200
	// MaxCommentLength bounds a single comment.
	MaxCommentLength = 1000
)

var strictPolicy = bluemonday.StrictPolicy()

// SanitizeText strips every HTML tag from s and trims surrounding whitespace.
// Entities escaped by the policy are decoded again since the result is stored
// as plain text, not markup.
func SanitizeText(s string) string {
	return strings.TrimSpace(html.UnescapeString(strictPolicy.Sanitize(s)))
}

// Caption sanitizes a post caption. An empty result is allowed when the post has an image,
// so only the length is checked here.
func Caption(raw string) (string, error) {
	caption := SanitizeText(raw)
	if utf8.RuneCountInString(caption) > MaxCaptionLength {
		return "", fmt.Errorf("caption must not exceed %d characters", MaxCaptionLength)
	}
	return caption, nil
}

// RequiredCaption is Caption for edits, where the result may not be empty.
func RequiredCaption(raw string) (string, error) {
	caption, err := Caption(raw)
	if err != nil {
		return "", err
	}
	if caption == "" {
		return "", fmt.Errorf("caption cannot be empty")
	}
	return caption, nil
}

// CommentText sanitizes comment text and rejects empty or oversized comments.
func CommentText(raw string) (string, error) {
	text := SanitizeText(raw)
	if text == "" {
		return "", fmt.Errorf("comment cannot be empty")
	}
	if utf8.RuneCountInString(text) > MaxCommentLength {
		return "", fmt.Errorf("comment must not exceed %d characters", MaxCommentLength)
	}
	return text, nil
}

// DisplayName sanitizes and validates a display name.
func DisplayName(raw string) (string, error) {
	name := SanitizeText(raw)
	if err := ValidateDisplayName(name); err != nil {
		return "", err
	}
	return name, nil
}
