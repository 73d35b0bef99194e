package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"framez/internal/models"

	"github.com/spf13/cobra"
)

var postCmd = &cobra.Command{
	Use:   "post [caption]",
	Short: "Publish a post with a caption, an image or both",
	RunE: func(cmd *cobra.Command, args []string) error {
		image, _ := cmd.Flags().GetString("image")
		caption := strings.Join(args, " ")
		return withClient(cmd, func(ctx context.Context, c *client) error {
			if strings.TrimSpace(caption) == "" && image == "" {
				return models.NewValidationError("Please add a caption or an image")
			}

			var imageURL *string
			if image != "" {
				url, err := c.uploader.Upload(ctx, image, progressBar(cmd))
				fmt.Fprintln(cmd.ErrOrStderr())
				if err != nil {
					return err
				}
				imageURL = &url
			}

			p, err := c.facade.Create(ctx, caption, imageURL)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Posted %s\n", p.ID)
			return nil
		})
	},
}

// progressBar draws upload progress on stderr when it is a terminal.
func progressBar(cmd *cobra.Command) func(int) {
	if f, ok := cmd.ErrOrStderr().(*os.File); !ok || !isTerminal(f) {
		return nil
	}
	out := cmd.ErrOrStderr()
	return func(pct int) {
		filled := pct / 5
		fmt.Fprintf(out, "\rUploading [%s%s] %3d%%", strings.Repeat("#", filled), strings.Repeat(" ", 20-filled), pct)
	}
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}

var likeCmd = &cobra.Command{
	Use:   "like <post-id>",
	Short: "Like a post, or remove your like",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client) error {
			if _, err := c.snapshot(ctx, ""); err != nil {
				return err
			}
			liked, err := c.facade.ToggleLike(ctx, args[0])
			if err != nil {
				return err
			}
			if liked {
				fmt.Fprintln(cmd.OutOrStdout(), "Liked")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "Like removed")
			}
			return nil
		})
	},
}

var commentCmd = &cobra.Command{
	Use:   "comment <post-id> <text>",
	Short: "Comment on a post",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client) error {
			if err := c.facade.AddComment(ctx, args[0], strings.Join(args[1:], " ")); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Comment added")
			return nil
		})
	},
}

var editCmd = &cobra.Command{
	Use:   "edit <post-id> <caption>",
	Short: "Change the caption of your post",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client) error {
			if _, err := c.snapshot(ctx, ""); err != nil {
				return err
			}
			if err := c.facade.EditCaption(ctx, args[0], strings.Join(args[1:], " ")); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Caption updated")
			return nil
		})
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <post-id>",
	Short: "Delete your post with its likes and comments",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			return models.NewValidationError("Deleting cannot be undone; pass --yes to confirm")
		}
		return withClient(cmd, func(ctx context.Context, c *client) error {
			if _, err := c.snapshot(ctx, ""); err != nil {
				return err
			}
			if err := c.facade.Delete(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Post deleted")
			return nil
		})
	},
}

func init() {
	postCmd.Flags().StringP("image", "i", "", "path of an image to attach")
	deleteCmd.Flags().BoolP("yes", "y", false, "confirm the deletion")

	rootCmd.AddCommand(postCmd, likeCmd, commentCmd, editCmd, deleteCmd)
}
