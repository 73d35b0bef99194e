package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"framez/internal/feed"
	"framez/internal/models"

	"github.com/spf13/cobra"
)

var feedCmd = &cobra.Command{
	Use:   "feed",
	Short: "Show the feed, newest first",
	Long: `Show the feed, newest first.

With --watch the command keeps the live query open and reprints the feed
whenever it changes, until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		watch, _ := cmd.Flags().GetBool("watch")
		return withClient(cmd, func(ctx context.Context, c *client) error {
			uid, err := userFilter(cmd, c)
			if err != nil {
				return err
			}
			if !watch {
				posts, err := c.snapshot(ctx, uid)
				if err != nil {
					return err
				}
				renderViews(cmd.OutOrStdout(), feed.BuildViews(posts, currentUID(c), nil, time.Now()))
				return nil
			}
			return watchFeed(ctx, cmd.OutOrStdout(), c, uid)
		})
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show post, like and comment totals for a profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		return withClient(cmd, func(ctx context.Context, c *client) error {
			uid, err := userFilter(cmd, c)
			if err != nil {
				return err
			}
			if uid == "" {
				if uid = currentUID(c); uid == "" {
					return models.NewAuthRequiredError("Please sign in or pass --user")
				}
			}
			posts, err := c.snapshot(ctx, uid)
			if err != nil {
				return err
			}
			stats := feed.Stats(posts)
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(stats)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Posts:    %d\nLikes:    %d\nComments: %d\n", stats.Posts, stats.Likes, stats.Comments)
			return nil
		})
	},
}

func currentUID(c *client) string {
	if u := c.session.User(); u != nil {
		return u.UID
	}
	return ""
}

// userFilter resolves --user and --mine to a uid, or "" for every post.
func userFilter(cmd *cobra.Command, c *client) (string, error) {
	mine, _ := cmd.Flags().GetBool("mine")
	uid, _ := cmd.Flags().GetString("user")
	if !mine {
		return strings.TrimSpace(uid), nil
	}
	if uid = currentUID(c); uid == "" {
		return "", models.NewAuthRequiredError("Please sign in first")
	}
	return uid, nil
}

func watchFeed(ctx context.Context, out io.Writer, c *client, uid string) error {
	var (
		sub *feed.Subscription
		err error
	)
	if uid == "" {
		sub, err = c.repo.AllPosts(ctx)
	} else {
		sub, err = c.repo.PostsByUser(ctx, uid)
	}
	if err != nil {
		return err
	}
	vm := feed.NewViewModel(sub, c.facade, c.session)
	defer vm.Close()

	// Only the latest rows matter.
	var mu sync.Mutex
	changes := make(chan []feed.PostView, 1)
	offer := func(views []feed.PostView) {
		mu.Lock()
		defer mu.Unlock()
		select {
		case <-changes:
		default:
		}
		changes <- views
	}
	unsubscribe := vm.OnChange(offer)
	defer unsubscribe()
	if vm.Loaded() {
		offer(vm.Views())
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-vm.Done():
			if err := vm.Err(); err != nil {
				return err
			}
			return errors.New("the live feed was closed by the server")
		case views := <-changes:
			if err := vm.Err(); err != nil {
				return err
			}
			fmt.Fprintf(out, "\n--- %s ---\n", time.Now().Format(time.Kitchen))
			renderViews(out, views)
		}
	}
}

func renderViews(out io.Writer, views []feed.PostView) {
	if len(views) == 0 {
		fmt.Fprintln(out, "No posts yet")
		return
	}
	for i, v := range views {
		if i > 0 {
			fmt.Fprintln(out)
		}
		owner := ""
		if v.IsOwner {
			owner = " (you)"
		}
		fmt.Fprintf(out, "%s  %s%s · %s\n", v.Post.ID, v.Post.UserName, owner, v.TimeAgo)
		if v.Post.Caption != "" {
			fmt.Fprintf(out, "  %s\n", v.Post.Caption)
		}
		if v.Post.HasImage() {
			fmt.Fprintf(out, "  [image] %s\n", *v.Post.ImageURL)
		}
		heart := "likes"
		if v.LikedByMe {
			heart = "likes, including you"
		}
		fmt.Fprintf(out, "  %d %s · %d comments\n", v.LikeCount, heart, v.CommentCount)
		for _, cm := range v.Post.Comments {
			fmt.Fprintf(out, "    %s: %s\n", cm.UserName, cm.Text)
		}
	}
}

func init() {
	for _, cmd := range []*cobra.Command{feedCmd, statsCmd} {
		cmd.Flags().String("user", "", "only posts by this uid")
		cmd.Flags().Bool("mine", false, "only your own posts")
		cmd.MarkFlagsMutuallyExclusive("user", "mine")
	}
	feedCmd.Flags().BoolP("watch", "w", false, "keep printing the feed as it changes")
	statsCmd.Flags().Bool("json", false, "print the totals as JSON")

	rootCmd.AddCommand(feedCmd, statsCmd)
}
