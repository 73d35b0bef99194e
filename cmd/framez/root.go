package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"framez/internal/feed"
	"framez/internal/kv"
	"framez/internal/models"
	"framez/internal/observability"
	"framez/internal/provider/remote"
	"framez/internal/session"
	"framez/internal/uploader"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const startupTimeout = 15 * time.Second

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "framez",
	Short: "Terminal client for Framez",
	Long: `framez signs in to a Framez API, reads the live feed and publishes posts.

The API address and local state file can be set with flags or with the
FRAMEZ_API_URL and FRAMEZ_STATE environment variables (a .env file is read
when present).`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		_ = godotenv.Load()
	},
}

func init() {
	viper.SetEnvPrefix("FRAMEZ")
	viper.AutomaticEnv()
	viper.SetDefault("api_url", "http://localhost:8080")
	viper.SetDefault("state", defaultStatePath())

	rootCmd.PersistentFlags().String("api", "", "Framez API base URL")
	rootCmd.PersistentFlags().String("state", "", "file holding the session token and cached user")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "log client activity to stderr")
	_ = viper.BindPFlag("api_url", rootCmd.PersistentFlags().Lookup("api"))
	_ = viper.BindPFlag("state", rootCmd.PersistentFlags().Lookup("state"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func defaultStatePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".framez.yaml"
	}
	return filepath.Join(dir, "framez", "state.yaml")
}

// client is the wired client core for one command invocation.
type client struct {
	remote   *remote.Client
	session  *session.Store
	repo     *feed.Repository
	facade   *feed.Facade
	uploader *uploader.Uploader
	log      *slog.Logger
}

// openClient connects to the API and waits until the stored session has
// been confirmed or dropped.
func openClient(ctx context.Context) (*client, error) {
	level := slog.LevelWarn
	if viper.GetBool("verbose") {
		level = slog.LevelDebug
	}
	logger := observability.NewLeveledLogger(os.Stderr, false, level).Logger

	state, err := kv.OpenFile(viper.GetString("state"))
	if err != nil {
		return nil, fmt.Errorf("open state file: %w", err)
	}
	rc, err := remote.New(viper.GetString("api_url"), state, remote.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	store := session.New(rc, state, logger)
	waitCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()
	if _, err := store.Wait(waitCtx); err != nil {
		store.Close()
		_ = rc.Close()
		return nil, fmt.Errorf("waiting for session: %w", err)
	}

	return &client{
		remote:   rc,
		session:  store,
		repo:     feed.NewRepository(rc),
		facade:   feed.NewFacade(rc, store),
		uploader: uploader.New(rc, store, logger),
		log:      logger,
	}, nil
}

func (c *client) Close() {
	c.facade.Close()
	c.session.Close()
	_ = c.remote.Close()
}

// snapshot reads the current result of a live query once and feeds it to
// the facade so like state and owner checks have a base.
func (c *client) snapshot(ctx context.Context, uid string) ([]*models.Post, error) {
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
		return nil, err
	}
	defer sub.Close()

	select {
	case u, ok := <-sub.Updates():
		if !ok {
			return nil, fmt.Errorf("feed closed before the first snapshot")
		}
		if u.Err != nil {
			return nil, u.Err
		}
		c.facade.Track(u.Posts)
		return u.Posts, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// withClient runs fn with an open client.
func withClient(cmd *cobra.Command, fn func(ctx context.Context, c *client) error) error {
	ctx := cmd.Context()
	c, err := openClient(ctx)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(ctx, c)
}
