package main

import (
	"context"
	"fmt"
	"time"

	"framez/internal/session"

	"github.com/spf13/cobra"
)

var signupCmd = &cobra.Command{
	Use:   "signup",
	Short: "Create an account and sign in",
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")
		password, _ := cmd.Flags().GetString("password")
		name, _ := cmd.Flags().GetString("name")
		return withClient(cmd, func(ctx context.Context, c *client) error {
			if err := c.session.Signup(ctx, email, password, name); err != nil {
				return err
			}
			return reportSignedIn(ctx, cmd, c)
		})
	},
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in with email and password",
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")
		password, _ := cmd.Flags().GetString("password")
		return withClient(cmd, func(ctx context.Context, c *client) error {
			if err := c.session.Login(ctx, email, password); err != nil {
				return err
			}
			return reportSignedIn(ctx, cmd, c)
		})
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and forget the stored session",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client) error {
			if err := c.session.Logout(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return nil
		})
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in user",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client) error {
			u := c.session.User()
			if u == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "Not signed in")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s <%s>\nuid: %s\n", u.Name(), u.EmailOrEmpty(), u.UID)
			return nil
		})
	},
}

// reportSignedIn waits for the session to pick up the provider event the
// sign-in produced.
func reportSignedIn(ctx context.Context, cmd *cobra.Command, c *client) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	changed := make(chan struct{}, 1)
	unsubscribe := c.session.Subscribe(func(session.Snapshot) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	for c.session.User() == nil {
		select {
		case <-changed:
		case <-ctx.Done():
			return fmt.Errorf("sign-in was not confirmed: %w", ctx.Err())
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s\n", c.session.User().EmailOrEmpty())
	return nil
}

func init() {
	for _, cmd := range []*cobra.Command{signupCmd, loginCmd} {
		cmd.Flags().String("email", "", "account email")
		cmd.Flags().String("password", "", "account password")
		_ = cmd.MarkFlagRequired("email")
		_ = cmd.MarkFlagRequired("password")
	}
	signupCmd.Flags().String("name", "", "display name shown on your posts")
	_ = signupCmd.MarkFlagRequired("name")

	rootCmd.AddCommand(signupCmd, loginCmd, logoutCmd, whoamiCmd)
}
