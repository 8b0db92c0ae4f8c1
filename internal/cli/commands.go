package cli

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"deploytime/sync-agent/internal/repository"
	"deploytime/sync-agent/internal/service"

	"github.com/spf13/cobra"
)

func newLoginCommand(opts *rootOptions) *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and run a first sync",
		Long:  "Sign in with email and password. The password is read from DEPLOYTIME_PASSWORD or prompted for.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := readPassword(cmd)
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				user, result, err := a.sync.Login(ctx, email, password)
				if err != nil {
					return fmt.Errorf("login failed: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render("Signed in as "+user.Name+" <"+user.Email+">"))
				fmt.Fprintln(cmd.OutOrStdout(), renderSyncResult(result))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Account email")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newLogoutCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the cached identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if err := a.sync.Logout(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
				return nil
			})
		},
	}
}

func newSyncCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one sync cycle now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				result := a.sync.SyncAll(ctx)
				fmt.Fprintln(cmd.OutOrStdout(), renderSyncResult(result))
				if !result.Success && !result.Skipped {
					return errors.New("sync failed")
				}
				return nil
			})
		},
	}
}

func newStatusCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show session, active timer and pending outbox items",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				view := statusView{DeviceID: a.deviceID, ServerURL: a.cfg.Backend.BaseURL}
				if stored, err := a.store.GetConfig(ctx, repository.ConfigServerURL); err == nil && stored != "" {
					view.ServerURL = stored
				}

				user, err := a.sync.CurrentUser(ctx)
				switch {
				case errors.Is(err, service.ErrNotAuthenticated):
				case err != nil:
					return err
				default:
					view.User = user
					if view.Active, err = a.sync.ActiveTimer(ctx); err != nil {
						return err
					}
				}
				if view.Pending, err = a.outbox.Count(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderStatus(view))
				return nil
			})
		},
	}
}

func newOutboxCommand(opts *rootOptions) *cobra.Command {
	outbox := &cobra.Command{
		Use:   "outbox",
		Short: "Inspect changes waiting to be synced",
	}
	outbox.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List queued changes in replay order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				items, invalid, err := a.outbox.Drain(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderOutbox(items))
				for _, e := range invalid {
					fmt.Fprintln(cmd.ErrOrStderr(), errorStyle.Render(e.Error()))
				}
				return nil
			})
		},
	})
	return outbox
}

// Keys the config command may touch. Session keys are managed by login.
var (
	settableKeys = map[string]bool{repository.ConfigServerURL: true}
	readableKeys = map[string]bool{repository.ConfigServerURL: true, repository.ConfigInstallationID: true}
)

func knownKeys(keys map[string]bool) []string {
	out := make([]string, 0, len(keys))
	for k := range keys {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func newConfigCommand(opts *rootOptions) *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Read or change host-local settings",
	}
	cfg.AddCommand(&cobra.Command{
		Use:   "get <key>",
		Short: "Print a stored setting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !readableKeys[args[0]] {
				return fmt.Errorf("unknown key %q (known: %v)", args[0], knownKeys(readableKeys))
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				value, err := a.store.GetConfig(ctx, args[0])
				if errors.Is(err, repository.ErrNotFound) {
					return fmt.Errorf("%s is not set", args[0])
				}
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), value)
				return nil
			})
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Store a setting",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !settableKeys[args[0]] {
				return fmt.Errorf("key %q cannot be set (settable: %v)", args[0], knownKeys(settableKeys))
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				return a.store.SetConfig(ctx, args[0], args[1])
			})
		},
	})
	return cfg
}
