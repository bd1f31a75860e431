package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"livewatch/internal/storage"
	"livewatch/internal/stream"
)

func newAccountsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "accounts",
		Aliases: []string{"account", "acc"},
		Short:   "Manage tracked accounts",
	}
	cmd.AddCommand(
		newAccountsListCmd(opts),
		newAccountsAddCmd(opts),
		newAccountsRemoveCmd(opts),
		newAccountsToggleCmd(opts, "enable", true),
		newAccountsToggleCmd(opts, "disable", false),
		newAccountsResetCmd(opts),
	)
	return cmd
}

func newAccountsListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tracked accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openStore(opts)
			if err != nil {
				return err
			}
			defer db.Close() // nolint:errcheck

			accounts, err := db.ListAccounts(cmd.Context())
			if err != nil {
				return err
			}
			if opts.output == "json" {
				return writeJSON(cmd.OutOrStdout(), accounts)
			}
			renderAccounts(cmd.OutOrStdout(), accounts, time.Now())
			return nil
		},
	}
}

func newAccountsAddCmd(opts *rootOptions) *cobra.Command {
	var displayName string
	cmd := &cobra.Command{
		Use:   "add <platform> <username>",
		Short: "Start tracking an account",
		Long:  "Add creates an enabled, offline, unscheduled account. With the sqlite driver a running tracker checks it after its grace delay; the file driver is owned by the tracker and must be edited while it is stopped.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			platform, err := stream.ParsePlatform(args[0])
			if err != nil {
				return err
			}
			acc, err := stream.NewAccount(platform, args[1], displayName, time.Now())
			if err != nil {
				return err
			}

			db, err := openStore(opts)
			if err != nil {
				return err
			}
			defer db.Close() // nolint:errcheck

			if err := db.CreateAccount(cmd.Context(), acc); err != nil {
				return err
			}
			if opts.output == "json" {
				return writeJSON(cmd.OutOrStdout(), acc)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %s/%s (%s)\n", acc.Platform, acc.Username, acc.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&displayName, "display-name", "", "name used in notifications")
	return cmd
}

func newAccountsRemoveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <account>",
		Aliases: []string{"rm"},
		Short:   "Stop tracking an account (id or platform/username)",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAccount(cmd, opts, args[0], func(db storage.Store, acc stream.Account) error {
				if err := db.RemoveAccount(cmd.Context(), acc.ID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %s/%s\n", acc.Platform, acc.Username)
				return nil
			})
		},
	}
}

func newAccountsToggleCmd(opts *rootOptions, verb string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <account>",
		Short: fmt.Sprintf("%s checks for an account", verb),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAccount(cmd, opts, args[0], func(db storage.Store, acc stream.Account) error {
				p := stream.Patch{Enabled: &enabled}
				if enabled && !acc.Enabled {
					// Due right away once re-enabled.
					p.Schedule = &stream.Schedule{}
				}
				if _, err := db.UpdateAccount(cmd.Context(), acc.ID, p); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%sd %s/%s\n", verb, acc.Platform, acc.Username)
				return nil
			})
		},
	}
}

func newAccountsResetCmd(opts *rootOptions) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "reset [account]",
		Short: "Clear status and schedule of an account, or of all with --all",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) == 1) {
				return fmt.Errorf("give exactly one account or --all")
			}
			if len(args) == 1 {
				return withAccount(cmd, opts, args[0], func(db storage.Store, acc stream.Account) error {
					if _, err := db.UpdateAccount(cmd.Context(), acc.ID, stream.ResetPatch()); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "reset %s/%s\n", acc.Platform, acc.Username)
					return nil
				})
			}

			db, err := openStore(opts)
			if err != nil {
				return err
			}
			defer db.Close() // nolint:errcheck
			accounts, err := db.ListAccounts(cmd.Context())
			if err != nil {
				return err
			}
			for _, acc := range accounts {
				if _, err := db.UpdateAccount(cmd.Context(), acc.ID, stream.ResetPatch()); err != nil {
					return fmt.Errorf("reset %s: %w", acc.ID, err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reset %d accounts\n", len(accounts))
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "reset every account")
	return cmd
}

func withAccount(cmd *cobra.Command, opts *rootOptions, ref string, fn func(storage.Store, stream.Account) error) error {
	db, err := openStore(opts)
	if err != nil {
		return err
	}
	defer db.Close() // nolint:errcheck

	accounts, err := db.ListAccounts(cmd.Context())
	if err != nil {
		return err
	}
	acc, err := resolveAccount(accounts, ref)
	if err != nil {
		return err
	}
	return fn(db, acc)
}
