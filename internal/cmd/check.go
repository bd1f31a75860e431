package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"livewatch/internal/app"
	"livewatch/internal/stream"
)

type outcomeJSON struct {
	ID           string `json:"id"`
	Platform     string `json:"platform"`
	Username     string `json:"username"`
	IsLive       bool   `json:"is_live"`
	JustWentLive bool   `json:"just_went_live"`
	Title        string `json:"title,omitempty"`
	Kind         string `json:"error_kind,omitempty"`
	Error        string `json:"error,omitempty"`
}

func newCheckCmd(opts *rootOptions) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "check [account...]",
		Short: "Check accounts once, persist the results and send notifications",
		Long: `Check runs one manual cycle. Accounts are given by id or platform/username;
with no arguments every enabled account is checked.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(opts.configPath)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			ids := make([]string, 0, len(args))
			if len(args) > 0 {
				accounts, err := a.Store().ListAccounts(ctx)
				if err != nil {
					return err
				}
				for _, ref := range args {
					acc, err := resolveAccount(accounts, ref)
					if err != nil {
						return err
					}
					ids = append(ids, acc.ID)
				}
			}

			outcomes, err := a.CheckOnce(ctx, ids...)
			if err != nil {
				return err
			}
			if opts.output == "json" {
				return writeJSON(cmd.OutOrStdout(), outcomesJSON(outcomes))
			}
			renderOutcomes(cmd.OutOrStdout(), outcomes)
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "overall deadline for the check")
	return cmd
}

func outcomesJSON(outcomes []stream.Outcome) []outcomeJSON {
	out := make([]outcomeJSON, 0, len(outcomes))
	for _, o := range outcomes {
		j := outcomeJSON{
			ID:           o.Account.ID,
			Platform:     string(o.Account.Platform),
			Username:     o.Account.Username,
			IsLive:       o.IsLive,
			JustWentLive: o.JustWentLive,
			Title:        o.Title,
			Kind:         string(o.Kind),
		}
		if o.Err != nil {
			j.Error = o.Err.Error()
		}
		out = append(out, j)
	}
	return out
}
