package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/usd-asset-library/backend/internal/app"
	"github.com/usd-asset-library/backend/internal/domain"
	"github.com/usd-asset-library/backend/internal/pkg/dbctx"
	"github.com/usd-asset-library/backend/internal/services"
)

type adminKey struct{}

// newRootCmd returns the command tree and a cleanup that closes whatever the
// pre-run hook opened. Cleanup must run even when a subcommand fails.
func newRootCmd() (*cobra.Command, func()) {
	var opened *app.Admin
	root := &cobra.Command{
		Use:          "assetctl",
		Short:        "Administer the USD asset library",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a, err := app.NewAdmin(cmd.Context())
			if err != nil {
				return err
			}
			opened = a
			cmd.SetContext(context.WithValue(cmd.Context(), adminKey{}, a))
			return nil
		},
	}
	root.AddCommand(
		newMigrateCmd(),
		newForceReleaseCmd(),
		newRegisterAuthorCmd(),
		newHistoryCmd(),
		newWatchLocksCmd(),
	)
	return root, func() { opened.Close() }
}

func adminFrom(cmd *cobra.Command) *app.Admin {
	a, _ := cmd.Context().Value(adminKey{}).(*app.Admin)
	return a
}

func dbcFrom(cmd *cobra.Command) dbctx.Context {
	return dbctx.Context{Ctx: cmd.Context()}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the metadata schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := adminFrom(cmd).Migrate(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}

func newForceReleaseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "force-release <asset>",
		Short: "Clear an asset's checkout regardless of holder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := adminFrom(cmd)
			before, err := a.Versioning.GetAssetByName(dbcFrom(cmd), args[0])
			if err != nil {
				return err
			}
			if _, err := a.Checkout.ForceRelease(dbcFrom(cmd), args[0]); err != nil {
				return err
			}
			if before.CheckedOutBy == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%s was not checked out\n", args[0])
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "released %s (was held by %s)\n", args[0], *before.CheckedOutBy)
			return nil
		},
	}
}

func newRegisterAuthorCmd() *cobra.Command {
	var in services.RegisterAuthorInput
	cmd := &cobra.Command{
		Use:   "register-author <pennkey>",
		Short: "Create an author or fill in a placeholder's details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Pennkey = args[0]
			author, err := adminFrom(cmd).Identity.RegisterAuthor(dbcFrom(cmd), in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "registered %s (%s)\n", author.Pennkey, author.DisplayName())
			return nil
		},
	}
	cmd.Flags().StringVar(&in.FirstName, "first", "", "first name")
	cmd.Flags().StringVar(&in.LastName, "last", "", "last name")
	cmd.Flags().StringVar(&in.Email, "email", "", "email address")
	return cmd
}

func newHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <asset>",
		Short: "Print an asset's commits, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			commits, err := adminFrom(cmd).Versioning.GetHistory(dbcFrom(cmd), args[0])
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SEQ\tTIMESTAMP\tAUTHOR\tVERSION\tNOTE")
			for _, c := range commits {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", c.Seq, c.Timestamp.UTC().Format(time.RFC3339), c.AuthorKey, c.Version, c.Note)
			}
			return w.Flush()
		},
	}
}

func newWatchLocksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch-locks",
		Short: "Stream checkout and release events until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			return adminFrom(cmd).WatchLocks(cmd.Context(), func(ev domain.LockEvent) {
				fmt.Fprintln(out, formatLockEvent(ev))
			})
		},
	}
}

func formatLockEvent(ev domain.LockEvent) string {
	holder := ev.Holder
	if holder == "" {
		holder = "-"
	}
	return fmt.Sprintf("%s\t%s\t%s\t%s", ev.At.UTC().Format(time.RFC3339), ev.AssetName, ev.Action, holder)
}
