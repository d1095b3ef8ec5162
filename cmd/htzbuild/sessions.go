package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	cliconfig "github.com/antonkrylov/htzbuild/internal/cli/config"
	"github.com/antonkrylov/htzbuild/internal/sessionstore"
)

func newSessionsCmd(root *rootOptions) *cobra.Command {
	var prune bool
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List recorded build sessions and servers that were never cleaned up",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store := sessionstore.New(cliconfig.DefaultSessionsDir())
			list, err := store.List()
			if err != nil {
				return err
			}
			if prune {
				removed := 0
				for _, s := range list {
					if s.Finished() {
						if err := store.Delete(s.ID); err != nil {
							return err
						}
						removed++
					}
				}
				root.ui.Success(fmt.Sprintf("Removed %d finished sessions.", removed))
				return nil
			}
			return printSessions(cmd.OutOrStdout(), list)
		},
	}
	cmd.Flags().BoolVar(&prune, "prune", false, "delete finished sessions from the journal")
	return cmd
}

func printSessions(out io.Writer, list []sessionstore.Session) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tPROFILE\tSTATE\tSERVER\tSTARTED")
	var orphans []string
	for _, s := range list {
		state := s.State
		if s.Orphaned() {
			state += " (orphaned)"
			orphans = append(orphans, s.InstanceID)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.ID, s.Profile, state, s.InstanceID, s.CreatedAt.Local().Format(time.DateTime))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, id := range orphans {
		fmt.Fprintf(out, "Server %s may still be running; delete it with: hcloud server delete %s\n", id, id)
	}
	return nil
}
