package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/user/deskpilot/internal/state"
	"github.com/user/deskpilot/internal/types"
)

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionListCmd, sessionClearCmd)
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage sessions",
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		sessions := state.NewSessionStore(cfg.DataDir)

		ctx := context.Background()
		list, err := sessions.List(ctx)
		if err != nil {
			return fmt.Errorf("list sessions: %w", err)
		}

		if len(list) == 0 {
			fmt.Println("No sessions found.")
			return nil
		}

		active, err := sessions.Active(ctx)
		if err != nil {
			return fmt.Errorf("resolve active session: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tSANDBOX\tMESSAGES\tUPDATED")
		for _, s := range list {
			name := s.Name
			if active != nil && s.ID == active.ID {
				name += " *"
			}
			sandbox := string(s.SandboxID)
			if sandbox == "" {
				sandbox = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
				s.ID,
				name,
				sandbox,
				len(s.Messages),
				s.UpdatedAt.Format("2006-01-02 15:04:05"),
			)
		}
		return w.Flush()
	},
}

var sessionClearCmd = &cobra.Command{
	Use:   "clear <id|all>",
	Short: "Delete a session or all sessions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		sessions := state.NewSessionStore(cfg.DataDir)
		ctx := context.Background()

		if args[0] == "all" {
			list, err := sessions.List(ctx)
			if err != nil {
				return fmt.Errorf("list sessions: %w", err)
			}
			for _, s := range list {
				if err := sessions.Delete(ctx, s.ID); err != nil {
					return fmt.Errorf("delete session %s: %w", s.ID, err)
				}
			}
			fmt.Println("All sessions cleared.")
			return nil
		}

		if err := sessions.Delete(ctx, types.SessionID(args[0])); err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Session %s cleared.\n", args[0])
		return nil
	},
}
