package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/zed-industries/claude-code-acp-sub000/internal/session"
)

var (
	sessionsCwd    string
	sessionsCursor string
	sessionsJSON   bool
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List or delete persisted sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List persisted sessions, newest first",
	Long: `List persisted sessions, newest first.

Examples:
  claude-acp sessions list                  # every project
  claude-acp sessions list --cwd .          # sessions of one directory
  claude-acp sessions list --cursor <next>  # the following page`,
	RunE: runSessionsList,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a session transcript",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

func init() {
	sessionsListCmd.Flags().StringVar(&sessionsCwd, "cwd", "", "Only list sessions of this directory")
	sessionsListCmd.Flags().StringVar(&sessionsCursor, "cursor", "", "Cursor from a previous page")
	sessionsListCmd.Flags().BoolVar(&sessionsJSON, "json", false, "Print the page as JSON")
	sessionsDeleteCmd.Flags().StringVar(&sessionsCwd, "cwd", "", "Directory the session belongs to (default: current)")

	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	cwd := sessionsCwd
	if cwd == "." {
		var err error
		if cwd, err = os.Getwd(); err != nil {
			return err
		}
	}

	reg := session.NewRegistry(session.Config{})
	page, err := reg.ListSessions(cmd.Context(), cwd, sessionsCursor)
	if err != nil {
		return err
	}

	if sessionsJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(page)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tUPDATED\tCWD\tTITLE\t")
	for _, s := range page.Sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t\n", s.SessionID, s.UpdatedAt.Format(time.DateTime), s.Cwd, s.Title)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if page.NextCursor != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "\nMore sessions: --cursor %s\n", page.NextCursor)
	}
	return nil
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	cwd, err := workDir(sessionsCwd)
	if err != nil {
		return err
	}
	reg := session.NewRegistry(session.Config{})
	deleted, err := reg.DeleteSession(cmd.Context(), args[0], cwd)
	if err != nil {
		return err
	}
	if !deleted {
		fmt.Fprintf(cmd.OutOrStdout(), "Session %s not found\n", args[0])
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s\n", args[0])
	return nil
}
