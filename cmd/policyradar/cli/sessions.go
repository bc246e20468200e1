package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/policyradar/policyradar/internal/config"
	"github.com/policyradar/policyradar/internal/observe"
	"github.com/policyradar/policyradar/internal/store"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List past sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		history, err := store.NewSQLiteHistory(filepath.Join(dataDir(), "history.db"))
		if err != nil {
			return err
		}
		defer history.Close()

		sessions, err := history.ListSessions(50)
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Println("No sessions yet.")
			return nil
		}
		for _, s := range sessions {
			title := s.Title
			if title == "" {
				title = "(untitled)"
			}
			fmt.Printf("%s  %s  %s\n", s.ID, s.UpdatedAt.Local().Format("2006-01-02 15:04"), title)
		}
		return nil
	},
}

var forgetCmd = &cobra.Command{
	Use:   "forget [session-id]",
	Short: "Delete a session's history and indexed PDF memory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID := args[0]

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		obs := observe.New(io.Discard, false)
		defer obs.Close()

		history, err := store.NewSQLiteHistory(filepath.Join(dataDir(), "history.db"))
		if err != nil {
			return err
		}
		defer history.Close()

		if err := history.DeleteSession(sessionID); err != nil {
			return err
		}

		memStore, _, err := buildMemory(context.Background(), cfg, obs)
		if err == nil && memStore != nil {
			defer memStore.Close()
			if err := memStore.DeleteSession(context.Background(), sessionID); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to clear PDF memory: %v\n", err)
			}
		}

		fmt.Printf("Forgot session %s.\n", sessionID)
		return nil
	},
}
