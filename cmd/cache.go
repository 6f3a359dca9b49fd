package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jcdickinson/implindex/internal/config"
	"github.com/jcdickinson/implindex/internal/daemon"
	"github.com/spf13/cobra"
)

var clearCacheCmd = &cobra.Command{
	Use:   "clear-cache",
	Short: "Clear the daemon's docs.rs fetch cache",
	Long: `Drop cached docs.rs responses so the next fetch downloads again.
With --journal the fragment journal is emptied too; implementors already in
the running daemon stay until it restarts.`,
	Run: runClearCache,
}

var clearJournal bool

func init() {
	clearCacheCmd.Flags().BoolVar(&clearJournal, "journal", false, "also empty the fragment journal")
}

func runClearCache(cmd *cobra.Command, args []string) {
	client := daemon.NewClient(config.SocketPath())
	if !client.IsAvailable() {
		fmt.Println("daemon is not running")
		return
	}

	if err := client.ClearCache(context.Background(), clearJournal); err != nil {
		slog.Error("failed to clear cache", "error", err)
		os.Exit(1)
	}
	if clearJournal {
		fmt.Println("fetch cache and journal cleared")
		return
	}
	fmt.Println("fetch cache cleared")
}
