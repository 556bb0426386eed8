package cmd

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/jcdickinson/implindex/internal/config"
	"github.com/jcdickinson/implindex/internal/daemon"
	"github.com/spf13/cobra"
)

var clearCacheCmd = &cobra.Command{
	Use:   "clear-cache",
	Short: "Forget resolved crate versions and, optionally, downloaded rustdoc JSON",
	Long: `Clear the daemon's "latest" version cache, so crates not found on docs.rs are
retried. With --rustdoc the downloaded rustdoc JSON is deleted as well and will
be fetched again the next time a crate is added. Indexed implementors are kept.`,
	Example: `  implindex clear-cache
  implindex clear-cache --rustdoc`,
	Run: runClearCache,
}

var clearRustdoc bool

func init() {
	clearCacheCmd.Flags().BoolVar(&clearRustdoc, "rustdoc", false, "also delete cached rustdoc JSON")
}

func runClearCache(cmd *cobra.Command, args []string) {
	client := daemon.NewClient(config.SocketPath())
	if client.IsAvailable() {
		if err := client.ClearCache(context.Background()); err != nil {
			log.Fatalf("clear-cache failed: %v", err)
		}
		fmt.Println("version cache cleared")
	} else {
		fmt.Println("daemon is not running; no version cache to clear")
	}

	if !clearRustdoc {
		return
	}
	dir := config.JSONCacheDir()
	if err := os.RemoveAll(dir); err != nil {
		log.Fatalf("removing %s: %v", dir, err)
	}
	fmt.Printf("rustdoc cache removed (%s)\n", dir)
}
