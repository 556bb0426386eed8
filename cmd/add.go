package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/jcdickinson/implindex/internal/config"
	"github.com/jcdickinson/implindex/internal/daemon"
	"github.com/jcdickinson/implindex/internal/rpc"
	"github.com/spf13/cobra"
)

var addCmd = &cobra.Command{
	Use:   "add [crate[@version] ...]",
	Short: "Index the trait implementations of crates from docs.rs",
	Long:  `Fetch rustdoc JSON from docs.rs and index every trait implementation the crate defines. Version defaults to "latest".`,
	Example: `  implindex add itertools
  implindex add libc@0.2.155 phf@0.11.2
  implindex add serde serde_json tokio`,
	Args: cobra.MinimumNArgs(1),
	Run:  runAdd,
}

func parseCrateSpecs(args []string) []rpc.CrateSpec {
	var specs []rpc.CrateSpec
	for _, arg := range args {
		name, version, _ := strings.Cut(arg, "@")
		specs = append(specs, rpc.CrateSpec{Name: name, Version: version})
	}
	return specs
}

func runAdd(cmd *cobra.Command, args []string) {
	client, err := connectDaemon()
	if err != nil {
		log.Fatalf("failed to connect to daemon: %v", err)
	}

	resp, err := client.AddCrates(context.Background(), parseCrateSpecs(args), func(msg string) {
		fmt.Printf("  %s\n", msg)
	})
	if err != nil {
		log.Fatalf("failed to add crates: %v", err)
	}

	for _, r := range resp.Results {
		if r.Error != "" {
			fmt.Printf("  %s@%s: error: %s\n", r.Name, r.Version, r.Error)
		} else {
			fmt.Printf("  %s@%s: %d implementors of %d traits\n", r.Name, r.Version, r.Implementors, r.Traits)
		}
	}
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show indexed crates and daemon state",
	Run:   runStatus,
}

var statusJSON bool

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output as JSON")
}

func runStatus(cmd *cobra.Command, args []string) {
	client, err := connectDaemon()
	if err != nil {
		log.Fatalf("failed to connect to daemon: %v", err)
	}

	resp, err := client.Status(context.Background())
	if err != nil {
		log.Fatalf("status failed: %v", err)
	}

	if statusJSON {
		out, _ := json.MarshalIndent(resp, "", "  ")
		fmt.Println(string(out))
		return
	}

	if len(resp.Crates) == 0 {
		fmt.Println("no crates indexed")
		return
	}

	for _, c := range resp.Crates {
		state := "processing"
		if c.Processed {
			state = "ready"
		}
		fmt.Printf("  %s@%s [%s] %d implementors\n", c.Name, c.Version, state, c.Implementors)
	}
	if len(resp.Traits) > 0 {
		fmt.Printf("  attached: %s\n", strings.Join(resp.Traits, ", "))
	}
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the background daemon",
	Run:   runStop,
}

func runStop(cmd *cobra.Command, args []string) {
	client := daemon.NewClient(config.SocketPath())
	if !client.IsAvailable() {
		fmt.Println("daemon is not running")
		return
	}

	// A connection reset is expected here: the daemon exits right after responding.
	client.Shutdown(context.Background())
	fmt.Println("daemon stopped")
}
