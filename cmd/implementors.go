package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/jcdickinson/implindex/internal/config"
	"github.com/jcdickinson/implindex/internal/implementors"
	md "github.com/jcdickinson/implindex/internal/markdown"
	"github.com/jcdickinson/implindex/internal/rpc"
	"github.com/spf13/cobra"
)

var implementorsCmd = &cobra.Command{
	Use:   "implementors <trait path>",
	Short: "Show the indexed implementors of a trait",
	Example: `  implindex implementors core::iter::traits::collect::IntoIterator
  implindex implementors --markdown core::fmt::Debug
  implindex implementors --html debug.html core::fmt::Debug`,
	Args: cobra.ExactArgs(1),
	Run:  runImplementors,
}

var (
	implJSON     bool
	implMarkdown bool
	implHTML     string
)

func init() {
	implementorsCmd.Flags().BoolVar(&implJSON, "json", false, "output as JSON")
	implementorsCmd.Flags().BoolVar(&implMarkdown, "markdown", false, "output as a markdown document")
	implementorsCmd.Flags().StringVar(&implHTML, "html", "", "write a standalone HTML page to `FILE`")
	implementorsCmd.MarkFlagsMutuallyExclusive("json", "markdown", "html")
}

// registryFromGroups rebuilds a registry from the daemon's wire form.
func registryFromGroups(groups []rpc.Group) (*implementors.Registry, error) {
	m := make(map[string][]string, len(groups))
	for _, g := range groups {
		m[g.Crate] = g.Fragments
	}
	return implementors.Build(m)
}

func runImplementors(cmd *cobra.Command, args []string) {
	trait := args[0]

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	client, err := connectDaemon()
	if err != nil {
		log.Fatalf("failed to connect to daemon: %v", err)
	}

	ctx := context.Background()
	resp, err := client.Implementors(ctx, trait)
	if err != nil {
		log.Fatalf("implementors failed: %v", err)
	}

	if implJSON {
		out, _ := json.MarshalIndent(resp, "", "  ")
		fmt.Println(string(out))
		return
	}

	reg, err := registryFromGroups(resp.Groups)
	if err != nil {
		log.Fatalf("invalid response: %v", err)
	}

	switch {
	case implMarkdown:
		known := make(map[string]bool)
		if traits, err := client.Traits(ctx); err == nil {
			for _, t := range traits.Traits {
				known[t.Path] = true
			}
		}
		fmt.Print(md.Document(cfg.Render.Title, trait, reg, known))
	case implHTML != "":
		if err := os.WriteFile(implHTML, md.HTMLPage(cfg.Render.Title, trait, reg), 0644); err != nil {
			log.Fatalf("writing %s: %v", implHTML, err)
		}
		fmt.Printf("wrote %s (%d crates, %d implementors)\n", implHTML, reg.Len(), reg.Total())
	default:
		if reg.Len() == 0 {
			fmt.Printf("no implementors of %s indexed\n", trait)
			return
		}
		for _, name := range reg.Groups() {
			frags, _ := reg.Fragments(name)
			fmt.Printf("%s:\n", name)
			for _, frag := range frags {
				text, _ := md.Fragment(frag)
				fmt.Printf("  %s\n", text)
			}
		}
	}
}

var traitsCmd = &cobra.Command{
	Use:   "traits",
	Short: "List traits with indexed implementors",
	Run:   runTraits,
}

func runTraits(cmd *cobra.Command, args []string) {
	client, err := connectDaemon()
	if err != nil {
		log.Fatalf("failed to connect to daemon: %v", err)
	}

	resp, err := client.Traits(context.Background())
	if err != nil {
		log.Fatalf("traits failed: %v", err)
	}

	if len(resp.Traits) == 0 {
		fmt.Println("no traits indexed")
		return
	}
	for _, t := range resp.Traits {
		fmt.Printf("  %-60s %4d implementors, %d crates\n", t.Path, t.Implementors, t.Crates)
	}
}
