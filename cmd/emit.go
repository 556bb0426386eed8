package cmd

import (
	"context"
	"fmt"
	"log"

	"github.com/jcdickinson/implindex/internal/jsfile"
	"github.com/jcdickinson/implindex/internal/rpc"
	"github.com/spf13/cobra"
)

var emitCmd = &cobra.Command{
	Use:   "emit --out DIR [trait path ...]",
	Short: "Write rustdoc implementors/*.js artifacts for indexed traits",
	Long: `Write one implementors artifact per trait under DIR/implementors, in the layout
rustdoc emits. With no trait arguments every indexed trait is written.`,
	Example: `  implindex emit --out target/doc core::fmt::Debug
  implindex emit --out /tmp/site`,
	Run: runEmit,
}

var emitOut string

func init() {
	emitCmd.Flags().StringVar(&emitOut, "out", "", "doc root to write artifacts under")
	emitCmd.MarkFlagRequired("out")
}

func toArtifactGroups(groups []rpc.Group) []jsfile.Group {
	out := make([]jsfile.Group, 0, len(groups))
	for _, g := range groups {
		out = append(out, jsfile.Group{Crate: g.Crate, Fragments: g.Fragments})
	}
	return out
}

func runEmit(cmd *cobra.Command, args []string) {
	client, err := connectDaemon()
	if err != nil {
		log.Fatalf("failed to connect to daemon: %v", err)
	}
	ctx := context.Background()

	traits := args
	if len(traits) == 0 {
		resp, err := client.Traits(ctx)
		if err != nil {
			log.Fatalf("traits failed: %v", err)
		}
		for _, t := range resp.Traits {
			traits = append(traits, t.Path)
		}
	}

	for _, trait := range traits {
		resp, err := client.Implementors(ctx, trait)
		if err != nil {
			log.Fatalf("implementors of %s failed: %v", trait, err)
		}
		if len(resp.Groups) == 0 {
			fmt.Printf("  %s: no implementors, skipped\n", trait)
			continue
		}
		path, err := jsfile.WriteArtifact(emitOut, trait, toArtifactGroups(resp.Groups))
		if err != nil {
			log.Fatalf("writing %s: %v", trait, err)
		}
		fmt.Printf("  %s\n", path)
	}
}
