package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/jcdickinson/implindex/internal/config"
	"github.com/jcdickinson/implindex/internal/implementors"
	"github.com/jcdickinson/implindex/internal/jsfile"
	"github.com/spf13/cobra"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect DIR",
	Short: "Load the implementors artifacts of a rustdoc output directory",
	Long: `Parse every DIR/implementors/**/trait.*.js artifact and load it the way a
rustdoc page does. Without --attach no page hook exists, so each registry is
left pending; with --attach a consumer is attached per trait afterwards and
drains it.`,
	Example: `  implindex inspect target/doc
  implindex inspect --attach --json target/doc`,
	Args: cobra.ExactArgs(1),
	Run:  runInspect,
}

var (
	inspectAttach bool
	inspectJSON   bool
)

func init() {
	inspectCmd.Flags().BoolVar(&inspectAttach, "attach", false, "attach a consumer to each trait after loading")
	inspectCmd.Flags().BoolVar(&inspectJSON, "json", false, "output as JSON")
}

// traitReport describes what happened to one artifact.
type traitReport struct {
	Trait     string `json:"trait"`
	File      string `json:"file"`
	Crates    int    `json:"crates"`
	Fragments int    `json:"fragments"`
	Delivery  string `json:"delivery"`
	// Drained is set when an attached consumer picked up the pending registry.
	Drained bool `json:"drained,omitempty"`
}

func inspectDir(ctx context.Context, dir string, concurrency int, attach bool) ([]traitReport, error) {
	artifacts, err := jsfile.Discover(dir)
	if err != nil {
		return nil, err
	}
	parsed, err := jsfile.ReadAll(ctx, artifacts, concurrency)
	if err != nil {
		return nil, err
	}

	index := implementors.NewIndex()
	reports := make([]traitReport, 0, len(parsed))
	for _, p := range parsed {
		reg, how, err := implementors.Load(jsfile.ToMap(p.Groups), index.Slot(p.Trait))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p.File, err)
		}
		reports = append(reports, traitReport{
			Trait:     p.Trait,
			File:      p.File,
			Crates:    reg.Len(),
			Fragments: reg.Total(),
			Delivery:  how.String(),
		})
	}

	if attach {
		for i := range reports {
			agg := implementors.NewAggregator(reports[i].Trait)
			reports[i].Drained = index.Slot(reports[i].Trait).Attach(agg)
		}
	}
	return reports, nil
}

func runInspect(cmd *cobra.Command, args []string) {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	reports, err := inspectDir(context.Background(), args[0], cfg.Load.Concurrency, inspectAttach)
	if err != nil {
		log.Fatalf("inspect failed: %v", err)
	}

	if inspectJSON {
		out, _ := json.MarshalIndent(reports, "", "  ")
		fmt.Println(string(out))
		return
	}

	if len(reports) == 0 {
		fmt.Println("no implementors artifacts found")
		return
	}
	for _, r := range reports {
		state := r.Delivery
		if r.Drained {
			state += ", drained"
		}
		fmt.Printf("  %-60s %3d crates %5d implementors [%s]\n", r.Trait, r.Crates, r.Fragments, state)
	}
}
