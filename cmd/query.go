package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/jcdickinson/implindex/internal/rpc"
	"github.com/spf13/cobra"
)

var queryCmd = &cobra.Command{
	Use:   "query <trait>",
	Short: "List registered implementors of a trait",
	Example: `  implindex query core::cmp::PartialOrd
  implindex query --json serde::ser::Serialize`,
	Args: cobra.ExactArgs(1),
	Run:  runQuery,
}

var queryJSON bool

func init() {
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "output as JSON")
}

func runQuery(cmd *cobra.Command, args []string) {
	client, err := connectDaemon()
	if err != nil {
		log.Fatalf("failed to connect to daemon: %v", err)
	}

	resp, err := client.Query(context.Background(), args[0])
	if err != nil {
		log.Fatalf("query failed: %v", err)
	}

	if queryJSON {
		out, _ := json.MarshalIndent(resp, "", "  ")
		fmt.Println(string(out))
		return
	}

	if len(resp.Entries) == 0 {
		fmt.Printf("no implementors of %s (%s)\n", resp.Trait, resp.Phase)
		return
	}
	for i, e := range resp.Entries {
		fmt.Printf("%d. %s (%s)\n", i+1, e.Text, e.Crate)
	}
}

var traitsCmd = &cobra.Command{
	Use:   "traits",
	Short: "List traits with registered implementors",
	Run:   runTraits,
}

func runTraits(cmd *cobra.Command, args []string) {
	client, err := connectDaemon()
	if err != nil {
		log.Fatalf("failed to connect to daemon: %v", err)
	}

	resp, err := client.Traits(context.Background())
	if err != nil {
		log.Fatalf("listing traits failed: %v", err)
	}
	if len(resp.Traits) == 0 {
		fmt.Println("no traits registered")
		return
	}
	for _, t := range resp.Traits {
		fmt.Printf("  %s (%d)\n", t.Trait, t.Implementors)
	}
}

var renderCmd = &cobra.Command{
	Use:     "render <trait>",
	Short:   "Render a trait's implementor page",
	Example: `  implindex render core::cmp::PartialOrd > partialord.md`,
	Args:    cobra.ExactArgs(1),
	Run:     runRender,
}

var renderHTML bool

func init() {
	renderCmd.Flags().BoolVar(&renderHTML, "html", false, "render HTML instead of markdown")
	rootCmd.AddCommand(renderCmd)
}

func runRender(cmd *cobra.Command, args []string) {
	client, err := connectDaemon()
	if err != nil {
		log.Fatalf("failed to connect to daemon: %v", err)
	}

	resp, err := client.Render(context.Background(), rpc.RenderRequest{Trait: args[0], HTML: renderHTML})
	if err != nil {
		log.Fatalf("render failed: %v", err)
	}
	fmt.Print(resp.Content)
}
