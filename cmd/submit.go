package cmd

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/jcdickinson/implindex/internal/rpc"
	"github.com/spf13/cobra"
)

var submitCmd = &cobra.Command{
	Use:   "submit <file|-> ...",
	Short: "Submit implementor fragments to the daemon",
	Long: `Submit implementor fragments read from files, or from stdin with "-".
Fragments may be rustdoc trait.impl JavaScript files or JSON record arrays;
the format is detected unless --format is given.`,
	Example: `  implindex submit trait.impl/core/cmp/trait.PartialOrd.js
  cat fragment.json | implindex submit --source local --format json -`,
	Args: cobra.MinimumNArgs(1),
	Run:  runSubmit,
}

var (
	submitSource string
	submitFormat string
	submitName   string
)

func init() {
	submitCmd.Flags().StringVar(&submitSource, "source", "", "source label recorded for the fragment")
	submitCmd.Flags().StringVar(&submitFormat, "format", "auto", "fragment format: auto, json or js")
	submitCmd.Flags().StringVar(&submitName, "name", "", "fragment name (default: file path, or \"stdin\")")
}

func readFragment(arg string) (string, []byte, error) {
	if arg == "-" {
		data, err := io.ReadAll(os.Stdin)
		return "stdin", data, err
	}
	data, err := os.ReadFile(arg)
	return filepath.ToSlash(arg), data, err
}

func runSubmit(cmd *cobra.Command, args []string) {
	client, err := connectDaemon()
	if err != nil {
		log.Fatalf("failed to connect to daemon: %v", err)
	}

	failed := false
	for _, arg := range args {
		name, data, err := readFragment(arg)
		if err != nil {
			log.Fatalf("reading %s: %v", arg, err)
		}
		if submitName != "" {
			name = submitName
		}

		resp, err := client.Submit(context.Background(), rpc.SubmitRequest{
			Source:  submitSource,
			Name:    name,
			Format:  submitFormat,
			Content: string(data),
		})
		if err != nil {
			fmt.Printf("  %s: error: %v\n", name, err)
			failed = true
			continue
		}

		state := "live"
		if resp.Queued {
			state = "queued"
		}
		fmt.Printf("  %s (%s): %d implementors, %d malformed [%s]\n", name, resp.Format, resp.Entries, resp.Malformed, state)
		if len(resp.Traits) > 0 {
			fmt.Printf("    %s\n", strings.Join(resp.Traits, ", "))
		}
	}
	if failed {
		os.Exit(1)
	}
}
