package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/jcdickinson/implindex/internal/config"
	"github.com/jcdickinson/implindex/internal/daemon"
	"github.com/jcdickinson/implindex/internal/manifest"
	"github.com/jcdickinson/implindex/internal/rpc"
	"github.com/spf13/cobra"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch [crate[@version] ...]",
	Short: "Fetch implementor fragments from docs.rs",
	Long: `Download implementor fragments for crates and submit them to the daemon.
With --trait only the trait.impl files for those traits are fetched. Without
it the crate's rustdoc JSON is used and every trait it implements is indexed.
Version defaults to "latest".`,
	Example: `  implindex fetch bdk_chain@0.1.0 --trait core::cmp::PartialOrd
  implindex fetch serde tokio
  implindex fetch --manifest sources.toml`,
	Run: runFetch,
}

var (
	fetchTraits   []string
	fetchManifest string
)

func init() {
	fetchCmd.Flags().StringSliceVar(&fetchTraits, "trait", nil, "trait path to fetch implementors of (repeatable)")
	fetchCmd.Flags().StringVar(&fetchManifest, "manifest", "", "TOML file listing sources to fetch")
}

func runFetch(cmd *cobra.Command, args []string) {
	var specs []rpc.FetchSpec
	for _, arg := range args {
		name, version, _ := strings.Cut(arg, "@")
		specs = append(specs, rpc.FetchSpec{Crate: name, Version: version, Traits: fetchTraits})
	}
	if fetchManifest != "" {
		m, err := manifest.Load(fetchManifest)
		if err != nil {
			log.Fatalf("%v", err)
		}
		for _, s := range m.Sources {
			specs = append(specs, rpc.FetchSpec{Crate: s.Crate, Version: s.Version, Traits: s.Traits})
		}
	}
	if len(specs) == 0 {
		log.Fatalf("nothing to fetch: pass crates or --manifest")
	}

	client, err := connectDaemon()
	if err != nil {
		log.Fatalf("failed to connect to daemon: %v", err)
	}

	results, err := client.Fetch(context.Background(), specs, func(msg string) {
		fmt.Printf("  %s\n", msg)
	})
	if err != nil {
		log.Fatalf("fetch failed: %v", err)
	}

	for _, r := range results {
		if r.Error != "" {
			fmt.Printf("  %s@%s: error: %s\n", r.Crate, r.Version, r.Error)
		} else {
			fmt.Printf("  %s@%s: %d implementors across %d traits\n", r.Crate, r.Version, r.Entries, r.Traits)
		}
	}
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show registry and daemon state",
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

	fmt.Printf("phase: %s (%d pending)\n", resp.Phase, resp.Pending)
	fmt.Printf("payloads: %d, implementors: %d across %d traits\n", resp.Payloads, resp.Accepted, resp.Traits)
	fmt.Printf("skipped: %d duplicate, %d malformed\n", resp.Duplicates, resp.Malformed)
	fmt.Printf("journal: %d fragments\n", resp.Journal)

	for _, c := range resp.Crates {
		state := "pending"
		if c.Fetched {
			state = "fetched"
		}
		fmt.Printf("  %s@%s [%s]\n", c.Name, c.Version, state)
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

	// The daemon exits right after responding, so a reset connection is fine.
	client.Shutdown(context.Background())
	fmt.Println("daemon stopped")
}
