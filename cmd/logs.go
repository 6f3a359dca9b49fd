package cmd

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/jcdickinson/implindex/internal/config"
	"github.com/spf13/cobra"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View daemon log file",
	Example: `  implindex logs -n 100
  implindex logs -f --grep journal`,
	Run: runLogs,
}

var (
	logsFollow bool
	logsLines  int
	logsGrep   string
	logsPath   bool
)

func init() {
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "follow log output")
	logsCmd.Flags().IntVarP(&logsLines, "lines", "n", 50, "number of lines to show")
	logsCmd.Flags().StringVar(&logsGrep, "grep", "", "only show lines containing this text")
	logsCmd.Flags().BoolVar(&logsPath, "path", false, "print the log file location and exit")
}

func runLogs(cmd *cobra.Command, args []string) {
	logPath := config.LogPath()
	if logsPath {
		fmt.Println(logPath)
		return
	}

	f, err := os.Open(logPath)
	if os.IsNotExist(err) {
		fmt.Println("no log file found (daemon may not have run yet)")
		return
	}
	if err != nil {
		log.Fatalf("opening log: %v", err)
	}
	defer f.Close()

	for _, line := range lastLines(f, logsLines, logsGrep) {
		fmt.Println(line)
	}
	if logsFollow {
		follow(f, logsGrep)
	}
}

// lastLines reads r to the end and returns the last n matching lines.
func lastLines(r io.Reader, n int, grep string) []string {
	if n <= 0 {
		io.Copy(io.Discard, r)
		return nil
	}
	ring := make([]string, 0, n)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if grep != "" && !strings.Contains(line, grep) {
			continue
		}
		if len(ring) == n {
			copy(ring, ring[1:])
			ring = ring[:n-1]
		}
		ring = append(ring, line)
	}
	return ring
}

func follow(f *os.File, grep string) {
	rd := bufio.NewReader(f)
	var partial string
	for {
		chunk, err := rd.ReadString('\n')
		partial += chunk
		if err == io.EOF {
			time.Sleep(250 * time.Millisecond)
			continue
		}
		if err != nil {
			log.Fatalf("reading log: %v", err)
		}
		line := strings.TrimSuffix(partial, "\n")
		partial = ""
		if grep == "" || strings.Contains(line, grep) {
			fmt.Println(line)
		}
	}
}
