package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/jcdickinson/implindex/internal/config"
	"github.com/spf13/cobra"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View the daemon log",
	Example: `  implindex logs -n 200
  implindex logs --level warn
  implindex logs -f --trait core::fmt::Debug`,
	Run: runLogs,
}

var (
	logsFollow bool
	logsLines  int
	logsLevel  string
	logsTrait  string
)

func init() {
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "follow log output")
	logsCmd.Flags().IntVarP(&logsLines, "lines", "n", 50, "number of lines to show")
	logsCmd.Flags().StringVar(&logsLevel, "level", "", "only show records at or above this level")
	logsCmd.Flags().StringVar(&logsTrait, "trait", "", "only show records about this trait path")
}

// logFilter matches daemon log records (slog text format) by minimum level and
// trait attribute. Lines without a level= field pass the level check, so
// stderr output from a crashed daemon is never hidden.
type logFilter struct {
	minLevel *slog.Level
	trait    string
}

func newLogFilter(level, trait string) (logFilter, error) {
	f := logFilter{trait: trait}
	if level != "" {
		var l slog.Level
		if err := l.UnmarshalText([]byte(level)); err != nil {
			return f, fmt.Errorf("invalid level %q: %w", level, err)
		}
		f.minLevel = &l
	}
	return f, nil
}

func (f logFilter) match(line string) bool {
	if f.minLevel != nil {
		if v, ok := logField(line, "level"); ok {
			var l slog.Level
			if err := l.UnmarshalText([]byte(v)); err == nil && l < *f.minLevel {
				return false
			}
		}
	}
	if f.trait != "" {
		v, ok := logField(line, "trait")
		return ok && v == f.trait
	}
	return true
}

// logField returns the value of key in a slog text record.
func logField(line, key string) (string, bool) {
	for rest := line; ; {
		i := strings.Index(rest, key+"=")
		if i < 0 {
			return "", false
		}
		if i > 0 && rest[i-1] != ' ' {
			rest = rest[i+len(key)+1:]
			continue
		}
		v := rest[i+len(key)+1:]
		if strings.HasPrefix(v, `"`) {
			if end := strings.Index(v[1:], `"`); end >= 0 {
				return v[1 : end+1], true
			}
			return v[1:], true
		}
		if end := strings.IndexByte(v, ' '); end >= 0 {
			v = v[:end]
		}
		return v, true
	}
}

// tailLines returns the last n lines of r accepted by f.
func tailLines(r io.Reader, n int, f logFilter) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	ring := make([]string, 0, n)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if !f.match(line) {
			continue
		}
		if len(ring) == n {
			copy(ring, ring[1:])
			ring = ring[:n-1]
		}
		ring = append(ring, line)
	}
	return ring, sc.Err()
}

func runLogs(cmd *cobra.Command, args []string) {
	filter, err := newLogFilter(logsLevel, logsTrait)
	if err != nil {
		log.Fatal(err)
	}

	logPath := config.LogPath()
	file, err := os.Open(logPath)
	if errors.Is(err, os.ErrNotExist) {
		fmt.Println("no log file found (daemon may not have run yet)")
		return
	}
	if err != nil {
		log.Fatalf("opening log: %v", err)
	}
	defer file.Close()

	lines, err := tailLines(file, logsLines, filter)
	if err != nil {
		log.Fatalf("reading log: %v", err)
	}
	for _, line := range lines {
		fmt.Println(line)
	}
	if !logsFollow {
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	reader := bufio.NewReader(file)
	var partial string
	for {
		chunk, err := reader.ReadString('\n')
		partial += chunk
		if err == io.EOF {
			select {
			case <-ctx.Done():
				return
			case <-time.After(250 * time.Millisecond):
			}
			continue
		}
		if err != nil {
			log.Fatalf("following log: %v", err)
		}
		line := strings.TrimSuffix(partial, "\n")
		partial = ""
		if filter.match(line) {
			fmt.Println(line)
		}
	}
}
