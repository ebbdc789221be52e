package auditctl

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	audit "portalquejas/pkg/platform/audit"
)

// NewReplayCommand publishes events read from a file of topic values, one
// JSON object per line, as a single batch.
func NewReplayCommand() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "replay FILE",
		Short: "Publish a file of audit events (JSON lines) as one batch",
		Long: "Reads audit event values in the topic's JSON layout, one per line, and publishes them\n" +
			"in order with one produce call. Use - to read from stdin.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}

			in := cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			events, err := readEvents(in)
			if err != nil {
				return err
			}
			if err := audit.ValidateAll(events); err != nil {
				return err
			}
			if dryRun {
				_, err := fmt.Fprintf(rt.writer, "%d events valid\n", len(events))
				return err
			}

			pub := rt.newPublisher(rt.kafkaConfig(), rt.source, rt.logger)
			defer pub.Close()
			outcome, err := pub.PublishBatch(cmd.Context(), events)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(rt.writer, "published %d events\n", outcome.Count())
			return err
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Validate without publishing")

	return cmd
}

func readEvents(r io.Reader) ([]audit.Event, error) {
	var events []audit.Event
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		e, err := audit.Unmarshal([]byte(text))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		events = append(events, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return events, nil
}
