package cmd

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/stelwijs/stelwijs/internal/app"
	"github.com/stelwijs/stelwijs/internal/conversation"
	"github.com/stelwijs/stelwijs/internal/retrieval"
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask one question and stream the answer to the terminal",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func init() {
	rootCmd.AddCommand(askCmd)
}

// terminalSink streams text deltas to the terminal and collects the sources
// for a footer after the answer.
type terminalSink struct {
	out       io.Writer
	citations []retrieval.Citation
}

func (s *terminalSink) Source(citation retrieval.Citation) error {
	s.citations = append(s.citations, citation)
	return nil
}

func (s *terminalSink) TextDelta(text string) error {
	_, err := fmt.Fprint(s.out, text)
	return err
}

func (s *terminalSink) printSources() {
	if len(s.citations) == 0 {
		return
	}
	fmt.Fprintln(s.out)
	fmt.Fprintln(s.out, "Sources:")
	for _, c := range s.citations {
		source := c.URL
		if source == "" {
			source = c.Title
		}
		fmt.Fprintf(s.out, "  [%d] %s\n", c.Index, source)
	}
}

func runAsk(cmd *cobra.Command, args []string) error {
	if err := checkRequiredEnv(); err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Setup(ctx, cfg, newLogger())
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer a.Close()

	sink := &terminalSink{out: cmd.OutOrStdout()}
	_, err = a.Orchestrator.Respond(ctx, conversation.Request{
		Message: strings.Join(args, " "),
	}, sink)
	if err != nil {
		return fmt.Errorf("answering: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout())
	sink.printSources()
	return nil
}
