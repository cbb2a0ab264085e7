package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/lazypower/recall/internal/client"
	"github.com/lazypower/recall/internal/engine"
)

var (
	recallTopK         int
	recallJSON         bool
	recallServer       string
	recallConversation string
)

var recallCmd = &cobra.Command{
	Use:   "recall [fact...]",
	Short: "Activate facts and print the memories they bring up",
	Long: "Activates each fact against the memory graph, runs one spreading cycle with a fresh\n" +
		"working set, and prints the most active memories. With no arguments, facts are read\n" +
		"from stdin as a bullet list: only lines starting with \"-\" count.\n\n" +
		"With --server, the cycle runs on a running recall server instead, inside the given\n" +
		"conversation or a new one.",
	RunE: runRecall,
}

func init() {
	recallCmd.Flags().IntVarP(&recallTopK, "top-k", "k", 0, "maximum memories to print (default from config)")
	recallCmd.Flags().BoolVar(&recallJSON, "json", false, "print nodes as JSON")
	recallCmd.Flags().StringVar(&recallServer, "server", "", "recall server URL; runs the cycle remotely")
	recallCmd.Flags().StringVar(&recallConversation, "conversation", "", "server conversation id (default: create one)")
}

func runRecall(cmd *cobra.Command, args []string) error {
	facts, err := readFacts(args, cmd.InOrStdin())
	if err != nil {
		return err
	}
	if len(facts) == 0 {
		return fmt.Errorf("no facts given")
	}
	if recallServer != "" {
		return runRemoteRecall(cmd, facts)
	}

	rt, err := setup(cmd.Context(), true)
	if err != nil {
		return err
	}
	defer rt.Close()

	net := engine.New(rt.store, rt.embedder, rt.networkOptions()...)
	nodes, err := net.Recall(cmd.Context(), facts, recallTopK)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if recallJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(nodes)
	}
	if len(nodes) == 0 {
		fmt.Fprintln(cmd.ErrOrStderr(), "no active memories")
		return nil
	}
	fmt.Fprintln(out, engine.FormatMemories(nodes, time.Now()))
	return nil
}

func runRemoteRecall(cmd *cobra.Command, facts []string) error {
	ctx := cmd.Context()
	c := client.New(recallServer)

	conv := recallConversation
	if conv == "" {
		var err error
		if conv, err = c.CreateConversation(ctx); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "conversation: %s\n", conv)
	}

	res, err := c.Recall(ctx, conv, facts, recallTopK)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if recallJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res.Nodes)
	}
	if len(res.Nodes) == 0 {
		fmt.Fprintln(cmd.ErrOrStderr(), "no active memories")
		return nil
	}
	fmt.Fprintln(out, res.Memories)
	return nil
}

// readFacts validates facts given as arguments, or parses a bullet list from
// in when there are none.
func readFacts(args []string, in io.Reader) ([]string, error) {
	if len(args) == 0 {
		data, err := io.ReadAll(in)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return engine.ParseFacts(string(data)), nil
	}

	facts := make([]string, 0, len(args))
	for _, a := range args {
		fact, err := engine.ValidateFact(a)
		if err != nil {
			return nil, fmt.Errorf("fact %q: %w", a, err)
		}
		facts = append(facts, fact)
	}
	return facts, nil
}
