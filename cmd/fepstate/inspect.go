package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/smallnest/fepstate/state"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect [checkpoint]",
	Short: "Validate a checkpoint file and summarize its contents",
	Long: `Load a checkpoint file, verify its identity field, and print the
top-level keys with a short summary of each value.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}

func runInspect(cmd *cobra.Command, args []string) error {
	path := cfg.Checkpoint
	if len(args) > 0 {
		path = args[0]
	}
	if path == "" {
		return fmt.Errorf("no checkpoint path given (argument or config file)")
	}
	if _, err := os.Stat(path); err != nil {
		// Refuse to bootstrap a new file from the inspect command.
		return fmt.Errorf("checkpoint %s: %w", path, err)
	}

	store, err := state.New(path)
	if err != nil {
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}

	fmt.Printf("Checkpoint: %s\n\n", store.DataFile())

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tKIND\tSUMMARY")
	fmt.Fprintln(w, "---\t----\t-------")
	for _, key := range store.Keys() {
		value, _ := store.Get(key)
		kind, summary := describeValue(value)
		fmt.Fprintf(w, "%s\t%s\t%s\n", key, kind, summary)
	}
	w.Flush()
	return nil
}

func describeValue(value any) (kind, summary string) {
	switch v := value.(type) {
	case nil:
		return "null", ""
	case string:
		if runes := []rune(v); len(runes) > 40 {
			v = string(runes[:37]) + "..."
		}
		return "string", v
	case []byte:
		return "bytes", formatBytes(int64(len(v)))
	case map[string]any:
		return "map", fmt.Sprintf("%d entries", len(v))
	case []any:
		return "list", fmt.Sprintf("%d items", len(v))
	case float64, int, int64, bool:
		return "scalar", fmt.Sprintf("%v", v)
	default:
		return fmt.Sprintf("%T", v), ""
	}
}
