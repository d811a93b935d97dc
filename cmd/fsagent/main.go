// fsagent - tool-calling filesystem agent for local LLM servers
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newApp().Execute(); err != nil {
		slog.Error("fsagent failed", "error", err)
		os.Exit(1)
	}
}

func newApp() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "fsagent",
		Short:         "Let a local model read and write files inside one workspace directory",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(
		newRunCommand(),
		newServeCommand(),
	)
	return cmd
}
