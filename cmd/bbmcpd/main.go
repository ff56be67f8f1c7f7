// bbmcpd is the Blockbench MCP server daemon: one MCP endpoint over
// streamable HTTP, an optional telemetry listener, and pluggable session,
// lock, and project-store backends.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:           "bbmcpd",
		Short:         "Blockbench MCP server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newVersionCmd())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "bbmcpd:", err)
		os.Exit(1)
	}
}
