// Command nexus is a local code-context server. It indexes source trees
// into per-project stores and answers keyword, semantic and federated
// queries over MCP stdio or from the command line.
package main

import (
	"os"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
