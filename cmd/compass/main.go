// Command compass selects the operating directives that apply to an
// instruction, from the command line or as an MCP server.
//
// Usage:
//
//	compass select "@code add retries to the client"
//	compass classify "why does the build fail"
//	compass validate --registry ./registry.yaml
//	compass import --dsn ./directives.db --from ./directives
//	compass serve
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorText(err.Error()))
		os.Exit(1)
	}
}
