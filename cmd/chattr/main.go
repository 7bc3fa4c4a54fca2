// Chattr is a conversational agent that impersonates a historical
// character, answers with tools served over MCP, and remembers past
// exchanges per user.
//
// Usage:
//
//	chattr serve              Start the API server
//	chattr ask <message>      Run one turn and print the transcript
//	chattr tools              List connected tools and their kinds
//	chattr init [dir]         Create asset directories and starter config
//	chattr version            Print version and build information
//	chattr -o json version    Output version information as JSON
package main

import (
	"context"
	"fmt"
	"io"
	"os"
)

// main only builds the OS-level environment and hands off to [run], so
// the whole command lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. ctx bounds the process lifetime, stdout
// receives command output and logs, and args excludes the program name.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	cmd := newRootCmd(stdout, stderr)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}
