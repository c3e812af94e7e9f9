// Command agentgated runs the approval daemon: the privileged process
// that stores previews, resolves approvals, and exposes the bridge API
// to display surfaces.
package main

import (
	"fmt"
	"io"
	"os"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint, split out for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return runServe(stdout, stderr)
	}

	switch args[1] {
	case "serve", "server":
		return runServe(stdout, stderr)
	case "export":
		return runExportCmd(args[2:], stdout, stderr)
	case "token":
		return runTokenCmd(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		if args[1][0] == '-' {
			return runServe(stdout, stderr)
		}
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "agentgated - agent tool-approval daemon")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "USAGE:")
	fmt.Fprintln(w, "  agentgated <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "COMMANDS:")
	fmt.Fprintln(w, "  serve    Run the approval daemon (default)")
	fmt.Fprintln(w, "  export   Write an evidence bundle (--session, --since, --until, --out)")
	fmt.Fprintln(w, "  token    Issue a surface bearer token (--surface)")
	fmt.Fprintln(w, "  help     Show this help")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Configuration is environment-driven; see pkg/config.")
	fmt.Fprintln(w, "")
}
