package main

import (
	"flag"
	"fmt"
	"io"

	"github.com/promptdeck/agentgate/pkg/api"
	"github.com/promptdeck/agentgate/pkg/config"
)

// runTokenCmd issues a bearer token for a display surface, derived from
// the same master secret the daemon verifies against.
func runTokenCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("token", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var surface string
	cmd.StringVar(&surface, "surface", "default", "Surface name embedded as the token subject")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	cfg := config.Load()
	if cfg.MasterSecret == "" {
		fmt.Fprintln(stderr, "Error: AGENTGATE_SECRET is not set")
		return 2
	}

	issuer, err := api.NewTokenIssuer([]byte(cfg.MasterSecret), cfg.TokenTTL)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	token, err := issuer.Issue(surface)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	fmt.Fprintln(stdout, token)
	return 0
}
