package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/promptdeck/agentgate/pkg/config"
	"github.com/promptdeck/agentgate/pkg/export"
)

// runExportCmd implements `agentgated export`: build an evidence bundle
// from the configured store and hand it to a sink.
//
// Exit codes:
//
//	0 = bundle written
//	2 = bad arguments or runtime error
func runExportCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("export", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		sessionID  string
		sinceRaw   string
		untilRaw   string
		outDir     string
		jsonOutput bool
	)

	cmd.StringVar(&sessionID, "session", "", "Limit the bundle to one session (default: all)")
	cmd.StringVar(&sinceRaw, "since", "", "Window start, RFC 3339 (default: open)")
	cmd.StringVar(&untilRaw, "until", "", "Window end, RFC 3339 (default: open)")
	cmd.StringVar(&outDir, "out", "", "Output directory (default: EXPORT_DIR or the configured sink)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	req := export.Request{SessionID: sessionID}
	if sinceRaw != "" {
		t, err := time.Parse(time.RFC3339, sinceRaw)
		if err != nil {
			fmt.Fprintf(stderr, "Error: --since: %v\n", err)
			return 2
		}
		req.Since = t
	}
	if untilRaw != "" {
		t, err := time.Parse(time.RFC3339, untilRaw)
		if err != nil {
			fmt.Fprintf(stderr, "Error: --until: %v\n", err)
			return 2
		}
		req.Until = t
	}

	cfg := config.Load()
	ctx := context.Background()
	logger := newLogger(cfg.LogLevel)

	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(stderr, "Error: store: %v\n", err)
		return 2
	}
	defer closeStore()

	data, checksum, err := export.NewBundler(st).WithLogger(logger).Bundle(ctx, req)
	if err != nil {
		fmt.Fprintf(stderr, "Error: bundle: %v\n", err)
		return 2
	}

	var sink export.Sink
	if outDir != "" {
		sink, err = export.NewFileSink(outDir)
	} else {
		sink, err = export.NewSinkFromEnv(ctx)
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: sink: %v\n", err)
		return 2
	}

	name := export.BundleName(sessionID, time.Now())
	location, err := sink.Store(ctx, name, data)
	if err != nil {
		fmt.Fprintf(stderr, "Error: store bundle: %v\n", err)
		return 2
	}

	if jsonOutput {
		result := map[string]interface{}{
			"location": location,
			"checksum": checksum,
			"bytes":    len(data),
			"format":   export.FormatVersion,
		}
		out, _ := json.MarshalIndent(result, "", "  ")
		fmt.Fprintln(stdout, string(out))
	} else {
		fmt.Fprintf(stdout, "Evidence bundle written: %s\n", location)
		fmt.Fprintf(stdout, "  sha256: %s\n", checksum)
	}
	return 0
}
