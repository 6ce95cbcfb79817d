// Command wayfinderverify is a standalone one-shot verifier. It resolves an
// identifier, fetches its manifest and resources from routing gateways,
// checks every byte against trusted digests, and reports the result.
//
// Usage:
//
//	wayfinderverify [flags] <identifier>
//
// Examples:
//
//	# Verify a name
//	wayfinderverify ardrive
//
//	# Verify a content id with JSON output
//	wayfinderverify -format json xWQ7UmbP0ZHDY7OLCxJsuPCN3wSUk0jCTJvOG1etCRo
//
//	# Use specific trusted gateways
//	wayfinderverify -trusted https://arweave.net,https://permagate.io ardrive
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"wayfinder/internal/config"
	"wayfinder/internal/engine"
	"wayfinder/internal/logging"
	"wayfinder/internal/runstate"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	formatStr := flag.String("format", "text", "output format: text, json")
	trusted := flag.String("trusted", "", "comma-separated trusted gateway origins")
	routing := flag.String("routing", "", "comma-separated routing gateway origins")
	concurrency := flag.Int("concurrency", 0, "resource verification concurrency (0 = default)")
	timeout := flag.Duration("timeout", 5*time.Minute, "overall verification timeout")
	quiet := flag.Bool("quiet", false, "quiet mode, only the exit code reports the result")
	verbose := flag.Bool("verbose", false, "verbose logging to stderr")
	versionFlag := flag.Bool("version", false, "print version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "wayfinderverify - Verify permaweb content against trusted gateways\n\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <identifier>\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExit codes:\n")
		fmt.Fprintf(os.Stderr, "  0  every resource verified\n")
		fmt.Fprintf(os.Stderr, "  1  verification failed or was partial\n")
		fmt.Fprintf(os.Stderr, "  2  usage error\n")
	}

	flag.Parse()

	if *versionFlag {
		fmt.Printf("wayfinderverify %s (commit: %s, built: %s)\n", version, commit, buildTime)
		os.Exit(0)
	}

	if flag.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "Error: identifier required\n\n")
		flag.Usage()
		os.Exit(2)
	}
	identifier := flag.Arg(0)

	if *formatStr != "text" && *formatStr != "json" {
		fmt.Fprintf(os.Stderr, "Error: unknown format %q\n", *formatStr)
		os.Exit(2)
	}

	cfg := config.DefaultConfig()
	cfg.ApplyEnvOverrides()
	if *trusted != "" {
		cfg.Gateways.Trusted = splitOrigins(*trusted)
	}
	if *routing != "" {
		cfg.Gateways.Routing = splitOrigins(*routing)
	}
	if *concurrency > 0 {
		cfg.Verification.Concurrency = *concurrency
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	logCfg := logging.DefaultConfig()
	logCfg.Output = "stderr"
	logCfg.Level = logging.LevelError
	if *verbose {
		logCfg.Level = logging.LevelDebug
	}
	log, err := logging.New(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	eng, err := engine.New(cfg, engine.WithLogger(log.Logger))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer eng.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	snap, err := eng.VerifyAndWait(ctx, identifier, *timeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if !*quiet {
		switch *formatStr {
		case "json":
			printJSON(snap)
		default:
			printText(snap)
		}
	}

	if snap.Status != runstate.StatusComplete {
		os.Exit(1)
	}
}

func splitOrigins(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func printText(snap runstate.Snapshot) {
	mark := "FAILED"
	switch snap.Status {
	case runstate.StatusComplete:
		mark = "VERIFIED"
	case runstate.StatusPartial:
		mark = "PARTIAL"
	}
	fmt.Printf("%s  %s\n", mark, snap.Identifier)
	fmt.Printf("  content id: %s\n", snap.ContentID)
	fmt.Printf("  resources:  %d/%d verified\n", snap.VerifiedCount, snap.TotalResources)
	for _, id := range snap.FailedIDs {
		fmt.Printf("  failed:     %s\n", id)
	}
	if snap.Err != nil {
		fmt.Printf("  error:      %v\n", snap.Err)
	}
}

func printJSON(snap runstate.Snapshot) {
	out := map[string]any{
		"identifier":      snap.Identifier,
		"content_id":      snap.ContentID,
		"status":          snap.Status,
		"total_resources": snap.TotalResources,
		"verified_count":  snap.VerifiedCount,
		"failed_ids":      snap.FailedIDs,
	}
	if snap.Err != nil {
		out["error"] = snap.Err.Error()
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(out)
}
