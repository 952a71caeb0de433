// Package main fetches a single URL with the worker's configured fetch
// limits and prints the metadata the worker would store for it. It touches
// no database or queue.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/poucher/metadata-worker/internal/clock/system"
	"github.com/poucher/metadata-worker/internal/config"
	"github.com/poucher/metadata-worker/internal/enrich"
	"github.com/poucher/metadata-worker/internal/extract"
	"github.com/poucher/metadata-worker/internal/fetcher/httpfetch"
	"github.com/poucher/metadata-worker/internal/logging"
)

type probeResult struct {
	URL         string          `json:"url"`
	FinalURL    string          `json:"finalUrl"`
	StatusCode  int             `json:"statusCode"`
	ContentType string          `json:"contentType"`
	Bytes       int             `json:"bytes"`
	Truncated   bool            `json:"truncated"`
	DurationMS  int64           `json:"durationMs"`
	Metadata    enrich.Metadata `json:"metadata"`
}

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	timeout := flag.Duration("timeout", 0, "override fetch.timeout_seconds")
	maxBytes := flag.Int64("max-bytes", 0, "override fetch.max_bytes")
	userAgent := flag.String("user-agent", "", "override fetch.user_agent")
	blockPrivate := flag.Bool("block-private", false, "override fetch.block_private_networks")
	verbose := flag.Bool("v", false, "development logging")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] <url>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env failed: %v\n", err)
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	fetchCfg := cfg.FetcherConfig()
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "timeout":
			fetchCfg.Timeout = *timeout
		case "max-bytes":
			fetchCfg.MaxBytes = *maxBytes
		case "user-agent":
			fetchCfg.UserAgent = *userAgent
		case "block-private":
			fetchCfg.BlockPrivateNetworks = *blockPrivate
		}
	})

	logger, err := logging.New(*verbose || cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fetcher := httpfetch.New(fetchCfg)

	target := flag.Arg(0)
	page, err := fetcher.Fetch(ctx, target)
	if err != nil {
		logger.Error("fetch failed", zap.String("url", target), zap.Error(err))
		fmt.Fprintln(os.Stderr, enrich.FailureReason(err))
		os.Exit(1)
	}

	md := enrich.Project(target, extract.ExtractString(page.HTML), system.New().Now())
	out := probeResult{
		URL:         target,
		FinalURL:    page.FinalURL,
		StatusCode:  page.StatusCode,
		ContentType: page.ContentType,
		Bytes:       page.Bytes,
		Truncated:   page.Truncated,
		DurationMS:  page.Duration.Round(time.Millisecond).Milliseconds(),
		Metadata:    md,
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		logger.Error("encode result failed", zap.Error(err))
		os.Exit(1)
	}
}
