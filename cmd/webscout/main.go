package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/maltedev/webscout/internal/browser"
	"github.com/maltedev/webscout/internal/cache"
	"github.com/maltedev/webscout/internal/config"
	"github.com/maltedev/webscout/internal/debuglog"
	"github.com/maltedev/webscout/internal/extractor"
	"github.com/maltedev/webscout/internal/messaging"
	"github.com/maltedev/webscout/internal/settings"
	"github.com/maltedev/webscout/internal/shell"
	"github.com/maltedev/webscout/internal/site"
	"github.com/maltedev/webscout/internal/storage"
	"github.com/maltedev/webscout/pkg/logger"
)

func main() {
	var (
		pageURL   = flag.String("url", "", "Product page URL to render and extract")
		inputFile = flag.String("file", "", "Saved HTML file to extract instead of rendering a URL")
		fileURL   = flag.String("page-url", "", "URL the saved HTML was loaded from (used for site detection)")
		siteName  = flag.String("site", "", "Force the site: shopee or tiktok")
		mode      = flag.String("mode", "", "Extraction mode: list or detail (defaults to the site's mode)")
		format    = flag.String("format", "json", "Export format: json, csv")
		outDir    = flag.String("out", "", "Export directory (defaults to WEBSCOUT_EXPORT_DIR)")
		headless  = flag.Bool("headless", true, "Run browser in headless mode")
		dumpDebug = flag.Bool("debug", false, "Print the extraction trail to stderr")
	)
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	exportFormat, err := shell.ParseFormat(*format)
	if err != nil {
		log.Fatalf("Invalid format: %v", err)
	}

	if *mode != "" && *mode != string(site.ModeList) && *mode != string(site.ModeDetail) {
		log.Fatalf("Invalid mode %q", *mode)
	}

	if (*pageURL == "") == (*inputFile == "") {
		fmt.Fprintln(os.Stderr, "exactly one of -url or -file is required")
		flag.Usage()
		os.Exit(2)
	}

	debug := debuglog.NewHandler(
		logger.NewHandler(os.Stderr, cfg.Logging.Level, cfg.Logging.Format),
		debuglog.Options{Capacity: cfg.Shell.DebugCapacity},
	)
	lg := slog.New(debug)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		lg.Info("Shutdown signal received")
		cancel()
	}()

	url := *pageURL
	var html string
	if *inputFile != "" {
		data, err := os.ReadFile(*inputFile)
		if err != nil {
			log.Fatalf("Failed to read %s: %v", *inputFile, err)
		}
		html = string(data)
		url = *fileURL
	} else {
		html, err = render(ctx, cfg, *headless, url, lg)
		if err != nil {
			lg.Error("Failed to render page", "url", url, "error", err)
			os.Exit(1)
		}
	}

	s := site.FromURL(url)
	if *siteName != "" {
		if s, err = site.Parse(*siteName); err != nil {
			log.Fatalf("Invalid site: %v", err)
		}
	}

	page, err := messaging.LoadPage(html, url)
	if err != nil {
		log.Fatalf("Failed to parse page: %v", err)
	}
	pageCtx := messaging.NewPageContext(extractor.New(lg), debug, lg)
	pageCtx.Attach(page)

	dir := cfg.Export.Dir
	if *outDir != "" {
		dir = *outDir
	}
	sink, err := storage.NewFileSink(dir)
	if err != nil {
		log.Fatalf("Failed to prepare export directory: %v", err)
	}

	ctrl := shell.NewController(
		messaging.NewLocalChannel(pageCtx, cfg.Shell.ResponseTimeout),
		settings.NewMemoryStore(),
		cache.NewMemory(),
		sink,
		lg,
		shell.Options{DetectAttempts: cfg.Shell.DetectAttempts, DetectInterval: cfg.Shell.DetectInterval},
	)

	result, status := ctrl.ScrapeMode(ctx, s, site.Mode(*mode))
	fmt.Println(status.Message)

	// Exports read the cache from here on.
	pageCtx.Detach()

	if *dumpDebug {
		printDebug(debug.Entries())
	}

	if !result.Success {
		os.Exit(1)
	}

	if exportFormat == shell.FormatCSV {
		status = ctrl.ExportCSV(ctx, s)
	} else {
		status = ctrl.ExportJSON(ctx, s)
	}
	fmt.Println(status.Message, status.Location)
	if status.Kind == shell.StatusError {
		os.Exit(1)
	}
}

func render(ctx context.Context, cfg *config.Config, headless bool, url string, lg *slog.Logger) (string, error) {
	opts := cfg.BrowserOptions()
	opts.Headless = headless && opts.Headless

	b, err := browser.New(opts, lg)
	if err != nil {
		return "", fmt.Errorf("failed to initialize browser: %w", err)
	}
	defer b.Close()

	return b.Render(ctx, url, site.FromURL(url).ReadySelector())
}

func printDebug(entries []debuglog.Entry) {
	enc := json.NewEncoder(os.Stderr)
	enc.SetIndent("", "  ")
	if err := enc.Encode(entries); err != nil {
		fmt.Fprintf(os.Stderr, "failed to print debug log: %v\n", err)
	}
}
