package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/maltedev/listing-scraper/internal/browser"
	"github.com/maltedev/listing-scraper/internal/config"
	"github.com/maltedev/listing-scraper/internal/logger"
	"github.com/maltedev/listing-scraper/internal/models"
	"github.com/maltedev/listing-scraper/internal/ratelimit"
	"github.com/maltedev/listing-scraper/internal/scraper"
	"github.com/maltedev/listing-scraper/internal/storage"
)

func main() {
	var (
		url         = flag.String("url", "", "listing URL to extract")
		htmlFile    = flag.String("html", "", "parse this saved HTML file instead of opening a browser")
		batchFile   = flag.String("batch", "", "file with one listing URL per line")
		stateFile   = flag.String("state", "", "batch state file (default: <batch>.state.json)")
		retryFailed = flag.Bool("retry-failed", false, "put failed batch links back to pending")
		debugDir    = flag.String("debug-dir", "", "write a screenshot at each pipeline checkpoint")
		headless    = flag.Bool("headless", true, "run the browser headless (overrides BROWSER_HEADLESS)")
		pretty      = flag.Bool("pretty", true, "indent the JSON output")
	)
	flag.Parse()

	if *url == "" && *batchFile == "" {
		fmt.Fprintln(os.Stderr, "Usage: extract -url <listing-url> [-html file] [-debug-dir dir]")
		fmt.Fprintln(os.Stderr, "       extract -batch urls.txt [-state state.json] [-retry-failed]")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// logs go to stderr so stdout stays valid JSON
	log := logger.NewWithWriter(os.Stderr, cfg.Logging.Level, "text")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := scraper.OptionsFromConfig(cfg.Pipeline)

	encoder := json.NewEncoder(os.Stdout)
	if *pretty && *batchFile == "" {
		encoder.SetIndent("", "  ")
	}

	// Static adapter: no browser
	if *htmlFile != "" {
		data, err := os.ReadFile(*htmlFile)
		if err != nil {
			log.Error("failed to read html file", "file", *htmlFile, "error", err)
			os.Exit(1)
		}

		svc := scraper.NewService(nil, opts, log)
		listing, err := svc.ParseHTML(*url, string(data))
		emit(encoder, log, scraper.NewResult(*url, listing, err))
		return
	}

	dir := *debugDir
	if dir == "" {
		dir = cfg.Pipeline.DebugDir
	}

	browserOpts := browser.OptionsFromConfig(cfg.Browser)
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "headless" {
			browserOpts.Headless = *headless
		}
	})

	b, err := browser.New(browserOpts)
	if err != nil {
		log.Error("failed to initialize browser", "error", err)
		os.Exit(1)
	}
	defer b.Close()

	var serviceOpts []scraper.ServiceOption
	if dir != "" {
		serviceOpts = append(serviceOpts, scraper.WithCheckpointHook(scraper.ScreenshotHook(dir, log)))
	}
	svc := scraper.NewService(scraper.BrowserLauncher(b), opts, log, serviceOpts...)

	if *batchFile == "" {
		listing, err := svc.Run(ctx, *url)
		emit(encoder, log, scraper.NewResult(*url, listing, err))
		return
	}

	state := *stateFile
	if state == "" {
		state = *batchFile + ".state.json"
	}

	limiter := ratelimit.NewAdaptiveRateLimiter(cfg.Jobs.RateLimitMin, cfg.Jobs.RateLimitMax)
	if err := runBatch(ctx, svc, limiter, *batchFile, state, *retryFailed, encoder, log); err != nil {
		log.Error("batch failed", "error", err)
		os.Exit(1)
	}
}

// runBatch extracts every pending link of the batch, one session at a time,
// and records each outcome in the state file.
func runBatch(ctx context.Context, svc *scraper.Service, limiter *ratelimit.AdaptiveRateLimiter,
	batchFile, stateFile string, retryFailed bool, encoder *json.Encoder, log *slog.Logger) error {

	urls, err := readURLs(batchFile)
	if err != nil {
		return err
	}

	links, err := storage.NewLinkStorage(stateFile)
	if err != nil {
		return fmt.Errorf("failed to open state: %w", err)
	}

	added, err := links.AddBatch(urls)
	if err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}
	if retryFailed {
		if _, err := links.Reset(); err != nil {
			return fmt.Errorf("failed to save state: %w", err)
		}
	}

	pending := links.GetPending()
	log.Info("batch loaded", "urls", len(urls), "added", added, "pending", len(pending), "state", stateFile)

	for i, link := range pending {
		if err := limiter.Wait(ctx); err != nil {
			log.Warn("batch interrupted", "done", i, "pending", len(pending)-i)
			return nil
		}

		listing, runErr := svc.Run(ctx, link.URL)
		result := scraper.NewResult(link.URL, listing, runErr)

		switch {
		case runErr == nil:
			limiter.RecordSuccess()
		case scraper.KindOf(runErr) == scraper.KindBlockedBySource:
			if limiter.RecordError() {
				minDelay, maxDelay := limiter.Delays()
				log.Warn("source keeps blocking, slowing down", "min_delay", minDelay, "max_delay", maxDelay)
			}
		}

		if ctx.Err() != nil {
			log.Warn("batch interrupted", "done", i, "pending", len(pending)-i)
			return nil
		}

		if err := links.Record(link.URL, result); err != nil {
			return fmt.Errorf("failed to save state: %w", err)
		}
		emit(encoder, log, result)
	}

	log.Info("batch finished", "stats", links.GetStats())
	return nil
}

// readURLs reads one URL per line, skipping blanks and # comments.
func readURLs(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open batch file: %w", err)
	}
	defer f.Close()

	var urls []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read batch file: %w", err)
	}
	return urls, nil
}

func emit(encoder *json.Encoder, log *slog.Logger, result *models.ScrapeResult) {
	if err := encoder.Encode(result); err != nil {
		log.Error("failed to encode result", "error", err)
	}
}
