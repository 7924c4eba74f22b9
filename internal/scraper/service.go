package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maltedev/listing-scraper/internal/browser"
	"github.com/maltedev/listing-scraper/internal/config"
	"github.com/maltedev/listing-scraper/internal/models"
	"github.com/maltedev/listing-scraper/internal/parser"
)

// Session is the browser session a single Run drives. Close must be safe to
// call more than once and concurrently with other methods.
type Session interface {
	ImageFetcher
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	WaitForAny(ctx context.Context, selectors []string, timeout time.Duration) error
	Scroll(ctx context.Context) error
	Title() (string, error)
	BodyText() (string, error)
	Query() parser.FieldQuery
	Screenshot() ([]byte, error)
	Close() error
}

// Launcher opens a fresh, isolated session per run.
type Launcher interface {
	OpenSession(ctx context.Context) (Session, error)
}

// BrowserLauncher opens sessions on a launched playwright browser.
func BrowserLauncher(b *browser.Browser) Launcher {
	return browserLauncher{b: b}
}

type browserLauncher struct {
	b *browser.Browser
}

func (l browserLauncher) OpenSession(ctx context.Context) (Session, error) {
	sess, err := l.b.OpenSession(ctx)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// Options bounds every wait of a run. Their sum must stay below the caller's
// request deadline.
type Options struct {
	NavigationTimeout time.Duration
	ContentTimeout    time.Duration
	ScrollCycles      int
	ScrollPause       time.Duration
	SettlePause       time.Duration
	ImageTimeout      time.Duration
	MaxImageBytes     int64
}

func DefaultOptions() Options {
	return Options{
		NavigationTimeout: 25 * time.Second,
		ContentTimeout:    8 * time.Second,
		ScrollCycles:      3,
		ScrollPause:       800 * time.Millisecond,
		SettlePause:       1500 * time.Millisecond,
		ImageTimeout:      2500 * time.Millisecond,
		MaxImageBytes:     DefaultMaxImageBytes,
	}
}

// OptionsFromConfig maps the pipeline settings onto Options.
func OptionsFromConfig(cfg config.PipelineConfig) Options {
	return Options{
		NavigationTimeout: cfg.NavigationTimeout,
		ContentTimeout:    cfg.ContentTimeout,
		ScrollCycles:      cfg.ScrollCycles,
		ScrollPause:       cfg.ScrollPause,
		SettlePause:       cfg.SettlePause,
		ImageTimeout:      cfg.ImageTimeout,
		MaxImageBytes:     cfg.MaxImageBytes,
	}
}

// Budget is the longest a run can take, assuming every wait runs to its
// limit and all photos are fetched.
func (o Options) Budget() time.Duration {
	return o.NavigationTimeout +
		o.ContentTimeout +
		time.Duration(o.ScrollCycles)*o.ScrollPause +
		o.SettlePause +
		time.Duration(models.MaxPhotos)*o.ImageTimeout
}

type siteHandler struct {
	rules  *parser.Rules
	parser parser.Parser
}

// Service runs the extraction pipeline for one URL at a time per call. It
// holds no per-run state, so Run may be called concurrently.
type Service struct {
	launcher Launcher
	opts     Options
	sites    map[models.Site]siteHandler
	images   *ImageResolver
	hook     CheckpointHook
	logger   *slog.Logger
}

type ServiceOption func(*Service)

// WithCheckpointHook installs a hook invoked at pipeline checkpoints.
func WithCheckpointHook(hook CheckpointHook) ServiceOption {
	return func(s *Service) {
		s.hook = hook
	}
}

// WithParser replaces the field parser used for site.
func WithParser(site models.Site, p parser.Parser) ServiceOption {
	return func(s *Service) {
		h, ok := s.sites[site]
		if !ok {
			return
		}
		h.parser = p
		s.sites[site] = h
	}
}

func NewService(launcher Launcher, opts Options, logger *slog.Logger, options ...ServiceOption) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	leboncoin := parser.LeboncoinRules()
	s := &Service{
		launcher: launcher,
		opts:     opts,
		sites: map[models.Site]siteHandler{
			models.SiteLeboncoin: {
				rules:  leboncoin,
				parser: parser.NewExtractor(leboncoin, logger),
			},
		},
		images: NewImageResolver(opts.MaxImageBytes, opts.ImageTimeout, logger),
		logger: logger.With("component", "listing_scraper"),
	}

	for _, opt := range options {
		opt(s)
	}

	return s
}

// Run extracts one listing from rawURL. Every returned error is a
// *PipelineError. The session is closed on every path, including when ctx is
// cancelled while a stage is still running.
func (s *Service) Run(ctx context.Context, rawURL string) (listing *models.ParsedListing, err error) {
	started := time.Now()
	site := models.ClassifySite(rawURL)
	logger := s.logger.With("url", rawURL, "site", site)

	handler, pErr := s.handlerFor(site, rawURL)
	if pErr != nil {
		logger.Info("rejecting url", "kind", pErr.Kind)
		return nil, pErr
	}

	sess, openErr := s.launcher.OpenSession(ctx)
	if openErr != nil {
		logger.Error("failed to open browser session", "error", openErr)
		return nil, s.failure(ctx, "impossible d'ouvrir le navigateur", openErr)
	}

	defer s.closeSession(sess, logger)
	stop := context.AfterFunc(ctx, func() {
		logger.Warn("run cancelled, closing session", "error", ctx.Err())
		s.closeSession(sess, logger)
	})
	defer stop()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic during extraction", "panic", r)
			listing = nil
			err = errUnexpected("erreur inattendue pendant l'extraction", fmt.Errorf("panic: %v", r))
		}
	}()

	logger.Info("navigating")
	if navErr := sess.Navigate(ctx, rawURL, s.opts.NavigationTimeout); navErr != nil {
		if errors.Is(navErr, browser.ErrNavigationTimeout) {
			logger.Warn("navigation timed out", "timeout", s.opts.NavigationTimeout)
			return nil, errNavigationTimeout(navErr)
		}
		logger.Error("navigation failed", "error", navErr)
		return nil, s.failure(ctx, "la page n'a pas pu être chargée", navErr)
	}
	s.checkpoint(ctx, CheckpointNavigated, sess)

	if waitErr := sess.WaitForAny(ctx, handler.rules.ContentSelectors, s.opts.ContentTimeout); waitErr != nil {
		logger.Warn("listing content not found, continuing with fallbacks", "error", waitErr)
	}

	if settleErr := s.scrollAndSettle(ctx, sess); settleErr != nil {
		return nil, s.failure(ctx, "la page n'a pas pu être parcourue", settleErr)
	}
	s.checkpoint(ctx, CheckpointSettled, sess)

	title, titleErr := sess.Title()
	if titleErr != nil {
		return nil, s.failure(ctx, "la page n'a pas pu être lue", titleErr)
	}
	bodyText, textErr := sess.BodyText()
	if textErr != nil {
		return nil, s.failure(ctx, "la page n'a pas pu être lue", textErr)
	}

	if phrase := BlockPhrase(bodyText, title); phrase != "" {
		logger.Warn("blocked by source", "phrase", phrase, "title", title)
		s.checkpoint(ctx, CheckpointBlocked, sess)
		return nil, errBlocked()
	}

	listing = handler.parser.Extract(sess.Query(), rawURL)
	if ctx.Err() != nil {
		return nil, s.failure(ctx, "extraction interrompue", ctx.Err())
	}

	listing.Photos = s.images.Resolve(ctx, sess, photoURLs(listing.Photos))
	listing.CapPhotos()
	s.checkpoint(ctx, CheckpointExtracted, sess)

	logger.Info("listing extracted",
		"title", listing.Title,
		"price", listing.Price,
		"photos", len(listing.Photos),
		"duration", time.Since(started),
	)

	return listing, nil
}

// ParseHTML runs the field extraction over an already-fetched HTML string.
// No browser is involved and photos are returned URL-only.
func (s *Service) ParseHTML(rawURL, html string) (*models.ParsedListing, error) {
	site := models.ClassifySite(rawURL)

	handler, pErr := s.handlerFor(site, rawURL)
	if pErr != nil {
		return nil, pErr
	}

	doc, err := parser.NewStaticDocument(html, rawURL)
	if err != nil {
		return nil, errUnexpected("le HTML n'a pas pu être analysé", err)
	}

	if phrase := BlockPhrase(doc.FullText(), doc.Title()); phrase != "" {
		s.logger.Warn("blocked page submitted", "url", rawURL, "phrase", phrase)
		return nil, errBlocked()
	}

	listing := handler.parser.Extract(doc, rawURL)
	listing.Photos = URLOnly(photoURLs(listing.Photos))
	listing.CapPhotos()
	return listing, nil
}

func (s *Service) handlerFor(site models.Site, rawURL string) (siteHandler, *PipelineError) {
	switch site {
	case models.SiteUnknown:
		return siteHandler{}, errUnsupportedSite(rawURL)
	case models.SiteSeloger, models.SitePap:
		return siteHandler{}, errNotImplemented(string(site))
	}

	h, ok := s.sites[site]
	if !ok {
		return siteHandler{}, errNotImplemented(string(site))
	}
	return h, nil
}

func (s *Service) scrollAndSettle(ctx context.Context, sess Session) error {
	for i := 0; i < s.opts.ScrollCycles; i++ {
		if err := sess.Scroll(ctx); err != nil {
			return err
		}
		if err := sleep(ctx, s.opts.ScrollPause); err != nil {
			return err
		}
	}
	return sleep(ctx, s.opts.SettlePause)
}

// failure converts a stage error into a PipelineError, reporting
// cancellation rather than the side effect it caused on the session.
func (s *Service) failure(ctx context.Context, message string, err error) *PipelineError {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return errNavigationTimeout(ctxErr)
		}
		return errUnexpected("extraction annulée", ctxErr)
	}
	return errUnexpected(message, err)
}

func (s *Service) closeSession(sess Session, logger *slog.Logger) {
	if err := sess.Close(); err != nil {
		logger.Warn("failed to close session", "error", err)
	}
}

func (s *Service) checkpoint(ctx context.Context, cp Checkpoint, sess Session) {
	if s.hook == nil {
		return
	}
	s.hook(ctx, cp, sess)
}

func photoURLs(photos []models.PhotoRef) []string {
	urls := make([]string, 0, len(photos))
	for _, p := range photos {
		urls = append(urls, p.URL)
	}
	return urls
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
