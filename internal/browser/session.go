package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/maltedev/listing-scraper/internal/parser"
)

// Session is one isolated browser context with a single page. It is owned by
// exactly one extraction run and never shared.
type Session struct {
	context playwright.BrowserContext
	page    playwright.Page
	logger  *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// Navigate loads url and waits for DOMContentLoaded. A timeout is reported as
// ErrNavigationTimeout.
func (s *Session) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	_, err := s.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(boundedTimeout(ctx, timeout)),
	})
	if err != nil {
		if errors.Is(err, playwright.ErrTimeout) {
			return fmt.Errorf("%w: %s", ErrNavigationTimeout, url)
		}
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

// WaitForAny waits until one of selectors is attached. All selectors share
// the same timeout budget.
func (s *Session) WaitForAny(ctx context.Context, selectors []string, timeout time.Duration) error {
	if len(selectors) == 0 {
		return nil
	}

	_, err := s.page.WaitForSelector(strings.Join(selectors, ", "), playwright.PageWaitForSelectorOptions{
		State:   playwright.WaitForSelectorStateAttached,
		Timeout: playwright.Float(boundedTimeout(ctx, timeout)),
	})
	if err != nil {
		return fmt.Errorf("content selectors not found: %w", err)
	}
	return nil
}

// Scroll moves the viewport down by one screen height.
func (s *Session) Scroll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.page.Evaluate(`() => window.scrollBy(0, window.innerHeight)`); err != nil {
		return fmt.Errorf("failed to scroll: %w", err)
	}
	return nil
}

func (s *Session) Title() (string, error) {
	return s.page.Title()
}

// BodyText returns the rendered innerText of the document body.
func (s *Session) BodyText() (string, error) {
	result, err := s.page.Evaluate(bodyTextScript)
	if err != nil {
		return "", fmt.Errorf("failed to read body text: %w", err)
	}
	text, _ := result.(string)
	return text, nil
}

// Query returns the live FieldQuery adapter for the session's page.
func (s *Session) Query() parser.FieldQuery {
	return &LivePage{page: s.page, logger: s.logger}
}

// FetchImage downloads url from inside the page so the request carries the
// page's cookies and origin. It returns the image as a data URL.
func (s *Session) FetchImage(ctx context.Context, url string, maxBytes int64, timeout time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	result, err := s.page.Evaluate(fetchImageScript, map[string]interface{}{
		"url":       url,
		"maxBytes":  maxBytes,
		"timeoutMs": boundedTimeout(ctx, timeout),
	})
	if err != nil {
		return "", fmt.Errorf("in-page fetch failed: %w", err)
	}

	return parseFetchResult(result)
}

func (s *Session) Screenshot() ([]byte, error) {
	return s.page.Screenshot(playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(true),
	})
}

// Close releases the browser context. It is safe to call more than once and
// from another goroutine than the one running the extraction.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		if s.context != nil {
			s.closeErr = s.context.Close()
		}
	})
	return s.closeErr
}

func parseFetchResult(result interface{}) (string, error) {
	m, ok := result.(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("unexpected fetch result %T", result)
	}

	if okVal, _ := m["ok"].(bool); okVal {
		dataURL, _ := m["dataUrl"].(string)
		if dataURL == "" {
			return "", errors.New("empty data URL")
		}
		return dataURL, nil
	}

	switch {
	case m["tooLarge"] == true:
		return "", errors.New("image exceeds size limit")
	case m["timeout"] == true:
		return "", errors.New("image fetch timed out")
	}
	if status, ok := m["status"].(float64); ok && status > 0 {
		return "", fmt.Errorf("image fetch returned status %d", int(status))
	}
	msg, _ := m["error"].(string)
	return "", fmt.Errorf("image fetch failed: %s", msg)
}

func boundedTimeout(ctx context.Context, timeout time.Duration) float64 {
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout < time.Millisecond {
		timeout = time.Millisecond
	}
	return float64(timeout.Milliseconds())
}

const bodyTextScript = `() => document.body ? document.body.innerText : ''`

const fetchImageScript = `async ({ url, maxBytes, timeoutMs }) => {
	const timer = new Promise(resolve => setTimeout(() => resolve({ ok: false, timeout: true }), timeoutMs));
	const download = (async () => {
		try {
			const res = await fetch(url, { credentials: 'include' });
			if (!res.ok) {
				return { ok: false, status: res.status };
			}
			const blob = await res.blob();
			if (blob.size > maxBytes) {
				return { ok: false, tooLarge: true };
			}
			const dataUrl = await new Promise((resolve, reject) => {
				const reader = new FileReader();
				reader.onload = () => resolve(reader.result);
				reader.onerror = () => reject(reader.error);
				reader.readAsDataURL(blob);
			});
			return { ok: true, dataUrl };
		} catch (e) {
			return { ok: false, error: String(e) };
		}
	})();
	return Promise.race([download, timer]);
}`
