package browser

import (
	"log/slog"
	"strings"

	"github.com/playwright-community/playwright-go"

	"github.com/maltedev/listing-scraper/internal/parser"
)

// LivePage is the FieldQuery adapter over a rendered playwright page.
type LivePage struct {
	page   playwright.Page
	logger *slog.Logger
}

func (l *LivePage) QuerySelectorText(selectors []string) (string, bool) {
	return parser.FirstText(selectors, func(selector string) string {
		el, err := l.page.QuerySelector(selector)
		if err != nil || el == nil {
			return ""
		}
		text, err := el.TextContent()
		if err != nil {
			return ""
		}
		return text
	})
}

func (l *LivePage) Exists(selectors []string) bool {
	for _, selector := range selectors {
		if el, err := l.page.QuerySelector(selector); err == nil && el != nil {
			return true
		}
	}
	return false
}

// QueryAttrs returns, per matching element, the first non-empty attribute in
// attrs resolved to an absolute URL. For src the browser's current source is
// used, which accounts for srcset.
func (l *LivePage) QueryAttrs(selector string, attrs ...string) []string {
	result, err := l.page.Locator(selector).EvaluateAll(queryAttrsScript, attrs)
	if err != nil {
		l.logger.Debug("attribute query failed", "selector", selector, "error", err)
		return nil
	}

	items, ok := result.([]interface{})
	if !ok {
		return nil
	}

	values := make([]string, 0, len(items))
	for _, item := range items {
		if v, ok := item.(string); ok && strings.TrimSpace(v) != "" {
			values = append(values, v)
		}
	}
	return values
}

func (l *LivePage) FullText() string {
	result, err := l.page.Evaluate(bodyTextScript)
	if err != nil {
		l.logger.Debug("full text query failed", "error", err)
		return ""
	}
	text, _ := result.(string)
	return text
}

func (l *LivePage) HTML() string {
	content, err := l.page.Content()
	if err != nil {
		l.logger.Debug("content query failed", "error", err)
		return ""
	}
	return content
}

const queryAttrsScript = `(elements, attrs) => elements.map(el => {
	for (const attr of attrs) {
		let value = el.getAttribute(attr);
		if (attr === 'src' && value) {
			value = el.currentSrc || el.src || value;
		}
		if (value && value.trim()) {
			try {
				return new URL(value.trim(), document.baseURI).href;
			} catch (e) {
				return value.trim();
			}
		}
	}
	return '';
}).filter(Boolean)`
