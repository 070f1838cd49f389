package source

import (
	"bytes"
	"context"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"jobbot/internal/extract"
	"jobbot/internal/posting"
	logx "jobbot/pkg/logx"
)

// DefaultSelectors are tried in order; the first one that yields a
// keyword-matching block wins.
var DefaultSelectors = []string{
	"table tr",
	"ul li",
	"article",
	"div.notification",
	"div.news-item",
	"p",
}

// DefaultKeywords mark a text block as a recruitment notice.
var DefaultKeywords = []string{
	"recruitment", "vacancy", "vacancies", "notification", "notice", "advertisement", "apply online",
}

const maxBlockTitle = 200

// Block is one candidate notice found on a page.
type Block struct {
	Text string
	Link string
}

// HTML scrapes a web page for notices. It is used as a fallback when feeds
// are thin.
type HTML struct {
	name string
	url  string
	opt  Options

	selectors []string
	keywords  []string
}

func NewHTML(name, pageURL string, selectors, keywords []string, opt Options) *HTML {
	opt = opt.withDefaults()
	opt.Log = opt.Log.With(logx.String("source", name))
	if len(selectors) == 0 {
		selectors = DefaultSelectors
	}
	if len(keywords) == 0 {
		keywords = DefaultKeywords
	}
	return &HTML{name: name, url: pageURL, opt: opt, selectors: selectors, keywords: keywords}
}

func (h *HTML) Name() string { return h.name }
func (h *HTML) URL() string  { return h.url }

func (h *HTML) Fetch(ctx context.Context) []posting.RawPosting {
	body, err := get(ctx, h.opt, h.url, "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
	if err != nil {
		h.opt.Log.Warn("html fetch failed", logx.String("url", h.url), logx.Err(err))
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		h.opt.Log.Warn("html parse failed", logx.String("url", h.url), logx.Err(err))
		return nil
	}

	blocks, selector := h.Scan(doc)
	out := make([]posting.RawPosting, 0, len(blocks))
	for _, b := range blocks {
		out = append(out, posting.RawPosting{Source: h.name, Title: b.Text, Summary: b.Text, Link: b.Link})
	}
	h.opt.Log.Debug("html scanned", logx.String("selector", selector), logx.Int("kept", len(out)))
	return out
}

// Scan applies the selector cascade to doc. It returns the blocks of the
// first selector with any keyword match, and that selector.
func (h *HTML) Scan(doc *goquery.Document) ([]Block, string) {
	base, _ := url.Parse(h.url)
	isNotice := extract.KeywordRule("match", h.keywords...)

	rules := make(extract.Rules[[]Block], 0, len(h.selectors))
	for _, sel := range h.selectors {
		rules = append(rules, extract.Rule[[]Block]{
			Name: sel,
			Match: func(string) ([]Block, bool) {
				blocks := h.collect(doc, sel, base, isNotice)
				return blocks, len(blocks) > 0
			},
		})
	}
	// The page is the input for every rule; the text argument only gates evaluation.
	blocks, sel, _ := rules.Eval(h.url)
	return blocks, sel
}

func (h *HTML) collect(doc *goquery.Document, sel string, base *url.URL, isNotice extract.Rule[string]) []Block {
	var out []Block
	seen := map[string]struct{}{}
	doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := strings.Join(strings.Fields(s.Text()), " ")
		if text == "" {
			return true
		}
		if _, ok := isNotice.Match(text); !ok {
			return true
		}
		text = extract.TruncateRunes(text, maxBlockTitle)
		if _, dup := seen[text]; dup {
			return true
		}
		seen[text] = struct{}{}
		out = append(out, Block{Text: text, Link: h.resolveLink(s, base)})
		return len(out) < h.opt.Limit
	})
	return out
}

func (h *HTML) resolveLink(s *goquery.Selection, base *url.URL) string {
	href, ok := s.Find("a[href]").First().Attr("href")
	if !ok {
		// the block itself may be the anchor
		href, ok = s.Attr("href")
	}
	href = strings.TrimSpace(href)
	if !ok || href == "" || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return h.url
	}
	ref, err := url.Parse(href)
	if err != nil || base == nil {
		return h.url
	}
	return base.ResolveReference(ref).String()
}
