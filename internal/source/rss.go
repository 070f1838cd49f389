package source

import (
	"bytes"
	"context"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"jobbot/internal/posting"
	logx "jobbot/pkg/logx"
)

// RSS reads an RSS/Atom feed and keeps the newest Limit entries.
type RSS struct {
	name string
	url  string
	opt  Options
}

func NewRSS(name, url string, opt Options) *RSS {
	opt = opt.withDefaults()
	opt.Log = opt.Log.With(logx.String("source", name))
	return &RSS{name: name, url: url, opt: opt}
}

func (r *RSS) Name() string { return r.name }
func (r *RSS) URL() string  { return r.url }

func (r *RSS) Fetch(ctx context.Context) []posting.RawPosting {
	body, err := get(ctx, r.opt, r.url, "application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.8")
	if err != nil {
		r.opt.Log.Warn("rss fetch failed", logx.String("url", r.url), logx.Err(err))
		return nil
	}
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		r.opt.Log.Warn("rss parse failed", logx.String("url", r.url), logx.Err(err))
		return nil
	}

	items := make([]*gofeed.Item, 0, len(feed.Items))
	for _, it := range feed.Items {
		if it != nil && strings.TrimSpace(it.Title) != "" {
			items = append(items, it)
		}
	}
	items = newestFirst(items)

	out := make([]posting.RawPosting, 0, min(len(items), r.opt.Limit))
	for _, it := range items {
		if len(out) >= r.opt.Limit {
			break
		}
		out = append(out, posting.RawPosting{
			Source:    r.name,
			Title:     strings.TrimSpace(it.Title),
			Summary:   itemSummary(it),
			Link:      itemLink(it),
			Published: strings.TrimSpace(it.Published),
		})
	}
	r.opt.Log.Debug("rss fetched", logx.Int("entries", len(feed.Items)), logx.Int("kept", len(out)))
	return out
}

// newestFirst sorts by publish time when every item carries one. Otherwise
// feed order is kept, since most feeds already list newest first.
func newestFirst(items []*gofeed.Item) []*gofeed.Item {
	for _, it := range items {
		if it.PublishedParsed == nil {
			return items
		}
	}
	sorted := append([]*gofeed.Item(nil), items...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].PublishedParsed.After(*sorted[j].PublishedParsed)
	})
	return sorted
}

func itemSummary(it *gofeed.Item) string {
	s := it.Description
	if strings.TrimSpace(s) == "" {
		s = it.Content
	}
	return stripHTML(s)
}

func itemLink(it *gofeed.Item) string {
	if l := strings.TrimSpace(it.Link); l != "" {
		return l
	}
	for _, l := range it.Links {
		if l = strings.TrimSpace(l); l != "" {
			return l
		}
	}
	return ""
}

// stripHTML returns the visible text of an HTML fragment.
func stripHTML(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.TrimSpace(s)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.TrimSpace(s)
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}
