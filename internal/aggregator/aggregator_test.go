package aggregator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"jobbot/internal/posting"
	"jobbot/internal/source"
	logx "jobbot/pkg/logx"
)

type fakeSource struct {
	name  string
	items []posting.RawPosting
	calls int
}

func (f *fakeSource) Name() string { return f.name }
func (f *fakeSource) Fetch(context.Context) []posting.RawPosting {
	f.calls++
	return f.items
}

type memStore struct {
	mu      sync.Mutex
	rows    map[string]posting.Posting
	failFor string
	nextID  int64
}

func newMemStore() *memStore { return &memStore{rows: map[string]posting.Posting{}} }

func (m *memStore) InsertIfAbsent(_ context.Context, p *posting.Posting) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failFor != "" && p.Title == m.failFor {
		return false, errors.New("disk full")
	}
	if _, ok := m.rows[p.Fingerprint]; ok {
		return false, nil
	}
	m.nextID++
	p.ID = m.nextID
	m.rows[p.Fingerprint] = *p
	return true, nil
}

func noSleep(context.Context, time.Duration) error { return nil }

func newTestAggregator(cfg Config, st Inserter) *Aggregator {
	a := New(cfg, st, logx.Nop())
	a.sleep = noSleep
	return a
}

func TestRunPassDedupAcrossSources(t *testing.T) {
	t.Parallel()
	ssc := posting.RawPosting{Title: "SSC CGL 2025 Notification", Organization: "SSC"}
	a := newTestAggregator(Config{
		RSS: []source.Source{
			&fakeSource{name: "employment_news", items: []posting.RawPosting{ssc}},
			&fakeSource{name: "ssc", items: []posting.RawPosting{ssc}},
		},
	}, newMemStore())

	res := a.RunPass(context.Background())
	if res.TotalFetched != 2 {
		t.Fatalf("TotalFetched = %d, want 2", res.TotalFetched)
	}
	if res.NewlyInserted != 1 {
		t.Fatalf("NewlyInserted = %d, want 1", res.NewlyInserted)
	}
	if res.Duplicates != 1 {
		t.Fatalf("Duplicates = %d, want 1", res.Duplicates)
	}
}

func TestRunPassIdempotentAcrossPasses(t *testing.T) {
	t.Parallel()
	src := &fakeSource{name: "upsc", items: []posting.RawPosting{
		{Title: "UPSC CSE 2025"}, {Title: "UPSC ESE 2025"},
	}}
	st := newMemStore()
	a := newTestAggregator(Config{RSS: []source.Source{src}}, st)

	if res := a.RunPass(context.Background()); res.NewlyInserted != 2 {
		t.Fatalf("first pass new = %d", res.NewlyInserted)
	}
	if res := a.RunPass(context.Background()); res.NewlyInserted != 0 || res.Duplicates != 2 {
		t.Fatalf("second pass = %+v", res)
	}
}

func TestRunPassFallbackBelowThreshold(t *testing.T) {
	t.Parallel()
	html := &fakeSource{name: "ssc_site", items: []posting.RawPosting{{Title: "Stenographer Recruitment 2025"}}}
	a := newTestAggregator(Config{
		RSS: []source.Source{
			&fakeSource{name: "a", items: []posting.RawPosting{{Title: "One"}}},
			&fakeSource{name: "b", items: []posting.RawPosting{{Title: "Two"}}},
		},
		HTML:              []source.Source{html},
		FallbackThreshold: 5,
	}, newMemStore())

	res := a.RunPass(context.Background())
	if html.calls != 1 {
		t.Fatalf("html fallback calls = %d, want 1", html.calls)
	}
	if !res.FallbackUsed || res.NewlyInserted != 3 {
		t.Fatalf("result = %+v", res)
	}
	last := res.Sources[len(res.Sources)-1]
	if last.Name != "ssc_site" || !last.Fallback {
		t.Fatalf("fallback source result = %+v", last)
	}
}

func TestRunPassNoFallbackAtThreshold(t *testing.T) {
	t.Parallel()
	items := make([]posting.RawPosting, 5)
	for i := range items {
		items[i] = posting.RawPosting{Title: string(rune('A'+i)) + " vacancy"}
	}
	html := &fakeSource{name: "page"}
	a := newTestAggregator(Config{
		RSS:               []source.Source{&fakeSource{name: "feed", items: items}},
		HTML:              []source.Source{html},
		FallbackThreshold: 5,
	}, newMemStore())

	if res := a.RunPass(context.Background()); res.FallbackUsed || html.calls != 0 {
		t.Fatalf("fallback used at threshold: %+v calls=%d", res, html.calls)
	}
}

func TestRunPassStoreErrorSkipsOnlyThatPosting(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	st.failFor = "Broken"
	a := newTestAggregator(Config{RSS: []source.Source{&fakeSource{name: "x", items: []posting.RawPosting{
		{Title: "First"}, {Title: "Broken"}, {Title: "Third"},
	}}}}, st)

	res := a.RunPass(context.Background())
	if res.NewlyInserted != 2 || res.StoreErrors != 1 {
		t.Fatalf("result = %+v", res)
	}
}

func TestRunPassNormalizesAndFingerprints(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	a := newTestAggregator(Config{
		RSS:    []source.Source{&fakeSource{name: "en", items: []posting.RawPosting{{Title: "Junior Engineer Recruitment 2025", Summary: "Last Date: 12-08-2025"}}}},
		Policy: posting.FingerprintTitleOrgDate,
	}, st)
	fixed := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return fixed }

	a.RunPass(context.Background())
	if len(st.rows) != 1 {
		t.Fatalf("rows = %d", len(st.rows))
	}
	for fp, p := range st.rows {
		if p.Source != "en" || p.Organization != posting.DefaultOrganization || p.LastDate != "12-08-2025" {
			t.Fatalf("posting = %+v", p)
		}
		if fp != posting.FingerprintTitleOrgDate.Fingerprint(p) {
			t.Fatal("fingerprint policy not applied")
		}
		if p.PostDate != fixed.Format(time.RFC3339) {
			t.Fatalf("PostDate = %q", p.PostDate)
		}
	}
}

func TestRunPassPacesAndStopsOnCancel(t *testing.T) {
	t.Parallel()
	srcs := []source.Source{&fakeSource{name: "a"}, &fakeSource{name: "b"}, &fakeSource{name: "c"}}
	a := New(Config{RSS: srcs, Delay: time.Second}, newMemStore(), logx.Nop())

	var sleeps int
	ctx, cancel := context.WithCancel(context.Background())
	a.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps++
		if d != time.Second {
			t.Errorf("delay = %v", d)
		}
		cancel()
		return ctx.Err()
	}
	res := a.RunPass(ctx)
	if sleeps != 1 {
		t.Fatalf("sleeps = %d, want 1 (only between calls)", sleeps)
	}
	if len(res.Sources) != 1 {
		t.Fatalf("sources run after cancel: %d", len(res.Sources))
	}
}

func TestApplySwapsSources(t *testing.T) {
	t.Parallel()
	first := &fakeSource{name: "first"}
	second := &fakeSource{name: "second"}
	a := newTestAggregator(Config{RSS: []source.Source{first}}, newMemStore())
	a.Apply(Config{RSS: []source.Source{second}})
	a.RunPass(context.Background())
	if first.calls != 0 || second.calls != 1 {
		t.Fatalf("calls first=%d second=%d", first.calls, second.calls)
	}
}
