package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"jobbot/internal/posting"
	logx "jobbot/pkg/logx"
)

func openTestStore(t *testing.T) *sqlStore {
	t.Helper()
	st, err := Open(context.Background(), Config{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "jobbot.db"),
	}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	s := st.(*sqlStore)
	var mu sync.Mutex
	clock := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	}
	return s
}

func newPosting(title, org string) *posting.Posting {
	p := &posting.Posting{
		Source:        "test",
		Title:         title,
		Organization:  org,
		Qualification: posting.DefaultQualification,
		LastDate:      posting.DefaultLastDate,
		Location:      posting.DefaultLocation,
	}
	p.Fingerprint = posting.FingerprintTitleOrg.Fingerprint(*p)
	return p
}

func TestInsertIfAbsentIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := newPosting("SSC CGL 2025 Notification", "SSC")
	ok, err := s.InsertIfAbsent(ctx, first)
	if err != nil || !ok {
		t.Fatalf("first insert: ok=%v err=%v", ok, err)
	}
	if first.ID == 0 || first.CreatedAt.IsZero() {
		t.Fatalf("insert did not set id/created_at: %+v", first)
	}

	dup := newPosting("SSC CGL 2025 Notification", "SSC")
	dup.ApplyLink = "https://other.example/link"
	ok, err = s.InsertIfAbsent(ctx, dup)
	if err != nil || ok {
		t.Fatalf("duplicate insert: ok=%v err=%v", ok, err)
	}

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Postings != 1 || st.Undelivered != 1 {
		t.Fatalf("stats = %+v, want 1 posting", st)
	}
}

func TestInsertIfAbsentConcurrent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		inserted int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.InsertIfAbsent(ctx, newPosting("UPSC CSE 2025", "UPSC"))
			if err != nil {
				t.Errorf("insert: %v", err)
				return
			}
			if ok {
				mu.Lock()
				inserted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if inserted != 1 {
		t.Fatalf("inserted = %d, want exactly 1", inserted)
	}
}

func TestInsertRejectsInvalid(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if _, err := s.InsertIfAbsent(ctx, &posting.Posting{Title: "", Fingerprint: "x"}); err == nil {
		t.Fatal("expected error for empty title")
	}
	if _, err := s.InsertIfAbsent(ctx, &posting.Posting{Title: "x"}); err == nil {
		t.Fatal("expected error for empty fingerprint")
	}
}

func TestListUndeliveredNewestFirstAndMarkDelivered(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	titles := []string{"Alpha Recruitment", "Beta Vacancy", "Gamma Notification", "Delta Notice"}
	ids := make([]int64, 0, len(titles))
	for _, title := range titles {
		p := newPosting(title, posting.DefaultOrganization)
		if ok, err := s.InsertIfAbsent(ctx, p); err != nil || !ok {
			t.Fatalf("insert %q: ok=%v err=%v", title, ok, err)
		}
		ids = append(ids, p.ID)
	}

	got, err := s.ListUndelivered(ctx, 3)
	if err != nil {
		t.Fatalf("ListUndelivered: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].Title != "Delta Notice" || got[2].Title != "Beta Vacancy" {
		t.Fatalf("order = %q, %q, %q", got[0].Title, got[1].Title, got[2].Title)
	}

	if err := s.MarkDelivered(ctx, ids[3]); err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}
	// idempotent
	if err := s.MarkDelivered(ctx, ids[3]); err != nil {
		t.Fatalf("MarkDelivered again: %v", err)
	}

	got, err = s.ListUndelivered(ctx, 10)
	if err != nil {
		t.Fatalf("ListUndelivered: %v", err)
	}
	if len(got) != 3 || got[0].Title != "Gamma Notification" {
		t.Fatalf("after mark: %d postings, first %q", len(got), got[0].Title)
	}

	p, err := s.Get(ctx, ids[3])
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !p.Delivered {
		t.Fatal("posting not marked delivered")
	}
	if _, err := s.Get(ctx, 9999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get missing: err = %v, want ErrNotFound", err)
	}

	latest, err := s.ListLatest(ctx, 2)
	if err != nil {
		t.Fatalf("ListLatest: %v", err)
	}
	if len(latest) != 2 || latest[0].Title != "Delta Notice" {
		t.Fatalf("ListLatest = %+v", latest)
	}
}

func TestSearch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for _, title := range []string{"SSC CGL 2025", "ssc mts notice", "UPSC CSE", "100% Result_Sheet"} {
		if _, err := s.InsertIfAbsent(ctx, newPosting(title, "X")); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	got, err := s.Search(ctx, "ssc", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	// "UPSC" contains "SC" but not "SSC".
	if len(got) != 2 {
		t.Fatalf("Search(ssc) = %d results, want 2", len(got))
	}

	got, err = s.Search(ctx, "%", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 || got[0].Title != "100% Result_Sheet" {
		t.Fatalf("Search(%%) = %+v", got)
	}

	if _, err := s.InsertIfAbsent(ctx, newPosting("Café Attendant Vacancy", "X")); err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, err = s.Search(ctx, "café", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 || got[0].Title != "Café Attendant Vacancy" {
		t.Fatalf("Search(café) = %+v", got)
	}

	got, err = s.Search(ctx, "  ", 10)
	if err != nil || len(got) != 0 {
		t.Fatalf("blank search: %v %v", got, err)
	}

	got, err = s.Search(ctx, "s", 1)
	if err != nil || len(got) != 1 {
		t.Fatalf("limit not applied: %d %v", len(got), err)
	}
}

func TestDestinationsLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.UpsertDestination(ctx, posting.Destination{ID: -100, Name: "Jobs", Kind: posting.KindChannel, AddedBy: 7}); err != nil {
		t.Fatalf("UpsertDestination: %v", err)
	}
	if err := s.UpsertDestination(ctx, posting.Destination{ID: -200, Name: "Group", Kind: posting.KindGroup, AddedBy: 8}); err != nil {
		t.Fatalf("UpsertDestination: %v", err)
	}
	// re-registration overwrites name/kind
	if err := s.UpsertDestination(ctx, posting.Destination{ID: -100, Name: "Jobs Renamed", Kind: posting.KindSupergroup, AddedBy: 9}); err != nil {
		t.Fatalf("UpsertDestination: %v", err)
	}

	dests, err := s.ListActiveDestinations(ctx)
	if err != nil {
		t.Fatalf("ListActiveDestinations: %v", err)
	}
	if len(dests) != 2 {
		t.Fatalf("len = %d, want 2", len(dests))
	}
	if dests[0].ID != -100 || dests[0].Name != "Jobs Renamed" || dests[0].Kind != posting.KindSupergroup {
		t.Fatalf("upsert did not overwrite: %+v", dests[0])
	}

	// two failures with threshold 2 deactivate
	if off, err := s.RecordDelivery(ctx, -200, false, 2); err != nil || off {
		t.Fatalf("first failure: off=%v err=%v", off, err)
	}
	if off, err := s.RecordDelivery(ctx, -200, false, 2); err != nil || !off {
		t.Fatalf("second failure: off=%v err=%v", off, err)
	}
	dests, _ = s.ListActiveDestinations(ctx)
	if len(dests) != 1 || dests[0].ID != -100 {
		t.Fatalf("active after deactivation = %+v", dests)
	}

	// success resets the counter
	if _, err := s.RecordDelivery(ctx, -100, false, 2); err != nil {
		t.Fatalf("RecordDelivery: %v", err)
	}
	if _, err := s.RecordDelivery(ctx, -100, true, 2); err != nil {
		t.Fatalf("RecordDelivery: %v", err)
	}
	if off, _ := s.RecordDelivery(ctx, -100, false, 2); off {
		t.Fatal("counter was not reset by success")
	}

	// a fresh registration reactivates
	if err := s.UpsertDestination(ctx, posting.Destination{ID: -200, Name: "Group", Kind: posting.KindGroup}); err != nil {
		t.Fatalf("UpsertDestination: %v", err)
	}
	dests, _ = s.ListActiveDestinations(ctx)
	if len(dests) != 2 {
		t.Fatalf("re-registration did not reactivate: %+v", dests)
	}
	for _, d := range dests {
		if d.ID == -200 && d.FailCount != 0 {
			t.Fatalf("fail_count not reset: %+v", d)
		}
	}

	if err := s.DeactivateDestination(ctx, -100); err != nil {
		t.Fatalf("DeactivateDestination: %v", err)
	}
	if err := s.UpsertDestination(ctx, posting.Destination{}); err == nil {
		t.Fatal("expected error for zero id")
	}
}

func TestUsersAndStats(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.UpsertUser(ctx, posting.User{ID: 1, Username: "a"}); err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}
	if err := s.UpsertUser(ctx, posting.User{ID: 1, Username: "a2", Verified: true}); err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}
	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Users != 1 || st.Postings != 0 || st.ActiveDestinations != 0 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestMigrateIsRepeatable(t *testing.T) {
	s := openTestStore(t)
	v, err := migrate(context.Background(), s.db, sqliteMigrations)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if v != len(sqliteMigrations) {
		t.Fatalf("version = %d", v)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), Config{Driver: "mongo"}, logx.Nop()); err == nil {
		t.Fatal("expected error")
	}
}
