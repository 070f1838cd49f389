package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"jobbot/internal/broadcast"
	"jobbot/internal/lock"
	"jobbot/internal/posting"
	"jobbot/internal/storage"
	"jobbot/internal/transport"
	logx "jobbot/pkg/logx"
)

type sent struct {
	chatID int64
	msg    transport.Message
}

type fakeResp struct {
	mu      sync.Mutex
	sent    []sent
	answers []string
}

func (f *fakeResp) Send(_ context.Context, chatID int64, msg transport.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{chatID, msg})
	return nil
}

func (f *fakeResp) AnswerCallback(_ context.Context, _ string, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, text)
	return nil
}

func (f *fakeResp) last(t *testing.T) sent {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		t.Fatal("nothing sent")
	}
	return f.sent[len(f.sent)-1]
}

type fakeMembers map[int64]transport.MembershipStatus

func (m fakeMembers) Membership(_ context.Context, _, userID int64) transport.MembershipStatus {
	return m[userID]
}

type fakeStore struct {
	undelivered []posting.Posting
	latest      []posting.Posting
	byID        map[int64]posting.Posting
	users       []posting.User
	searched    string
	stats       storage.Stats
}

func (s *fakeStore) ListUndelivered(_ context.Context, limit int) ([]posting.Posting, error) {
	return head(s.undelivered, limit), nil
}

func (s *fakeStore) ListLatest(_ context.Context, limit int) ([]posting.Posting, error) {
	return head(s.latest, limit), nil
}

func (s *fakeStore) Get(_ context.Context, id int64) (posting.Posting, error) {
	p, ok := s.byID[id]
	if !ok {
		return posting.Posting{}, storage.ErrNotFound
	}
	return p, nil
}

func (s *fakeStore) Search(_ context.Context, kw string, limit int) ([]posting.Posting, error) {
	s.searched = kw
	var out []posting.Posting
	for _, p := range s.latest {
		if strings.Contains(strings.ToLower(p.Title), strings.ToLower(kw)) {
			out = append(out, p)
		}
	}
	return head(out, limit), nil
}

func (s *fakeStore) UpsertUser(_ context.Context, u posting.User) error {
	s.users = append(s.users, u)
	return nil
}

func (s *fakeStore) Stats(context.Context) (storage.Stats, error) { return s.stats, nil }

func head(ps []posting.Posting, n int) []posting.Posting {
	if len(ps) > n {
		return ps[:n]
	}
	return ps
}

type fakeCycler struct {
	res   broadcast.CycleResult
	err   error
	calls int
}

func (c *fakeCycler) RunNow(context.Context) (broadcast.CycleResult, error) {
	c.calls++
	return c.res, c.err
}
func (c *fakeCycler) State() broadcast.State      { return broadcast.StateIdle }
func (c *fakeCycler) Last() broadcast.CycleResult { return c.res }
func (c *fakeCycler) Next() time.Time             { return time.Time{} }

const (
	owner    = int64(1)
	member   = int64(2)
	outsider = int64(3)
	unknown  = int64(4)
	channel  = int64(-100500)
)

func newTestBot(st *fakeStore, cy *fakeCycler) (*Bot, *fakeResp) {
	resp := &fakeResp{}
	members := fakeMembers{member: transport.Member, outsider: transport.MemberLeft, unknown: transport.MemberUnknown}
	b := New(Config{
		Owners:            []int64{owner},
		ChannelID:         channel,
		ChannelUsername:   "@govjobs",
		RequireMembership: true,
	}, st, cy, resp, members, logx.Nop())
	return b, resp
}

func command(from int64, text string) transport.Update {
	return transport.Update{Kind: transport.UpdateCommand, ChatID: from, FromID: from, Private: true, FromName: "Asha", Text: text}
}

func callback(from int64, data string) transport.Update {
	return transport.Update{Kind: transport.UpdateCallback, ChatID: from, FromID: from, Private: true, CallbackID: "cb", Data: data}
}

func TestStartVerifiesMembership(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		from     int64
		verified bool
		want     string
	}{
		{"member", member, true, "You are verified"},
		{"outsider", outsider, false, "join our channel first"},
		{"lookup failed", unknown, false, "Could not check"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := &fakeStore{}
			b, resp := newTestBot(st, &fakeCycler{})
			b.Router().Handle(context.Background(), command(tt.from, "/start"))

			if len(st.users) != 1 || st.users[0].ID != tt.from || st.users[0].Verified != tt.verified {
				t.Fatalf("users = %+v", st.users)
			}
			msg := resp.last(t).msg
			if !strings.Contains(msg.Text, tt.want) {
				t.Fatalf("reply = %q, want %q", msg.Text, tt.want)
			}
			if !tt.verified {
				rows := msg.Actions
				if len(rows) != 2 || rows[0][0].URL != "https://t.me/govjobs" || rows[1][0].Data != "verify" {
					t.Fatalf("join keyboard = %+v", rows)
				}
			}
		})
	}
}

func TestLatestPrefersUndelivered(t *testing.T) {
	t.Parallel()
	st := &fakeStore{
		undelivered: []posting.Posting{{ID: 7, Title: "Railway Group D"}},
		latest:      []posting.Posting{{ID: 1, Title: "Old"}},
	}
	b, resp := newTestBot(st, &fakeCycler{})
	b.Router().Handle(context.Background(), command(member, "/latest"))
	if len(resp.sent) != 1 || !strings.Contains(resp.sent[0].msg.Text, "Railway Group D") {
		t.Fatalf("sent = %+v", resp.sent)
	}

	st.undelivered = nil
	b.Router().Handle(context.Background(), command(member, "/latest"))
	if !strings.Contains(resp.last(t).msg.Text, "Old") {
		t.Fatal("latest did not fall back to recent postings")
	}
}

func TestLatestEmpty(t *testing.T) {
	t.Parallel()
	b, resp := newTestBot(&fakeStore{}, &fakeCycler{})
	b.Router().Handle(context.Background(), command(member, "/latest"))
	if !strings.Contains(resp.last(t).msg.Text, "No new jobs") {
		t.Fatalf("reply = %q", resp.last(t).msg.Text)
	}
}

func TestMembersOnlyCommandsAreGated(t *testing.T) {
	t.Parallel()
	st := &fakeStore{latest: []posting.Posting{{ID: 1, Title: "SSC CGL"}}}
	b, resp := newTestBot(st, &fakeCycler{})
	b.Router().Handle(context.Background(), command(outsider, "/search ssc"))
	if st.searched != "" {
		t.Fatal("search ran for a non-member")
	}
	if !strings.Contains(resp.last(t).msg.Text, "join our channel") {
		t.Fatalf("reply = %q", resp.last(t).msg.Text)
	}

	// owners bypass the gate even when not in the channel
	b.Router().Handle(context.Background(), command(owner, "/search ssc"))
	if st.searched != "ssc" {
		t.Fatalf("owner search = %q", st.searched)
	}
}

func TestSearch(t *testing.T) {
	t.Parallel()
	st := &fakeStore{latest: []posting.Posting{{ID: 1, Title: "SSC CGL 2025"}, {ID: 2, Title: "UPSC CSE"}}}
	b, resp := newTestBot(st, &fakeCycler{})

	b.Router().Handle(context.Background(), command(member, "/search"))
	if !strings.Contains(resp.last(t).msg.Text, "Usage") {
		t.Fatalf("no-args reply = %q", resp.last(t).msg.Text)
	}
	b.Router().Handle(context.Background(), command(member, "/search bank po"))
	if st.searched != "bank po" || !strings.Contains(resp.last(t).msg.Text, "No jobs found for 'BANK PO'") {
		t.Fatalf("miss reply = %q", resp.last(t).msg.Text)
	}
	b.Router().Handle(context.Background(), command(member, "/search cgl"))
	if !strings.Contains(resp.last(t).msg.Text, "SSC CGL 2025") {
		t.Fatalf("hit reply = %q", resp.last(t).msg.Text)
	}
}

func TestHelpHidesOwnerCommands(t *testing.T) {
	t.Parallel()
	b, resp := newTestBot(&fakeStore{}, &fakeCycler{})
	b.Router().Handle(context.Background(), command(member, "/help"))
	if txt := resp.last(t).msg.Text; strings.Contains(txt, "/fetchnow") || !strings.Contains(txt, "/search SSC") {
		t.Fatalf("member help = %q", txt)
	}
	b.Router().Handle(context.Background(), command(owner, "/help"))
	if txt := resp.last(t).msg.Text; !strings.Contains(txt, "/fetchnow") {
		t.Fatalf("owner help = %q", txt)
	}
}

func TestFetchNow(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"done", nil, "New: 2"},
		{"busy", broadcast.ErrCycleInProgress, "already running"},
		{"other instance", lock.ErrNotAcquired, "Another instance"},
		{"failed", errors.New("db down"), "Cycle failed: db down"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cy := &fakeCycler{res: broadcast.CycleResult{Found: 5, NewCount: 2, DispatchedCount: 2}, err: tt.err}
			b, resp := newTestBot(&fakeStore{}, cy)
			b.Router().Handle(context.Background(), command(owner, "/fetchnow"))
			if cy.calls != 1 {
				t.Fatalf("RunNow calls = %d", cy.calls)
			}
			if txt := resp.last(t).msg.Text; !strings.Contains(txt, tt.want) {
				t.Fatalf("reply = %q, want %q", txt, tt.want)
			}
		})
	}
}

func TestOwnerCommandsRefuseOthers(t *testing.T) {
	t.Parallel()
	cy := &fakeCycler{}
	b, resp := newTestBot(&fakeStore{}, cy)
	b.Router().Handle(context.Background(), command(member, "/fetchnow"))
	b.Router().Handle(context.Background(), command(member, "/status"))
	if cy.calls != 0 || len(resp.sent) != 0 {
		t.Fatalf("calls=%d sent=%d", cy.calls, len(resp.sent))
	}
}

func TestStatus(t *testing.T) {
	t.Parallel()
	st := &fakeStore{stats: storage.Stats{Postings: 12, Undelivered: 3, ActiveDestinations: 2, Users: 40}}
	cy := &fakeCycler{res: broadcast.CycleResult{StartedAt: time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC), NewCount: 4, DispatchedCount: 3}}
	b, resp := newTestBot(st, cy)
	b.Router().Handle(context.Background(), command(owner, "/status"))
	txt := resp.last(t).msg.Text
	for _, want := range []string{"Postings: 12 (undelivered 3)", "Destinations: 2", "Users: 40", "Cycle: idle", "new 4, dispatched 3"} {
		if !strings.Contains(txt, want) {
			t.Fatalf("status missing %q:\n%s", want, txt)
		}
	}
}

func TestDetailsAndDatesCallbacks(t *testing.T) {
	t.Parallel()
	p := posting.Posting{ID: 9, Title: "Junior Engineer", LastDate: "12-08-2025", PostDate: "2025-07-01T00:00:00Z"}
	st := &fakeStore{byID: map[int64]posting.Posting{9: p}}
	b, resp := newTestBot(st, &fakeCycler{})

	b.Router().Handle(context.Background(), callback(member, "dates_9"))
	if txt := resp.last(t).msg.Text; !strings.Contains(txt, "12-08-2025") || !strings.Contains(txt, "2025-07-01") {
		t.Fatalf("dates = %q", txt)
	}
	b.Router().Handle(context.Background(), callback(member, "details_9"))
	if txt := resp.last(t).msg.Text; !strings.Contains(txt, "Junior Engineer") {
		t.Fatalf("details = %q", txt)
	}

	n := len(resp.sent)
	b.Router().Handle(context.Background(), callback(member, "details_404"))
	if len(resp.sent) != n {
		t.Fatal("missing posting should only answer the callback")
	}
	if got := resp.answers[len(resp.answers)-1]; got != "This job is no longer available" {
		t.Fatalf("answer = %q", got)
	}
}

func TestChannelButtonRepliesPrivately(t *testing.T) {
	t.Parallel()
	st := &fakeStore{byID: map[int64]posting.Posting{9: {ID: 9, Title: "Clerk"}}}
	b, resp := newTestBot(st, &fakeCycler{})
	up := callback(member, "dates_9")
	up.ChatID, up.Private = channel, false
	b.Router().Handle(context.Background(), up)
	if got := resp.last(t).chatID; got != member {
		t.Fatalf("reply chat = %d, want %d", got, member)
	}
}

func TestVerifyCallback(t *testing.T) {
	t.Parallel()
	st := &fakeStore{}
	b, resp := newTestBot(st, &fakeCycler{})

	b.Router().Handle(context.Background(), callback(outsider, "verify"))
	if len(st.users) != 0 || resp.answers[0] != "❌ Not joined yet! Join the channel first." {
		t.Fatalf("outsider: users=%v answers=%v", st.users, resp.answers)
	}
	b.Router().Handle(context.Background(), callback(member, "verify"))
	if len(st.users) != 1 || !st.users[0].Verified {
		t.Fatalf("member users = %+v", st.users)
	}
}

func TestMembershipGateOff(t *testing.T) {
	t.Parallel()
	st := &fakeStore{latest: []posting.Posting{{ID: 1, Title: "Anything"}}}
	b, resp := newTestBot(st, &fakeCycler{})
	b.Apply(Config{Owners: []int64{owner}, RequireMembership: false})
	b.Router().Handle(context.Background(), command(outsider, "/latest"))
	if !strings.Contains(resp.last(t).msg.Text, "Anything") {
		t.Fatalf("reply = %q", resp.last(t).msg.Text)
	}
}

func TestPostingMessageButtons(t *testing.T) {
	t.Parallel()
	msg := PostingMessage(posting.Posting{ID: 3, Title: "A & B <Exam>"}, "@govjobs")
	if !strings.Contains(msg.Text, "A &amp; B &lt;Exam&gt;") {
		t.Fatalf("title not escaped: %q", msg.Text)
	}
	if msg.Actions[0][0].URL != fallbackApplyLink {
		t.Fatalf("apply url = %q", msg.Actions[0][0].URL)
	}
	if msg.Actions[1][0].Data != "details_3" || msg.Actions[1][1].Data != "dates_3" {
		t.Fatalf("rows = %+v", msg.Actions)
	}

	unsaved := PostingMessage(posting.Posting{Title: "x", ApplyLink: "https://ssc.gov.in"}, "")
	if len(unsaved.Actions) != 2 || unsaved.Actions[0][0].URL != "https://ssc.gov.in" {
		t.Fatalf("unsaved rows = %+v", unsaved.Actions)
	}
}
