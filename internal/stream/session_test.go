package stream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"
)

type editCall struct {
	At       time.Time
	Text     string
	Fallback string
	Blocks   []Block
	Final    bool
}

type fakeEditor struct {
	mu        sync.Mutex
	clock     *fakeClock
	calls     []editCall
	updateErr error
	finalErr  error
}

func (e *fakeEditor) UpdateMessage(ctx context.Context, channelID, messageTS, text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, editCall{At: e.clock.Now(), Text: text})
	return e.updateErr
}

func (e *fakeEditor) UpdateMessageBlocks(ctx context.Context, channelID, messageTS, fallbackText string, blocks []Block) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, editCall{At: e.clock.Now(), Fallback: fallbackText, Blocks: blocks, Final: true})
	return e.finalErr
}

func (e *fakeEditor) updates() []editCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]editCall, 0, len(e.calls))
	for _, c := range e.calls {
		if !c.Final {
			out = append(out, c)
		}
	}
	return out
}

func (e *fakeEditor) finals() []editCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]editCall, 0, 1)
	for _, c := range e.calls {
		if c.Final {
			out = append(out, c)
		}
	}
	return out
}

type fakeClock struct {
	mu  sync.Mutex
	cur time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{cur: time.Date(2026, 2, 16, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.cur = c.cur.Add(d)
	c.mu.Unlock()
}

func newTestSession(t *testing.T) (*Session, *fakeEditor, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	editor := &fakeEditor{clock: clock}
	s, err := NewSession(Options{
		ChannelID: "C222",
		MessageTS: "1739667600.000200",
		Editor:    editor,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:       clock.Now,
	})
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	return s, editor, clock
}

func blocksText(blocks []Block) string {
	var b strings.Builder
	for _, block := range blocks {
		if block.Type == "section" && block.Text != nil {
			b.WriteString(block.Text.Text)
		}
	}
	return b.String()
}

func TestNewSessionValidatesOptions(t *testing.T) {
	t.Parallel()

	editor := &fakeEditor{clock: newFakeClock()}
	cases := []struct {
		name string
		opts Options
	}{
		{name: "missing channel", opts: Options{MessageTS: "1.0", Editor: editor}},
		{name: "missing message ts", opts: Options{ChannelID: "C1", Editor: editor}},
		{name: "missing editor", opts: Options{ChannelID: "C1", MessageTS: "1.0"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewSession(tc.opts); err == nil {
				t.Fatalf("NewSession() expected error")
			}
		})
	}
}

func TestSessionStartsStreamingWithBaseInterval(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestSession(t)
	if s.State() != StateStreaming {
		t.Fatalf("state mismatch: got %s want %s", s.State(), StateStreaming)
	}
	if s.Interval() != DefaultBaseInterval {
		t.Fatalf("interval mismatch: got %s want %s", s.Interval(), DefaultBaseInterval)
	}
	if s.Updates() != 0 {
		t.Fatalf("updates mismatch: got %d want 0", s.Updates())
	}
}

func TestSessionFastFragmentsOnlyFinalize(t *testing.T) {
	t.Parallel()

	s, editor, clock := newTestSession(t)
	ctx := context.Background()
	for _, tok := range []string{"Hel", "lo", " world"} {
		clock.Advance(150 * time.Millisecond)
		if err := s.OnFragment(ctx, tok); err != nil {
			t.Fatalf("OnFragment() error = %v", err)
		}
	}
	if err := s.OnStreamEnd(ctx); err != nil {
		t.Fatalf("OnStreamEnd() error = %v", err)
	}

	if got := len(editor.updates()); got != 0 {
		t.Fatalf("intermediate updates mismatch: got %d want 0", got)
	}
	finals := editor.finals()
	if len(finals) != 1 {
		t.Fatalf("finalize calls mismatch: got %d want 1", len(finals))
	}
	if got := blocksText(finals[0].Blocks); got != "Hello world" {
		t.Fatalf("final text mismatch: got %q want %q", got, "Hello world")
	}
	if finals[0].Fallback != "Hello world" {
		t.Fatalf("fallback mismatch: got %q want %q", finals[0].Fallback, "Hello world")
	}
}

func TestSessionIntervalDoublesAfterEleventhUpdate(t *testing.T) {
	t.Parallel()

	s, editor, clock := newTestSession(t)
	ctx := context.Background()
	for i := 1; i <= 25; i++ {
		clock.Advance(1100 * time.Millisecond)
		if err := s.OnFragment(ctx, "x"); err != nil {
			t.Fatalf("OnFragment() error = %v", err)
		}
		if s.Updates() == 10 && s.Interval() != time.Second {
			t.Fatalf("interval after 10 updates: got %s want 1s", s.Interval())
		}
		if i == 11 {
			if s.Updates() != 11 {
				t.Fatalf("updates after 11 fragments: got %d want 11", s.Updates())
			}
			if s.Interval() != 2*time.Second {
				t.Fatalf("interval after 11 updates: got %s want 2s", s.Interval())
			}
		}
	}

	if got := s.Updates(); got != 18 {
		t.Fatalf("updates mismatch: got %d want 18", got)
	}
	if got := s.Interval(); got != 2*time.Second {
		t.Fatalf("interval mismatch: got %s want 2s", got)
	}
	updates := editor.updates()
	for i := 12; i < len(updates); i++ {
		gap := updates[i].At.Sub(updates[i-1].At)
		if gap <= 2*time.Second {
			t.Fatalf("gap before update %d: got %s want > 2s", i+1, gap)
		}
	}
	last := updates[len(updates)-1]
	if !strings.HasSuffix(last.Text, DefaultTypingMarker) {
		t.Fatalf("update text missing typing marker: %q", last.Text)
	}
}

func TestSessionIntervalBoundaryIsStrict(t *testing.T) {
	t.Parallel()

	s, editor, clock := newTestSession(t)
	clock.Advance(time.Second)
	if err := s.OnFragment(context.Background(), "a"); err != nil {
		t.Fatalf("OnFragment() error = %v", err)
	}
	if got := len(editor.updates()); got != 0 {
		t.Fatalf("updates at exactly one interval: got %d want 0", got)
	}
	clock.Advance(time.Millisecond)
	if err := s.OnFragment(context.Background(), "b"); err != nil {
		t.Fatalf("OnFragment() error = %v", err)
	}
	updates := editor.updates()
	if len(updates) != 1 {
		t.Fatalf("updates mismatch: got %d want 1", len(updates))
	}
	if updates[0].Text != "ab"+DefaultTypingMarker {
		t.Fatalf("update text mismatch: got %q", updates[0].Text)
	}
}

func TestSessionRandomizedProperties(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 20; round++ {
		s, editor, clock := newTestSession(t)
		ctx := context.Background()

		var want strings.Builder
		var intervals []time.Duration
		prev := s.Interval()
		n := rng.Intn(200)
		for i := 0; i < n; i++ {
			clock.Advance(time.Duration(rng.Intn(3000)) * time.Millisecond)
			tok := string(rune('a' + rng.Intn(26)))
			want.WriteString(tok)
			before := len(editor.updates())
			intervalBefore := s.Interval()
			if err := s.OnFragment(ctx, tok); err != nil {
				t.Fatalf("OnFragment() error = %v", err)
			}
			if len(editor.updates()) > before {
				intervals = append(intervals, intervalBefore)
			}
			if s.Text() != want.String() {
				t.Fatalf("text mismatch after %d fragments", i+1)
			}
			if s.Interval() < prev {
				t.Fatalf("interval decreased: %s -> %s", prev, s.Interval())
			}
			prev = s.Interval()
		}

		updates := editor.updates()
		for i := 1; i < len(updates); i++ {
			gap := updates[i].At.Sub(updates[i-1].At)
			if gap <= intervals[i-1] {
				t.Fatalf("round %d: updates %d and %d only %s apart (interval %s)", round, i, i+1, gap, intervals[i-1])
			}
		}

		if err := s.OnStreamEnd(ctx); err != nil {
			t.Fatalf("OnStreamEnd() error = %v", err)
		}
		finals := editor.finals()
		if len(finals) != 1 {
			t.Fatalf("finalize calls mismatch: got %d want 1", len(finals))
		}
		if got := blocksText(finals[0].Blocks); got != want.String() {
			t.Fatalf("final text mismatch: got %q want %q", got, want.String())
		}
		if editor.calls[len(editor.calls)-1].Final != true {
			t.Fatalf("finalize must be the last edit")
		}
	}
}

func TestSessionUpdateErrorDoesNotStopStream(t *testing.T) {
	t.Parallel()

	s, editor, clock := newTestSession(t)
	editor.updateErr = errors.New("ratelimited")
	ctx := context.Background()
	clock.Advance(2 * time.Second)
	if err := s.OnFragment(ctx, "one "); err != nil {
		t.Fatalf("OnFragment() error = %v", err)
	}
	clock.Advance(2 * time.Second)
	if err := s.OnFragment(ctx, "two"); err != nil {
		t.Fatalf("OnFragment() error = %v", err)
	}
	if got := len(editor.updates()); got != 2 {
		t.Fatalf("update attempts mismatch: got %d want 2", got)
	}
	if err := s.OnStreamEnd(ctx); err != nil {
		t.Fatalf("OnStreamEnd() error = %v", err)
	}
	if got := blocksText(editor.finals()[0].Blocks); got != "one two" {
		t.Fatalf("final text mismatch: got %q", got)
	}
}

func TestSessionFinalizeErrorIsTransportError(t *testing.T) {
	t.Parallel()

	s, editor, _ := newTestSession(t)
	editor.finalErr = errors.New("message_not_found")
	err := s.OnStreamEnd(context.Background())
	if err == nil {
		t.Fatalf("OnStreamEnd() expected error")
	}
	if !IsTransportError(err) {
		t.Fatalf("OnStreamEnd() error type mismatch: got %T", err)
	}
	if !errors.Is(err, editor.finalErr) {
		t.Fatalf("OnStreamEnd() error should wrap cause: %v", err)
	}
	if s.State() != StateFinalized {
		t.Fatalf("state mismatch: got %s want %s", s.State(), StateFinalized)
	}
}

func TestSessionRejectsInputAfterFinalize(t *testing.T) {
	t.Parallel()

	s, editor, clock := newTestSession(t)
	ctx := context.Background()
	if err := s.OnFragment(ctx, "partial"); err != nil {
		t.Fatalf("OnFragment() error = %v", err)
	}
	if err := s.OnStreamEnd(ctx); err != nil {
		t.Fatalf("OnStreamEnd() error = %v", err)
	}
	clock.Advance(5 * time.Second)
	if err := s.OnFragment(ctx, " more"); !errors.Is(err, ErrSessionFinalized) {
		t.Fatalf("OnFragment() after finalize: got %v want ErrSessionFinalized", err)
	}
	if err := s.OnStreamEnd(ctx); !errors.Is(err, ErrSessionFinalized) {
		t.Fatalf("second OnStreamEnd(): got %v want ErrSessionFinalized", err)
	}
	if s.Text() != "partial" {
		t.Fatalf("text mismatch: got %q want %q", s.Text(), "partial")
	}
	if got := len(editor.finals()); got != 1 {
		t.Fatalf("finalize calls mismatch: got %d want 1", got)
	}
	if got := len(editor.updates()); got != 0 {
		t.Fatalf("updates mismatch: got %d want 0", got)
	}
}

func TestSessionConcurrentFragmentsKeepAllText(t *testing.T) {
	t.Parallel()

	s, _, clock := newTestSession(t)
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			clock.Advance(100 * time.Millisecond)
			_ = s.OnFragment(ctx, "z")
		}()
	}
	wg.Wait()
	if got := len(s.Text()); got != 50 {
		t.Fatalf("text length mismatch: got %d want 50", got)
	}
}
