package proctor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/examhall/examhall-backend/internal/model"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReporter struct {
	mu           sync.Mutex
	reported     []model.ViolationType
	disqualified int
	reasons      []string
	submitted    int
}

func (r *fakeReporter) ReportViolation(_ context.Context, _ uuid.UUID, vType model.ViolationType, _ map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reported = append(r.reported, vType)
}

func (r *fakeReporter) RequestDisqualify(_ context.Context, _ uuid.UUID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disqualified++
	r.reasons = append(r.reasons, reason)
	return nil
}

func (r *fakeReporter) SubmitExam(_ context.Context, _ uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.submitted++
	return nil
}

func (r *fakeReporter) counts() (reported int, disqualified int, submitted int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reported), r.disqualified, r.submitted
}

type fakeScreen struct {
	mu          sync.Mutex
	focused     bool
	warnings    []string
	blocked     []string
	fullscreens int
}

func (s *fakeScreen) ShowWarning(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.warnings = append(s.warnings, msg)
}

func (s *fakeScreen) ShowBlockingNotice(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocked = append(s.blocked, reason)
}

func (s *fakeScreen) RequestFullscreen() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fullscreens++
}

func (s *fakeScreen) HasFocus() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.focused
}

func (s *fakeScreen) setFocus(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.focused = v
}

func newTestMonitor(reporter *fakeReporter, screen *fakeScreen) *Monitor {
	m := NewMonitor(Config{MaxViolations: 3, SubmitDelay: time.Millisecond}, uuid.New(), reporter, screen, zerolog.Nop())
	// Run scheduled callbacks inline so tests need no sleeping.
	m.schedule = func(_ time.Duration, f func()) *time.Timer {
		f()
		return nil
	}
	return m
}

func TestThresholdTripsExactlyOnce(t *testing.T) {
	reporter := &fakeReporter{}
	screen := &fakeScreen{}
	m := newTestMonitor(reporter, screen)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		m.HandleVisibilityChange(ctx, true)
	}

	_, disqualified, submitted := reporter.counts()
	assert.Equal(t, 1, disqualified, "ceiling crossings after the first must not re-disqualify")
	assert.Equal(t, 1, submitted, "auto-submit fires once")
	assert.Equal(t, 3, m.EscalatingCount(), "counting stops at the ceiling")
	assert.True(t, m.Tripped())
	require.Len(t, screen.blocked, 1)
}

func TestFocusLossDebounce(t *testing.T) {
	reporter := &fakeReporter{}
	screen := &fakeScreen{focused: true}
	m := newTestMonitor(reporter, screen)
	ctx := context.Background()
	now := time.Now()

	// One contiguous loss across many polls counts once.
	screen.setFocus(false)
	for i := 0; i < 4; i++ {
		m.CheckFocus(ctx, now.Add(time.Duration(i)*time.Second))
	}
	assert.Equal(t, 1, m.EscalatingCount())

	// The return edge is telemetry, not an escalation.
	screen.setFocus(true)
	m.CheckFocus(ctx, now.Add(5*time.Second))
	assert.Equal(t, 1, m.EscalatingCount())

	reporter.mu.Lock()
	defer reporter.mu.Unlock()
	require.Len(t, reporter.reported, 2)
	assert.Equal(t, model.ViolationTabSwitch, reporter.reported[0])
	assert.Equal(t, model.ViolationFocusReturn, reporter.reported[1])
}

func TestFocusLossSecondIntervalCountsAgain(t *testing.T) {
	reporter := &fakeReporter{}
	screen := &fakeScreen{focused: true}
	m := newTestMonitor(reporter, screen)
	ctx := context.Background()
	now := time.Now()

	screen.setFocus(false)
	m.CheckFocus(ctx, now)
	screen.setFocus(true)
	m.CheckFocus(ctx, now.Add(time.Second))
	screen.setFocus(false)
	m.CheckFocus(ctx, now.Add(2*time.Second))

	assert.Equal(t, 2, m.EscalatingCount())
}

func TestWarnOnlySignalsNeverEscalate(t *testing.T) {
	reporter := &fakeReporter{}
	screen := &fakeScreen{}
	m := newTestMonitor(reporter, screen)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		m.HandleContextMenu(ctx)
		m.HandleClipboard(ctx, model.ViolationCopy)
		m.HandleClipboard(ctx, model.ViolationPaste)
		m.HandleKey(ctx, KeyEvent{Key: "F12"})
	}

	assert.Equal(t, 0, m.EscalatingCount())
	assert.False(t, m.Tripped())
	_, disqualified, _ := reporter.counts()
	assert.Equal(t, 0, disqualified)
	assert.NotEmpty(t, screen.warnings)
}

func TestFullscreenExitReentersWithoutCounting(t *testing.T) {
	reporter := &fakeReporter{}
	screen := &fakeScreen{}
	m := newTestMonitor(reporter, screen)
	ctx := context.Background()

	m.HandleFullscreenChange(ctx, false)
	m.HandleFullscreenChange(ctx, false)

	assert.Equal(t, 0, m.EscalatingCount())
	assert.Equal(t, 2, screen.fullscreens, "re-entry requested on every exit")

	reporter.mu.Lock()
	defer reporter.mu.Unlock()
	require.Len(t, reporter.reported, 2)
	assert.Equal(t, model.ViolationFullscreenExit, reporter.reported[0])
}

func TestSignalsIgnoredAfterTrip(t *testing.T) {
	reporter := &fakeReporter{}
	screen := &fakeScreen{}
	m := newTestMonitor(reporter, screen)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		m.HandleVisibilityChange(ctx, true)
	}
	require.True(t, m.Tripped())

	reportedBefore, _, _ := reporter.counts()
	m.HandleContextMenu(ctx)
	m.HandleKey(ctx, KeyEvent{Key: "F12"})
	m.CheckFocus(ctx, time.Now())

	reportedAfter, disqualified, _ := reporter.counts()
	assert.Equal(t, reportedBefore, reportedAfter)
	assert.Equal(t, 1, disqualified)
}

func TestClassifyKey(t *testing.T) {
	cases := []struct {
		name  string
		ev    KeyEvent
		want  model.ViolationType
		match bool
	}{
		{"f12", KeyEvent{Key: "F12"}, model.ViolationDevTools, true},
		{"ctrl-shift-i", KeyEvent{Key: "I", Ctrl: true, Shift: true}, model.ViolationDevTools, true},
		{"ctrl-shift-j lower", KeyEvent{Key: "j", Ctrl: true, Shift: true}, model.ViolationDevTools, true},
		{"ctrl-u", KeyEvent{Key: "u", Ctrl: true}, model.ViolationViewSource, true},
		{"print-screen", KeyEvent{Key: "PrintScreen"}, model.ViolationPrintScreen, true},
		{"ctrl-p", KeyEvent{Key: "p", Ctrl: true}, model.ViolationPrintScreen, true},
		{"plain-i", KeyEvent{Key: "i"}, "", false},
		{"ctrl-c", KeyEvent{Key: "c", Ctrl: true}, "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ClassifyKey(tc.ev)
			assert.Equal(t, tc.match, ok)
			if tc.match {
				assert.Equal(t, tc.want, got)
			}
		})
	}
}
