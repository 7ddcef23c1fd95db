// Package proctor implements the per-session integrity monitor that sits
// between the exam-taking surface and the session engine. Each active
// session gets its own Monitor instance; instances never share state.
package proctor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/examhall/examhall-backend/internal/model"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Reporter delivers monitor events to the session engine. Violation
// reports are fire-and-forget; a delivery failure must not block the
// exam surface.
type Reporter interface {
	ReportViolation(ctx context.Context, sessionID uuid.UUID, vType model.ViolationType, details map[string]any)
	RequestDisqualify(ctx context.Context, sessionID uuid.UUID, reason string) error
	SubmitExam(ctx context.Context, sessionID uuid.UUID) error
}

// Screen abstracts the exam surface the monitor controls.
type Screen interface {
	ShowWarning(message string)
	ShowBlockingNotice(reason string)
	RequestFullscreen()
	HasFocus() bool
}

// Config tunes a Monitor. Zero values fall back to the defaults.
type Config struct {
	MaxViolations     int
	FocusPollInterval time.Duration
	SubmitDelay       time.Duration
}

const (
	defaultMaxViolations     = 3
	defaultFocusPollInterval = time.Second
	defaultSubmitDelay       = 3 * time.Second
)

func (c Config) withDefaults() Config {
	if c.MaxViolations <= 0 {
		c.MaxViolations = defaultMaxViolations
	}
	if c.FocusPollInterval <= 0 {
		c.FocusPollInterval = defaultFocusPollInterval
	}
	if c.SubmitDelay <= 0 {
		c.SubmitDelay = defaultSubmitDelay
	}
	return c
}

// Monitor watches one exam session for integrity signals. Escalating
// signals (focus and visibility loss) count toward the ceiling; the rest
// warn and report only. Once the ceiling is crossed the monitor trips
// exactly once: polling stops, the engine is asked to disqualify, the
// surface is blocked and the session is auto-submitted after a short
// delay so the partial score is still recorded.
type Monitor struct {
	cfg       Config
	sessionID uuid.UUID
	reporter  Reporter
	screen    Screen
	log       zerolog.Logger

	// schedule is time.AfterFunc unless a test swaps it out.
	schedule func(d time.Duration, f func()) *time.Timer

	mu          sync.Mutex
	escalating  int
	warnings    int
	tripped     bool
	focusLost   bool
	focusLostAt time.Time

	stopOnce sync.Once
	stop     chan struct{}
}

// NewMonitor creates a monitor for one session. Call Start to begin
// focus polling and Close when the session finalizes.
func NewMonitor(cfg Config, sessionID uuid.UUID, reporter Reporter, screen Screen, log zerolog.Logger) *Monitor {
	return &Monitor{
		cfg:       cfg.withDefaults(),
		sessionID: sessionID,
		reporter:  reporter,
		screen:    screen,
		log:       log.With().Str("component", "proctor").Str("session_id", sessionID.String()).Logger(),
		schedule:  time.AfterFunc,
		stop:      make(chan struct{}),
	}
}

// Start enters fullscreen and begins the focus poll loop. It returns
// immediately; the loop runs until Close or until the monitor trips.
func (m *Monitor) Start(ctx context.Context) {
	m.screen.RequestFullscreen()
	go m.pollFocus(ctx)
}

// Close stops the poll loop. Safe to call more than once.
func (m *Monitor) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *Monitor) pollFocus(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.FocusPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-ticker.C:
			m.CheckFocus(ctx, time.Now())
		}
	}
}

// CheckFocus samples the surface's focus state. A contiguous loss
// interval counts as one escalating violation on its leading edge; the
// return edge is reported as non-escalating telemetry carrying the away
// duration.
func (m *Monitor) CheckFocus(ctx context.Context, now time.Time) {
	focused := m.screen.HasFocus()

	m.mu.Lock()
	if m.tripped {
		m.mu.Unlock()
		return
	}

	switch {
	case !focused && !m.focusLost:
		m.focusLost = true
		m.focusLostAt = now
		m.mu.Unlock()
		m.warn("You have switched tabs or left the exam window. This is not allowed.")
		m.reporter.ReportViolation(ctx, m.sessionID, model.ViolationTabSwitch, map[string]any{
			"detected_at": now.Format(time.RFC3339),
		})
		m.escalate(ctx, "Exceeded maximum focus violations")

	case focused && m.focusLost:
		away := now.Sub(m.focusLostAt)
		m.focusLost = false
		m.mu.Unlock()
		m.reporter.ReportViolation(ctx, m.sessionID, model.ViolationFocusReturn, map[string]any{
			"away_ms": away.Milliseconds(),
		})

	default:
		m.mu.Unlock()
	}
}

// HandleVisibilityChange reacts to the page visibility signal. Hiding the
// window escalates; becoming visible again does not.
func (m *Monitor) HandleVisibilityChange(ctx context.Context, hidden bool) {
	if !hidden || m.isTripped() {
		return
	}
	m.warn("Window was minimized. Please return to the exam.")
	m.reporter.ReportViolation(ctx, m.sessionID, model.ViolationWindowMinimized, nil)
	m.escalate(ctx, "Exceeded maximum window violations")
}

// HandleFullscreenChange reacts to fullscreen transitions. Leaving
// fullscreen is reported and re-entry is requested, but it never counts
// toward the ceiling.
func (m *Monitor) HandleFullscreenChange(ctx context.Context, inFullscreen bool) {
	if inFullscreen || m.isTripped() {
		return
	}
	m.warn("Fullscreen mode is required. Please return to fullscreen.")
	m.reporter.ReportViolation(ctx, m.sessionID, model.ViolationFullscreenExit, nil)
	m.screen.RequestFullscreen()
}

// HandleContextMenu reports a right-click attempt. Warn only.
func (m *Monitor) HandleContextMenu(ctx context.Context) {
	if m.isTripped() {
		return
	}
	m.warn("Right-click is disabled during the exam.")
	m.reporter.ReportViolation(ctx, m.sessionID, model.ViolationRightClick, nil)
}

// HandleClipboard reports a copy, cut or paste attempt. Warn only.
func (m *Monitor) HandleClipboard(ctx context.Context, vType model.ViolationType) {
	if m.isTripped() {
		return
	}
	switch vType {
	case model.ViolationCopy:
		m.warn("Copying is not allowed during the exam.")
	case model.ViolationCut:
		m.warn("Cutting is not allowed during the exam.")
	case model.ViolationPaste:
		m.warn("Pasting is not allowed during the exam.")
	default:
		return
	}
	m.reporter.ReportViolation(ctx, m.sessionID, vType, nil)
}

// HandleKey classifies a key event against the blocklist and reports a
// hit. Warn only.
func (m *Monitor) HandleKey(ctx context.Context, ev KeyEvent) bool {
	if m.isTripped() {
		return false
	}
	vType, blocked := ClassifyKey(ev)
	if !blocked {
		return false
	}
	switch vType {
	case model.ViolationDevTools:
		m.warn("Developer tools are not allowed during the exam.")
	case model.ViolationViewSource:
		m.warn("Viewing the page source is not allowed during the exam.")
	case model.ViolationPrintScreen:
		m.warn("Screenshots are not allowed during the exam.")
	}
	m.reporter.ReportViolation(ctx, m.sessionID, vType, map[string]any{"key": ev.Key})
	return true
}

// EscalatingCount returns the local escalation counter.
func (m *Monitor) EscalatingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.escalating
}

// Tripped reports whether the monitor has requested disqualification.
func (m *Monitor) Tripped() bool {
	return m.isTripped()
}

// warn shows a numbered transient warning on the surface.
func (m *Monitor) warn(message string) {
	m.mu.Lock()
	m.warnings++
	n := m.warnings
	m.mu.Unlock()
	m.screen.ShowWarning(fmt.Sprintf("Warning %d: %s", n, message))
}

func (m *Monitor) isTripped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tripped
}

// escalate bumps the local counter and trips the monitor when the
// ceiling is reached. The trip happens at most once per monitor; events
// arriving after the trip are ignored.
func (m *Monitor) escalate(ctx context.Context, reason string) {
	m.mu.Lock()
	if m.tripped {
		m.mu.Unlock()
		return
	}
	m.escalating++
	if m.escalating < m.cfg.MaxViolations {
		m.mu.Unlock()
		return
	}
	m.tripped = true
	m.mu.Unlock()

	m.trip(ctx, reason)
}

func (m *Monitor) trip(ctx context.Context, reason string) {
	m.Close()

	if err := m.reporter.RequestDisqualify(ctx, m.sessionID, reason); err != nil {
		m.log.Error().Err(err).Msg("disqualify request failed")
	}
	m.screen.ShowBlockingNotice(reason)

	sessionID := m.sessionID
	m.schedule(m.cfg.SubmitDelay, func() {
		if err := m.reporter.SubmitExam(context.Background(), sessionID); err != nil {
			m.log.Error().Err(err).Msg("auto-submit after disqualification failed")
		}
	})

	m.log.Warn().Str("reason", reason).Msg("Monitor tripped")
}
