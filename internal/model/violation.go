package model

import (
	"time"

	"github.com/google/uuid"
)

// ViolationType tags an integrity signal observed during an exam session.
type ViolationType string

const (
	ViolationTabSwitch       ViolationType = "tab_switch"
	ViolationWindowBlur      ViolationType = "window_blur"
	ViolationWindowMinimized ViolationType = "window_minimized"
	ViolationFocusReturn     ViolationType = "focus_return"
	ViolationRightClick      ViolationType = "right_click"
	ViolationCopy            ViolationType = "copy"
	ViolationCut             ViolationType = "cut"
	ViolationPaste           ViolationType = "paste"
	ViolationDevTools        ViolationType = "dev_tools"
	ViolationViewSource      ViolationType = "view_source"
	ViolationPrintScreen     ViolationType = "print_screen"
	ViolationFullscreenExit  ViolationType = "fullscreen_exit"
)

// escalatingTypes is the explicit classification of which violation types
// count toward disqualification. Focus and visibility losses escalate;
// clipboard, context-menu and key-combination attempts only warn, and
// fullscreen exits trigger a re-entry request instead of counting.
var escalatingTypes = map[ViolationType]bool{
	ViolationTabSwitch:       true,
	ViolationWindowBlur:      true,
	ViolationWindowMinimized: true,
}

// Escalating reports whether the type counts toward the disqualification
// ceiling.
func (t ViolationType) Escalating() bool {
	return escalatingTypes[t]
}

// Violation is one append-only integrity record for a session. Rows are
// never updated or deleted and survive session termination for audit.
type Violation struct {
	ID         int64          `json:"id"`
	SessionID  uuid.UUID      `json:"session_id"`
	Type       ViolationType  `json:"violation_type"`
	Details    map[string]any `json:"details"`
	Escalating bool           `json:"escalating"`
	CreatedAt  time.Time      `json:"created_at"`
}
