package proctor

import (
	"strings"

	"github.com/examhall/examhall-backend/internal/model"
)

// Signal is one integrity event observed in the exam-taking surface.
type Signal struct {
	Type    model.ViolationType
	Details map[string]any
}

// KeyEvent is a raw keyboard event before blocklist classification.
type KeyEvent struct {
	Key   string
	Ctrl  bool
	Shift bool
}

// ClassifyKey maps a key event to the violation type it represents, or
// ok=false when the combination is not on the blocklist.
func ClassifyKey(ev KeyEvent) (model.ViolationType, bool) {
	key := strings.ToLower(ev.Key)

	switch {
	case key == "f12":
		return model.ViolationDevTools, true
	case ev.Ctrl && ev.Shift && (key == "i" || key == "j"):
		return model.ViolationDevTools, true
	case ev.Ctrl && key == "u":
		return model.ViolationViewSource, true
	case key == "printscreen", ev.Ctrl && key == "p":
		return model.ViolationPrintScreen, true
	}
	return "", false
}
