package views

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/matheus3301/dmsync/internal/status"
	"github.com/matheus3301/dmsync/internal/tui/model"
	"github.com/matheus3301/dmsync/internal/tui/ui"
	"github.com/rivo/tview"
)

// StatusBar displays persistent profile/sync status.
type StatusBar struct {
	*tview.TextView
	theme *ui.Theme
	now   func() time.Time

	mu       sync.Mutex
	profile  string
	state    status.State
	pending  int
	presence string
	typing   bool
	paused   bool
	flash    string
	flashLvl model.FlashLevel
	hints    []string
}

// NewStatusBar creates a new status bar.
func NewStatusBar(theme *ui.Theme) *StatusBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(tview.Styles.MoreContrastBackgroundColor)

	return &StatusBar{TextView: tv, theme: theme, now: time.Now}
}

// SetProfile updates the profile name display.
func (sb *StatusBar) SetProfile(name string) {
	sb.mu.Lock()
	sb.profile = name
	sb.mu.Unlock()
}

// SetState updates the sync state.
func (sb *StatusBar) SetState(s status.State) {
	sb.mu.Lock()
	sb.state = s
	sb.mu.Unlock()
}

// SetPending updates the queued-send count.
func (sb *StatusBar) SetPending(n int) {
	sb.mu.Lock()
	sb.pending = n
	sb.mu.Unlock()
}

// SetPresence updates the peer's online status.
func (sb *StatusBar) SetPresence(p string) {
	sb.mu.Lock()
	sb.presence = p
	sb.mu.Unlock()
}

// SetTyping shows or hides the peer typing indicator.
func (sb *StatusBar) SetTyping(typing bool) {
	sb.mu.Lock()
	sb.typing = typing
	sb.mu.Unlock()
}

// SetPaused shows whether the view is treated as hidden.
func (sb *StatusBar) SetPaused(paused bool) {
	sb.mu.Lock()
	sb.paused = paused
	sb.mu.Unlock()
}

// SetFlash sets a temporary message.
func (sb *StatusBar) SetFlash(msg string, level model.FlashLevel) {
	sb.mu.Lock()
	sb.flash, sb.flashLvl = msg, level
	sb.mu.Unlock()
}

// SetHints sets the key hints shown at the end of the bar.
func (sb *StatusBar) SetHints(hints []string) {
	sb.mu.Lock()
	sb.hints = hints
	sb.mu.Unlock()
}

// Render redraws the bar. Call on the UI goroutine.
func (sb *StatusBar) Render() {
	line := sb.Line()
	sb.Clear()
	_, _ = fmt.Fprint(sb, line)
}

// Line returns the formatted status line.
func (sb *StatusBar) Line() string {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	stateColor := sb.theme.OnlineColor
	if sb.state == status.Offline {
		stateColor = sb.theme.OfflineColor
	}
	syncIcon := " "
	if sb.state == status.OnlinePolling || sb.state == status.Sending {
		syncIcon = "[green]~[-]"
	}

	line := fmt.Sprintf(" [::b]%s[-:-:-] | [%s]%s[-] %s | %s",
		tview.Escape(sb.profile), ui.Hex(stateColor), sb.state, syncIcon, sb.now().Format("15:04"))
	if sb.pending > 0 {
		line += fmt.Sprintf(" | %d queued", sb.pending)
	}
	if sb.presence != "" {
		line += " | peer " + tview.Escape(sanitizeForTerminal(sb.presence))
	}
	if sb.typing {
		line += " [::i]typing…[-:-:-]"
	}
	if sb.paused {
		line += " | paused"
	}
	if sb.flash != "" {
		color := sb.theme.FlashInfoColor
		if sb.flashLvl == model.FlashErr {
			color = sb.theme.FlashErrColor
		}
		line += fmt.Sprintf(" | [%s]%s[-]", ui.Hex(color), tview.Escape(sanitizeForTerminal(sb.flash)))
	}
	if len(sb.hints) > 0 {
		line += " | " + strings.Join(sb.hints, " ")
	}
	return line
}
