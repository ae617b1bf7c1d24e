package views

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/matheus3301/dmsync/internal/tui/ui"
	"github.com/matheus3301/dmsync/internal/view"
	"github.com/rivo/tview"
)

// Thread displays one conversation and its composer. It implements
// view.Renderer: node calls may come from any goroutine and are drawn on
// the UI goroutine through queue.
type Thread struct {
	*tview.Flex
	theme    *ui.Theme
	messages *tview.TextView
	composer *Composer
	peer     string
	queue    func(func())

	mu    sync.Mutex
	nodes []view.Node
}

// NewThread creates a thread view for peer. queue runs a function on the
// UI goroutine, normally Application.QueueUpdateDraw; nil runs it inline.
func NewThread(theme *ui.Theme, peer string, queue func(func())) *Thread {
	messages := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	messages.SetBorder(true)
	messages.SetBorderColor(theme.BorderColor)
	messages.SetBackgroundColor(theme.BgColor)
	messages.SetTextColor(theme.FgColor)
	messages.SetTitle(fmt.Sprintf(" %s ", tview.Escape(sanitizeForTerminal(peer))))
	messages.SetTitleColor(theme.TitleColor)

	composer := NewComposer(theme)

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(messages, 0, 1, false).
		AddItem(composer, 3, 0, true)

	if queue == nil {
		queue = func(f func()) { f() }
	}
	return &Thread{
		Flex:     flex,
		theme:    theme,
		messages: messages,
		composer: composer,
		peer:     peer,
		queue:    queue,
	}
}

// Composer returns the composer input (for focus management).
func (t *Thread) Composer() *Composer { return t.composer }

// Messages returns the messages text view (for focus management).
func (t *Thread) Messages() *tview.TextView { return t.messages }

func (t *Thread) Insert(index int, n view.Node) {
	t.mu.Lock()
	if index < 0 || index > len(t.nodes) {
		index = len(t.nodes)
	}
	t.nodes = slices.Insert(t.nodes, index, n)
	t.mu.Unlock()
	t.redraw()
}

func (t *Thread) Update(n view.Node) {
	t.mu.Lock()
	if i := t.find(n.Key); i >= 0 {
		t.nodes[i] = n
	}
	t.mu.Unlock()
	t.redraw()
}

func (t *Thread) Rekey(oldKey string, n view.Node) {
	t.mu.Lock()
	if i := t.find(oldKey); i >= 0 {
		t.nodes[i] = n
	}
	t.mu.Unlock()
	t.redraw()
}

func (t *Thread) Remove(key string) {
	t.mu.Lock()
	if i := t.find(key); i >= 0 {
		t.nodes = slices.Delete(t.nodes, i, i+1)
	}
	t.mu.Unlock()
	t.redraw()
}

func (t *Thread) find(key string) int {
	return slices.IndexFunc(t.nodes, func(n view.Node) bool { return n.Key == key })
}

// Text returns the rendered transcript.
func (t *Thread) Text() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.format()
}

func (t *Thread) redraw() {
	text := t.Text()
	t.queue(func() {
		t.messages.SetText(text)
		t.messages.ScrollToEnd()
	})
}

func (t *Thread) format() string {
	var b strings.Builder
	for _, n := range t.nodes {
		name, color := t.peer, t.theme.PeerNameColor
		if n.Outgoing {
			name, color = "You", t.theme.OwnNameColor
		}
		fmt.Fprintf(&b, "[%s::b]%s[-:-:-] [%s]%s[-]",
			ui.Hex(color), tview.Escape(sanitizeForTerminal(name)),
			ui.Hex(t.theme.TimestampColor), n.CreatedAt.Local().Format("15:04"))
		if n.Edited && !n.Deleted {
			b.WriteString(" [::d](edited)[-:-:-]")
		}
		if g := ui.Glyph(n.Affordance); g != "" {
			b.WriteString(" " + g)
		}
		b.WriteString("\n")
		if n.Deleted {
			fmt.Fprintf(&b, "[::i]%s[-:-:-]\n\n", view.DeletedText)
			continue
		}
		b.WriteString(tview.Escape(sanitizeForTerminal(n.Content)))
		b.WriteString("\n\n")
	}
	return b.String()
}

var _ view.Renderer = (*Thread)(nil)
