package views

import (
	"strings"
	"testing"
	"time"

	"github.com/matheus3301/dmsync/internal/status"
	"github.com/matheus3301/dmsync/internal/tui/model"
	"github.com/matheus3301/dmsync/internal/tui/ui"
	"github.com/matheus3301/dmsync/internal/view"
)

func node(key, content string, outgoing bool, a view.Affordance) view.Node {
	return view.Node{
		Key:        key,
		MessageID:  "",
		Content:    content,
		Outgoing:   outgoing,
		CreatedAt:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Affordance: a,
	}
}

func TestThreadRendersInOrder(t *testing.T) {
	th := NewThread(ui.DefaultTheme(), "bob", nil)

	th.Insert(0, node("2", "second", false, view.AffordanceNone))
	th.Insert(0, node("1", "first", false, view.AffordanceNone))
	th.Insert(5, node("cid", "mine", true, view.AffordancePending))

	text := th.Text()
	first, second, mine := strings.Index(text, "first"), strings.Index(text, "second"), strings.Index(text, "mine")
	if first < 0 || second < first || mine < second {
		t.Fatalf("unexpected order:\n%s", text)
	}
	if !strings.Contains(text, "You") || !strings.Contains(text, "bob") {
		t.Errorf("sender names missing:\n%s", text)
	}
}

func TestThreadRekeyReplacesInPlace(t *testing.T) {
	th := NewThread(ui.DefaultTheme(), "bob", nil)
	th.Insert(0, node("cid", "hello", true, view.AffordancePending))

	th.Rekey("cid", node("42", "hello", true, view.AffordanceSent))
	text := th.Text()
	if strings.Count(text, "hello") != 1 {
		t.Errorf("rekey duplicated the message:\n%s", text)
	}
	if !strings.Contains(text, "✓") || strings.Contains(text, "…") {
		t.Errorf("affordance not updated:\n%s", text)
	}

	th.Update(node("42", "hello", true, view.AffordanceRead))
	if !strings.Contains(th.Text(), "✓✓") {
		t.Errorf("read marker missing:\n%s", th.Text())
	}
}

func TestThreadEscapesContent(t *testing.T) {
	th := NewThread(ui.DefaultTheme(), "bob", nil)
	th.Insert(0, node("1", "[red]not a tag\x1b[0m", false, view.AffordanceNone))

	text := th.Text()
	if strings.Contains(text, "\x1b") {
		t.Error("escape byte reached the terminal")
	}
	if !strings.Contains(text, "[red[]") {
		t.Errorf("tview tag not escaped:\n%s", text)
	}
}

func TestThreadDeletedAndEdited(t *testing.T) {
	th := NewThread(ui.DefaultTheme(), "bob", nil)
	deleted := node("1", "secret", false, view.AffordanceNone)
	deleted.Deleted = true
	edited := node("2", "fixed", false, view.AffordanceNone)
	edited.Edited = true
	th.Insert(0, deleted)
	th.Insert(1, edited)

	text := th.Text()
	if strings.Contains(text, "secret") || !strings.Contains(text, view.DeletedText) {
		t.Errorf("deleted content shown:\n%s", text)
	}
	if !strings.Contains(text, "(edited)") {
		t.Errorf("edited marker missing:\n%s", text)
	}
}

func TestComposerTypingAndSubmit(t *testing.T) {
	c := NewComposer(ui.DefaultTheme())
	var typing []bool
	var sent []string
	c.SetOnTyping(func(v bool) { typing = append(typing, v) })
	c.SetOnSend(func(text string) { sent = append(sent, text) })

	c.SetText("h")
	c.SetText("hi")
	c.Submit()
	c.Submit()

	if len(sent) != 1 || sent[0] != "hi" {
		t.Errorf("sent = %v, want [hi]", sent)
	}
	if len(typing) != 2 || !typing[0] || typing[1] {
		t.Errorf("typing = %v, want [true false]", typing)
	}
}

func TestStatusBarLine(t *testing.T) {
	sb := NewStatusBar(ui.DefaultTheme())
	sb.now = func() time.Time { return time.Date(2024, 5, 1, 9, 30, 0, 0, time.Local) }
	sb.SetProfile("main")
	sb.SetState(status.Offline)
	sb.SetPending(2)
	sb.SetTyping(true)
	sb.SetFlash("send failed", model.FlashErr)

	line := sb.Line()
	for _, want := range []string{"main", "OFFLINE", "2 queued", "typing", "send failed", "09:30"} {
		if !strings.Contains(line, want) {
			t.Errorf("Line() = %q, missing %q", line, want)
		}
	}

	sb.SetPending(0)
	if strings.Contains(sb.Line(), "queued") {
		t.Error("empty queue still shown")
	}
}
