package views

import (
	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/dmsync/internal/tui/ui"
	"github.com/rivo/tview"
)

// Composer is the text input for sending messages.
type Composer struct {
	*tview.InputField
	onSend   func(text string)
	onTyping func(typing bool)
	typing   bool
}

// NewComposer creates a new message composer.
func NewComposer(theme *ui.Theme) *Composer {
	input := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0)
	input.SetBorder(true)
	input.SetBorderColor(theme.BorderColor)
	input.SetBackgroundColor(theme.BgColor)
	input.SetFieldBackgroundColor(theme.BgColor)
	input.SetFieldTextColor(theme.FgColor)
	input.SetLabelColor(theme.MenuKeyColor)
	input.SetTitle(" Compose ")
	input.SetTitleColor(theme.TitleColor)

	c := &Composer{InputField: input}

	input.SetChangedFunc(func(text string) {
		c.setTyping(text != "")
	})
	input.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		c.Submit()
	})

	return c
}

// Submit sends the current text, if any, and clears the field.
func (c *Composer) Submit() {
	text := c.GetText()
	if text == "" || c.onSend == nil {
		return
	}
	c.onSend(text)
	c.SetText("")
}

// SetOnSend sets the callback when a message is sent.
func (c *Composer) SetOnSend(fn func(text string)) {
	c.onSend = fn
}

// SetOnTyping sets the callback fired when the field goes from empty to
// non-empty and back.
func (c *Composer) SetOnTyping(fn func(typing bool)) {
	c.onTyping = fn
}

func (c *Composer) setTyping(typing bool) {
	if typing == c.typing {
		return
	}
	c.typing = typing
	if c.onTyping != nil {
		c.onTyping(typing)
	}
}
