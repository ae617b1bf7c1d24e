package tui

import (
	"context"
	"errors"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/dmsync/internal/bus"
	"github.com/matheus3301/dmsync/internal/status"
	intsync "github.com/matheus3301/dmsync/internal/sync"
	"github.com/matheus3301/dmsync/internal/transport"
	"github.com/matheus3301/dmsync/internal/tui/keys"
	"github.com/matheus3301/dmsync/internal/tui/model"
	"github.com/matheus3301/dmsync/internal/tui/ui"
	"github.com/matheus3301/dmsync/internal/tui/views"
	"github.com/matheus3301/dmsync/internal/view"
	"github.com/rivo/tview"
	"go.uber.org/zap"
)

const flashDuration = 5 * time.Second

// App is the chat application shell for one conversation.
type App struct {
	app       *tview.Application
	theme     *ui.Theme
	thread    *views.Thread
	statusBar *views.StatusBar
	registry  *keys.Registry
	flash     *model.Flash

	ctrl   *intsync.Controller
	bus    *bus.Bus
	logger *zap.Logger

	paused bool
	ctx    context.Context
	cancel context.CancelFunc
}

// NewApp creates the TUI. Renderer must be handed to the sync layer before
// Bind is called.
func NewApp(profile, recipient string) *App {
	ctx, cancel := context.WithCancel(context.Background())
	app := tview.NewApplication()
	theme := ui.DefaultTheme()

	a := &App{
		app:       app,
		theme:     theme,
		thread:    views.NewThread(theme, recipient, func(f func()) { app.QueueUpdateDraw(f) }),
		statusBar: views.NewStatusBar(theme),
		registry:  keys.NewRegistry(),
		flash:     model.NewFlash(nil),
		logger:    zap.NewNop(),
		ctx:       ctx,
		cancel:    cancel,
	}
	a.statusBar.SetProfile(profile)
	a.setupBindings()
	a.setupLayout()
	return a
}

// Renderer returns the conversation view as a view.Renderer.
func (a *App) Renderer() view.Renderer { return a.thread }

// Bind connects the UI to a running controller and its event bus.
func (a *App) Bind(ctrl *intsync.Controller, b *bus.Bus, logger *zap.Logger) {
	a.ctrl, a.bus = ctrl, b
	if logger != nil {
		a.logger = logger
	}
	a.thread.Composer().SetOnSend(a.send)
	a.thread.Composer().SetOnTyping(func(typing bool) {
		go func() {
			if err := ctrl.Typing(a.ctx, typing); err != nil {
				a.logger.Debug("typing notification failed", zap.Error(err))
			}
		}()
	})
	a.refreshState()
}

func (a *App) setupBindings() {
	a.registry.Add(&keys.Action{
		Name: "quit", Key: tcell.KeyCtrlC,
		Description: "^C:quit", Visible: true,
		Handler: func() { a.Stop() },
	})
	a.registry.Add(&keys.Action{
		Name: "refresh", Key: tcell.KeyCtrlR,
		Description: "^R:refresh", Visible: true,
		Handler: func() {
			if a.ctrl != nil {
				go a.ctrl.Poll(a.ctx)
			}
		},
	})
	a.registry.Add(&keys.Action{
		Name: "pause", Key: tcell.KeyF2,
		Description: "F2:pause", Visible: true,
		Handler: a.togglePaused,
	})
	a.registry.Add(&keys.Action{
		Name: "scroll", Key: tcell.KeyTab,
		Description: "Tab:scroll", Visible: true,
		Handler: func() {
			if a.app.GetFocus() == a.thread.Messages() {
				a.app.SetFocus(a.thread.Composer())
			} else {
				a.app.SetFocus(a.thread.Messages())
			}
		},
	})
	a.statusBar.SetHints(a.registry.Hints())
}

func (a *App) setupLayout() {
	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.thread, 0, 1, true).
		AddItem(a.statusBar, 1, 0, false)

	a.app.SetRoot(root, true)
	a.app.SetFocus(a.thread.Composer())

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		_, typing := a.app.GetFocus().(*views.Composer)
		if a.registry.HandleEvent(event, typing) {
			return nil
		}
		return event
	})
}

// togglePaused treats the conversation as hidden: no polling and no read
// receipts until resumed.
func (a *App) togglePaused() {
	a.paused = !a.paused
	a.statusBar.SetPaused(a.paused)
	a.statusBar.Render()
	if a.ctrl != nil {
		visible := !a.paused
		go a.ctrl.SetVisible(visible)
	}
}

func (a *App) send(text string) {
	if a.ctrl == nil {
		return
	}
	go func() {
		_, err := a.ctrl.Compose(a.ctx, text)
		var apiErr *transport.APIError
		switch {
		case err == nil:
			return
		case errors.Is(err, intsync.ErrDuplicateSubmission):
			a.flash.Set("Duplicate message suppressed", model.FlashInfo, flashDuration)
		case errors.As(err, &apiErr):
			a.flash.Set("Send failed: "+apiErr.Message, model.FlashErr, flashDuration)
		default:
			a.flash.Set("Send failed: "+err.Error(), model.FlashErr, flashDuration)
		}
		a.refreshFlash()
	}()
}

func (a *App) refreshState() {
	if a.ctrl == nil {
		return
	}
	s := a.ctrl.State()
	a.statusBar.SetState(s.State)
	a.statusBar.SetPending(s.Pending)
	a.app.QueueUpdateDraw(a.statusBar.Render)
}

func (a *App) refreshFlash() {
	msg, level := a.flash.Get()
	a.statusBar.SetFlash(msg, level)
	a.app.QueueUpdateDraw(a.statusBar.Render)
}

func (a *App) handleEvent(evt bus.Event) {
	switch evt.Kind {
	case bus.KindStateChanged:
		if change, ok := evt.Payload.(status.StatusChange); ok {
			a.statusBar.SetState(change.To)
			a.app.QueueUpdateDraw(a.statusBar.Render)
		}
	case bus.KindQueued, bus.KindDrained:
		a.refreshState()
	case bus.KindUserStatus:
		if p, ok := evt.Payload.(transport.Presence); ok {
			a.statusBar.SetPresence(p.Status)
			a.app.QueueUpdateDraw(a.statusBar.Render)
		}
	case bus.KindTypingStatus:
		if p, ok := evt.Payload.(transport.Presence); ok {
			a.statusBar.SetTyping(p.Status == "true" || p.Status == "typing")
			a.app.QueueUpdateDraw(a.statusBar.Render)
		}
	}
}

// Run starts the application and blocks until it exits or ctx is done.
func (a *App) Run(ctx context.Context) error {
	go func() {
		select {
		case <-ctx.Done():
			a.Stop()
		case <-a.ctx.Done():
		}
	}()

	if a.bus != nil {
		ch, unsub := a.bus.Subscribe("", 64)
		go func() {
			defer unsub()
			ticker := time.NewTicker(time.Second)
			defer ticker.Stop()
			for {
				select {
				case evt := <-ch:
					a.handleEvent(evt)
				case <-ticker.C:
					// Clock and flash expiry.
					a.refreshFlash()
				case <-a.ctx.Done():
					return
				}
			}
		}()
	}

	return a.app.Run()
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}
