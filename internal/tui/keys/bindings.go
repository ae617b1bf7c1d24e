package keys

import "github.com/gdamore/tcell/v2"

// Action represents a keybinding action.
type Action struct {
	Name        string
	Key         tcell.Key
	Rune        rune
	Description string
	Handler     func()
	Visible     bool
}

// Matches returns true if the event matches this action.
func (a *Action) Matches(ev *tcell.EventKey) bool {
	if a.Key != tcell.KeyRune {
		return ev.Key() == a.Key
	}
	return ev.Key() == tcell.KeyRune && ev.Rune() == a.Rune
}

// Registry holds keybindings in registration order, so hints and dispatch
// are stable. Rune bindings are skipped while text is being typed.
type Registry struct {
	actions []*Action
}

// NewRegistry creates a new keybinding registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add registers a binding. A later binding with the same name replaces the
// earlier one in place.
func (r *Registry) Add(action *Action) {
	for i, a := range r.actions {
		if a.Name == action.Name {
			r.actions[i] = action
			return
		}
	}
	r.actions = append(r.actions, action)
}

// Hints returns visible keybinding descriptions.
func (r *Registry) Hints() []string {
	var hints []string
	for _, a := range r.actions {
		if a.Visible {
			hints = append(hints, a.Description)
		}
	}
	return hints
}

// HandleEvent dispatches a key event to the first matching action. While
// typing, only non-rune keys are considered. Returns true if a handler
// matched.
func (r *Registry) HandleEvent(ev *tcell.EventKey, typing bool) bool {
	for _, a := range r.actions {
		if typing && a.Key == tcell.KeyRune {
			continue
		}
		if a.Matches(ev) {
			a.Handler()
			return true
		}
	}
	return false
}
