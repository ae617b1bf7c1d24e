package ui

import (
	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/dmsync/internal/view"
)

// Theme holds color constants for the TUI.
type Theme struct {
	BgColor          tcell.Color
	FgColor          tcell.Color
	BorderColor      tcell.Color
	BorderFocusColor tcell.Color
	TitleColor       tcell.Color
	MenuKeyColor     tcell.Color
	OwnNameColor     tcell.Color
	PeerNameColor    tcell.Color
	TimestampColor   tcell.Color
	FlashInfoColor   tcell.Color
	FlashErrColor    tcell.Color
	OnlineColor      tcell.Color
	OfflineColor     tcell.Color
}

// DefaultTheme returns a k9s-inspired dark theme.
func DefaultTheme() *Theme {
	return &Theme{
		BgColor:          tcell.ColorBlack,
		FgColor:          tcell.ColorCadetBlue,
		BorderColor:      tcell.ColorDodgerBlue,
		BorderFocusColor: tcell.ColorLightSkyBlue,
		TitleColor:       tcell.ColorFuchsia,
		MenuKeyColor:     tcell.ColorDodgerBlue,
		OwnNameColor:     tcell.ColorAqua,
		PeerNameColor:    tcell.ColorOrange,
		TimestampColor:   tcell.ColorGray,
		FlashInfoColor:   tcell.ColorNavajoWhite,
		FlashErrColor:    tcell.ColorOrangeRed,
		OnlineColor:      tcell.ColorGreen,
		OfflineColor:     tcell.ColorOrangeRed,
	}
}

// Glyph returns the marker drawn after an outgoing message.
func Glyph(a view.Affordance) string {
	switch a {
	case view.AffordanceSent:
		return "✓"
	case view.AffordanceDelivered:
		return "✓✓"
	case view.AffordanceRead:
		return "[aqua]✓✓[-]"
	case view.AffordanceOffline:
		return "[orangered]offline[-]"
	case view.AffordancePending:
		return "[gray]…[-]"
	default:
		return ""
	}
}

// Hex renders c as a tview color tag value.
func Hex(c tcell.Color) string {
	return c.CSS()
}
