package model

import (
	"sync"
	"time"
)

// FlashLevel is the severity of a flash message.
type FlashLevel int

const (
	FlashInfo FlashLevel = iota
	FlashErr
)

// Flash holds the transient notification shown in the status bar, such as
// a rejected send.
type Flash struct {
	mu      sync.RWMutex
	message string
	level   FlashLevel
	expires time.Time
	now     func() time.Time
}

// NewFlash creates a flash store. now may be nil.
func NewFlash(now func() time.Time) *Flash {
	if now == nil {
		now = time.Now
	}
	return &Flash{now: now}
}

// Set stores a flash message that expires after the given duration.
func (f *Flash) Set(msg string, level FlashLevel, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.message = msg
	f.level = level
	f.expires = f.now().Add(d)
}

// Get returns the current flash message, or empty if expired.
func (f *Flash) Get() (string, FlashLevel) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.now().After(f.expires) {
		return "", FlashInfo
	}
	return f.message, f.level
}
