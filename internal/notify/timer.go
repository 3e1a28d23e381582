// Package notify delivers correlator notifications and server announcements
// to a Discord webhook.
package notify

import "time"

// TimerHandle cancels a scheduled flush. *time.Timer satisfies it.
type TimerHandle interface {
	Stop() bool
}

// AfterFunc schedules f after d. Tests swap it for a manual clock.
type AfterFunc func(d time.Duration, f func()) TimerHandle

// DefaultAfterFunc is time.AfterFunc.
var DefaultAfterFunc AfterFunc = func(d time.Duration, f func()) TimerHandle {
	return time.AfterFunc(d, f)
}
