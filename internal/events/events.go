// Package events provides an in-process publish/subscribe bus.
package events

import (
	"time"
)

// Kind identifies an event type for subscription routing.
type Kind string

const (
	// KindSync is published by the scheduler to trigger directory synchronization.
	KindSync Kind = "sync"
)

// Event is anything published on the bus.
type Event interface {
	Kind() Kind
}

// SyncEvent requests a refresh of directory-backed identities. It carries no
// payload beyond when and which firing produced it.
type SyncEvent struct {
	FiredAt time.Time
	Firing  uint64
}

func (SyncEvent) Kind() Kind { return KindSync }
