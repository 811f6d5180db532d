package chat

import (
	"sync"
	"time"
)

const (
	// firstRetryAfter is the age at which an undelivered message first
	// triggers a reconnect attempt.
	firstRetryAfter = 5000 // milliseconds

	// secondRetryAfter is the age at which a still-undelivered message
	// triggers one more attempt.
	secondRetryAfter = 30000 // milliseconds

	watchdogInterval = time.Second
)

// watchdog reopens the connection while outgoing messages sit without a
// delivered stamp. It clears itself once everything is acknowledged.
type watchdog struct {
	chat *Chat

	mu          sync.Mutex
	running     bool
	stopped     bool
	stopCh      chan struct{}
	watchedID   int64
	firedFirst  bool
	firedSecond bool
}

func newWatchdog(c *Chat) *watchdog {
	return &watchdog{chat: c, stopCh: make(chan struct{})}
}

// kick ensures the check loop is running. Called after every send,
// receive, and reconnect.
func (w *watchdog) kick() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running || w.stopped {
		return
	}
	w.running = true
	go w.loop()
}

func (w *watchdog) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.stopped = true
	close(w.stopCh)
}

func (w *watchdog) loop() {
	ticker := time.NewTicker(watchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !w.check() {
				w.mu.Lock()
				w.running = false
				w.mu.Unlock()
				return
			}
		case <-w.stopCh:
			w.mu.Lock()
			w.running = false
			w.mu.Unlock()
			return
		}
	}
}

// check evaluates the oldest undelivered message. It returns false when
// there is nothing left to watch.
func (w *watchdog) check() bool {
	oldest := w.chat.oldestUndelivered()
	if oldest == 0 {
		w.mu.Lock()
		w.watchedID = 0
		w.firedFirst = false
		w.firedSecond = false
		w.mu.Unlock()
		return false
	}

	w.mu.Lock()
	if oldest != w.watchedID {
		w.watchedID = oldest
		w.firedFirst = false
		w.firedSecond = false
	}
	age := w.chat.clk.ServerTime() - oldest
	var open bool
	switch {
	case age >= secondRetryAfter && !w.firedSecond:
		w.firedSecond = true
		open = true
	case age >= firstRetryAfter && !w.firedFirst:
		w.firedFirst = true
		open = true
	}
	w.mu.Unlock()

	if open {
		w.chat.log.Debug("undelivered message watchdog reopening connection")
		w.chat.link.Open()
	}
	return true
}
