// Package mlog routes log lines toward the MQTT log topic. Lines always go
// to the local debug log first; delivery to the broker is best effort through
// a bounded queue drained by the MQTT session loop.
package mlog

import (
	"fmt"
	"log"
	"unicode/utf8"
)

// MaxLineLen bounds a single queued line. Longer lines are truncated so a
// runaway format string cannot pin memory.
const MaxLineLen = 256

// DefaultCapacity is the queue depth used by the daemon.
const DefaultCapacity = 16

// Queue is a bounded FIFO of log lines awaiting publication. Producers never
// block: when the queue is full the new line is dropped with a local warning.
// Safe for concurrent use; the session loop is the single consumer.
type Queue struct {
	ch chan string
}

// NewQueue creates a queue holding up to capacity lines.
func NewQueue(capacity int) *Queue {
	return &Queue{ch: make(chan string, capacity)}
}

// Printf formats a line, writes it to the local debug log, and queues it for
// the MQTT log topic. A full queue drops the line, never blocks the caller.
func (q *Queue) Printf(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	if len(line) > MaxLineLen {
		// Back off to a rune boundary so the truncated line is still
		// valid UTF-8 on the wire.
		cut := MaxLineLen
		for cut > 0 && !utf8.RuneStart(line[cut]) {
			cut--
		}
		line = line[:cut]
	}
	log.Printf("mqtt log: %s", line)
	select {
	case q.ch <- line:
	default:
		log.Printf("^ the message above was not sent to mqtt log: queue full")
	}
}

// TryNext pops the oldest queued line without blocking.
func (q *Queue) TryNext() (string, bool) {
	select {
	case line := <-q.ch:
		return line, true
	default:
		return "", false
	}
}

// Len reports how many lines are waiting.
func (q *Queue) Len() int {
	return len(q.ch)
}
