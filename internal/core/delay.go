// The delay scheduler turns a state's After transitions into one-shot,
// monotonic timers. Entering a state with after(delayMs) arms a timer that,
// on firing, delivers a synthetic event of the form "after(<delayMs>)@<path>"
// to the machine's own mailbox. Exiting the state before the timer fires
// cancels it: at-most-once delivery, never a stale fire into a state that
// already left.
package core

import (
	"fmt"
	"sync"
	"time"
)

// afterEventType formats the synthetic event type for a delay firing at
// the named state path.
func afterEventType(delayMs int64, statePath string) string {
	return fmt.Sprintf("after(%d)@%s", delayMs, statePath)
}

type delayScheduler struct {
	mu      sync.Mutex
	timers  map[string]*time.Timer // "statePath#delayMs" -> armed timer (one per state and delay)
	deliver func(eventType string)
}

func newDelayScheduler(deliver func(eventType string)) *delayScheduler {
	return &delayScheduler{
		timers:  make(map[string]*time.Timer),
		deliver: deliver,
	}
}

// arm starts a timer for statePath that, on firing, hands eventType to
// deliver. If a timer is already armed for this exact (statePath, delayMs)
// pair it is left alone. A firing timer delivers only if it is still the
// one registered under its key, so a cancelled timer never delivers.
func (d *delayScheduler) arm(statePath string, delayMs int64) {
	key := statePath + fmt.Sprintf("#%d", delayMs)
	eventType := afterEventType(delayMs, statePath)
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, armed := d.timers[key]; armed {
		return
	}
	var timer *time.Timer
	timer = time.AfterFunc(time.Duration(delayMs)*time.Millisecond, func() {
		d.mu.Lock()
		stillArmed := d.timers[key] == timer
		if stillArmed {
			delete(d.timers, key)
		}
		d.mu.Unlock()
		if stillArmed {
			d.deliver(eventType)
		}
	})
	d.timers[key] = timer
}

// cancelState stops every timer armed for statePath (a state may have
// several after() entries at different delays).
func (d *delayScheduler) cancelState(statePath string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	prefix := statePath + "#"
	for key, timer := range d.timers {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			timer.Stop()
			delete(d.timers, key)
		}
	}
}

// cancelAll stops every outstanding timer, used on Stop.
func (d *delayScheduler) cancelAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, timer := range d.timers {
		timer.Stop()
		delete(d.timers, key)
	}
}
