// Package clock is the single time source of a dcstats run.
//
// Every timestamp a run emits, including the header timestamps inside gzip
// artifacts, comes from a Clock handed out by a Facility. Freezing the
// facility pins all of them to one instant so outputs are byte-reproducible.
// Components named in the freeze's ignore list keep seeing the real clock;
// use that for code that measures elapsed time.
//
// Thread-safety: Facility and the clocks it hands out are safe for
// concurrent use.
package clock

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Clock reports the current time.
type Clock interface {
	Now() time.Time
}

// Real reads the system clock.
type Real struct{}

// Now returns time.Now().
func (Real) Now() time.Time { return time.Now() }

// Fixed always returns the same instant.
type Fixed struct {
	at time.Time
}

// NewFixed creates a clock pinned at t.
func NewFixed(t time.Time) Fixed {
	return Fixed{at: t}
}

// Now returns the pinned instant.
func (f Fixed) Now() time.Time { return f.at }

// Facility hands out per-component clocks that honor the current freeze.
type Facility struct {
	mu     sync.Mutex
	real   Clock
	frozen bool
	at     time.Time
	ignore map[string]bool
	gen    uint64
}

// NewFacility creates a facility backed by the real clock.
func NewFacility() *Facility {
	return &Facility{real: Real{}}
}

// NewFacilityWith creates a facility backed by base instead of the system
// clock. Tests use it to observe which clock a component reads.
func NewFacilityWith(base Clock) *Facility {
	return &Facility{real: base}
}

// Freeze pins every component clock at t, except the named components
// which keep reading the real clock. The returned restore func returns the
// facility to real time; it is idempotent and only undoes its own freeze.
func (f *Facility) Freeze(t time.Time, ignore ...string) (restore func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.gen++
	gen := f.gen
	f.frozen = true
	f.at = t
	f.ignore = make(map[string]bool, len(ignore))
	for _, name := range ignore {
		f.ignore[name] = true
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if f.gen != gen {
				return
			}
			f.frozen = false
			f.at = time.Time{}
			f.ignore = nil
		})
	}
}

// Frozen reports whether a freeze is in effect and its instant.
func (f *Facility) Frozen() (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.at, f.frozen
}

// For returns the clock a named component must use. The clock consults
// the facility on every call, so it follows later freezes and restores.
func (f *Facility) For(component string) Clock {
	return componentClock{f: f, name: component}
}

func (f *Facility) now(component string) time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.frozen && !f.ignore[component] {
		return f.at
	}
	return f.real.Now()
}

type componentClock struct {
	f    *Facility
	name string
}

func (c componentClock) Now() time.Time { return c.f.now(c.name) }

// Layouts accepted by ParseInstant, tried in order.
var instantLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02",
}

// ParseInstant parses a frozen-time flag value. Values without a zone are
// read as UTC.
func ParseInstant(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range instantLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid instant %q: want YYYY-MM-DD, YYYY-MM-DD HH:MM:SS or RFC 3339", s)
}
