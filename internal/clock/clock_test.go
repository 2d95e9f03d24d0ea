package clock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stepClock returns a strictly increasing instant on every call.
type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func (s *stepClock) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.t = s.t.Add(time.Second)
	return s.t
}

func TestFixed(t *testing.T) {
	at := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewFixed(at)
	assert.Equal(t, at, c.Now())
	assert.Equal(t, at, c.Now())
}

func TestFacilityRealByDefault(t *testing.T) {
	base := &stepClock{t: time.Unix(1000, 0)}
	f := NewFacilityWith(base)

	c := f.For("report")
	a, b := c.Now(), c.Now()
	assert.True(t, b.After(a), "unfrozen clock should follow the base clock")

	_, frozen := f.Frozen()
	assert.False(t, frozen)
}

func TestFacilityFreezeAndRestore(t *testing.T) {
	base := &stepClock{t: time.Unix(1000, 0)}
	f := NewFacilityWith(base)
	c := f.For("report")
	at := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

	restore := f.Freeze(at)
	assert.Equal(t, at, c.Now())
	assert.Equal(t, at, c.Now())

	got, frozen := f.Frozen()
	assert.True(t, frozen)
	assert.Equal(t, at, got)

	restore()
	assert.NotEqual(t, at, c.Now())
	_, frozen = f.Frozen()
	assert.False(t, frozen)

	// Second restore is harmless.
	restore()
	_, frozen = f.Frozen()
	assert.False(t, frozen)
}

func TestFacilityIgnoreList(t *testing.T) {
	base := &stepClock{t: time.Unix(1000, 0)}
	f := NewFacilityWith(base)
	at := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

	restore := f.Freeze(at, "timing")
	defer restore()

	assert.Equal(t, at, f.For("gzip").Now())

	timing := f.For("timing")
	first, second := timing.Now(), timing.Now()
	assert.True(t, second.After(first), "ignored component must observe elapsed time")
}

func TestFacilityStaleRestoreDoesNotUndoNewerFreeze(t *testing.T) {
	f := NewFacilityWith(&stepClock{t: time.Unix(0, 0)})
	first := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	second := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)

	restoreFirst := f.Freeze(first)
	restoreSecond := f.Freeze(second)

	restoreFirst()
	assert.Equal(t, second, f.For("x").Now())

	restoreSecond()
	_, frozen := f.Frozen()
	assert.False(t, frozen)
}

func TestFacilityRestoreOnPanic(t *testing.T) {
	f := NewFacility()
	at := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

	func() {
		defer func() { _ = recover() }()
		restore := f.Freeze(at)
		defer restore()
		panic("boom")
	}()

	_, frozen := f.Frozen()
	assert.False(t, frozen)
}

func TestFacilityConcurrentNow(t *testing.T) {
	f := NewFacility()
	at := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	restore := f.Freeze(at)
	defer restore()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				assert.Equal(t, at, f.For("report").Now())
			}
		}()
	}
	wg.Wait()
}

func TestParseInstant(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2023-01-01 00:00:00", time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"2023-01-01", time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"2023-06-15T12:30:00+02:00", time.Date(2023, 6, 15, 10, 30, 0, 0, time.UTC)},
		{" 2024-02-29 23:59:59 ", time.Date(2024, 2, 29, 23, 59, 59, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseInstant(tt.in)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %v want %v", got, tt.want)
			assert.Equal(t, time.UTC, got.Location())
		})
	}

	_, err := ParseInstant("yesterday")
	assert.Error(t, err)
}
