package sync

import (
	"fmt"
	"log"
	"os"
	stdsync "sync"
	"time"
	// The runtime image may not ship a zone database; embed one so
	// provider timezone names always resolve.
	_ "time/tzdata"
)

const msPerDay = 86_400_000

// MidnightCalculator determines whether a time interval crosses a local
// calendar-day boundary in a given timezone.
//
// Results are cached by (timezone, start day-index, end day-index) where
// the day-index is epoch milliseconds divided by one day, so repeated
// calls for intervals on the same two calendar days are O(1) after the
// first. Safe for concurrent use.
type MidnightCalculator struct {
	mu       stdsync.Mutex
	cache    map[string]bool
	zones    map[string]*time.Location
	badZones map[string]bool
	logger   *log.Logger
}

// NewMidnightCalculator creates a calculator. If logger is nil, a
// default logger writing to stderr is used.
func NewMidnightCalculator(logger *log.Logger) *MidnightCalculator {
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return &MidnightCalculator{
		cache:    make(map[string]bool),
		zones:    make(map[string]*time.Location),
		badZones: make(map[string]bool),
		logger:   logger,
	}
}

// Crosses reports whether [start, end) spans a local-date boundary in
// the given timezone. An unknown timezone never fails the call: it is
// logged once and falls back to a UTC calendar-day comparison.
func (c *MidnightCalculator) Crosses(start, end time.Time, timezone string) bool {
	key := fmt.Sprintf("%s|%d|%d", timezone, start.UnixMilli()/msPerDay, end.UnixMilli()/msPerDay)

	c.mu.Lock()
	defer c.mu.Unlock()

	if crosses, ok := c.cache[key]; ok {
		return crosses
	}

	loc := c.locationLocked(timezone)
	localStart := start.In(loc)
	localEnd := end.In(loc)

	crosses := localStart.Year() != localEnd.Year() || localStart.YearDay() != localEnd.YearDay()
	c.cache[key] = crosses
	return crosses
}

func (c *MidnightCalculator) locationLocked(timezone string) *time.Location {
	if timezone == "" {
		return time.UTC
	}
	if loc, ok := c.zones[timezone]; ok {
		return loc
	}
	if c.badZones[timezone] {
		return time.UTC
	}

	loc, err := time.LoadLocation(timezone)
	if err != nil {
		c.logger.Printf("Warning: unknown timezone %q, falling back to UTC: %v", timezone, err)
		c.badZones[timezone] = true
		return time.UTC
	}

	c.zones[timezone] = loc
	return loc
}
