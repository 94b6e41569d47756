package picking

import (
	"time"

	"golang.org/x/text/language"
)

// Timing holds every delay of the picking flow
type Timing struct {
	PrefetchCount        int
	PrefetchPace         time.Duration
	RefreshInterval      time.Duration
	RefreshLocationLimit int // 0 refreshes every location
	RefreshPace          time.Duration
	AdvanceDelay         time.Duration
	CelebrationDuration  time.Duration
	ScanAlertDuration    time.Duration
	WriteTimeout         time.Duration
}

// DefaultTiming matches the pacing a warehouse handheld needs
func DefaultTiming() Timing {
	return Timing{
		PrefetchCount:        3,
		PrefetchPace:         500 * time.Millisecond,
		RefreshInterval:      2 * time.Minute,
		RefreshLocationLimit: 3,
		RefreshPace:          500 * time.Millisecond,
		AdvanceDelay:         time.Second,
		CelebrationDuration:  4 * time.Second,
		ScanAlertDuration:    3 * time.Second,
		WriteTimeout:         30 * time.Second,
	}
}

// withDefaults fills zero values so a partially configured Timing still works
func (t Timing) withDefaults() Timing {
	d := DefaultTiming()
	if t.PrefetchCount < 0 {
		t.PrefetchCount = 0
	}
	if t.PrefetchPace < 0 {
		t.PrefetchPace = 0
	}
	if t.RefreshInterval <= 0 {
		t.RefreshInterval = d.RefreshInterval
	}
	if t.RefreshLocationLimit < 0 {
		t.RefreshLocationLimit = 0
	}
	if t.CelebrationDuration <= 0 {
		t.CelebrationDuration = d.CelebrationDuration
	}
	if t.ScanAlertDuration <= 0 {
		t.ScanAlertDuration = d.ScanAlertDuration
	}
	if t.WriteTimeout <= 0 {
		t.WriteTimeout = d.WriteTimeout
	}
	return t
}

func parseLocale(s string) language.Tag {
	if s == "" {
		return language.English
	}
	tag, err := language.Parse(s)
	if err != nil {
		return language.English
	}
	return tag
}
