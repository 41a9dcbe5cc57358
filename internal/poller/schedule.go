package poller

import (
	"errors"
	"fmt"
	"time"
)

// Band is a fixed-interval polling regime. Polls is the number of polls the
// band covers; zero means the band never ends and is only valid last.
type Band struct {
	Interval time.Duration `yaml:"interval" json:"interval"`
	Polls    int           `yaml:"polls" json:"polls"`
}

// DefaultBands escalates 30s x10, 60s x10, then 120s until the job ends.
func DefaultBands() []Band {
	return []Band{
		{Interval: 30 * time.Second, Polls: 10},
		{Interval: 60 * time.Second, Polls: 10},
		{Interval: 120 * time.Second},
	}
}

func ValidateBands(bands []Band) error {
	if len(bands) == 0 {
		return errors.New("at least one polling band is required")
	}
	for i, b := range bands {
		if b.Interval <= 0 {
			return fmt.Errorf("band %d: interval must be positive", i+1)
		}
		if b.Polls < 0 {
			return fmt.Errorf("band %d: polls must be >= 0", i+1)
		}
		if b.Polls == 0 && i != len(bands)-1 {
			return fmt.Errorf("band %d: only the last band may be unbounded", i+1)
		}
	}
	return nil
}

// Schedule walks the bands one poll at a time. The first poll of a job is
// immediate and counts toward the first band.
type Schedule struct {
	bands []Band
	band  int
	used  int
	polls int
}

func NewSchedule(bands []Band) (*Schedule, error) {
	if err := ValidateBands(bands); err != nil {
		return nil, err
	}
	cp := append([]Band(nil), bands...)
	return &Schedule{bands: cp}, nil
}

// Next advances to the next poll and returns the delay to wait before it.
func (s *Schedule) Next() time.Duration {
	current := s.bands[s.band]
	if current.Polls > 0 && s.used >= current.Polls {
		if s.band < len(s.bands)-1 {
			s.band++
			s.used = 0
			current = s.bands[s.band]
		}
	}
	s.used++
	s.polls++
	if s.polls == 1 {
		return 0
	}
	return current.Interval
}

// Band reports the index of the band the most recent poll belonged to.
func (s *Schedule) Band() int { return s.band }

// Polls reports how many polls have been scheduled.
func (s *Schedule) Polls() int { return s.polls }
