package domain

import "math"

// Savings compares an original file with its converted replacement.
type Savings struct {
	Original  int64
	Converted int64
}

// Saved is positive when the conversion shrank the file.
func (s Savings) Saved() int64 {
	return s.Original - s.Converted
}

func (s Savings) Shrunk() bool {
	return s.Converted < s.Original
}

func (s Savings) Grew() bool {
	return s.Converted > s.Original
}

// Percent is the size change relative to the original, always non-negative.
func (s Savings) Percent() float64 {
	if s.Original <= 0 {
		return 0
	}
	return math.Abs(float64(s.Saved())) / float64(s.Original) * 100
}

// SavedBytes clamps growth to zero for counters.
func (s Savings) SavedBytes() int64 {
	if s.Saved() < 0 {
		return 0
	}
	return s.Saved()
}
