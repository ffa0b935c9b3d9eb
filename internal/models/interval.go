package models

import "time"

// DefaultInterval is the smallest candle granularity the collectors support.
// Unrecognized interval labels fall back to it rather than failing.
const DefaultInterval = "1h"

// intervalDurations maps the supported common interval labels to durations.
var intervalDurations = map[string]time.Duration{
	"1h": time.Hour,
	"4h": 4 * time.Hour,
	"1d": 24 * time.Hour,
}

// SupportedInterval reports whether the label is a common interval every
// connector can translate.
func SupportedInterval(label string) bool {
	_, ok := intervalDurations[label]
	return ok
}

// NormalizeInterval returns the label itself when supported, otherwise the
// default (smallest) interval.
func NormalizeInterval(label string) string {
	if SupportedInterval(label) {
		return label
	}
	return DefaultInterval
}

// IntervalDuration returns the duration of a common interval label, falling
// back to the default interval's duration for unrecognized labels.
func IntervalDuration(label string) time.Duration {
	if d, ok := intervalDurations[label]; ok {
		return d
	}
	return intervalDurations[DefaultInterval]
}
