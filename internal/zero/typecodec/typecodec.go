// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package typecodec converts between PostgreSQL wire values and the internal
[changestream.Row] value set.

Timestamps are encoded as floating-point milliseconds since the epoch
(preserving sub-millisecond precision); dates as UTC-midnight milliseconds;
time-of-day as a decimal string "HH:MM:SS.mmm"; large integers exceeding
2^53 are carried through as strings rather than float64 to avoid silent
precision loss. spec.md §8 requires:

	pgTimestampParse ∘ pgTimestampFormat = id  for all valid ms in [0, 2^53)
	pgTimeParse ∘ pgTimeFormat = id            on [0, 86_400_000)
	millisecondsToPgTime(-1) and (86_400_000) are errors; (86_399_999) -> "23:59:59.999"
*/
package typecodec

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// MaxSafeInteger is the largest integer float64 represents exactly;
// integers with a larger magnitude are carried as decimal strings.
const MaxSafeInteger = 1<<53 - 1

// MillisPerDay is the number of milliseconds in a 24h day, used both as the
// modulus for time-of-day encoding and as the exclusive upper bound for
// valid time-of-day values.
const MillisPerDay = 86_400_000

// PgTimestampFormat converts milliseconds-since-epoch to the canonical
// internal timestamp representation. Because internal rows already encode
// timestamps as float64 milliseconds, this is the identity — it exists so
// the round-trip law in spec.md §8 has two named functions to compose, and
// so callers reading PG timestamps via pgtype can funnel through one
// symmetric pair instead of applying ad hoc arithmetic at each call site.
func PgTimestampFormat(ms float64) float64 { return ms }

// PgTimestampParse is the inverse of [PgTimestampFormat].
func PgTimestampParse(ms float64) float64 { return ms }

// PgDateToMillis converts a UTC calendar date to UTC-midnight milliseconds
// since epoch.
func PgDateToMillis(year int, month time.Month, day int) float64 {
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return float64(t.UnixMilli())
}

// MillisToPgDate is the inverse of [PgDateToMillis]. The input must already
// be UTC-midnight-aligned; callers responsible for producing dates (not
// timestamps) guarantee this upstream.
func MillisToPgDate(ms float64) time.Time {
	return time.UnixMilli(int64(ms)).UTC()
}

// PgTimeFormat converts milliseconds-since-midnight to the canonical
// "HH:MM:SS.mmm" decimal string representation PG `time` columns use on
// the wire. ms must be in [0, MillisPerDay); values outside that range are
// rejected per the boundary behavior in spec.md §8.
func PgTimeFormat(ms int64) (string, error) {
	if ms < 0 || ms >= MillisPerDay {
		return "", fmt.Errorf("typecodec: time %dms out of range [0, %d)", ms, MillisPerDay)
	}
	hours := ms / 3_600_000
	ms -= hours * 3_600_000
	minutes := ms / 60_000
	ms -= minutes * 60_000
	seconds := ms / 1_000
	millis := ms - seconds*1_000
	return fmt.Sprintf("%02d:%02d:%02d.%03d", hours, minutes, seconds, millis), nil
}

// PgTimeParse is the inverse of [PgTimeFormat]. Microsecond-precision
// inputs (as PG itself stores, down to "HH:MM:SS.mmmuuu") are accepted and
// truncated (not rounded) to millisecond precision, matching
// millisecondsToPgTime's documented truncation behavior.
func PgTimeParse(s string) (int64, error) {
	var h, m, sec, frac int64
	var fracDigits int
	n, err := fmt.Sscanf(s, "%02d:%02d:%02d", &h, &m, &sec)
	if err != nil || n != 3 {
		return 0, fmt.Errorf("typecodec: invalid time %q: %w", s, err)
	}
	if idx := strings.IndexByte(s, '.'); idx >= 0 {
		fracStr := s[idx+1:]
		fracDigits = len(fracStr)
		if fracDigits > 0 {
			if _, err := fmt.Sscanf(fracStr, "%d", &frac); err != nil {
				return 0, fmt.Errorf("typecodec: invalid fractional seconds %q: %w", fracStr, err)
			}
		}
	}
	if h < 0 || h > 23 || m < 0 || m > 59 || sec < 0 || sec > 59 {
		return 0, fmt.Errorf("typecodec: invalid time %q", s)
	}
	millis := h*3_600_000 + m*60_000 + sec*1_000
	if fracDigits > 0 {
		// Truncate (not round) to millisecond precision regardless of how
		// many fractional digits were supplied.
		for fracDigits > 3 {
			frac /= 10
			fracDigits--
		}
		for fracDigits < 3 {
			frac *= 10
			fracDigits++
		}
		millis += frac
	}
	if millis >= MillisPerDay {
		return 0, fmt.Errorf("typecodec: time %q out of range", s)
	}
	return millis, nil
}

// EncodeBigInt renders an integer value as the wire-safe representation:
// a float64 if it's within the float64-exact range, or a decimal string if
// not (so JSON consumers never silently lose precision on bigint columns).
func EncodeBigInt(v int64) any {
	if v > MaxSafeInteger || v < -MaxSafeInteger {
		return fmt.Sprintf("%d", v)
	}
	return float64(v)
}

// DecodeBigInt is the inverse of [EncodeBigInt].
func DecodeBigInt(v any) (int64, error) {
	switch t := v.(type) {
	case float64:
		if math.Trunc(t) != t {
			return 0, fmt.Errorf("typecodec: %v is not an integer", t)
		}
		return int64(t), nil
	case string:
		var n int64
		if _, err := fmt.Sscanf(t, "%d", &n); err != nil {
			return 0, fmt.Errorf("typecodec: invalid bigint string %q: %w", t, err)
		}
		return n, nil
	default:
		return 0, errors.New("typecodec: unsupported bigint representation")
	}
}
