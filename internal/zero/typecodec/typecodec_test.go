// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package typecodec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPgTimestampRoundTrip(t *testing.T) {
	cases := []float64{0, 1, 1050134706000, float64(MaxSafeInteger)}
	for _, ms := range cases {
		require.Equal(t, ms, PgTimestampParse(PgTimestampFormat(ms)))
	}
}

func TestPgTimeFormatBoundaries(t *testing.T) {
	_, err := PgTimeFormat(-1)
	require.Error(t, err)

	_, err = PgTimeFormat(MillisPerDay)
	require.Error(t, err)

	s, err := PgTimeFormat(MillisPerDay - 1)
	require.NoError(t, err)
	require.Equal(t, "23:59:59.999", s)
}

func TestPgTimeRoundTrip(t *testing.T) {
	for ms := int64(0); ms < MillisPerDay; ms += 104729 { // prime stride, cheap coverage
		s, err := PgTimeFormat(ms)
		require.NoError(t, err)
		got, err := PgTimeParse(s)
		require.NoError(t, err)
		require.Equal(t, ms, got)
	}
}

func TestPgTimeParseTruncatesMicroseconds(t *testing.T) {
	got, err := PgTimeParse("12:30:01.123456")
	require.NoError(t, err)
	require.Equal(t, int64(12*3_600_000+30*60_000+1_000+123), got)
}

func TestBigIntRoundTrip(t *testing.T) {
	small := int64(12345)
	require.Equal(t, float64(small), EncodeBigInt(small))

	big := int64(987654321987654321)
	encoded := EncodeBigInt(big)
	require.IsType(t, "", encoded)

	decoded, err := DecodeBigInt(encoded)
	require.NoError(t, err)
	require.Equal(t, big, decoded)
}
