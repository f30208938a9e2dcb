package post

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
		ok   bool
	}{
		{"2024-01-15T10:00:00Z", date(2024, 1, 15), true},
		{"2023-08-07T05:31:12.156888Z", date(2023, 8, 7), true},
		{"2024-01-15 23:59:59", date(2024, 1, 15), true},
		{"2024-01-15", date(2024, 1, 15), true},
		{"1704067200", date(2024, 1, 1), true},
		{"1704067200.75", date(2024, 1, 1), true},
		{"1704067200000", date(2024, 1, 1), true},
		{"2/1/2021", date(2021, 2, 1), true},
		{"12/25/2022 14:30", date(2022, 12, 25), true},
		{"", time.Time{}, false},
		{"   ", time.Time{}, false},
		{"yesterday", time.Time{}, false},
		{"2024-13-01", time.Time{}, false},
		{"2024-1-5", time.Time{}, false},
		{"NaN", time.Time{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseDate(tt.in)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.True(t, tt.want.Equal(got), "got %s want %s", got, tt.want)
			}
		})
	}
}

func TestNormalizeCreated(t *testing.T) {
	assert.Equal(t, "2021-02-01T00:00:00", NormalizeCreated("2/1/2021"))
	assert.Equal(t, "2022-12-25T14:30:00", NormalizeCreated("12/25/2022 14:30"))
	assert.Equal(t, "2024-01-15T08:09:10", NormalizeCreated("2024-01-15 08:09:10"))
	assert.Equal(t, "2024-01-15T00:00:00", NormalizeCreated("2024-01-15"))
	assert.Equal(t, "2024-01-15T08:09:10Z", NormalizeCreated("2024-01-15T08:09:10Z"))
	assert.Equal(t, "1704067200", NormalizeCreated("1704067200"))
	assert.Equal(t, "garbage", NormalizeCreated(" garbage "))
	assert.Empty(t, NormalizeCreated(""))
}

func TestDateRangeExclusionPolicy(t *testing.T) {
	open := DateRange{}
	assert.False(t, open.Active())
	assert.True(t, open.Contains("not a date"))

	r, err := NewDateRange("2024-01-01", "2024-01-31")
	require.NoError(t, err)
	assert.True(t, r.Active())
	assert.True(t, r.Contains("2024-01-01T00:00:00Z"))
	assert.True(t, r.Contains("2024-01-31T23:59:59Z"))
	assert.True(t, r.Contains("1705312800")) // 2024-01-15
	assert.False(t, r.Contains("2023-12-31T23:59:59Z"))
	assert.False(t, r.Contains("2024-02-01"))
	assert.False(t, r.Contains("not a date"))
	assert.False(t, r.Contains(""))

	fromOnly, err := NewDateRange("2024-01-10", "")
	require.NoError(t, err)
	assert.True(t, fromOnly.Contains("2030-01-01"))
	assert.False(t, fromOnly.Contains("2024-01-09"))
}

func TestNewDateRangeRejectsBadBounds(t *testing.T) {
	_, err := NewDateRange("01/02/2024", "")
	require.Error(t, err)
	_, err = NewDateRange("", "2024-02-30")
	require.Error(t, err)
}

func TestDateRangeFilter(t *testing.T) {
	posts := []Post{
		{ID: "a", CreatedUTC: "2024-01-05"},
		{ID: "b", CreatedUTC: "oops"},
		{ID: "c", CreatedUTC: "2024-03-01"},
	}

	assert.Len(t, DateRange{}.Filter(posts), 3)

	r, err := NewDateRange("2024-01-01", "2024-01-31")
	require.NoError(t, err)
	got := r.Filter(posts)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)
}
