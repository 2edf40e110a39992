package format

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1536, "1.5 KB"},
		{5 * 1024 * 1024, "5.0 MB"},
		{3 * 1024 * 1024 * 1024, "3.0 GB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Bytes(tt.in))
	}
}

func TestNumbers(t *testing.T) {
	assert.Equal(t, "1,234,567", Number(1234567))
	assert.Equal(t, "2,048 MB", Megabytes(2048))
	assert.Equal(t, "45.7%", Percentage(45.678, 1))
}

func TestClock(t *testing.T) {
	assert.Equal(t, "0:00", Clock(-3))
	assert.Equal(t, "1:05", Clock(65.9))
	assert.Equal(t, "1:01:01", Clock(3661))
}

func TestRelativeTimeFrom(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		at   time.Time
		want string
	}{
		{now.Add(-10 * time.Second), "just now"},
		{now.Add(10 * time.Second), "in a moment"},
		{now.Add(-time.Minute), "1 minute ago"},
		{now.Add(-5 * time.Minute), "5 minutes ago"},
		{now.Add(2 * time.Hour), "in 2 hours"},
		{now.Add(-49 * time.Hour), "2 days ago"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RelativeTimeFrom(tt.at, now))
	}
}
