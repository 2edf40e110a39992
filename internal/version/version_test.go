package version

import (
	"encoding/json"
	"runtime"
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pin sets the build variables for one test.
func pin(t *testing.T, version, commit, date string, settings ...debug.BuildSetting) {
	t.Helper()
	ov, oc, od, orb := Version, Commit, Date, readBuildInfo
	t.Cleanup(func() { Version, Commit, Date, readBuildInfo = ov, oc, od, orb })

	Version, Commit, Date = version, commit, date
	readBuildInfo = func() (*debug.BuildInfo, bool) {
		return &debug.BuildInfo{Settings: settings}, true
	}
}

func TestGetInfo(t *testing.T) {
	pin(t, "1.0.0", "unknown", "unknown")

	info := GetInfo()
	assert.Equal(t, "1.0.0", info.Version)
	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, info.Platform)
}

func TestGetInfo_VCSFallback(t *testing.T) {
	pin(t, "dev", "unknown", "unknown",
		debug.BuildSetting{Key: "vcs.revision", Value: "0123456789abcdef"},
		debug.BuildSetting{Key: "vcs.time", Value: "2024-01-15T10:30:00Z"},
		debug.BuildSetting{Key: "vcs.modified", Value: "true"},
	)

	info := GetInfo()
	assert.Equal(t, "0123456789abcdef", info.Commit)
	assert.Equal(t, "2024-01-15T10:30:00Z", info.Date)
	assert.True(t, info.Modified)
	assert.Equal(t, "dev (01234567*)", Short())
}

func TestGetInfo_LdflagsWin(t *testing.T) {
	pin(t, "1.2.3", "abc123def456789", "2024-02-01T00:00:00Z",
		debug.BuildSetting{Key: "vcs.revision", Value: "0123456789abcdef"},
	)

	info := GetInfo()
	assert.Equal(t, "abc123def456789", info.Commit)
	assert.Equal(t, "2024-02-01T00:00:00Z", info.Date)
}

func TestString(t *testing.T) {
	t.Run("with commit", func(t *testing.T) {
		pin(t, "1.0.0", "abc123def456789", "2024-01-15T10:30:00Z")
		s := String()
		assert.Contains(t, s, "segmentarr version 1.0.0")
		assert.Contains(t, s, "commit: abc123de")
		assert.Contains(t, s, "2024-01-15")
	})

	t.Run("without commit", func(t *testing.T) {
		pin(t, "1.0.0", "unknown", "unknown")
		assert.NotContains(t, String(), "commit:")
		assert.Equal(t, "1.0.0", Short())
	})
}

func TestJSON(t *testing.T) {
	pin(t, "1.2.3", "abc123def456789", "2024-01-15T10:30:00Z")

	var info Info
	require.NoError(t, json.Unmarshal([]byte(JSON()), &info))
	assert.Equal(t, "1.2.3", info.Version)
	assert.Equal(t, "abc123def456789", info.Commit)
}

func TestUserAgent(t *testing.T) {
	pin(t, "v1.2.3", "unknown", "unknown")
	assert.Equal(t, "segmentarr/1.2.3", UserAgent())
}

func TestIsRelease(t *testing.T) {
	tests := []struct {
		version  string
		expected bool
	}{
		{"dev", false},
		{"1.0.0", true},
		{"1.0.1-SNAPSHOT.abc1234", false},
		{"1.2.3-alpha.1", true},
	}
	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			pin(t, tt.version, "unknown", "unknown")
			assert.Equal(t, tt.expected, IsRelease())
		})
	}
}
