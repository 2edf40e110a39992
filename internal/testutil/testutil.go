// Package testutil provides database fixtures and sample records for tests.
package testutil

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jmylchreest/segmentarr/internal/models"
	"github.com/jmylchreest/segmentarr/internal/repository"
)

// DefaultLadder is the stock resolution ladder.
var DefaultLadder = []models.ResolutionSpec{
	{Size: "1920x1080", Bitrate: "5000k"},
	{Size: "1280x720", Bitrate: "2800k"},
	{Size: "842x480", Bitrate: "1400k"},
	{Size: "640x360", Bitrate: "800k"},
	{Size: "426x240", Bitrate: "400k"},
}

// BaseTime is the creation time of the first sample record.
var BaseTime = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

// NewDB opens a migrated in-memory SQLite database.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	// Every pooled connection would get its own in-memory database.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&models.VideoStream{}))
	return db
}

// NewVideoRepository returns a repository over a fresh database.
func NewVideoRepository(t *testing.T) repository.VideoRepository {
	t.Helper()
	return repository.NewVideoRepository(NewDB(t))
}

// SourceFile writes a small placeholder video under dir and returns its path.
func SourceFile(t *testing.T, dir, name string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("not really a video"), 0o644))
	return path
}

// VideoOption customises a sample record.
type VideoOption func(v *models.VideoStream)

// WithFile sets the source path.
func WithFile(path string) VideoOption {
	return func(v *models.VideoStream) { v.File = models.StringPtr(path) }
}

// WithLink sets the download link and clears the file.
func WithLink(url string) VideoOption {
	return func(v *models.VideoStream) {
		v.File = nil
		v.FileURL = models.StringPtr(url)
	}
}

// WithDimensions sets the probed size.
func WithDimensions(w, h int) VideoOption {
	return func(v *models.VideoStream) { v.Width, v.Height = w, h }
}

// WithReady sets the format flags.
func WithReady(hls, dash bool) VideoOption {
	return func(v *models.VideoStream) { v.HLSReady, v.DASHReady = hls, dash }
}

// WithProcessID attaches a pid.
func WithProcessID(pid int) VideoOption {
	return func(v *models.VideoStream) { v.ProcessID = &pid }
}

// WithCreatedAt pins the queue position.
func WithCreatedAt(at time.Time) VideoOption {
	return func(v *models.VideoStream) { v.CreatedAt = at }
}

// CreateVideo stores a sample record titled title.
func CreateVideo(t *testing.T, repo repository.VideoRepository, title string, opts ...VideoOption) *models.VideoStream {
	t.Helper()

	v := &models.VideoStream{Title: title}
	for _, opt := range opts {
		opt(v)
	}
	require.NoError(t, repo.Create(t.Context(), v))
	return v
}

// Reload fetches the current state of v, nil if it is gone.
func Reload(t *testing.T, repo repository.VideoRepository, v *models.VideoStream) *models.VideoStream {
	t.Helper()
	current, err := repo.GetByID(t.Context(), v.ID)
	require.NoError(t, err)
	return current
}

// titleWords feed sample titles.
var titleWords = []string{
	"Harbour", "Lecture", "Keynote", "Trailer", "Interview", "Walkthrough",
	"Highlights", "Recap", "Tutorial", "Documentary", "Session", "Demo",
}

// TitleGenerator produces unique sample titles.
type TitleGenerator struct {
	rng  *rand.Rand
	seen map[string]int
}

// NewTitleGenerator creates a generator with a fixed seed.
func NewTitleGenerator(seed int64) *TitleGenerator {
	return &TitleGenerator{
		rng:  rand.New(rand.NewSource(seed)),
		seen: make(map[string]int),
	}
}

// Next returns a title not returned before.
func (g *TitleGenerator) Next() string {
	base := titleWords[g.rng.Intn(len(titleWords))] + " " + titleWords[g.rng.Intn(len(titleWords))]
	g.seen[base]++
	if n := g.seen[base]; n > 1 {
		return fmt.Sprintf("%s %d", base, n)
	}
	return base
}
