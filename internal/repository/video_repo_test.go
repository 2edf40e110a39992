package repository

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jmylchreest/segmentarr/internal/models"
)

func setupVideoTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&models.VideoStream{}))
	return db
}

var baseTime = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func createVideo(t *testing.T, repo *videoRepo, title string, offset time.Duration, mutate func(v *models.VideoStream)) *models.VideoStream {
	t.Helper()

	v := &models.VideoStream{Title: title, File: models.StringPtr("/media/videos/" + title + ".mp4")}
	v.CreatedAt = baseTime.Add(offset)
	if mutate != nil {
		mutate(v)
	}
	require.NoError(t, repo.Create(context.Background(), v))
	return v
}

func TestVideoRepo_CreateAndGet(t *testing.T) {
	repo := NewVideoRepository(setupVideoTestDB(t))
	ctx := context.Background()

	v := createVideo(t, repo, "intro", 0, nil)
	assert.False(t, v.ID.IsZero())

	found, err := repo.GetByID(ctx, v.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "intro", found.Title)
	assert.Equal(t, "/media/videos/intro.mp4", found.FilePath())

	byTitle, err := repo.GetByTitle(ctx, "intro")
	require.NoError(t, err)
	require.NotNil(t, byTitle)
	assert.Equal(t, v.ID, byTitle.ID)

	missing, err := repo.GetByID(ctx, models.NewULID())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestVideoRepo_DeleteHidesRecord(t *testing.T) {
	repo := NewVideoRepository(setupVideoTestDB(t))
	ctx := context.Background()

	v := createVideo(t, repo, "gone", 0, nil)
	require.NoError(t, repo.Delete(ctx, v.ID))

	found, err := repo.GetByID(ctx, v.ID)
	require.NoError(t, err)
	assert.Nil(t, found)

	all, err := repo.Find(ctx, VideoFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestVideoRepo_SetProcessID(t *testing.T) {
	repo := NewVideoRepository(setupVideoTestDB(t))
	ctx := context.Background()

	v := createVideo(t, repo, "busy", 0, nil)
	pid := 4242
	require.NoError(t, repo.SetProcessID(ctx, v.ID, &pid))

	found, err := repo.GetByID(ctx, v.ID)
	require.NoError(t, err)
	require.NotNil(t, found.ProcessID)
	assert.Equal(t, 4242, *found.ProcessID)

	busy, err := repo.Exists(ctx, VideoFilter{Processing: true})
	require.NoError(t, err)
	assert.True(t, busy)

	require.NoError(t, repo.SetProcessID(ctx, v.ID, nil))
	found, err = repo.GetByID(ctx, v.ID)
	require.NoError(t, err)
	assert.Nil(t, found.ProcessID)

	busy, err = repo.Exists(ctx, VideoFilter{Processing: true})
	require.NoError(t, err)
	assert.False(t, busy)
}

func TestVideoRepo_AppendRemark(t *testing.T) {
	repo := NewVideoRepository(setupVideoTestDB(t))
	ctx := context.Background()

	v := createVideo(t, repo, "noisy", 0, nil)
	at := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)

	require.NoError(t, repo.AppendRemark(ctx, v.ID, at, "one"))
	require.NoError(t, repo.AppendRemark(ctx, v.ID, at, "two"))

	found, err := repo.GetByID(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, `"[2024-05-01 09:30:00 AM] one", "[2024-05-01 09:30:00 AM] two"`, found.Remarks)

	assert.NoError(t, repo.AppendRemark(ctx, models.NewULID(), at, "nobody"))
}

func TestVideoRepo_UpdateFields(t *testing.T) {
	repo := NewVideoRepository(setupVideoTestDB(t))
	ctx := context.Background()

	v := createVideo(t, repo, "probe", 0, nil)
	require.NoError(t, repo.UpdateFields(ctx, v.ID, map[string]any{"width": 1920, "height": 1080, "hls_ready": true}))

	found, err := repo.GetByID(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, 1920, found.Width)
	assert.Equal(t, 1080, found.Height)
	assert.True(t, found.HLSReady)
	assert.False(t, found.DASHReady)
}

func TestVideoRepo_Filters(t *testing.T) {
	repo := NewVideoRepository(setupVideoTestDB(t))
	ctx := context.Background()

	createVideo(t, repo, "done", 0, func(v *models.VideoStream) { v.HLSReady, v.DASHReady = true, true })
	hlsOnly := createVideo(t, repo, "hls-only", time.Minute, func(v *models.VideoStream) { v.HLSReady = true })
	fresh := createVideo(t, repo, "fresh", 2*time.Minute, nil)
	link := createVideo(t, repo, "link", 3*time.Minute, func(v *models.VideoStream) {
		v.File = nil
		v.FileURL = models.StringPtr("https://example.com/link.mp4")
	})
	fetching := createVideo(t, repo, "fetching", 4*time.Minute, func(v *models.VideoStream) {
		v.File = nil
		v.FileURL = models.StringPtr(models.DownloadingMarker + "https://example.com/f.mp4")
	})

	titles := func(vs []*models.VideoStream) []string {
		out := make([]string, 0, len(vs))
		for _, v := range vs {
			out = append(out, v.Title)
		}
		return out
	}

	both, err := repo.Find(ctx, VideoFilter{MissingHLS: true, MissingDASH: true})
	require.NoError(t, err)
	assert.Equal(t, []string{hlsOnly.Title, fresh.Title, link.Title, fetching.Title}, titles(both))

	hls, err := repo.Find(ctx, VideoFilter{MissingHLS: true})
	require.NoError(t, err)
	assert.Equal(t, []string{fresh.Title, link.Title, fetching.Title}, titles(hls))

	awaiting, err := repo.Find(ctx, VideoFilter{AwaitingDownload: true})
	require.NoError(t, err)
	assert.Equal(t, []string{link.Title, fetching.Title}, titles(awaiting))

	downloading, err := repo.Find(ctx, VideoFilter{AwaitingDownload: true, Downloading: true})
	require.NoError(t, err)
	assert.Equal(t, []string{fetching.Title}, titles(downloading))
}

func TestVideoRepo_FirstAfterCursor(t *testing.T) {
	repo := NewVideoRepository(setupVideoTestDB(t))
	ctx := context.Background()

	a := createVideo(t, repo, "a", 0, nil)
	// Same timestamp: the id breaks the tie.
	maxID, err := models.ParseULID("7ZZZZZZZZZZZZZZZZZZZZZZZZZ")
	require.NoError(t, err)
	b := createVideo(t, repo, "b", 0, func(v *models.VideoStream) { v.ID = maxID })
	c := createVideo(t, repo, "c", time.Minute, nil)

	first, err := repo.First(ctx, VideoFilter{}, nil)
	require.NoError(t, err)
	assert.Equal(t, a.ID, first.ID)

	next, err := repo.First(ctx, VideoFilter{}, &Cursor{CreatedAt: a.CreatedAt, ID: a.ID})
	require.NoError(t, err)
	assert.Equal(t, b.ID, next.ID)

	next, err = repo.First(ctx, VideoFilter{}, &Cursor{CreatedAt: b.CreatedAt, ID: b.ID})
	require.NoError(t, err)
	assert.Equal(t, c.ID, next.ID)

	next, err = repo.First(ctx, VideoFilter{}, &Cursor{CreatedAt: c.CreatedAt, ID: c.ID})
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestCursor_Less(t *testing.T) {
	early := Cursor{CreatedAt: baseTime, ID: models.NewULID()}
	late := Cursor{CreatedAt: baseTime.Add(time.Second), ID: models.NewULID()}
	assert.True(t, early.Less(late))
	assert.False(t, late.Less(early))
	assert.False(t, early.Less(early))
}
