package service

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/segmentarr/internal/models"
	"github.com/jmylchreest/segmentarr/internal/observability"
	"github.com/jmylchreest/segmentarr/internal/progress"
	"github.com/jmylchreest/segmentarr/internal/queue"
	"github.com/jmylchreest/segmentarr/internal/repository"
	"github.com/jmylchreest/segmentarr/internal/scheduler"
	"github.com/jmylchreest/segmentarr/internal/segmenter"
	"github.com/jmylchreest/segmentarr/internal/storage"
	"github.com/jmylchreest/segmentarr/internal/testutil"
)

// recordingDispatcher implements scheduler.Dispatcher for testing.
type recordingDispatcher struct {
	mu   sync.Mutex
	jobs []scheduler.Job
}

func (d *recordingDispatcher) Dispatch(job scheduler.Job) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.jobs = append(d.jobs, job)
}

func (d *recordingDispatcher) DispatchAfter(job scheduler.Job, _ time.Duration) {
	d.Dispatch(job)
}

func (d *recordingDispatcher) all() []scheduler.Job {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]scheduler.Job(nil), d.jobs...)
}

type fixture struct {
	repo       repository.VideoRepository
	media      *storage.Store
	hls        *storage.Store
	layout     segmenter.Layout
	dispatcher *recordingDispatcher
	svc        *VideoService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()

	media, err := storage.NewStore(filepath.Join(root, "media"))
	require.NoError(t, err)
	hls, err := storage.NewStore(filepath.Join(root, "hls"))
	require.NoError(t, err)
	dash, err := storage.NewStore(filepath.Join(root, "dash"))
	require.NoError(t, err)

	layout := segmenter.Layout{HLSRoot: hls.Root(), DASHRoot: dash.Root()}
	cleanup, err := storage.NewCleanup(storage.CleanupRemove, media, hls, dash, layout, observability.Discard())
	require.NoError(t, err)

	repo := testutil.NewVideoRepository(t)
	d := &recordingDispatcher{}
	svc := NewVideoService(repo, media, cleanup).
		WithLogger(observability.Discard()).
		WithDispatcher(d).
		WithQueues(queue.NewConversionQueue(repo, true, true), queue.NewDownloadQueue(repo)).
		WithTracker(progress.NewTracker(layout, testutil.DefaultLadder, true, true))

	return &fixture{repo: repo, media: media, hls: hls, layout: layout, dispatcher: d, svc: svc}
}

func TestVideoService_Create(t *testing.T) {
	t.Run("file triggers a conversion check", func(t *testing.T) {
		f := newFixture(t)
		src := testutil.SourceFile(t, f.media.Root(), "talk.mp4")

		v := &models.VideoStream{Title: "Talk", File: models.StringPtr(src)}
		require.NoError(t, f.svc.Create(context.Background(), v))
		assert.False(t, v.ID.IsZero())
		assert.Equal(t, []scheduler.Job{{Kind: queue.KindConversion}}, f.dispatcher.all())
	})

	t.Run("link triggers a download check", func(t *testing.T) {
		f := newFixture(t)
		v := &models.VideoStream{Title: "Remote", FileURL: models.StringPtr("https://example.com/a.mp4")}
		require.NoError(t, f.svc.Create(context.Background(), v))
		assert.Equal(t, []scheduler.Job{{Kind: queue.KindDownload}}, f.dispatcher.all())
	})

	t.Run("auto conversion disabled", func(t *testing.T) {
		f := newFixture(t)
		f.svc.WithAutoConversion(false)
		src := testutil.SourceFile(t, f.media.Root(), "talk.mp4")
		require.NoError(t, f.svc.Create(context.Background(), &models.VideoStream{Title: "Talk", File: models.StringPtr(src)}))
		assert.Empty(t, f.dispatcher.all())
	})

	t.Run("validation", func(t *testing.T) {
		f := newFixture(t)
		err := f.svc.Create(context.Background(), &models.VideoStream{Title: "Nothing"})
		assert.ErrorIs(t, err, models.ErrSourceRequired)

		err = f.svc.Create(context.Background(), &models.VideoStream{Title: "Clip", File: models.StringPtr("/tmp/clip.avi")})
		var verr models.ErrValidation
		assert.ErrorAs(t, err, &verr)
		assert.Equal(t, "file", verr.Field)
	})

	t.Run("duplicate title", func(t *testing.T) {
		f := newFixture(t)
		testutil.CreateVideo(t, f.repo, "Talk", testutil.WithLink("https://example.com/a.mp4"))
		err := f.svc.Create(context.Background(), &models.VideoStream{Title: "Talk", FileURL: models.StringPtr("https://example.com/b.mp4")})
		assert.ErrorIs(t, err, ErrDuplicateTitle)
	})
}

func TestVideoService_Enqueue(t *testing.T) {
	t.Run("local file is copied into media storage", func(t *testing.T) {
		f := newFixture(t)
		src := testutil.SourceFile(t, t.TempDir(), "Harbour Lecture.mp4")

		v, err := f.svc.Enqueue(context.Background(), "", src)
		require.NoError(t, err)
		assert.Equal(t, "Harbour Lecture", v.Title)
		assert.Equal(t, filepath.Join(f.media.Root(), "videos", "Harbour Lecture.mp4"), v.FilePath())
		assert.FileExists(t, src)
		assert.FileExists(t, v.FilePath())
	})

	t.Run("link", func(t *testing.T) {
		f := newFixture(t)
		v, err := f.svc.Enqueue(context.Background(), "", "https://example.com/media/keynote.mp4")
		require.NoError(t, err)
		assert.Equal(t, "keynote", v.Title)
		assert.Equal(t, "https://example.com/media/keynote.mp4", v.Link())
		assert.False(t, v.HasFile())
	})

	t.Run("unsupported extension", func(t *testing.T) {
		f := newFixture(t)
		src := testutil.SourceFile(t, t.TempDir(), "clip.avi")
		_, err := f.svc.Enqueue(context.Background(), "Clip", src)
		assert.Error(t, err)
	})

	t.Run("duplicate title leaves nothing behind", func(t *testing.T) {
		f := newFixture(t)
		testutil.CreateVideo(t, f.repo, "clip", testutil.WithLink("https://example.com/a.mp4"))
		src := testutil.SourceFile(t, t.TempDir(), "clip.mp4")

		_, err := f.svc.Enqueue(context.Background(), "", src)
		assert.ErrorIs(t, err, ErrDuplicateTitle)
		assert.NoFileExists(t, filepath.Join(f.media.Root(), "videos", "clip.mp4"))
	})
}

func TestVideoService_Import(t *testing.T) {
	f := newFixture(t)
	dir := t.TempDir()
	testutil.SourceFile(t, dir, "one.mp4")
	testutil.SourceFile(t, dir, "two.M4V")
	testutil.SourceFile(t, dir, "notes.txt")
	testutil.SourceFile(t, dir, "dup.mp4")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested.mp4"), 0o755))
	testutil.CreateVideo(t, f.repo, "dup", testutil.WithLink("https://example.com/dup.mp4"))

	result, err := f.svc.Import(context.Background(), dir)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"one", "two"}, result.Created)
	assert.ElementsMatch(t, []string{"notes.txt", "dup.mp4"}, result.Skipped)
	assert.Equal(t, []scheduler.Job{{Kind: queue.KindConversion}}, f.dispatcher.all())

	v, err := f.repo.GetByTitle(context.Background(), "two")
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.True(t, f.media.Contains(v.FilePath()))

	_, err = f.svc.Import(context.Background(), filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestVideoService_Update(t *testing.T) {
	t.Run("replaced source cleans up and resets", func(t *testing.T) {
		f := newFixture(t)
		oldSrc := testutil.SourceFile(t, filepath.Join(f.media.Root(), "videos"), "old.mp4")
		v := testutil.CreateVideo(t, f.repo, "Talk",
			testutil.WithFile(oldSrc), testutil.WithReady(true, false), testutil.WithDimensions(1920, 1080))
		hlsDir := f.layout.HLSDir(v)
		require.NoError(t, os.MkdirAll(hlsDir, 0o755))

		newSrc := testutil.SourceFile(t, filepath.Join(f.media.Root(), "videos"), "new.mp4")
		v.File = models.StringPtr(newSrc)
		require.NoError(t, f.svc.Update(context.Background(), v))

		assert.NoFileExists(t, oldSrc)
		assert.NoDirExists(t, hlsDir)
		current := testutil.Reload(t, f.repo, v)
		assert.Equal(t, newSrc, current.FilePath())
		assert.False(t, current.HLSReady)
		assert.Zero(t, current.Width)
		assert.Len(t, f.dispatcher.all(), 1)
	})

	t.Run("title only", func(t *testing.T) {
		f := newFixture(t)
		src := testutil.SourceFile(t, f.media.Root(), "a.mp4")
		v := testutil.CreateVideo(t, f.repo, "Talk", testutil.WithFile(src), testutil.WithReady(true, true))

		v.Title = "Renamed"
		require.NoError(t, f.svc.Update(context.Background(), v))
		current := testutil.Reload(t, f.repo, v)
		assert.Equal(t, "Renamed", current.Title)
		assert.True(t, current.HLSReady)
		assert.FileExists(t, src)
		assert.Empty(t, f.dispatcher.all())
	})

	t.Run("title clash", func(t *testing.T) {
		f := newFixture(t)
		testutil.CreateVideo(t, f.repo, "Taken", testutil.WithLink("https://example.com/a.mp4"))
		v := testutil.CreateVideo(t, f.repo, "Mine", testutil.WithLink("https://example.com/b.mp4"))
		v.Title = "Taken"
		assert.ErrorIs(t, f.svc.Update(context.Background(), v), ErrDuplicateTitle)
	})

	t.Run("missing", func(t *testing.T) {
		f := newFixture(t)
		v := &models.VideoStream{Title: "Ghost", FileURL: models.StringPtr("https://example.com/a.mp4")}
		v.ID = models.NewULID()
		assert.ErrorIs(t, f.svc.Update(context.Background(), v), ErrNotFound)
	})
}

func TestVideoService_Delete(t *testing.T) {
	f := newFixture(t)
	src := testutil.SourceFile(t, f.media.Root(), "a.mp4")
	v := testutil.CreateVideo(t, f.repo, "Talk", testutil.WithFile(src))

	require.NoError(t, f.svc.Delete(context.Background(), v.ID))
	assert.Nil(t, testutil.Reload(t, f.repo, v))
	assert.NoFileExists(t, src)

	assert.ErrorIs(t, f.svc.Delete(context.Background(), v.ID), ErrNotFound)
}

func TestVideoService_Convert(t *testing.T) {
	f := newFixture(t)
	src := testutil.SourceFile(t, f.media.Root(), "a.mp4")
	withFile := testutil.CreateVideo(t, f.repo, "Local", testutil.WithFile(src))
	withLink := testutil.CreateVideo(t, f.repo, "Remote", testutil.WithLink("https://example.com/a.mp4"))

	kind, err := f.svc.Convert(context.Background(), withFile.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.KindConversion, kind)

	kind, err = f.svc.Convert(context.Background(), withLink.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.KindDownload, kind)

	assert.Equal(t, []scheduler.Job{
		{Kind: queue.KindConversion, VideoID: withFile.ID},
		{Kind: queue.KindDownload, VideoID: withLink.ID},
	}, f.dispatcher.all())

	_, err = f.svc.Convert(context.Background(), models.NewULID())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestVideoService_ProgressAndQueues(t *testing.T) {
	f := newFixture(t)
	src := testutil.SourceFile(t, f.media.Root(), "a.mp4")
	v := testutil.CreateVideo(t, f.repo, "Local", testutil.WithFile(src))
	testutil.CreateVideo(t, f.repo, "Remote", testutil.WithLink("https://example.com/a.mp4"))

	report, err := f.svc.Progress(context.Background(), v.ID)
	require.NoError(t, err)
	assert.Zero(t, report.Percent)

	queues, err := f.svc.Queues(context.Background())
	require.NoError(t, err)
	require.Len(t, queues, 2)
	assert.Equal(t, queue.KindConversion, queues[0].Kind)
	// Link-only records wait in the conversion queue as well.
	assert.Equal(t, 2, queues[0].Length)
	assert.Nil(t, queues[0].Ongoing)
	assert.Equal(t, queue.KindDownload, queues[1].Kind)
	assert.Equal(t, 1, queues[1].Length)
}
