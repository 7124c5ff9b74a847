package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupBroker(t *testing.T) (*miniredis.Miniredis, *Broker) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, NewWithClient(client, time.Hour)
}

func TestEnqueueDequeueRoundTrip(t *testing.T) {
	_, b := setupBroker(t)
	ctx := context.Background()

	payload := TranslationPayload{
		AudioPath:         "/shared-data/audio/abc_song.wav",
		LyricsPath:        "/shared-data/lyrics/abc_song.txt",
		StoredAudioName:   "abc_song.wav",
		OriginalAudioName: "song.wav",
	}
	require.NoError(t, b.Enqueue(ctx, TranslationsQueue, "abc", payload, 5000*time.Second))

	job, err := b.Dequeue(ctx, time.Second, TranslationsQueue)
	require.NoError(t, err)
	assert.Equal(t, "abc", job.ID)
	assert.Equal(t, StatusQueued, job.Status)
	assert.Equal(t, 5000*time.Second, job.Timeout)

	var got TranslationPayload
	require.NoError(t, job.DecodePayload(&got))
	assert.Equal(t, payload, got)
}

func TestDequeueFIFOOrder(t *testing.T) {
	_, b := setupBroker(t)
	ctx := context.Background()

	require.NoError(t, b.Enqueue(ctx, TranslationsQueue, "first", TranslationPayload{}, time.Minute))
	require.NoError(t, b.Enqueue(ctx, TranslationsQueue, "second", TranslationPayload{}, time.Minute))

	job, err := b.Dequeue(ctx, time.Second, TranslationsQueue)
	require.NoError(t, err)
	assert.Equal(t, "first", job.ID)

	job, err = b.Dequeue(ctx, time.Second, TranslationsQueue)
	require.NoError(t, err)
	assert.Equal(t, "second", job.ID)
}

func TestDequeueEmpty(t *testing.T) {
	_, b := setupBroker(t)

	_, err := b.Dequeue(context.Background(), 10*time.Millisecond, TranslationsQueue)
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestFetchJobMissing(t *testing.T) {
	_, b := setupBroker(t)

	_, err := b.FetchJob(context.Background(), "deadbeef")
	assert.ErrorIs(t, err, ErrNoSuchJob)
}

func TestStatusLifecycle(t *testing.T) {
	_, b := setupBroker(t)
	ctx := context.Background()

	require.NoError(t, b.Enqueue(ctx, TranslationsQueue, "j1", TranslationPayload{}, time.Minute))
	require.NoError(t, b.SetStatus(ctx, "j1", StatusStarted))
	require.NoError(t, b.SetProgressStage(ctx, "j1", "separating_audio"))

	job, err := b.FetchJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, StatusStarted, job.Status)
	assert.Equal(t, "separating_audio", job.ProgressStage)
}

func TestStatusNeverRegresses(t *testing.T) {
	_, b := setupBroker(t)
	ctx := context.Background()

	require.NoError(t, b.Enqueue(ctx, TranslationsQueue, "j1", TranslationPayload{}, time.Minute))
	require.NoError(t, b.SetStatus(ctx, "j1", StatusStarted))
	require.NoError(t, b.SetStatus(ctx, "j1", StatusFinished))

	assert.ErrorIs(t, b.SetStatus(ctx, "j1", StatusQueued), ErrStatusRegression)
	assert.ErrorIs(t, b.SetStatus(ctx, "j1", StatusStarted), ErrStatusRegression)
	// finished may not become failed either
	assert.ErrorIs(t, b.SetStatus(ctx, "j1", StatusFailed), ErrStatusRegression)
}

func TestSetResultMarksFinishedAndExpires(t *testing.T) {
	mr, b := setupBroker(t)
	ctx := context.Background()

	require.NoError(t, b.Enqueue(ctx, TranslationsQueue, "j1", TranslationPayload{}, time.Minute))
	require.NoError(t, b.SetResult(ctx, "j1", map[string]string{"hello": "world"}))

	job, err := b.FetchJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, StatusFinished, job.Status)
	assert.JSONEq(t, `{"hello":"world"}`, string(job.Result))

	// Retention kicks in after the TTL elapses.
	mr.FastForward(2 * time.Hour)
	_, err = b.FetchJob(ctx, "j1")
	assert.ErrorIs(t, err, ErrNoSuchJob)
}

func TestSetFailedRecordsExcInfo(t *testing.T) {
	_, b := setupBroker(t)
	ctx := context.Background()

	require.NoError(t, b.Enqueue(ctx, TranslationsQueue, "j1", TranslationPayload{}, time.Minute))
	require.NoError(t, b.SetFailed(ctx, "j1", "Audio separation failed: demucs exploded"))

	job, err := b.FetchJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, job.Status)
	assert.Equal(t, "Audio separation failed: demucs exploded", job.ExcInfo)
}

func TestCleanupQueueIsIndependent(t *testing.T) {
	_, b := setupBroker(t)
	ctx := context.Background()

	require.NoError(t, b.Enqueue(ctx, CleanupQueue, "c1", CleanupPayload{
		LyricsPath:    "/shared-data/lyrics/x.txt",
		AlignmentPath: "/shared-data/aligned/x.json",
		StemsDir:      "/shared-data/separator_output/htdemucs/x",
	}, time.Minute))

	_, err := b.Dequeue(ctx, 10*time.Millisecond, TranslationsQueue)
	assert.ErrorIs(t, err, ErrEmpty)

	job, err := b.Dequeue(ctx, time.Second, CleanupQueue)
	require.NoError(t, err)

	var p CleanupPayload
	require.NoError(t, job.DecodePayload(&p))
	assert.Equal(t, "/shared-data/lyrics/x.txt", p.LyricsPath)
}

func TestDequeueMultipleQueues(t *testing.T) {
	_, b := setupBroker(t)
	ctx := context.Background()

	require.NoError(t, b.Enqueue(ctx, CleanupQueue, "c1", CleanupPayload{}, time.Minute))

	job, err := b.Dequeue(ctx, time.Second, TranslationsQueue, CleanupQueue)
	require.NoError(t, err)
	assert.Equal(t, "c1", job.ID)
	assert.Equal(t, CleanupQueue, job.Queue)
}

func TestQueueDepth(t *testing.T) {
	_, b := setupBroker(t)
	ctx := context.Background()

	depth, err := b.QueueDepth(ctx, TranslationsQueue)
	require.NoError(t, err)
	assert.Zero(t, depth)

	require.NoError(t, b.Enqueue(ctx, TranslationsQueue, "j1", TranslationPayload{}, time.Minute))
	require.NoError(t, b.Enqueue(ctx, TranslationsQueue, "j2", TranslationPayload{}, time.Minute))

	depth, err = b.QueueDepth(ctx, TranslationsQueue)
	require.NoError(t, err)
	assert.EqualValues(t, 2, depth)

	_, err = b.Dequeue(ctx, time.Second, TranslationsQueue)
	require.NoError(t, err)
	depth, err = b.QueueDepth(ctx, TranslationsQueue)
	require.NoError(t, err)
	assert.EqualValues(t, 1, depth)
}

func TestPing(t *testing.T) {
	mr, b := setupBroker(t)
	require.NoError(t, b.Ping(context.Background()))

	mr.Close()
	assert.Error(t, b.Ping(context.Background()))
}
