package worker

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BlindMuadDib/beethoven-music-translator/internal/metrics"
	"github.com/BlindMuadDib/beethoven-music-translator/internal/queue"
	"github.com/BlindMuadDib/beethoven-music-translator/internal/translator"
)

type fakeSeparator struct {
	stems map[string]string
	err   error
}

func (f *fakeSeparator) Separate(ctx context.Context, audioPath string) (map[string]string, error) {
	return f.stems, f.err
}

type fakeAligner struct {
	path string
	err  error
}

func (f *fakeAligner) Align(ctx context.Context, vocalsStemPath, lyricsPath string) (string, error) {
	return f.path, f.err
}

type fakeF0 struct {
	outcome translator.F0Outcome
	err     error
}

func (f *fakeF0) Analyze(ctx context.Context, stemPaths map[string]string) (translator.F0Outcome, error) {
	return f.outcome, f.err
}

type fakeRMS struct {
	report *translator.RMSReport
	err    error
	tracks map[string]string
}

func (f *fakeRMS) Analyze(ctx context.Context, audioPaths map[string]string) (*translator.RMSReport, error) {
	f.tracks = audioPaths
	return f.report, f.err
}

type fakeDrums struct {
	onsets []translator.DrumOnset
	err    error
}

func (f *fakeDrums) Analyze(ctx context.Context, drumsPath string) ([]translator.DrumOnset, error) {
	return f.onsets, f.err
}

// fixture lays out a plausible shared volume: audio, lyrics, separated stems
// and an alignment document consistent with the lyrics.
type fixture struct {
	audioPath     string
	lyricsPath    string
	stems         map[string]string
	stemsDir      string
	alignmentPath string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()

	audioPath := filepath.Join(root, "audio", "abc_song.wav")
	require.NoError(t, os.MkdirAll(filepath.Dir(audioPath), 0o755))
	require.NoError(t, os.WriteFile(audioPath, []byte("RIFF....WAVE"), 0o644))

	lyricsPath := filepath.Join(root, "lyrics", "abc_song.txt")
	require.NoError(t, os.MkdirAll(filepath.Dir(lyricsPath), 0o755))
	require.NoError(t, os.WriteFile(lyricsPath, []byte("Hello world\n"), 0o644))

	stemsDir := filepath.Join(root, "separator_output", "htdemucs", "abc_song")
	require.NoError(t, os.MkdirAll(stemsDir, 0o755))
	stems := make(map[string]string)
	for _, stem := range []string{"vocals", "bass", "drums", "other"} {
		path := filepath.Join(stemsDir, stem+".wav")
		require.NoError(t, os.WriteFile(path, []byte("stem"), 0o644))
		stems[stem] = path
	}

	alignment := `{"tiers":{"words":{"entries":[[0.5,0.9,"hello"],[1.0,1.4,"world"]]}}}`
	alignmentPath := filepath.Join(root, "aligned", "abc_song.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(alignmentPath), 0o755))
	require.NoError(t, os.WriteFile(alignmentPath, []byte(alignment), 0o644))

	return &fixture{
		audioPath:     audioPath,
		lyricsPath:    lyricsPath,
		stems:         stems,
		stemsDir:      stemsDir,
		alignmentPath: alignmentPath,
	}
}

func newTestBroker(t *testing.T) *queue.Broker {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return queue.NewWithClient(client, time.Hour)
}

func enqueueTranslation(t *testing.T, b *queue.Broker, fx *fixture, id string) *queue.Job {
	t.Helper()
	ctx := context.Background()
	payload := queue.TranslationPayload{
		AudioPath:         fx.audioPath,
		LyricsPath:        fx.lyricsPath,
		StoredAudioName:   "abc_song.wav",
		OriginalAudioName: "song.wav",
	}
	require.NoError(t, b.Enqueue(ctx, queue.TranslationsQueue, id, payload, time.Minute))
	job, err := b.Dequeue(ctx, time.Second, queue.TranslationsQueue)
	require.NoError(t, err)
	return job
}

func tonalSeries() translator.F0Outcome {
	freq := 220.0
	return translator.F0Outcome{Stems: map[string]*translator.F0Series{
		"vocals": {Times: []float64{0.0, 0.01}, F0Values: []*float64{&freq, nil}, TimeInterval: 0.01},
	}}
}

func TestPipelineHappyPath(t *testing.T) {
	fx := newFixture(t)
	b := newTestBroker(t)
	ctx := context.Background()

	p := NewPipeline(Deps{
		Broker:    b,
		Separator: &fakeSeparator{stems: fx.stems},
		Aligner:   &fakeAligner{path: fx.alignmentPath},
		F0:        &fakeF0{outcome: tonalSeries()},
	})

	job := enqueueTranslation(t, b, fx, "j1")
	require.NoError(t, p.Run(ctx, job))

	stored, err := b.FetchJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, queue.StatusFinished, stored.Status)
	assert.Equal(t, StageMapping, stored.ProgressStage)

	var result translator.Result
	require.NoError(t, json.Unmarshal(stored.Result, &result))
	require.Len(t, result.MappedResult, 1)
	assert.Equal(t, "Hello world", result.MappedResult[0].LineText)
	require.Len(t, result.MappedResult[0].Words, 2)
	assert.Equal(t, "hello", result.MappedResult[0].Words[0].Word)
	require.NotNil(t, result.MappedResult[0].LineStartTime)
	assert.Equal(t, 0.5, *result.MappedResult[0].LineStartTime)
	assert.Equal(t, "api/files/abc_song.wav", result.AudioURL)
	assert.Equal(t, "song.wav", result.OriginalFilename)
	require.NotNil(t, result.F0Analysis)
	assert.Contains(t, result.F0Analysis.Stems, "vocals")
	assert.Nil(t, result.RMSAnalysis)
	assert.Nil(t, result.DrumAnalysis)
}

func TestPipelineEnqueuesCleanup(t *testing.T) {
	fx := newFixture(t)
	b := newTestBroker(t)
	ctx := context.Background()

	p := NewPipeline(Deps{
		Broker:    b,
		Separator: &fakeSeparator{stems: fx.stems},
		Aligner:   &fakeAligner{path: fx.alignmentPath},
		F0:        &fakeF0{outcome: tonalSeries()},
	})

	job := enqueueTranslation(t, b, fx, "j1")
	require.NoError(t, p.Run(ctx, job))

	cleanup, err := b.Dequeue(ctx, time.Second, queue.CleanupQueue)
	require.NoError(t, err)
	assert.Equal(t, "j1-cleanup", cleanup.ID)

	var payload queue.CleanupPayload
	require.NoError(t, cleanup.DecodePayload(&payload))
	assert.Equal(t, fx.lyricsPath, payload.LyricsPath)
	assert.Equal(t, fx.alignmentPath, payload.AlignmentPath)
	assert.Equal(t, fx.stemsDir, payload.StemsDir)
}

func TestPipelineSeparationFailureIsFatal(t *testing.T) {
	fx := newFixture(t)
	b := newTestBroker(t)

	p := NewPipeline(Deps{
		Broker:    b,
		Separator: &fakeSeparator{err: errors.New("demucs exploded")},
		Aligner:   &fakeAligner{path: fx.alignmentPath},
		F0:        &fakeF0{},
	})

	job := enqueueTranslation(t, b, fx, "j1")
	err := p.Run(context.Background(), job)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Audio separation failed")
}

func TestPipelineMissingVocalsIsFatal(t *testing.T) {
	fx := newFixture(t)
	b := newTestBroker(t)

	stems := map[string]string{"bass": fx.stems["bass"]}
	p := NewPipeline(Deps{
		Broker:    b,
		Separator: &fakeSeparator{stems: stems},
		Aligner:   &fakeAligner{path: fx.alignmentPath},
		F0:        &fakeF0{},
	})

	job := enqueueTranslation(t, b, fx, "j1")
	err := p.Run(context.Background(), job)
	require.Error(t, err)
	assert.Equal(t, "Error during audio separation: Vocals track not found.", err.Error())
}

func TestPipelineAlignmentFailureIsFatal(t *testing.T) {
	fx := newFixture(t)
	b := newTestBroker(t)

	p := NewPipeline(Deps{
		Broker:    b,
		Separator: &fakeSeparator{stems: fx.stems},
		Aligner:   &fakeAligner{err: errors.New("mfa crashed")},
		F0:        &fakeF0{outcome: tonalSeries()},
	})

	job := enqueueTranslation(t, b, fx, "j1")
	err := p.Run(context.Background(), job)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Lyrics alignment failed")
}

func TestPipelineF0FailureDegrades(t *testing.T) {
	fx := newFixture(t)
	b := newTestBroker(t)
	ctx := context.Background()

	p := NewPipeline(Deps{
		Broker:    b,
		Separator: &fakeSeparator{stems: fx.stems},
		Aligner:   &fakeAligner{path: fx.alignmentPath},
		F0:        &fakeF0{err: errors.New("timeout")},
	})

	job := enqueueTranslation(t, b, fx, "j1")
	require.NoError(t, p.Run(ctx, job))

	stored, err := b.FetchJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, queue.StatusFinished, stored.Status)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(stored.Result, &raw))
	assert.JSONEq(t,
		`{"error":"timeout","info":"F0 analysis did not complete successfully."}`,
		string(raw["f0_analysis"]))
}

func TestPipelineRMSAndDrumsAreOptional(t *testing.T) {
	fx := newFixture(t)
	b := newTestBroker(t)
	ctx := context.Background()

	rms := &fakeRMS{report: &translator.RMSReport{
		OverallRMS: [][]float64{{0.0, 0.4}},
		Instruments: map[string]translator.InstrumentRMS{
			"vocals": {RMSValues: [][]float64{{0.0, 0.2}}},
		},
	}}
	drums := &fakeDrums{onsets: []translator.DrumOnset{{OnsetTime: 0.25, Duration: 0.1}}}

	p := NewPipeline(Deps{
		Broker:    b,
		Separator: &fakeSeparator{stems: fx.stems},
		Aligner:   &fakeAligner{path: fx.alignmentPath},
		F0:        &fakeF0{outcome: tonalSeries()},
		RMS:       rms,
		Drums:     drums,
	})

	job := enqueueTranslation(t, b, fx, "j1")
	require.NoError(t, p.Run(ctx, job))

	// The mix goes to the volume analyzer alongside every stem.
	assert.Equal(t, fx.audioPath, rms.tracks["song"])
	assert.Equal(t, fx.stems["vocals"], rms.tracks["vocals"])

	stored, err := b.FetchJob(ctx, "j1")
	require.NoError(t, err)
	var result translator.Result
	require.NoError(t, json.Unmarshal(stored.Result, &result))
	require.NotNil(t, result.RMSAnalysis)
	assert.Len(t, result.RMSAnalysis.OverallRMS, 1)
	require.Len(t, result.DrumAnalysis, 1)
	assert.Equal(t, 0.25, result.DrumAnalysis[0].OnsetTime)
}

func TestPipelineRMSFailureDegrades(t *testing.T) {
	fx := newFixture(t)
	b := newTestBroker(t)
	ctx := context.Background()

	p := NewPipeline(Deps{
		Broker:    b,
		Separator: &fakeSeparator{stems: fx.stems},
		Aligner:   &fakeAligner{path: fx.alignmentPath},
		F0:        &fakeF0{outcome: tonalSeries()},
		RMS:       &fakeRMS{err: errors.New("volume service down")},
	})

	job := enqueueTranslation(t, b, fx, "j1")
	require.NoError(t, p.Run(ctx, job))

	stored, err := b.FetchJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, queue.StatusFinished, stored.Status)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(stored.Result, &raw))
	_, present := raw["rms_analysis"]
	assert.False(t, present)
}

func TestPipelineMappingFailureIsFatal(t *testing.T) {
	fx := newFixture(t)
	b := newTestBroker(t)

	// Valid path, invalid document.
	require.NoError(t, os.WriteFile(fx.alignmentPath, []byte("not json"), 0o644))

	p := NewPipeline(Deps{
		Broker:    b,
		Separator: &fakeSeparator{stems: fx.stems},
		Aligner:   &fakeAligner{path: fx.alignmentPath},
		F0:        &fakeF0{outcome: tonalSeries()},
	})

	job := enqueueTranslation(t, b, fx, "j1")
	err := p.Run(context.Background(), job)
	require.Error(t, err)
	assert.Equal(t, "Failed to map alignment to transcript.", err.Error())
}

func TestRunTranslationJobRecordsFailure(t *testing.T) {
	fx := newFixture(t)
	b := newTestBroker(t)
	ctx := context.Background()

	w := New(Deps{
		Broker:    b,
		Separator: &fakeSeparator{err: errors.New("demucs exploded")},
		Aligner:   &fakeAligner{path: fx.alignmentPath},
		F0:        &fakeF0{},
	})

	job := enqueueTranslation(t, b, fx, "j1")
	w.runTranslationJob(ctx, job)

	stored, err := b.FetchJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, queue.StatusFailed, stored.Status)
	assert.Contains(t, stored.ExcInfo, "Audio separation failed")
}

func TestRunTranslationJobMarksStarted(t *testing.T) {
	fx := newFixture(t)
	b := newTestBroker(t)
	ctx := context.Background()

	w := New(Deps{
		Broker:    b,
		Separator: &fakeSeparator{stems: fx.stems},
		Aligner:   &fakeAligner{path: fx.alignmentPath},
		F0:        &fakeF0{outcome: tonalSeries()},
	})

	job := enqueueTranslation(t, b, fx, "j1")
	w.runTranslationJob(ctx, job)

	stored, err := b.FetchJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, queue.StatusFinished, stored.Status)
}

func TestRunCleanupRemovesIntermediates(t *testing.T) {
	fx := newFixture(t)
	b := newTestBroker(t)
	ctx := context.Background()

	payload := queue.CleanupPayload{
		LyricsPath:    fx.lyricsPath,
		AlignmentPath: fx.alignmentPath,
		StemsDir:      fx.stemsDir,
	}
	require.NoError(t, b.Enqueue(ctx, queue.CleanupQueue, "c1", payload, time.Minute))
	job, err := b.Dequeue(ctx, time.Second, queue.CleanupQueue)
	require.NoError(t, err)

	require.NoError(t, RunCleanup(ctx, job))

	assert.NoFileExists(t, fx.lyricsPath)
	assert.NoFileExists(t, fx.alignmentPath)
	assert.NoDirExists(t, fx.stemsDir)
	// The uploaded audio stays for playback.
	assert.FileExists(t, fx.audioPath)
}

func TestRunCleanupIsIdempotent(t *testing.T) {
	fx := newFixture(t)
	b := newTestBroker(t)
	ctx := context.Background()

	payload := queue.CleanupPayload{
		LyricsPath:    fx.lyricsPath,
		AlignmentPath: fx.alignmentPath,
		StemsDir:      fx.stemsDir,
	}
	require.NoError(t, b.Enqueue(ctx, queue.CleanupQueue, "c1", payload, time.Minute))
	job, err := b.Dequeue(ctx, time.Second, queue.CleanupQueue)
	require.NoError(t, err)

	require.NoError(t, RunCleanup(ctx, job))
	require.NoError(t, RunCleanup(ctx, job))
}

func TestWorkerRunDrainsBothQueues(t *testing.T) {
	fx := newFixture(t)
	b := newTestBroker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := New(Deps{
		Broker:    b,
		Separator: &fakeSeparator{stems: fx.stems},
		Aligner:   &fakeAligner{path: fx.alignmentPath},
		F0:        &fakeF0{outcome: tonalSeries()},
	})

	payload := queue.TranslationPayload{
		AudioPath:         fx.audioPath,
		LyricsPath:        fx.lyricsPath,
		StoredAudioName:   "abc_song.wav",
		OriginalAudioName: "song.wav",
	}
	require.NoError(t, b.Enqueue(ctx, queue.TranslationsQueue, "j1", payload, time.Minute))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		job, err := b.FetchJob(context.Background(), "j1")
		return err == nil && job.Status == queue.StatusFinished
	}, 5*time.Second, 20*time.Millisecond)

	// The pipeline enqueued a cleanup job; the same loop runs it.
	require.Eventually(t, func() bool {
		job, err := b.FetchJob(context.Background(), "j1-cleanup")
		return err == nil && job.Status == queue.StatusFinished
	}, 5*time.Second, 20*time.Millisecond)
	assert.NoFileExists(t, fx.lyricsPath)

	// The loop keeps the waiting-jobs gauge current; with both queues
	// drained it reads zero.
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.QueueWaiting) == 0
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}
