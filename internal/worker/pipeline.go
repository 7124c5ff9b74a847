// Package worker executes translation jobs: the separation, alignment,
// analysis and mapping pipeline, plus the artifact cleanup jobs it enqueues.
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/BlindMuadDib/beethoven-music-translator/internal/log"
	"github.com/BlindMuadDib/beethoven-music-translator/internal/mapper"
	"github.com/BlindMuadDib/beethoven-music-translator/internal/metrics"
	"github.com/BlindMuadDib/beethoven-music-translator/internal/queue"
	"github.com/BlindMuadDib/beethoven-music-translator/internal/translator"
)

// Progress stages written to job metadata at stage boundaries.
const (
	StageStarting       = "starting"
	StageSeparating     = "separating_audio"
	StageStemProcessing = "stem_processing"
	StageMapping        = "mapping_transcript"
)

// Separator isolates per-instrument stems from a mixed track.
type Separator interface {
	Separate(ctx context.Context, audioPath string) (map[string]string, error)
}

// Aligner produces a word-level alignment document for vocals plus lyrics.
type Aligner interface {
	Align(ctx context.Context, vocalsStemPath, lyricsPath string) (string, error)
}

// F0Analyzer produces fundamental-frequency curves for tonal stems.
type F0Analyzer interface {
	Analyze(ctx context.Context, stemPaths map[string]string) (translator.F0Outcome, error)
}

// RMSAnalyzer produces loudness envelopes for the song and its stems.
type RMSAnalyzer interface {
	Analyze(ctx context.Context, audioPaths map[string]string) (*translator.RMSReport, error)
}

// DrumAnalyzer detects percussive onsets on the drums stem.
type DrumAnalyzer interface {
	Analyze(ctx context.Context, drumsPath string) ([]translator.DrumOnset, error)
}

// Deps wires the pipeline to the broker and the analyzer clients. RMS and
// Drums are optional; leave them nil to skip those stages.
type Deps struct {
	Broker    *queue.Broker
	Separator Separator
	Aligner   Aligner
	F0        F0Analyzer
	RMS       RMSAnalyzer
	Drums     DrumAnalyzer
}

// Pipeline runs the translation DAG for one job at a time.
type Pipeline struct {
	deps Deps
}

// NewPipeline builds a pipeline from its dependencies.
func NewPipeline(deps Deps) *Pipeline {
	return &Pipeline{deps: deps}
}

// Run executes the full DAG for job and stores the result in the broker.
// A non-nil return is a fatal pipeline error; the caller records it as the
// job's failure text.
func (p *Pipeline) Run(ctx context.Context, job *queue.Job) error {
	var payload queue.TranslationPayload
	if err := job.DecodePayload(&payload); err != nil {
		return err
	}

	logger := log.WithJob("worker", job.ID)
	logger.Info().
		Str("audio", payload.AudioPath).
		Str("lyrics", payload.LyricsPath).
		Msg("starting translation job")
	p.setStage(ctx, job.ID, StageStarting)

	// Stage 1: stem separation.
	p.setStage(ctx, job.ID, StageSeparating)
	sepStart := time.Now()
	stems, err := p.deps.Separator.Separate(ctx, payload.AudioPath)
	metrics.RecordStage("separate", time.Since(sepStart).Seconds())
	if err != nil {
		metrics.RecordStageError("separate", "fatal")
		return fmt.Errorf("Audio separation failed: %v", err)
	}

	vocalsPath := stems[translator.StemVocals]
	if vocalsPath == "" || !fileExists(vocalsPath) {
		metrics.RecordStageError("separate", "fatal")
		return errors.New("Error during audio separation: Vocals track not found.")
	}

	// All stems land in one directory; remember it for cleanup.
	var stemsDir string
	for _, stemPath := range stems {
		stemsDir = filepath.Dir(stemPath)
		break
	}
	logger.Info().Str("vocals", vocalsPath).Str("stems_dir", stemsDir).Msg("separation complete")

	// Stage 2: alignment, F0 and the optional analyses run in parallel.
	// Alignment is the critical path; everything else degrades in-band.
	p.setStage(ctx, job.ID, StageStemProcessing)

	var (
		alignmentPath string
		f0Outcome     translator.F0Outcome
		f0Err         error
		rmsReport     *translator.RMSReport
		rmsErr        error
		drumOnsets    []translator.DrumOnset
		drumErr       error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		start := time.Now()
		path, err := p.deps.Aligner.Align(gctx, vocalsPath, payload.LyricsPath)
		metrics.RecordStage("align", time.Since(start).Seconds())
		if err != nil {
			metrics.RecordStageError("align", "fatal")
			return fmt.Errorf("Lyrics alignment failed: %v", err)
		}
		if !fileExists(path) {
			metrics.RecordStageError("align", "fatal")
			return fmt.Errorf("Lyrics alignment failed: alignment result path invalid or not found: %s", path)
		}
		alignmentPath = path
		return nil
	})
	g.Go(func() error {
		start := time.Now()
		f0Outcome, f0Err = p.deps.F0.Analyze(gctx, stems)
		metrics.RecordStage("f0", time.Since(start).Seconds())
		return nil
	})
	if p.deps.RMS != nil {
		g.Go(func() error {
			tracks := map[string]string{"song": payload.AudioPath}
			for stem, stemPath := range stems {
				tracks[stem] = stemPath
			}
			start := time.Now()
			rmsReport, rmsErr = p.deps.RMS.Analyze(gctx, tracks)
			metrics.RecordStage("rms", time.Since(start).Seconds())
			return nil
		})
	}
	if p.deps.Drums != nil && stems[translator.StemDrums] != "" {
		g.Go(func() error {
			start := time.Now()
			drumOnsets, drumErr = p.deps.Drums.Analyze(gctx, stems[translator.StemDrums])
			metrics.RecordStage("drums", time.Since(start).Seconds())
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if f0Err != nil {
		logger.Warn().Err(f0Err).Msg("F0 analysis failed, proceeding without F0 data")
		metrics.RecordStageError("f0", "degraded")
		f0Outcome = translator.F0Outcome{
			Err:  f0Err.Error(),
			Info: "F0 analysis did not complete successfully.",
		}
	}
	if rmsErr != nil {
		logger.Warn().Err(rmsErr).Msg("volume analysis failed, proceeding without RMS data")
		metrics.RecordStageError("rms", "degraded")
		rmsReport = nil
	}
	if drumErr != nil {
		logger.Warn().Err(drumErr).Msg("drum analysis failed, proceeding without onsets")
		metrics.RecordStageError("drums", "degraded")
		drumOnsets = nil
	}

	// Stage 3: map the alignment onto the lyrics transcript.
	p.setStage(ctx, job.ID, StageMapping)
	mapStart := time.Now()
	mapped, err := mapper.MapTranscript(alignmentPath, payload.LyricsPath)
	metrics.RecordStage("map", time.Since(mapStart).Seconds())
	if err != nil || len(mapped) == 0 {
		metrics.RecordStageError("map", "fatal")
		return errors.New("Failed to map alignment to transcript.")
	}

	// Stage 4: assemble and persist the result.
	result := translator.Result{
		MappedResult:     mapped,
		F0Analysis:       &f0Outcome,
		AudioURL:         "api/files/" + payload.StoredAudioName,
		OriginalFilename: payload.OriginalAudioName,
		RMSAnalysis:      rmsReport,
		DrumAnalysis:     drumOnsets,
	}
	if err := p.deps.Broker.SetResult(ctx, job.ID, result); err != nil {
		return fmt.Errorf("failed to store job result: %v", err)
	}

	// Stage 5: hand the intermediates to the cleanup queue. The audio stays
	// for playback.
	cleanup := queue.CleanupPayload{
		LyricsPath:    payload.LyricsPath,
		AlignmentPath: alignmentPath,
		StemsDir:      stemsDir,
	}
	if err := p.deps.Broker.Enqueue(ctx, queue.CleanupQueue, job.ID+"-cleanup", cleanup, time.Hour); err != nil {
		logger.Error().Err(err).Msg("failed to enqueue cleanup job")
	}

	logger.Info().Msg("translation job complete")
	return nil
}

// setStage records the progress stage; pollers read it, the pipeline never
// depends on it.
func (p *Pipeline) setStage(ctx context.Context, jobID, stage string) {
	if err := p.deps.Broker.SetProgressStage(ctx, jobID, stage); err != nil {
		logger := log.WithJob("worker", jobID)
		logger.Warn().Err(err).Str("stage", stage).Msg("failed to record progress stage")
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
