package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/andresmejia3/mirage/internal/media"
	"github.com/andresmejia3/mirage/internal/processor"
	"github.com/andresmejia3/mirage/internal/status"
	"github.com/rs/zerolog/log"
)

// runImage copies the target to the output and transforms the copy in place.
func (o *Orchestrator) runImage(ctx context.Context, jc *JobContext) (err error) {
	out := jc.Job.OutputPath
	jc.report(status.ScopeMedia, "Processing image %s", filepath.Base(jc.Job.TargetPath))
	if err := media.CopyFile(jc.Job.TargetPath, out); err != nil {
		return fmt.Errorf("%w: copy target: %v", ErrIO, err)
	}
	defer func() {
		if err != nil {
			os.Remove(out)
		}
	}()

	frame, err := media.LoadImage(out)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	result, err := o.processFrame(ctx, jc, 0, frame)
	if err != nil {
		return err
	}
	if err := media.SaveImage(out, result, jc.Job.Options.ImageQuality); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}

// runVideo extracts frames to the temp dir, transforms them in order,
// re-encodes and restores audio.
func (o *Orchestrator) runVideo(ctx context.Context, jc *JobContext) error {
	opts := jc.Job.Options
	td, err := tempDirFor(jc)
	if err != nil {
		return err
	}
	jc.report(status.ScopeMedia, "Creating temp resources...")
	if err := td.Create(); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	jc.Temp = td

	fps := opts.DefaultFPS
	if opts.KeepFPS {
		detected, err := o.video.DetectFPS(ctx, jc.Job.TargetPath)
		if err != nil {
			log.Warn().Err(err).Float64("fallback", fps).Msg("could not detect fps")
		} else {
			fps = detected
		}
	}
	jc.Result.FPS = fps

	jc.report(status.ScopeMedia, "Extracting frames with %.2f FPS...", fps)
	frames, err := o.video.ExtractFrames(ctx, jc.Job.TargetPath, fps, td.Path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}

	if n := opts.ReferenceFrameNumber; n >= 0 && !opts.ManyFaces {
		if n >= len(frames) {
			return fmt.Errorf("%w: reference frame %d is out of range (%d frames)", ErrValidation, n, len(frames))
		}
		img, err := media.LoadImage(frames[n])
		if err != nil {
			return fmt.Errorf("%w: %v", ErrIO, err)
		}
		if err := o.seedReference(ctx, jc, n, img); err != nil {
			return err
		}
	}

	jc.report(status.ScopeStages, "Processing %d frames...", len(frames))
	bar := o.newBar(len(frames), "Swapping frames")
	frameQuality := 100 - opts.TempFrameQuality
	err = processor.Ordered(ctx, o.workers(), len(frames),
		func(ctx context.Context, i int) (*analyzedFrame, error) {
			img, err := media.LoadImage(frames[i])
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrIO, err)
			}
			return o.analyze(ctx, jc, i, img)
		},
		func(i int, a *analyzedFrame) error {
			before := jc.Result.ProcessedFrames
			out, err := o.apply(ctx, jc, a)
			if err != nil {
				return err
			}
			// Untouched frames stay as extracted.
			if jc.Result.ProcessedFrames > before {
				if err := media.SaveImage(frames[i], out, frameQuality); err != nil {
					return fmt.Errorf("%w: %v", ErrIO, err)
				}
			}
			bar.Add(1)
			return nil
		})
	if err != nil {
		return err
	}
	bar.Finish()
	jc.reportFaceStats()

	ext := filepath.Ext(jc.Job.OutputPath)
	silent := td.OutputVideo(ext)
	jc.report(status.ScopeMedia, "Creating video with %.2f FPS...", fps)
	if err := o.video.Encode(ctx, td.Path, fps, silent); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}

	final := silent
	if !opts.SkipAudio {
		if !opts.KeepFPS {
			jc.report(status.ScopeMedia, "Restoring audio without keeping FPS might cause desync")
		}
		jc.report(status.ScopeMedia, "Restoring audio...")
		final = filepath.Join(td.Path, "muxed"+ext)
		if err := o.audio.RestoreAudio(ctx, jc.Job.TargetPath, silent, final); err != nil {
			return fmt.Errorf("%w: %v", ErrIO, err)
		}
	}
	if err := media.MoveFile(final, jc.Job.OutputPath); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}

// runGIF decodes, thins, transforms the kept frames and re-encodes.
func (o *Orchestrator) runGIF(ctx context.Context, jc *JobContext) error {
	opts := jc.Job.Options
	frames, err := media.LoadGIF(jc.Job.TargetPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	jc.report(status.ScopeMedia, "Loaded %d GIF frames", len(frames))

	factor := media.SkipFactor(len(frames), opts.GifSkipThreshold, opts.GifSkipFactor)
	jc.Result.SkipFactor = factor
	if factor > 1 {
		frames = media.ApplySkip(frames, factor)
		jc.report(status.ScopeMedia, "Processing every %d frames, %d frames kept", factor, len(frames))
	}
	var resized bool
	if frames, resized = media.Downscale(frames, opts.GifResizeThreshold, opts.GifMaxDimension); resized {
		b := frames[0].Image.Bounds()
		jc.report(status.ScopeMedia, "Resized GIF to %dx%d", b.Dx(), b.Dy())
	}

	// Kept frame k has original index k*factor, so the reference frame maps
	// to the kept frame at or before it.
	if n := opts.ReferenceFrameNumber; n >= 0 && !opts.ManyFaces {
		pos := n / factor
		if pos >= len(frames) {
			return fmt.Errorf("%w: reference frame %d is out of range (%d frames kept)", ErrValidation, n, len(frames))
		}
		if err := o.seedReference(ctx, jc, frames[pos].Index, frames[pos].Image); err != nil {
			return err
		}
	}

	bar := o.newBar(len(frames), "Swapping GIF frames")
	err = processor.Ordered(ctx, o.workers(), len(frames),
		func(ctx context.Context, i int) (*analyzedFrame, error) {
			return o.analyze(ctx, jc, frames[i].Index, frames[i].Image)
		},
		func(i int, a *analyzedFrame) error {
			out, err := o.apply(ctx, jc, a)
			if err != nil {
				return err
			}
			frames[i].Image = out
			bar.Add(1)
			return nil
		})
	if err != nil {
		return err
	}
	bar.Finish()
	jc.reportFaceStats()

	jc.report(status.ScopeMedia, "Creating GIF...")
	if err := media.SaveGIF(jc.Job.OutputPath, frames, opts.GifQuality); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}
