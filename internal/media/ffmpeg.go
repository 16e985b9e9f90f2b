package media

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/andresmejia3/mirage/internal/utils"
	"github.com/rs/zerolog/log"
)

// VideoCodec turns videos into numbered frame files and back.
type VideoCodec interface {
	DetectFPS(ctx context.Context, path string) (float64, error)
	CountFrames(ctx context.Context, path string) int
	ExtractFrames(ctx context.Context, path string, fps float64, dir string) ([]string, error)
	Encode(ctx context.Context, dir string, fps float64, out string) error
}

// AudioMuxer copies the audio track of source onto a silent video.
type AudioMuxer interface {
	RestoreAudio(ctx context.Context, source, silent, out string) error
}

// FFmpeg implements VideoCodec and AudioMuxer with the ffmpeg/ffprobe binaries.
type FFmpeg struct {
	FrameFormat  string // png | jpg
	FrameQuality int    // 0-100, lower is better
	Encoder      string
	Quality      int // 0-100, lower is better
}

// CheckInstallation verifies ffmpeg and ffprobe are on PATH.
func CheckInstallation() error {
	for _, bin := range []string{"ffmpeg", "ffprobe"} {
		if err := utils.RequireBinary(bin); err != nil {
			return err
		}
	}
	return nil
}

// DetectFPS reads the average frame rate of the first video stream.
func (f *FFmpeg) DetectFPS(ctx context.Context, path string) (float64, error) {
	cmd := utils.NewSafeCommand(ctx, "ffprobe", "-v", "error", "-select_streams", "v:0",
		"-show_entries", "stream=avg_frame_rate", "-of", "default=noprint_wrappers=1:nokey=1", path)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed on %s: %w: %s", path, err, strings.TrimSpace(cmd.Stderr.String()))
	}
	return parseFrameRate(strings.TrimSpace(string(out)))
}

// parseFrameRate parses ffprobe rates such as "30000/1001" or "25".
func parseFrameRate(s string) (float64, error) {
	s = strings.TrimSpace(strings.SplitN(s, "\n", 2)[0])
	num, den, found := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid frame rate %q", s)
	}
	if found {
		d, err := strconv.ParseFloat(den, 64)
		if err != nil || d == 0 {
			return 0, fmt.Errorf("invalid frame rate %q", s)
		}
		n /= d
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid frame rate %q", s)
	}
	return n, nil
}

type ffprobeOutput struct {
	Streams []struct {
		NbFrames      string `json:"nb_frames"`
		NbReadPackets string `json:"nb_read_packets"`
	} `json:"streams"`
}

// CountFrames estimates the frame count for progress reporting.
// It returns 0 if the count fails.
func (f *FFmpeg) CountFrames(ctx context.Context, path string) int {
	if _, err := exec.LookPath("ffprobe"); err != nil {
		log.Warn().Msg("ffprobe not found, progress will not show a total")
		return 0
	}

	// Container metadata is instant but may be missing for some formats.
	fast := utils.NewSafeCommand(ctx, "ffprobe", "-v", "error", "-select_streams", "v:0",
		"-show_entries", "stream=nb_frames", "-of", "json", path)
	if out, err := fast.Output(); err == nil {
		var res ffprobeOutput
		if json.Unmarshal(out, &res) == nil && len(res.Streams) > 0 {
			if count, err := strconv.Atoi(res.Streams[0].NbFrames); err == nil && count > 0 {
				return count
			}
		}
	}

	log.Debug().Str("path", path).Msg("frame count metadata missing, counting packets")
	slow := utils.NewSafeCommand(ctx, "ffprobe", "-v", "error", "-select_streams", "v:0", "-count_packets",
		"-show_entries", "stream=nb_read_packets", "-of", "json", path)
	out, err := slow.Output()
	if err != nil {
		log.Warn().Err(err).Str("stderr", slow.Stderr.String()).Msg("ffprobe failed")
		return 0
	}
	var res ffprobeOutput
	if err := json.Unmarshal(out, &res); err != nil || len(res.Streams) == 0 {
		return 0
	}
	count, err := strconv.Atoi(res.Streams[0].NbReadPackets)
	if err != nil {
		return 0
	}
	return count
}

// FramePattern is the printf pattern for numbered frame files in dir.
func FramePattern(dir, format string) string {
	return filepath.Join(dir, "%04d."+format)
}

// ExtractArgs builds the ffmpeg arguments for splitting path into frames.
func ExtractArgs(path string, fps float64, dir, format string, quality int) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-hwaccel", "auto", "-i", path}
	if format == "jpg" {
		args = append(args, "-q:v", strconv.Itoa(quality*31/100))
	}
	args = append(args,
		"-pix_fmt", "rgb24",
		"-vf", "fps="+formatFPS(fps),
		FramePattern(dir, format),
	)
	return args
}

// EncodeArgs builds the ffmpeg arguments for joining the frames in dir into out.
func EncodeArgs(dir string, fps float64, out, format, encoder string, quality int) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-hwaccel", "auto",
		"-r", formatFPS(fps),
		"-i", FramePattern(dir, format),
		"-c:v", encoder,
	}
	switch encoder {
	case "libx264", "libx265":
		args = append(args, "-crf", strconv.Itoa((quality+1)*51/100))
	case "libvpx-vp9":
		args = append(args, "-crf", strconv.Itoa(quality*63/100), "-b:v", "0")
	case "h264_nvenc", "hevc_nvenc":
		args = append(args, "-cq", strconv.Itoa((quality+1)*51/100))
	}
	args = append(args,
		"-pix_fmt", "yuv420p",
		"-vf", "colorspace=bt709:iall=bt601-6-625:fast=1",
		"-y", out,
	)
	return args
}

// RestoreAudioArgs builds the ffmpeg arguments for muxing the audio of source
// onto silent. Sources without audio still succeed.
func RestoreAudioArgs(source, silent, out string) []string {
	return []string{"-hide_banner", "-loglevel", "error",
		"-i", silent, "-i", source,
		"-c:v", "copy", "-map", "0:v:0", "-map", "1:a:0?",
		"-y", out,
	}
}

func formatFPS(fps float64) string {
	return strconv.FormatFloat(fps, 'f', -1, 64)
}

// ExtractFrames writes the frames of path into dir and returns their paths in order.
func (f *FFmpeg) ExtractFrames(ctx context.Context, path string, fps float64, dir string) ([]string, error) {
	cmd := utils.NewSafeCommand(ctx, "ffmpeg", ExtractArgs(path, fps, dir, f.FrameFormat, f.FrameQuality)...)
	log.Debug().Strs("args", cmd.Args).Msg("extracting frames")
	if err := cmd.RunLogged(); err != nil {
		return nil, fmt.Errorf("frame extraction failed: %w", err)
	}
	frames, err := FramePaths(dir, f.FrameFormat)
	if err != nil {
		return nil, err
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("no frames extracted from %s", path)
	}
	return frames, nil
}

// Encode joins the frames in dir into a video at out.
func (f *FFmpeg) Encode(ctx context.Context, dir string, fps float64, out string) error {
	cmd := utils.NewSafeCommand(ctx, "ffmpeg", EncodeArgs(dir, fps, out, f.FrameFormat, f.Encoder, f.Quality)...)
	log.Debug().Strs("args", cmd.Args).Msg("encoding video")
	if err := cmd.RunLogged(); err != nil {
		return fmt.Errorf("video encoding failed: %w", err)
	}
	return nil
}

// RestoreAudio muxes the audio of source onto silent, writing out.
func (f *FFmpeg) RestoreAudio(ctx context.Context, source, silent, out string) error {
	cmd := utils.NewSafeCommand(ctx, "ffmpeg", RestoreAudioArgs(source, silent, out)...)
	log.Debug().Strs("args", cmd.Args).Msg("restoring audio")
	if err := cmd.RunLogged(); err != nil {
		return fmt.Errorf("audio restore failed: %w", err)
	}
	return nil
}
