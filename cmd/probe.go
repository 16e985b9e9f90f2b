package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/andresmejia3/mirage/internal/config"
	"github.com/andresmejia3/mirage/internal/media"
	"github.com/andresmejia3/mirage/internal/types"
	"github.com/andresmejia3/mirage/internal/utils"
	"github.com/spf13/cobra"
)

var probeCmd = &cobra.Command{
	Use:   "probe TARGET",
	Short: "Show how a target would be processed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return probe(cmd, os.Stdout, args[0], opts, &media.FFmpeg{})
	},
}

func init() {
	rootCmd.AddCommand(probeCmd)
}

func probe(cmd *cobra.Command, w io.Writer, path string, o config.Options, codec media.VideoCodec) error {
	kind, err := media.Classify(path)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Kind:        %s\n", kind)

	switch kind {
	case types.Image:
		img, err := media.LoadImage(path)
		if err != nil {
			return err
		}
		b := img.Bounds()
		fmt.Fprintf(w, "Resolution:  %dx%d\n", b.Dx(), b.Dy())

	case types.Gif:
		frames, err := media.LoadGIF(path)
		if err != nil {
			return err
		}
		b := frames[0].Image.Bounds()
		factor := media.SkipFactor(len(frames), o.GifSkipThreshold, o.GifSkipFactor)
		kept := media.ApplySkip(frames, factor)
		fmt.Fprintf(w, "Resolution:  %dx%d\n", b.Dx(), b.Dy())
		fmt.Fprintf(w, "Frames:      %d\n", len(frames))
		fmt.Fprintf(w, "Duration:    %s\n", utils.FmtTime(float64(media.TotalDelay(frames))/100))
		fmt.Fprintf(w, "Skip factor: %d (%d frames processed)\n", factor, len(kept))
		if b.Dx() > o.GifResizeThreshold || b.Dy() > o.GifResizeThreshold {
			nw, nh := media.ScaledSize(b.Dx(), b.Dy(), o.GifMaxDimension)
			fmt.Fprintf(w, "Resize:      %dx%d\n", nw, nh)
		}

	case types.Video:
		if err := media.CheckInstallation(); err != nil {
			return err
		}
		fps, err := codec.DetectFPS(cmd.Context(), path)
		if err != nil {
			return err
		}
		total := codec.CountFrames(cmd.Context(), path)
		fmt.Fprintf(w, "FPS:         %.3f\n", fps)
		fmt.Fprintf(w, "Frames:      %d\n", total)
		if total > 0 && fps > 0 {
			fmt.Fprintf(w, "Duration:    %s\n", utils.FmtTime(float64(total)/fps))
		}
		extractFPS := o.DefaultFPS
		if o.KeepFPS {
			extractFPS = fps
		}
		fmt.Fprintf(w, "Extract at:  %.3f FPS\n", extractFPS)
	}
	return nil
}
