package media

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/andresmejia3/mirage/internal/types"
)

var imageExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".bmp": true,
	".webp": true, ".tif": true, ".tiff": true,
}

var videoExts = map[string]bool{
	".mp4": true, ".mov": true, ".avi": true, ".mkv": true, ".webm": true,
	".m4v": true, ".flv": true, ".wmv": true, ".mpg": true, ".mpeg": true,
}

// KindFromExtension classifies by file extension only.
func KindFromExtension(path string) types.MediaKind {
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case ext == ".gif":
		return types.Gif
	case imageExts[ext]:
		return types.Image
	case videoExts[ext]:
		return types.Video
	}
	return types.Unknown
}

// KindFromContentType maps a sniffed MIME type to a media kind.
func KindFromContentType(mime string) types.MediaKind {
	mime = strings.ToLower(mime)
	switch {
	case mime == "image/gif":
		return types.Gif
	case strings.HasPrefix(mime, "image/"):
		return types.Image
	case strings.HasPrefix(mime, "video/"), mime == "application/ogg":
		return types.Video
	}
	return types.Unknown
}

// Classify decides whether path is an image, a video or a GIF. The extension
// wins when it is recognized; otherwise the first 512 bytes are sniffed.
func Classify(path string) (types.MediaKind, error) {
	if k := KindFromExtension(path); k != types.Unknown {
		return k, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return types.Unknown, err
	}
	defer f.Close()

	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return types.Unknown, err
	}
	k := KindFromContentType(http.DetectContentType(head[:n]))
	if k == types.Unknown {
		return k, fmt.Errorf("unrecognized media type for %s", filepath.Base(path))
	}
	return k, nil
}

// OutputExtension is the extension used when an output name has to be derived.
func OutputExtension(kind types.MediaKind) string {
	switch kind {
	case types.Gif:
		return ".gif"
	case types.Video:
		return ".mp4"
	default:
		return ".png"
	}
}
