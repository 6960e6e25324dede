package mediakit

import (
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/dhowden/tag"
	"github.com/gabriel-vasile/mimetype"
	"github.com/pkg/errors"
)

// MediaType classifies an input.
type MediaType string

const (
	MediaTypeImage MediaType = "image"
	MediaTypeVideo MediaType = "video"
)

// MediaInfo describes one input.
type MediaInfo struct {
	Type        MediaType `json:"-"`
	DurationMs  int64     `json:"durationMs"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	FPS         float64   `json:"fps"`
	Format      string    `json:"format"`
	SizeBytes   int64     `json:"sizeBytes"`
	AudioTracks int       `json:"audioTracks"`
	VideoTracks int       `json:"videoTracks"`
}

// InspectMedia reads the container or image header of path. Nothing is
// decoded.
func InspectMedia(path string) (*MediaInfo, error) {
	const op = "info.Inspect"
	st, err := os.Stat(path)
	if err != nil {
		return nil, &Error{Kind: KindIO, Op: op, Err: errors.Wrapf(err, "stat %s", path)}
	}
	if st.IsDir() {
		return nil, newError(KindIO, op, "%s is a directory", path)
	}
	mime, err := mimetype.DetectFile(path)
	if err != nil {
		return nil, &Error{Kind: KindIO, Op: op, Err: errors.Wrapf(err, "detect %s", path)}
	}

	var info *MediaInfo
	if strings.HasPrefix(mime.String(), "image/") {
		info, err = inspectImage(path)
	} else {
		info, err = inspectVideo(path)
	}
	if err != nil {
		return nil, err
	}
	info.SizeBytes = st.Size()
	info.Format = containerFormat(path, mime)
	return info, nil
}

func inspectImage(path string) (*MediaInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &Error{Kind: KindIO, Op: "info.Image", Err: err}
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return nil, &Error{Kind: KindFormat, Op: "info.Image", Err: errors.Wrapf(err, "decode %s", path)}
	}
	return &MediaInfo{Type: MediaTypeImage, Width: cfg.Width, Height: cfg.Height}, nil
}

func inspectVideo(path string) (*MediaInfo, error) {
	r, err := OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	info := &MediaInfo{Type: MediaTypeVideo}
	for _, t := range r.Tracks() {
		switch {
		case t.IsVideo():
			info.VideoTracks++
		case t.IsAudio():
			info.AudioTracks++
		}
	}
	info.DurationMs = sourceDuration(r).Milliseconds()
	if idx := FindTrack(r, KindVideo); idx >= 0 {
		v := r.Tracks()[idx]
		info.Width, info.Height = v.DisplaySize()
		info.FPS = roundRate(v.FrameRate)
	}
	return info, nil
}

// containerFormat names the container: the file extension when there is one,
// otherwise the tag file type or the sniffed mime extension.
func containerFormat(path string, mime *mimetype.MIME) string {
	if ext := strings.TrimPrefix(filepath.Ext(path), "."); ext != "" {
		return strings.ToLower(ext)
	}
	if f, err := os.Open(path); err == nil {
		_, ft, err := tag.Identify(f)
		f.Close()
		if err == nil && ft != tag.UnknownFileType {
			return strings.ToLower(string(ft))
		}
	}
	return strings.TrimPrefix(mime.Extension(), ".")
}
