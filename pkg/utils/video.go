package utils

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
)

// Object key layout. These shapes are load-bearing: the mobile clients and the
// CDN config both assume them, so they must not change without a migration.

func OriginalKey(videoID, fileName string) string {
	return fmt.Sprintf("videos/original/%s_%s", videoID, fileName)
}

func RenditionKey(quality, videoID string) string {
	return fmt.Sprintf("videos/transcoded/%s/%s.mp4", quality, videoID)
}

func ThumbnailKey(videoID string, n int) string {
	return fmt.Sprintf("videos/thumbnails/%s/thumb_%d.jpg", videoID, n)
}

func AudioKey(videoID string) string {
	return fmt.Sprintf("videos/audio/%s.mp3", videoID)
}

func ThumbnailPrefix(videoID string) string {
	return fmt.Sprintf("videos/thumbnails/%s/", videoID)
}

var supportedContainers = map[string]bool{
	".mp4":  true,
	".mov":  true,
	".mkv":  true,
	".webm": true,
}

// IsSupportedContainer checks the file extension against the containers the
// transcoder accepts.
func IsSupportedContainer(fileName string) bool {
	return supportedContainers[strings.ToLower(filepath.Ext(fileName))]
}

// SniffContainer inspects leading bytes for a known container signature.
// header should hold at least the first 12 bytes of the file.
func SniffContainer(header []byte) bool {
	if len(header) < 12 {
		return false
	}
	// ISO BMFF (mp4/mov): "ftyp" at offset 4.
	if bytes.Equal(header[4:8], []byte("ftyp")) {
		return true
	}
	// Matroska/WebM EBML magic.
	if bytes.Equal(header[0:4], []byte{0x1A, 0x45, 0xDF, 0xA3}) {
		return true
	}
	return false
}
