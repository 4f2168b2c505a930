package models

import "strings"

// MediaType classifies a media item.
type MediaType string

// Media type values.
const (
	MediaImage MediaType = "image"
	MediaVideo MediaType = "video"
	MediaAudio MediaType = "audio"
)

// MediaItem is a single media payload attached to a message or produced by
// a tool call. Exactly one of Data (base64) or URL is expected.
//
// ThoughtSignature is an opaque provider token returned alongside generated
// media. Some reasoning-model providers reject follow-up turns that
// reference a prior image without it, so it must survive round-trips
// unchanged: never re-encode or strip it.
type MediaItem struct {
	Type             MediaType `json:"type"`
	MimeType         string    `json:"mimeType,omitempty"`
	Data             string    `json:"data,omitempty"`
	URL              string    `json:"url,omitempty"`
	ThoughtSignature string    `json:"thoughtSignature,omitempty"`
}

// TypeFromMime infers the media type from a MIME prefix.
// Defaults to image when the prefix is unrecognised.
func TypeFromMime(mime string) MediaType {
	switch {
	case strings.HasPrefix(mime, "video/"):
		return MediaVideo
	case strings.HasPrefix(mime, "audio/"):
		return MediaAudio
	default:
		return MediaImage
	}
}
