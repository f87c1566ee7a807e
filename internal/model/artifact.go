package model

import "time"

// MediaKind enumerates the artifact payload types the store accepts.
type MediaKind string

const (
	MediaImagePNG  MediaKind = "image/png"
	MediaImageJPEG MediaKind = "image/jpeg"
	MediaPDF       MediaKind = "application/pdf"
	MediaHTML      MediaKind = "text/html"
)

// ArtifactRef is a stable reference to a blob in the ArtifactStore. The
// URI resolves for the life of the pipeline run (and beyond, for runs
// whose store is durable).
type ArtifactRef struct {
	URI            string    `json:"uri"`
	MediaKind      MediaKind `json:"media_kind"`
	ProducingPhase int       `json:"producing_phase"`
	Caption        string    `json:"caption,omitempty"`
	CapturedAt     time.Time `json:"captured_at"`
	SourceURL      string    `json:"source_url,omitempty"`
	ContentHash    string    `json:"content_hash"`
	SizeBytes      int64     `json:"size_bytes"`
}
