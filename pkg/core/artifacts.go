// Package core provides the shared types of simlens: errors, statuses,
// geometry, artifacts and the retry policy.
package core

// Artifact names written under a capture's assets directory.
const (
	AttachmentScreenshot = "screenshot"
	AttachmentHighlight  = "highlight"
)

var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// IsPNG reports whether data starts with the PNG signature.
func IsPNG(data []byte) bool {
	if len(data) < len(pngSignature) {
		return false
	}
	for i, b := range pngSignature {
		if data[i] != b {
			return false
		}
	}
	return true
}
