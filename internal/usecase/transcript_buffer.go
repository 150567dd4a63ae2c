package usecase

import (
	"strings"

	"voicedesk/internal/domain"
)

// transcriptBuffer holds the latest user transcript and agent response of one
// session. It lives and dies with the session and is guarded by the
// controller lock.
type transcriptBuffer struct {
	transcript string
	response   string
	updates    int
}

// apply records an update and reports which fields changed.
func (b *transcriptBuffer) apply(update domain.TranscriptUpdate) (transcriptChanged bool, responseChanged bool) {
	b.updates++

	if text := strings.TrimSpace(update.Transcript); text != "" {
		transcriptChanged = text != b.transcript
		b.transcript = text
	}
	if text := strings.TrimSpace(update.Response); text != "" {
		responseChanged = text != b.response
		b.response = text
	}
	return transcriptChanged, responseChanged
}

func (b *transcriptBuffer) reset() {
	*b = transcriptBuffer{}
}

func (b *transcriptBuffer) empty() bool {
	return b.transcript == "" && b.response == ""
}
