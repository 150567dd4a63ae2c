package usecase

import (
	"context"

	"github.com/rs/zerolog"

	"voicedesk/internal/domain"
	"voicedesk/internal/ports"
)

type transcriptFinalizer struct {
	rules ports.RulesEngine
	notes ports.NoteSink
	log   zerolog.Logger
}

func newTranscriptFinalizer(rules ports.RulesEngine, notes ports.NoteSink, log zerolog.Logger) transcriptFinalizer {
	return transcriptFinalizer{rules: rules, notes: notes, log: log}
}

// finalize runs the rules over an ended call and hands it to the note sink.
// Calls without any text are dropped.
func (f transcriptFinalizer) finalize(ctx context.Context, call domain.CallTranscript) {
	if f.notes == nil || (call.Transcript == "" && call.Response == "") {
		return
	}
	call.Transcript = f.apply("transcript", call.Transcript)
	call.Response = f.apply("response", call.Response)
	f.notes.RecordCall(ctx, call)
}

func (f transcriptFinalizer) apply(field, text string) string {
	if f.rules == nil || text == "" {
		return text
	}
	transformed, err := f.rules.Apply(text)
	if err != nil {
		f.log.Warn().Err(err).Str("field", field).Msg("rules failed, keeping raw text")
		return text
	}
	return transformed
}
