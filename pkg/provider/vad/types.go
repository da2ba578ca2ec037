package vad

// VADEvent represents a voice activity detection result for a single audio frame.
type VADEvent struct {
	// Type is the detection result.
	Type VADEventType

	// Probability is the speech score for the frame. Energy engines report the
	// normalised RMS here.
	Probability float64
}

// Voiced reports whether the frame belongs to an active speech segment.
func (e VADEvent) Voiced() bool {
	return e.Type == VADSpeechStart || e.Type == VADSpeechContinue
}

// VADEventType enumerates VAD detection states.
type VADEventType int

const (
	// VADSpeechStart indicates speech has just begun.
	VADSpeechStart VADEventType = iota

	// VADSpeechContinue indicates ongoing speech.
	VADSpeechContinue

	// VADSpeechEnd indicates speech has just ended.
	VADSpeechEnd

	// VADSilence indicates no speech detected.
	VADSilence
)

// String returns the human-readable name of the event type.
func (t VADEventType) String() string {
	switch t {
	case VADSpeechStart:
		return "SPEECH_START"
	case VADSpeechContinue:
		return "SPEECH_CONTINUE"
	case VADSpeechEnd:
		return "SPEECH_END"
	case VADSilence:
		return "SILENCE"
	default:
		return "UNKNOWN"
	}
}
