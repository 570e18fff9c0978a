package tts

// Utterance is one piece of text to be spoken.
type Utterance struct {
	// Text is what to say.
	Text string

	// Language is the BCP-47 tag used to pick a voice (e.g., "en-US").
	Language string

	// Rate adjusts speaking rate (0.5–2.0). Zero means the provider default.
	Rate float64
}
