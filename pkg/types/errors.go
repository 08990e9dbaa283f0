package types

import "errors"

// Error kinds shared by the clients, stores and the session flow.
// Wrap them with fmt.Errorf("%w: ...") and test with errors.Is.
var (
	// ErrConfiguration reports a missing credential or setting.
	ErrConfiguration = errors.New("configuration error")
	// ErrTranscription reports a failed call to the speech service.
	ErrTranscription = errors.New("transcription failed")
	// ErrScoring reports a failed call to the chat service.
	ErrScoring = errors.New("scoring failed")
	// ErrTemplate reports a malformed prompt template.
	ErrTemplate = errors.New("prompt template error")
	// ErrPersistence reports a history or settings store failure.
	ErrPersistence = errors.New("persistence error")
)
