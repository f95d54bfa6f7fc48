package tutor

import (
	"encoding/base64"

	"github.com/MrWong99/tutorlink/pkg/audio"
)

// Status texts shown to the user while a question is in flight or failed.
const (
	StatusThinking     = "Thinking..."
	StatusConnectError = "Error: Could not connect to the AI tutor."
)

// QuestionRequest is the JSON body of POST /qa/ask-about-part-audio.
type QuestionRequest struct {
	// PartName is the selected part the question is about. Never empty.
	PartName string `json:"part_name"`

	// AudioData is the Base64 encoding of a canonical WAV byte stream.
	AudioData string `json:"audio_data"`
}

// NewQuestionRequest builds a request for subject carrying wavBytes. It
// returns [ErrMissingContext] when subject is empty. An empty wavBytes is
// accepted; the backend is expected to reject it.
func NewQuestionRequest(subject string, wavBytes []byte) (QuestionRequest, error) {
	if subject == "" {
		return QuestionRequest{}, ErrMissingContext
	}
	return QuestionRequest{
		PartName:  subject,
		AudioData: base64.StdEncoding.EncodeToString(wavBytes),
	}, nil
}

// Reply is the JSON body returned by the tutor backend.
type Reply struct {
	// ResponseText is the tutor's written answer.
	ResponseText string `json:"response_text"`

	// AudioReply is the Base64 encoding of a canonical WAV byte stream with
	// the spoken answer. Empty means a text-only reply.
	AudioReply string `json:"audio_reply,omitempty"`
}

// HasAudio reports whether the reply carries spoken audio.
func (r Reply) HasAudio() bool { return r.AudioReply != "" }

// Result is the outcome of a successful exchange.
type Result struct {
	// RequestID is the X-Request-ID sent with the question.
	RequestID string

	// Reply is the decoded response body.
	Reply Reply

	// Audio is the decoded spoken reply, or nil for a text-only or malformed
	// audio reply.
	Audio *audio.Buffer
}

// Outcome is delivered by [Client.SendAudioQuestionAsync].
type Outcome struct {
	Result *Result
	Err    error
}

// StatusSink receives human-readable status lines: [StatusThinking], the
// tutor's response text, or an error message.
type StatusSink interface {
	SetStatus(text string)
}

// StatusFunc adapts a plain function to [StatusSink].
type StatusFunc func(text string)

// SetStatus calls f(text).
func (f StatusFunc) SetStatus(text string) { f(text) }

// Player plays a decoded reply. Calls may overwrite a clip that is still
// playing; the last call wins.
type Player interface {
	Play(buf *audio.Buffer)
}

// PlayerFunc adapts a plain function to [Player].
type PlayerFunc func(buf *audio.Buffer)

// Play calls f(buf).
func (f PlayerFunc) Play(buf *audio.Buffer) { f(buf) }

// nopStatus discards status updates when no sink is configured.
type nopStatus struct{}

func (nopStatus) SetStatus(string) {}
