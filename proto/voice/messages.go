// ABOUTME: Wire messages for the voice gateway service
// ABOUTME: StreamResponse models the proto oneof with exactly one non-nil field

package voice

import "fmt"

// StreamRequest opens one streaming call.
type StreamRequest struct {
	Prompt       string `json:"prompt"`
	HardwareId   string `json:"hardware_id"`
	SessionId    string `json:"session_id,omitempty"`
	Screenshot   []byte `json:"screenshot,omitempty"`
	ScreenWidth  int32  `json:"screen_width,omitempty"`
	ScreenHeight int32  `json:"screen_height,omitempty"`
}

func (r *StreamRequest) GetPrompt() string {
	if r == nil {
		return ""
	}
	return r.Prompt
}

func (r *StreamRequest) GetHardwareId() string {
	if r == nil {
		return ""
	}
	return r.HardwareId
}

func (r *StreamRequest) GetSessionId() string {
	if r == nil {
		return ""
	}
	return r.SessionId
}

func (r *StreamRequest) GetScreenshot() []byte {
	if r == nil {
		return nil
	}
	return r.Screenshot
}

// AudioChunk is one frame of synthesized audio.
type AudioChunk struct {
	AudioData  []byte  `json:"audio_data"`
	Dtype      string  `json:"dtype"`
	Shape      []int32 `json:"shape"`
	SampleRate int32   `json:"sample_rate"`
	Channels   int32   `json:"channels"`
}

// StreamResponse carries exactly one of its fields.
type StreamResponse struct {
	TextChunk    *string     `json:"text_chunk,omitempty"`
	AudioChunk   *AudioChunk `json:"audio_chunk,omitempty"`
	EndMessage   *string     `json:"end_message,omitempty"`
	ErrorMessage *string     `json:"error_message,omitempty"`
}

// TextResponse builds a text_chunk response.
func TextResponse(text string) *StreamResponse {
	return &StreamResponse{TextChunk: &text}
}

// AudioResponse builds an audio_chunk response.
func AudioResponse(chunk *AudioChunk) *StreamResponse {
	return &StreamResponse{AudioChunk: chunk}
}

// EndResponse builds the success terminal.
func EndResponse(msg string) *StreamResponse {
	return &StreamResponse{EndMessage: &msg}
}

// ErrorResponse builds the failure terminal.
func ErrorResponse(msg string) *StreamResponse {
	return &StreamResponse{ErrorMessage: &msg}
}

func (r *StreamResponse) GetTextChunk() string {
	if r == nil || r.TextChunk == nil {
		return ""
	}
	return *r.TextChunk
}

func (r *StreamResponse) GetAudioChunk() *AudioChunk {
	if r == nil {
		return nil
	}
	return r.AudioChunk
}

func (r *StreamResponse) GetEndMessage() string {
	if r == nil || r.EndMessage == nil {
		return ""
	}
	return *r.EndMessage
}

func (r *StreamResponse) GetErrorMessage() string {
	if r == nil || r.ErrorMessage == nil {
		return ""
	}
	return *r.ErrorMessage
}

// IsTerminal reports whether r is an end_message or error_message.
func (r *StreamResponse) IsTerminal() bool {
	return r != nil && (r.EndMessage != nil || r.ErrorMessage != nil)
}

// InterruptRequest interrupts a device's active sessions.
type InterruptRequest struct {
	HardwareId string `json:"hardware_id"`
}

func (r *InterruptRequest) GetHardwareId() string {
	if r == nil {
		return ""
	}
	return r.HardwareId
}

// InterruptResponse lists the sessions that were interrupted.
type InterruptResponse struct {
	Success             bool     `json:"success"`
	Message             string   `json:"message"`
	InterruptedSessions []string `json:"interrupted_sessions"`
}

// NewInterruptResponse builds the successful response for ids.
func NewInterruptResponse(ids []string) *InterruptResponse {
	if ids == nil {
		ids = []string{}
	}
	msg := fmt.Sprintf("interrupted %d session(s)", len(ids))
	if len(ids) == 0 {
		msg = "no active sessions"
	}
	return &InterruptResponse{Success: true, Message: msg, InterruptedSessions: ids}
}

func (r *InterruptResponse) GetSuccess() bool {
	if r == nil {
		return false
	}
	return r.Success
}

func (r *InterruptResponse) GetMessage() string {
	if r == nil {
		return ""
	}
	return r.Message
}

func (r *InterruptResponse) GetInterruptedSessions() []string {
	if r == nil {
		return nil
	}
	return r.InterruptedSessions
}
