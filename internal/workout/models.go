package workout

import "time"

const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Session is one uploaded video and its push-up count.
type Session struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id,omitempty"`
	SourceName  string     `json:"source_name"`
	VideoName   string     `json:"video_name,omitempty"`
	VideoURL    string     `json:"video_url,omitempty"`
	Status      string     `json:"status"`
	Count       int        `json:"count"`
	Frames      int        `json:"frames"`
	Unknown     int        `json:"unknown_frames"`
	Partial     bool       `json:"partial"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type ProcessResponse struct {
	SessionID string `json:"session_id"`
	VideoURL  string `json:"video_url"`
	Counters  int    `json:"counters"`
}

// FailureResponse marks Partial when processing stopped before the last
// frame, so Counters covers only the frames read until then.
type FailureResponse struct {
	SessionID string `json:"session_id,omitempty"`
	Counters  int    `json:"counters"`
	Partial   bool   `json:"partial"`
	Error     string `json:"error"`
}
