// Package models defines the transcript, artifact and event data structures.
package models

// TranscriptSegment is one accepted final recognition result.
// Segments are created once and never mutated.
type TranscriptSegment struct {
	ID             string  `json:"id"`
	Text           string  `json:"text"`
	Confidence     float64 `json:"confidence"`
	ElapsedSeconds int64   `json:"elapsedSeconds"`
	SpeakerTag     int     `json:"speakerTag,omitempty"`
}

// QAEntry is a detected question together with its generated answer.
type QAEntry struct {
	Question  string `json:"question"`
	Answer    string `json:"answer"`
	Timestamp string `json:"timestamp"`
}

// ActionItems is the on-disk shape of action_items.json.
type ActionItems struct {
	ActionItems string `json:"action_items"`
}

// MeetingMinutes is the on-disk shape of meeting_minutes.json.
type MeetingMinutes struct {
	MeetingMinutes string `json:"meeting_minutes"`
}

// SegmentAccepted is published to the event bus for every accepted segment.
type SegmentAccepted struct {
	EventType      string  `json:"eventType"`
	TenantID       string  `json:"tenantId"`
	RunID          string  `json:"runId"`
	SegmentID      string  `json:"segmentId"`
	Text           string  `json:"text"`
	Confidence     float64 `json:"confidence"`
	ElapsedSeconds int64   `json:"elapsedSeconds"`
	SpeakerTag     int     `json:"speakerTag,omitempty"`
	Timestamp      int64   `json:"timestamp"`
}

// ContentChanged is the change notification raised after an artifact regeneration.
type ContentChanged struct {
	EventType string `json:"event"`
	TenantID  string `json:"tenantId"`
	Artifact  string `json:"artifact,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Event type names.
const (
	EventSegmentAccepted = "meeting.transcript.segment"
	EventContentUpdate   = "content_update"
)

// Artifact names used in change notifications.
const (
	ArtifactQA             = "questions_answers"
	ArtifactMeetingMinutes = "meeting_minutes"
	ArtifactActionItems    = "action_items"
)
