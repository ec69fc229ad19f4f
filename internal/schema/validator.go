// Package schema validates events before they leave the service.
package schema

import (
	"errors"
	"fmt"
	"strings"

	"live-transcription-service/internal/models"
)

// ErrInvalidEvent is returned for events missing required fields.
var ErrInvalidEvent = errors.New("invalid event")

type Validator struct{}

func New() *Validator {
	return &Validator{}
}

// Validate checks the required fields of the known event types. Unknown
// types pass unchecked.
func (v *Validator) Validate(event any) error {
	var missing []string
	switch ev := event.(type) {
	case models.SegmentAccepted:
		missing = required(map[string]string{
			"eventType": ev.EventType,
			"tenantId":  ev.TenantID,
			"runId":     ev.RunID,
			"segmentId": ev.SegmentID,
			"text":      ev.Text,
		})
		if ev.Confidence < 0 || ev.Confidence > 1 {
			return fmt.Errorf("%w: confidence %v out of range", ErrInvalidEvent, ev.Confidence)
		}
		if ev.ElapsedSeconds < 0 {
			return fmt.Errorf("%w: negative elapsedSeconds", ErrInvalidEvent)
		}
	case *models.SegmentAccepted:
		return v.Validate(*ev)
	case models.ContentChanged:
		missing = required(map[string]string{
			"event":    ev.EventType,
			"tenantId": ev.TenantID,
		})
	case *models.ContentChanged:
		return v.Validate(*ev)
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidEvent, strings.Join(missing, ", "))
	}
	return nil
}

func required(fields map[string]string) []string {
	var missing []string
	for _, name := range []string{"event", "eventType", "tenantId", "runId", "segmentId", "text"} {
		if v, ok := fields[name]; ok && strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	return missing
}
