package schema

import (
	"errors"
	"strings"
	"testing"

	"live-transcription-service/internal/models"
)

func validSegment() models.SegmentAccepted {
	return models.SegmentAccepted{
		EventType:      models.EventSegmentAccepted,
		TenantID:       "acme",
		RunID:          "run-1",
		SegmentID:      "run-1-seg-1",
		Text:           "hello",
		Confidence:     0.9,
		ElapsedSeconds: 3,
	}
}

func TestValidate_SegmentAccepted(t *testing.T) {
	v := New()

	tests := []struct {
		name    string
		mutate  func(*models.SegmentAccepted)
		wantErr string
	}{
		{"valid", func(*models.SegmentAccepted) {}, ""},
		{"missing tenant", func(e *models.SegmentAccepted) { e.TenantID = "" }, "tenantId"},
		{"blank text", func(e *models.SegmentAccepted) { e.Text = "  " }, "text"},
		{"missing run and segment", func(e *models.SegmentAccepted) { e.RunID, e.SegmentID = "", "" }, "runId, segmentId"},
		{"confidence above one", func(e *models.SegmentAccepted) { e.Confidence = 1.5 }, "confidence"},
		{"negative elapsed", func(e *models.SegmentAccepted) { e.ElapsedSeconds = -1 }, "elapsedSeconds"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := validSegment()
			tt.mutate(&ev)
			err := v.Validate(ev)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, ErrInvalidEvent) {
				t.Fatalf("expected ErrInvalidEvent, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error to mention %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidate_Pointer(t *testing.T) {
	ev := validSegment()
	ev.TenantID = ""
	if err := New().Validate(&ev); !errors.Is(err, ErrInvalidEvent) {
		t.Errorf("expected ErrInvalidEvent for pointer event, got %v", err)
	}
}

func TestValidate_ContentChanged(t *testing.T) {
	v := New()
	if err := v.Validate(models.ContentChanged{EventType: models.EventContentUpdate, TenantID: "acme"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := v.Validate(models.ContentChanged{EventType: models.EventContentUpdate}); !errors.Is(err, ErrInvalidEvent) {
		t.Errorf("expected ErrInvalidEvent, got %v", err)
	}
}

func TestValidate_UnknownType(t *testing.T) {
	if err := New().Validate(map[string]string{"a": "b"}); err != nil {
		t.Errorf("expected unknown types to pass, got %v", err)
	}
}
