package main

import (
	"strings"
	"testing"
	"time"

	"github.com/makeasinger/studio/internal/model"
)

func TestFormatEvent(t *testing.T) {
	at := time.Date(2024, 5, 1, 13, 4, 5, 0, time.UTC)
	hint := 42
	idx := 1

	tests := []struct {
		name string
		ev   model.Event
		want []string
	}{
		{
			name: "status with progress",
			ev:   model.Event{Type: model.EventStatusChange, At: at, State: &model.JobState{Status: model.JobStatusProcessing, ProgressHint: &hint}},
			want: []string{"13:04:05", "processing", "(42%)"},
		},
		{
			name: "retryable failure",
			ev:   model.Event{Type: model.EventFailed, At: at, Error: &model.JobError{Code: model.JobErrorTimeout, Message: "took too long", Retryable: true}},
			want: []string{model.JobErrorTimeout, "took too long", "studioctl retry"},
		},
		{
			name: "queue advance is one-based",
			ev:   model.Event{Type: model.EventQueueAdvance, At: at, QueueIndex: &idx},
			want: []string{"request #2"},
		},
		{
			name: "admission denied",
			ev:   model.Event{Type: model.EventAdmissionDenied, At: at, Admission: &model.Admission{Cost: 100, Balance: 30, Shortfall: 70, PurchaseURL: "https://example.com/buy"}},
			want: []string{"short 70", "https://example.com/buy"},
		},
		{
			name: "completed",
			ev:   model.Event{Type: model.EventCompleted, At: at, Result: &model.JobResult{Title: "Night Drive", AssetURLs: []string{"https://cdn.example.com/a.mp3"}}},
			want: []string{`"Night Drive"`, "https://cdn.example.com/a.mp3"},
		},
		{
			name: "missing payload",
			ev:   model.Event{Type: model.EventFailed, At: at},
			want: []string{"failed"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := formatEvent(tt.ev)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("formatEvent() = %q, missing %q", got, w)
				}
			}
		})
	}
}

func TestEventPrinter_NotifiesWithoutBlocking(t *testing.T) {
	var sb strings.Builder
	p := newEventPrinter(&sb)

	for i := 0; i < 3; i++ {
		p.Publish("local", model.Event{Type: model.EventQueueFinished})
	}

	select {
	case <-p.notify:
	default:
		t.Fatal("expected a pending notification")
	}
	if n := strings.Count(sb.String(), "queue finished"); n != 3 {
		t.Errorf("expected 3 lines, got %d", n)
	}
}
