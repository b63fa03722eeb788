package reporting

import (
	"context"
	"testing"
	"time"

	"link-platform/internal/calls"
)

type staticHistory []calls.Session

func (h staticHistory) ListCalls(_ context.Context, _, _ string, _ int) ([]calls.Session, error) {
	return h, nil
}

func at(min int) *time.Time {
	t := time.Date(2026, 4, 1, 12, min, 0, 0, time.UTC)
	return &t
}

func TestCallHistorySummary(t *testing.T) {
	svc := NewService(staticHistory{
		{ID: "1", CallType: calls.CallTypeVideo, Status: calls.StatusEnded, StartedAt: at(0), EndedAt: at(2)},
		{ID: "2", CallType: calls.CallTypeAudio, Status: calls.StatusEnded, StartedAt: at(10), EndedAt: at(11)},
		{ID: "3", CallType: calls.CallTypeAudio, Status: calls.StatusEnded, EndedAt: at(20)},
		{ID: "4", CallType: calls.CallTypeAudio, Status: calls.StatusRejected, EndedAt: at(30)},
		{ID: "5", CallType: calls.CallTypeAudio, Status: calls.StatusMissed, EndedAt: at(40)},
		{ID: "6", CallType: calls.CallTypeVideo, Status: calls.StatusRinging},
	})

	got, err := svc.CallHistorySummary(context.Background(), "c1", "alice")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if got.ConversationID != "c1" || got.TotalCalls != 6 || got.VideoCalls != 2 {
		t.Fatalf("unexpected totals: %+v", got)
	}
	if got.CompletedCalls != 2 || got.CanceledCalls != 1 || got.RejectedCalls != 1 || got.MissedCalls != 1 || got.ActiveCalls != 1 {
		t.Fatalf("unexpected status counts: %+v", got)
	}
	if got.TotalTalkSeconds != 180 || got.AverageTalkSeconds != 90 {
		t.Fatalf("unexpected talk time: %+v", got)
	}
}

func TestCallHistorySummary_InvalidRequest(t *testing.T) {
	svc := NewService(staticHistory{})
	if _, err := svc.CallHistorySummary(context.Background(), "", "alice"); err != ErrInvalidRequest {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}
