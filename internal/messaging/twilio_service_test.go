package messaging

import (
	"context"
	"errors"
	"testing"

	"github.com/pharmflow/pharmflow/internal/twiliowhatsapp"
)

func TestTwilioServiceSendFlattensAndPrefixes(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	svc := NewTwilioService(mock)

	err := svc.SendMessage(context.Background(), "whatsapp:+27821234567", "Pick one:", []string{"SCRIPT", "OTC"})
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if len(mock.SentMessages) != 1 {
		t.Fatalf("expected 1 send, got %d", len(mock.SentMessages))
	}
	if got := mock.SentMessages[0].To; got != "+27821234567" {
		t.Errorf("recipient = %q, want +27821234567", got)
	}
	want := "Pick one:\n1. SCRIPT\n2. OTC"
	if got := mock.SentMessages[0].Body; got != want {
		t.Errorf("body = %q, want %q", got, want)
	}
}

func TestTwilioServiceRejectsInvalidRecipient(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	if err := svc.SendMessage(context.Background(), "not-a-number", "hi", nil); err == nil {
		t.Fatal("expected validation error for digitless recipient")
	}
}

func TestTwilioServiceStopClosesResponses(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())

	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	// Stop is idempotent.
	if err := svc.Stop(); err != nil {
		t.Fatalf("second Stop failed: %v", err)
	}

	select {
	case _, ok := <-svc.Responses():
		if ok {
			t.Fatal("responses channel carried an event; it should only close")
		}
	default:
		t.Fatal("responses channel still open after Stop")
	}

	if err := svc.SendMessage(context.Background(), "27821234567", "hi", nil); !errors.Is(err, ErrServiceStopped) {
		t.Errorf("SendMessage after Stop = %v, want ErrServiceStopped", err)
	}
}
