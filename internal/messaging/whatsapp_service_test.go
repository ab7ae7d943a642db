package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pharmflow/pharmflow/internal/models"
	"github.com/pharmflow/pharmflow/internal/whatsapp"
)

func TestWhatsAppServiceForwardDelivers(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())

	svc.forward(models.InboundEvent{From: "27821234567", Text: "hi", Time: time.Now()})

	select {
	case ev := <-svc.Responses():
		if ev.From != "27821234567" || ev.Text != "hi" {
			t.Errorf("unexpected event: %+v", ev)
		}
	default:
		t.Fatal("expected a forwarded event on the responses channel")
	}
}

func TestWhatsAppServiceForwardDuringStopDoesNotPanic(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())

	// Drain so senders never block on a full buffer.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range svc.Responses() {
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			svc.forward(models.InboundEvent{
				From: "27821234567",
				Text: fmt.Sprintf("msg-%d", i),
				Time: time.Now(),
			})
		}(i)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	wg.Wait()
	<-done

	// Late arrivals after Stop are dropped silently.
	svc.forward(models.InboundEvent{From: "27821234567", Text: "late"})
}

func TestWhatsAppServiceSendAfterStop(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	err := svc.SendMessage(context.Background(), "27821234567", "hi", nil)
	if !errors.Is(err, ErrServiceStopped) {
		t.Errorf("SendMessage after Stop = %v, want ErrServiceStopped", err)
	}
}
