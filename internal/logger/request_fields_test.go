package logger

import (
	"context"
	"log/slog"
	"sync"
	"testing"
)

func TestRequestFields_CollectsAcrossCallers(t *testing.T) {
	ctx := WithRequestFields(context.Background())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			AddRequestFields(ctx, slog.String(FieldRejection, "rate_limited"))
		}()
	}
	wg.Wait()

	if got := len(RequestFields(ctx)); got != 10 {
		t.Fatalf("expected 10 fields, got %d", got)
	}
}

func TestRequestFields_NoCollector(t *testing.T) {
	ctx := context.Background()
	AddRequestFields(ctx, slog.String(FieldUserID, "user-1"))
	if fields := RequestFields(ctx); fields != nil {
		t.Fatalf("expected no fields without a collector, got %v", fields)
	}
}
