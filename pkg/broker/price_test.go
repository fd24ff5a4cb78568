package broker

import (
	"errors"
	"fmt"
	"testing"
)

func TestParsePrice(t *testing.T) {
	tests := []struct {
		raw     string
		want    int64
		wantErr bool
	}{
		{"10500", 10500, false},
		{"-10500", 10500, false},
		{" +71200 ", 71200, false},
		{"000000500000", 500000, false},
		{"", 0, true},
		{"-", 0, true},
		{"12a4", 0, true},
		{"1,000", 0, true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%q", tt.raw), func(t *testing.T) {
			got, err := ParsePrice(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedPrice) {
					t.Fatalf("expected ErrMalformedPrice, got %v", err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("got %d, %v; want %d", got, err, tt.want)
			}
		})
	}
}

func TestBatchesNeverExceedLimit(t *testing.T) {
	codes := make([]string, 23)
	for i := range codes {
		codes[i] = fmt.Sprintf("%06d", i)
	}
	batches := Batches(codes, 25)
	if len(batches) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(batches))
	}
	total := 0
	for _, b := range batches {
		if len(b) > MaxBatch {
			t.Errorf("batch of %d exceeds %d", len(b), MaxBatch)
		}
		total += len(b)
	}
	if total != len(codes) {
		t.Errorf("lost instruments: %d of %d", total, len(codes))
	}
	if RealtimeScreen(0) == OrderScreen {
		t.Error("realtime screen collides with the order screen")
	}
}

func TestParseCloses(t *testing.T) {
	if _, err := ParseCloses([]string{"100", "x"}); err == nil {
		t.Fatal("expected error for malformed close")
	}
	got, err := ParseCloses([]string{"-100", "+99"})
	if err != nil || len(got) != 2 || got[0] != 100 || got[1] != 99 {
		t.Fatalf("got %v, %v", got, err)
	}
}
