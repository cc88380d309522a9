package ocr

import (
	"context"
	"testing"
)

func TestNewTesseract_Languages(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"eng", []string{"eng"}},
		{"eng+fra", []string{"eng", "fra"}},
		{" eng + deu ", []string{"eng", "deu"}},
		{"", []string{"eng"}},
	}
	for _, tt := range tests {
		got := NewTesseract(tt.in).languages
		if len(got) != len(tt.want) {
			t.Errorf("%q: expected %v, got %v", tt.in, tt.want, got)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("%q: expected %v, got %v", tt.in, tt.want, got)
			}
		}
	}
}

func TestRecognize_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewTesseract("eng").Recognize(ctx, []byte{}); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
