package worker

import (
	"io"
	"testing"

	"github.com/rs/zerolog"
)

func TestAlertWorkerDecode(t *testing.T) {
	w := &AlertWorker{log: zerolog.New(io.Discard)}

	tests := []struct {
		name   string
		raw    string
		wantOK bool
	}{
		{"valid", `{"exam_id":"11111111-1111-1111-1111-111111111111","student_id":"stu-a","type":"tab_switch","severity":"low","confidence":0.7}`, true},
		{"malformed", `{"exam_id":`, false},
		{"no student", `{"exam_id":"11111111-1111-1111-1111-111111111111","type":"tab_switch"}`, false},
		{"no type", `{"exam_id":"11111111-1111-1111-1111-111111111111","student_id":"stu-a"}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, ok := w.decode(tt.raw)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && a.DetectedAt.IsZero() {
				t.Fatal("missing detection time not defaulted")
			}
		})
	}
}
