package api

import (
	"testing"

	"pii-mask/internal/services"
)

func TestPercent(t *testing.T) {
	tests := []struct {
		current, total, want int
	}{
		{0, 100, 0},
		{50, 100, 50},
		{150, 100, 100},
		{30, 0, 30},
		{130, 0, 100},
		{-1, 0, 0},
	}
	for _, tt := range tests {
		if got := percent(tt.current, tt.total); got != tt.want {
			t.Errorf("percent(%d, %d) = %d, want %d", tt.current, tt.total, got, tt.want)
		}
	}
}

func TestJobManagerSnapshotsAreIndependent(t *testing.T) {
	m := NewJobManager()
	id, snapshot := m.CreateJob([]string{"a.png"})
	if snapshot.Status != JobStatusPending || snapshot.Files[0].Status != FileStatusPending {
		t.Fatalf("snapshot = %+v", snapshot)
	}

	m.MarkProcessing(id)
	m.MarkFileStarted(id, 0)
	m.UpdateFileProgress(id, 0, "ocr", "Extracting text", 30, 100)

	mid, _ := m.GetJob(id)
	if mid.Files[0].Step != "ocr" || mid.Files[0].Percent != 30 {
		t.Fatalf("file = %+v", mid.Files[0])
	}

	result := FileResult{MaskResult: &services.MaskResult{MaskedName: "masked_a.png"}, URL: "/static/masked/masked_a.png"}
	m.MarkFileComplete(id, 0, []FileResult{result})
	m.MarkCompleted(id)

	done, ok := m.GetJob(id)
	if !ok {
		t.Fatal("job disappeared")
	}
	done.Files[0].Results[0].MaskedName = "changed"
	done.Results[0].URL = "changed"

	again, _ := m.GetJob(id)
	if again.Files[0].Results[0].MaskedName != "masked_a.png" || again.Results[0].URL != "/static/masked/masked_a.png" {
		t.Error("mutating a snapshot leaked into the manager")
	}
	if mid.Status != JobStatusProcessing {
		t.Errorf("earlier snapshot changed: %s", mid.Status)
	}
	if _, ok := m.GetJob("missing"); ok {
		t.Error("unknown job should not be found")
	}
}

func TestJobManagerFileError(t *testing.T) {
	m := NewJobManager()
	id, _ := m.CreateJob([]string{"a.pdf"})
	m.MarkFileError(id, 0, "  ", "PDF_RENDER_FAILED", nil)

	job, _ := m.GetJob(id)
	file := job.Files[0]
	if file.Status != FileStatusError || file.Error != "processing error" || file.Code != "PDF_RENDER_FAILED" {
		t.Errorf("file = %+v", file)
	}
}
