package web

import (
	"bytes"
	"strings"
	"testing"
)

func TestRenderIndex(t *testing.T) {
	tests := []struct {
		name    string
		page    Page
		want    []string
		notWant []string
	}{
		{
			name:    "empty form",
			page:    Page{},
			want:    []string{`name="image"`, `enctype="multipart/form-data"`},
			notWant: []string{`class="error"`, `class="result"`},
		},
		{
			name: "result",
			page: Page{Results: []ResultView{{MaskedName: "masked_invoice1.png", URL: "/static/masked/masked_invoice1.png", MaskedBoxCount: 3}}},
			want: []string{`src="/static/masked/masked_invoice1.png"`, "(3 boxes)"},
		},
		{
			name: "error is escaped",
			page: Page{Error: "<script>"},
			want: []string{"&lt;script&gt;"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := RenderIndex(&buf, tt.page); err != nil {
				t.Fatalf("RenderIndex: %v", err)
			}
			out := buf.String()
			for _, s := range tt.want {
				if !strings.Contains(out, s) {
					t.Errorf("output missing %q", s)
				}
			}
			for _, s := range tt.notWant {
				if strings.Contains(out, s) {
					t.Errorf("output should not contain %q", s)
				}
			}
		})
	}
}
