package shared

import "testing"

func TestScreenshotPath(t *testing.T) {
	tests := []struct {
		output string
		want   string
	}{
		{"LogPython: SCREENSHOT_SAVED:/Saved/Screenshots/check.png\nLogPython: done", "/Saved/Screenshots/check.png"},
		{"SCREENSHOT_SAVED: a.png\nSCREENSHOT_SAVED: b.png", "b.png"},
		{`{"ReturnValue":true,"Output":"SCREENSHOT_SAVED:/Saved/x.png"}`, "/Saved/x.png"},
		{"no marker here", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := ScreenshotPath(tt.output); got != tt.want {
			t.Errorf("ScreenshotPath(%q) = %q, want %q", tt.output, got, tt.want)
		}
	}
}
