package ddi

import (
	"testing"
	"time"
)

func TestParsePollingInterval(t *testing.T) {
	tests := []struct {
		input string
		want  int
	}{
		{input: "00:00:10", want: 10},
		{input: "00:01:00", want: 60},
		{input: "01:00:05", want: 3605},
		{input: " 00:00:05 ", want: 5},
		{input: "garbage", want: 60},
		{input: "", want: 60},
		{input: "00:10", want: 60},
		{input: "00:00:00:10", want: 60},
		{input: "00:aa:10", want: 60},
		{input: "00:-1:10", want: 60},
		{input: "00:00:00", want: 60},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParsePollingInterval(tt.input); got != tt.want {
				t.Errorf("ParsePollingInterval(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestExtractActionID(t *testing.T) {
	tests := []struct {
		name   string
		href   string
		want   string
		wantOK bool
	}{
		{name: "deployment", href: "https://hawkbit/DEFAULT/controller/v1/dev/deploymentBase/42", want: "42", wantOK: true},
		{name: "deployment with cache param", href: "http://h/t/controller/v1/dev/deploymentBase/7?c=-2129030598", want: "7", wantOK: true},
		{name: "cancel", href: "http://h/t/controller/v1/dev/cancelAction/11", want: "11", wantOK: true},
		{name: "confirmation action", href: "http://h/t/controller/v1/dev/confirmationBase/5?c=1", want: "5", wantOK: true},
		{name: "confirmation base", href: "http://h/t/controller/v1/dev/confirmationBase", wantOK: false},
		{name: "non numeric", href: "http://h/t/controller/v1/dev/deploymentBase/abc", wantOK: false},
		{name: "mixed id", href: "http://h/t/controller/v1/dev/deploymentBase/12abc", wantOK: false},
		{name: "config data", href: "http://h/t/controller/v1/dev/configData", wantOK: false},
		{name: "empty", href: "", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractActionID(tt.href)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("ExtractActionID(%q) = (%q, %v), want (%q, %v)", tt.href, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		bytes int64
		want  string
	}{
		{bytes: 0, want: "0 B"},
		{bytes: 512, want: "512 B"},
		{bytes: 1024 * 1024, want: "1.0 MiB"},
		{bytes: -5, want: "0 B"},
	}

	for _, tt := range tests {
		if got := FormatSize(tt.bytes); got != tt.want {
			t.Errorf("FormatSize(%d) = %q, want %q", tt.bytes, got, tt.want)
		}
	}
}

func TestDownloadDelay(t *testing.T) {
	const mib = 1024 * 1024
	rate := 100 * time.Millisecond

	tests := []struct {
		name string
		size int64
		want time.Duration
	}{
		{name: "one MiB", size: mib, want: 100 * time.Millisecond},
		{name: "two MiB", size: 2 * mib, want: 200 * time.Millisecond},
		{name: "tiny file floors at 100ms", size: 10, want: 100 * time.Millisecond},
		{name: "empty file floors at 100ms", size: 0, want: 100 * time.Millisecond},
		{name: "ten MiB", size: 10 * mib, want: time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DownloadDelay(tt.size, rate); got != tt.want {
				t.Errorf("DownloadDelay(%d) = %v, want %v", tt.size, got, tt.want)
			}
		})
	}
}

func TestConfirmationActionID(t *testing.T) {
	tests := []struct {
		href   string
		wantID string
		wantOK bool
	}{
		{"http://h/t/controller/v1/d/confirmationBase/5", "5", true},
		{"http://h/t/controller/v1/d/confirmationBase/5?c=-2", "5", true},
		{"http://h/t/controller/v1/d/confirmationBase", "", false},
		{"http://h/t/controller/v1/d/deploymentBase/5", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.href, func(t *testing.T) {
			id, ok := ConfirmationActionID(tt.href)
			if id != tt.wantID || ok != tt.wantOK {
				t.Errorf("ConfirmationActionID(%q) = %q, %v, want %q, %v", tt.href, id, ok, tt.wantID, tt.wantOK)
			}
		})
	}
}
