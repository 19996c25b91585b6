package upload

import (
	"errors"
	"strings"
	"testing"

	"videojobs/internal/domain"
)

func TestSanitizeFilename(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		max     int
		want    string
		wantErr bool
	}{
		{name: "plain", in: "clip.mp4", want: "clip.mp4"},
		{name: "spaces", in: "my clip.mp4", want: "my_clip.mp4"},
		{name: "traversal", in: "../../etc/passwd", want: "passwd"},
		{name: "windows path", in: `C:\videos\clip.mp4`, want: "clip.mp4"},
		{name: "hidden", in: ".env", want: "env"},
		{name: "decomposed accent", in: "cafe\u0301.mp4", want: "caf\u00e9.mp4"},
		{name: "only dots", in: "..", wantErr: true},
		{name: "trailing slash", in: "videos/", wantErr: true},
		{name: "empty", in: "   ", wantErr: true},
		{name: "symbols only", in: "%%%", wantErr: true},
		{name: "too long", in: strings.Repeat("a", 11), max: 10, wantErr: true},
		{name: "at limit", in: strings.Repeat("a", 10), max: 10, want: strings.Repeat("a", 10)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := SanitizeFilename(tc.in, tc.max)
			if tc.wantErr {
				if !errors.Is(err, domain.ErrInvalidInput) {
					t.Fatalf("expected ErrInvalidInput, got %q, %v", got, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("SanitizeFilename(%q) error: %v", tc.in, err)
			}
			if got != tc.want {
				t.Fatalf("SanitizeFilename(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
