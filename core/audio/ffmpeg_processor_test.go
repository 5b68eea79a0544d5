package audio

import (
	"context"
	"errors"
	"testing"
)

func TestFFprobe_Duration(t *testing.T) {
	tests := []struct {
		name    string
		stdout  string
		runErr  error
		want    float64
		wantErr bool
	}{
		{name: "parses duration", stdout: `{"format":{"duration":"184.213000"}}`, want: 184.213},
		{name: "missing duration", stdout: `{"format":{}}`, wantErr: true},
		{name: "bad json", stdout: `nope`, wantErr: true},
		{name: "bad number", stdout: `{"format":{"duration":"N/A"}}`, wantErr: true},
		{name: "command fails", runErr: errors.New("exit status 1"), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotName string
			var gotArgs []string
			p := NewFFprobe("/usr/bin/ffmpeg")
			p.run = func(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
				gotName, gotArgs = name, args
				return []byte(tt.stdout), []byte("stderr"), tt.runErr
			}

			got, err := p.Duration(context.Background(), "https://board/api/v1/stream/t1")
			if (err != nil) != tt.wantErr {
				t.Fatalf("Duration error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("Duration = %v, want %v", got, tt.want)
			}
			if gotName != "/usr/bin/ffprobe" {
				t.Fatalf("binary = %q, want ffprobe sibling", gotName)
			}
			if gotArgs[len(gotArgs)-1] != "https://board/api/v1/stream/t1" {
				t.Fatalf("args = %v", gotArgs)
			}
		})
	}
}
