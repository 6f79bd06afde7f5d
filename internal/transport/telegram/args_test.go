package telegram

import (
	"testing"

	"dmrelay/internal/relay"
)

func TestParseDMArgs(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		payload string
		target  int64
		count   int
		text    string
		wantErr bool
	}{
		{name: "target only", payload: "123456", target: 123456, count: 1, text: relay.DefaultText},
		{name: "with message", payload: "123456 hello there", target: 123456, count: 1, text: "hello there"},
		{name: "quoted message", payload: `123456 "hello  there"`, target: 123456, count: 1, text: "hello  there"},
		{name: "count flag", payload: "123456 hi --count=5", target: 123456, count: 5, text: "hi"},
		{name: "count flag spaced", payload: "123456 --count 3 hi", target: 123456, count: 3, text: "hi"},
		{name: "unknown flag stays in text", payload: "123456 hello --world", target: 123456, count: 1, text: "hello --world"},
		{name: "unknown flag with value stays in text", payload: "123456 --mode=loud hi", target: 123456, count: 1, text: "--mode=loud hi"},
		{name: "empty", payload: "", wantErr: true},
		{name: "non-numeric target", payload: "bob hi", wantErr: true},
		{name: "negative target", payload: "-5 hi", wantErr: true},
		{name: "bad count", payload: "123456 --count=abc", wantErr: true},
		{name: "count without value", payload: "123456 --count", wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			target, count, text, err := parseDMArgs(tt.payload)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr=%v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if target != tt.target || count != tt.count || text != tt.text {
				t.Fatalf("got (%d, %d, %q), want (%d, %d, %q)", target, count, text, tt.target, tt.count, tt.text)
			}
		})
	}
}

func TestTokenizeCommandLine(t *testing.T) {
	t.Parallel()
	got := tokenizeCommandLine(`a "b c" --k=v`)
	want := []string{"a", "b c", "--k=v"}
	if len(got) != len(want) {
		t.Fatalf("tokens = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("tokens = %v, want %v", got, want)
		}
	}
}
