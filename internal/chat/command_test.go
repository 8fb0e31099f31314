package chat

import (
	"reflect"
	"testing"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		text string
		want Command
		ok   bool
	}{
		{".join", Command{Name: "join"}, true},
		{"  .play https://x/y  ", Command{Name: "play", Args: []string{"https://x/y"}}, true},
		{".PLAY https://x/y", Command{Name: "play", Args: []string{"https://x/y"}}, true},
		{".shazam", Command{Name: "shazam"}, true},
		{".", Command{}, false},
		{"...thinking", Command{}, false},
		{".selfdestruct", Command{}, false},
		{"play https://x/y", Command{}, false},
		{"hello there", Command{}, false},
		{"", Command{}, false},
	}
	for _, tt := range tests {
		got, ok := parseCommand(tt.text)
		if ok != tt.ok {
			t.Errorf("parseCommand(%q) ok = %v, want %v", tt.text, ok, tt.ok)
			continue
		}
		if !ok {
			continue
		}
		if got.Name != tt.want.Name {
			t.Errorf("parseCommand(%q).Name = %q, want %q", tt.text, got.Name, tt.want.Name)
		}
		if len(got.Args) != len(tt.want.Args) || (len(got.Args) > 0 && !reflect.DeepEqual(got.Args, tt.want.Args)) {
			t.Errorf("parseCommand(%q).Args = %v, want %v", tt.text, got.Args, tt.want.Args)
		}
	}
}
