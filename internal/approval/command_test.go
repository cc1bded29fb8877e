package approval

import (
	"reflect"
	"testing"
)

func TestSplitCommand(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"git push origin main", []string{"git", "push", "origin", "main"}},
		{`echo "hello world"`, []string{"echo", "hello world"}},
		{`grep 'a b' file.txt`, []string{"grep", "a b", "file.txt"}},
		{"  ls   -la  ", []string{"ls", "-la"}},
		{"", nil},
	}
	for _, tt := range tests {
		if got := SplitCommand(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("SplitCommand(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestIsDangerousCommand(t *testing.T) {
	dangerous := []string{
		"rm -rf /tmp/x",
		"sudo apt install foo",
		"/usr/bin/sudo reboot",
		"dd if=/dev/zero of=/dev/sda",
		"kill -9 1234",
		"chmod 777 /etc/passwd",
	}
	for _, cmd := range dangerous {
		if !IsDangerousCommand(cmd) {
			t.Errorf("IsDangerousCommand(%q) = false, want true", cmd)
		}
	}

	safe := []string{"git status", "ls -la", "npm install", "cat notes.txt", ""}
	for _, cmd := range safe {
		if IsDangerousCommand(cmd) {
			t.Errorf("IsDangerousCommand(%q) = true, want false", cmd)
		}
	}
}

func TestSuggestPattern(t *testing.T) {
	tests := []struct {
		cmd    string
		want   string
		wantOK bool
	}{
		{"git push origin main", "git push *", true},
		{"git status", "git status *", true},
		{"ls -la", "ls *", true},
		{"npm install lodash", "npm install *", true},
		{"/usr/local/bin/node script.js", "node *", true},
		// Dangerous heads and metacharacters never produce suggestions.
		{"rm -rf /tmp/x", "", false},
		{"sudo make install", "", false},
		{"git status; rm -rf /", "", false},
		{"cat file | grep x", "", false},
		{"echo $(whoami)", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := SuggestPattern(tt.cmd)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("SuggestPattern(%q) = (%q, %v), want (%q, %v)", tt.cmd, got, ok, tt.want, tt.wantOK)
		}
	}
}
