package testssl

import "testing"

const preloadJSON = `// Copyright header lines are comments.
// {"not": "json"
{
  "entries": [
    // Google
    { "name": "google.com", "include_subdomains": true, "mode": "force-https" },
    { "name": "exact.example", "mode": "force-https" },
    { "name": "pinned.example", "include_subdomains": true },
    { "name": "Mixed.Example", "include_subdomains": true, "mode": "force-https" }
  ]
}
`

func TestPreloadList(t *testing.T) {
	list, err := ParsePreloadList([]byte(preloadJSON))
	if err != nil {
		t.Fatal(err)
	}
	if list.Len() != 3 {
		t.Errorf("Len = %d, want 3", list.Len())
	}

	tests := []struct {
		host string
		want bool
	}{
		{"google.com", true},
		{"mail.google.com", true},
		{"a.b.google.com", true},
		{"exact.example", true},
		{"www.exact.example", false},
		{"pinned.example", false},
		{"sub.mixed.example", true},
		{"GOOGLE.COM.", true},
		{"notgoogle.com", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := list.Contains(tt.host); got != tt.want {
			t.Errorf("Contains(%q) = %v, want %v", tt.host, got, tt.want)
		}
	}

	var empty *PreloadList
	if empty.Contains("google.com") {
		t.Error("nil list contains a host")
	}
}

func TestParsePreloadListRejectsGarbage(t *testing.T) {
	if _, err := ParsePreloadList([]byte("{entries")); err == nil {
		t.Fatal("expected error")
	}
}
