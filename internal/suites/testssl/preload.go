package testssl

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

type preloadEntry struct {
	Name              string `json:"name"`
	IncludeSubdomains bool   `json:"include_subdomains"`
	Mode              string `json:"mode"`
}

// PreloadList is the HSTS preload list shipped with Chromium
// (transport_security_state_static.json). A nil list contains nothing.
type PreloadList struct {
	entries map[string]preloadEntry
}

func LoadPreloadList(path string) (*PreloadList, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read preload list: %w", err)
	}
	return ParsePreloadList(data)
}

// ParsePreloadList accepts the Chromium file format, which is JSON with
// whole-line // comments.
func ParsePreloadList(data []byte) (*PreloadList, error) {
	var clean bytes.Buffer
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(strings.TrimSpace(line), "//") {
			continue
		}
		clean.WriteString(line)
		clean.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	var doc struct {
		Entries []preloadEntry `json:"entries"`
	}
	if err := json.Unmarshal(clean.Bytes(), &doc); err != nil {
		return nil, fmt.Errorf("failed to parse preload list: %w", err)
	}

	list := &PreloadList{entries: make(map[string]preloadEntry, len(doc.Entries))}
	for _, e := range doc.Entries {
		if e.Mode != "force-https" {
			continue
		}
		list.entries[strings.ToLower(e.Name)] = e
	}
	return list, nil
}

func (p *PreloadList) Len() int {
	if p == nil {
		return 0
	}
	return len(p.entries)
}

// Contains reports whether host is preloaded, either directly or through a
// parent domain that includes subdomains.
func (p *PreloadList) Contains(host string) bool {
	if p == nil || host == "" {
		return false
	}
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if _, ok := p.entries[host]; ok {
		return true
	}
	for {
		dot := strings.IndexByte(host, '.')
		if dot < 0 {
			return false
		}
		host = host[dot+1:]
		if e, ok := p.entries[host]; ok && e.IncludeSubdomains {
			return true
		}
	}
}
