package models

import (
	"fmt"
	"time"
)

const (
	ScanStatusPending  = "pending"
	ScanStatusRunning  = "running"
	ScanStatusFinished = "finished"
	ScanStatusAborted  = "aborted"
)

// ResultMap holds processed test results keyed by result name. Suites that run
// in the same stage must write disjoint keys.
type ResultMap map[string]interface{}

// Clone returns a deep copy of m. Nested maps and slices are copied so a
// holder of the clone cannot change values seen through m.
func (m ResultMap) Clone() ResultMap {
	if m == nil {
		return nil
	}
	out := make(ResultMap, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case ResultMap:
		return t.Clone()
	case map[string]interface{}:
		if t == nil {
			return t
		}
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[k] = cloneValue(e)
		}
		return out
	case map[string]string:
		if t == nil {
			return t
		}
		out := make(map[string]string, len(t))
		for k, e := range t {
			out[k] = e
		}
		return out
	case map[string]int:
		if t == nil {
			return t
		}
		out := make(map[string]int, len(t))
		for k, e := range t {
			out[k] = e
		}
		return out
	case []interface{}:
		if t == nil {
			return t
		}
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []map[string]interface{}:
		if t == nil {
			return t
		}
		out := make([]map[string]interface{}, len(t))
		for i, e := range t {
			out[i], _ = cloneValue(e).(map[string]interface{})
		}
		return out
	case []string:
		if t == nil {
			return t
		}
		return append([]string(nil), t...)
	case []int:
		if t == nil {
			return t
		}
		return append([]int(nil), t...)
	case []byte:
		if t == nil {
			return t
		}
		return append([]byte(nil), t...)
	}
	return v
}

// Merge copies every key of other into m and returns the keys that were
// already present.
func (m ResultMap) Merge(other ResultMap) []string {
	var overwritten []string
	for k, v := range other {
		if _, ok := m[k]; ok {
			overwritten = append(overwritten, k)
		}
		m[k] = v
	}
	return overwritten
}

type Site struct {
	ID        int64     `json:"id" yaml:"id"`
	URL       string    `json:"url" yaml:"url"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

type Scan struct {
	ID           string     `json:"id" yaml:"id"`
	SiteURL      string     `json:"site_url" yaml:"site_url"`
	Start        time.Time  `json:"start" yaml:"start"`
	End          *time.Time `json:"end,omitempty" yaml:"end,omitempty"`
	Aborted      bool       `json:"aborted" yaml:"aborted"`
	ErrorMessage string     `json:"error_message,omitempty" yaml:"error_message,omitempty"`
	Result       ResultMap  `json:"result,omitempty" yaml:"result,omitempty"`
}

func (s *Scan) Finished() bool { return s.End != nil }

func (s *Scan) Status() string {
	switch {
	case s.Aborted:
		return ScanStatusAborted
	case s.End != nil:
		return ScanStatusFinished
	case s.Start.IsZero():
		return ScanStatusPending
	default:
		return ScanStatusRunning
	}
}

func (s *Scan) Duration() time.Duration {
	if s.End == nil {
		return time.Since(s.Start)
	}
	return s.End.Sub(s.Start)
}

// RawArtifact is one unprocessed output of a test. It is persisted as-is and
// never consumed by later stages.
type RawArtifact struct {
	ScanID     string `json:"scan_id" yaml:"scan_id"`
	StageHost  string `json:"stage_host" yaml:"stage_host"`
	TestName   string `json:"test_name" yaml:"test_name"`
	Identifier string `json:"identifier" yaml:"identifier"`
	MimeType   string `json:"mime_type" yaml:"mime_type"`
	Data       []byte `json:"-" yaml:"-"`
	FilePath   string `json:"file_path,omitempty" yaml:"file_path,omitempty"`
}

type ScanError struct {
	ScanID   string    `json:"scan_id" yaml:"scan_id"`
	Host     string    `json:"host" yaml:"host"`
	TestName string    `json:"test_name" yaml:"test_name"`
	Message  string    `json:"message" yaml:"message"`
	Created  time.Time `json:"created" yaml:"created"`
}

func (e ScanError) String() string {
	return fmt.Sprintf("%s:%s:%s", e.Host, e.TestName, e.Message)
}

type ScanStats struct {
	TotalScans    int            `json:"total_scans" yaml:"total_scans"`
	RunningScans  int            `json:"running_scans" yaml:"running_scans"`
	FinishedScans int            `json:"finished_scans" yaml:"finished_scans"`
	AbortedScans  int            `json:"aborted_scans" yaml:"aborted_scans"`
	TotalErrors   int            `json:"total_errors" yaml:"total_errors"`
	ErrorsByTest  map[string]int `json:"errors_by_test" yaml:"errors_by_test"`
	Sites         int            `json:"sites" yaml:"sites"`
}
