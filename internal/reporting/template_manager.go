package reporting

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/template"
)

const rankingTemplate = "ranking.tmpl"

const defaultRankingTemplate = `{{.Title}}
Generated {{.GeneratedAt.Format "2006-01-02 15:04:05 MST"}}
{{- range $rating, $n := .Ratings}}
  {{$rating}}: {{$n}}
{{- end}}

{{range .Entries -}}
{{printf "%4d" .Position}}  {{printf "%-14s" .Rating}} {{.SiteURL}}
{{- if not .Unrateable}}
      {{range $i, $g := groups $.GroupOrder .Groups}}{{if $i}} | {{end}}{{$g.Name}} {{$g.Rating}} ({{percent $g.GoodRatio}}){{end}}
{{- end}}
{{- range .Checks}}
        [{{.Rating}}] {{.Group}}/{{.Name}}: {{.Description}}
{{- end}}
{{end -}}
{{- with .Signature}}
signature: {{.}}
{{end -}}
`

type namedGroup struct {
	Name      string
	Rating    string
	GoodRatio float64
}

// DefaultFuncs are available to every template.
var DefaultFuncs = template.FuncMap{
	"upper": strings.ToUpper,
	"percent": func(ratio float64) string {
		return fmt.Sprintf("%.0f%%", ratio*100)
	},
	"groups": orderedGroups,
}

type TemplateManager struct {
	templates map[string]*template.Template
	mu        sync.RWMutex
}

func NewTemplateManager() *TemplateManager {
	tm := &TemplateManager{templates: make(map[string]*template.Template)}
	if err := tm.Register(rankingTemplate, defaultRankingTemplate, nil); err != nil {
		panic(err)
	}
	return tm
}

func (tm *TemplateManager) Register(name, tpl string, funcs template.FuncMap) error {
	parsed, err := parse(name, tpl, funcs)
	if err != nil {
		return err
	}
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.templates[name] = parsed
	return nil
}

// LoadDir registers every .tmpl file below dir under its base name, so a
// ranking.tmpl there replaces the built-in ranking layout.
func (tm *TemplateManager) LoadDir(dir string, funcs template.FuncMap) error {
	loaded := make(map[string]*template.Template)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(d.Name()) != ".tmpl" {
			return nil
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %q: %w", path, err)
		}
		parsed, err := parse(d.Name(), string(b), funcs)
		if err != nil {
			return err
		}
		loaded[d.Name()] = parsed
		return nil
	})
	if err != nil {
		return err
	}

	tm.mu.Lock()
	defer tm.mu.Unlock()
	for name, t := range loaded {
		tm.templates[name] = t
	}
	return nil
}

func parse(name, tpl string, funcs template.FuncMap) (*template.Template, error) {
	t := template.New(name).Funcs(DefaultFuncs)
	if funcs != nil {
		t = t.Funcs(funcs)
	}
	parsed, err := t.Parse(tpl)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", name, err)
	}
	return parsed, nil
}

func (tm *TemplateManager) Get(name string) (*template.Template, bool) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	t, ok := tm.templates[name]
	return t, ok
}

func (tm *TemplateManager) Names() []string {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	names := make([]string, 0, len(tm.templates))
	for name := range tm.templates {
		names = append(names, name)
	}
	return names
}
