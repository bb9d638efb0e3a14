package report

import (
	"bufio"
	"bytes"
	"fmt"
	"html/template"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/dkoosis/covgate/pkg/coverage"
)

var indexTmpl = template.Must(template.New("index").Funcs(funcs).Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<title>{{.Name}} coverage</title>
<style>
body { font-family: sans-serif; margin: 2em; }
table { border-collapse: collapse; }
th, td { padding: 0.2em 0.8em; text-align: left; border-bottom: 1px solid #ddd; }
td.num { text-align: right; }
tr.pkg td { font-weight: bold; background: #f4f4f4; }
</style>
</head>
<body>
<h1>{{.Name}}</h1>
<p>Lines covered: {{.Counter.Covered}} of {{.Counter.Total}} ({{ratio .Counter}})</p>
<table>
<tr><th>Element</th><th>Missed</th><th>Covered</th><th>Ratio</th></tr>
{{- range .Packages}}
<tr class="pkg"><td>{{pkgName .Name}}</td><td class="num">{{.Counter.Missed}}</td><td class="num">{{.Counter.Covered}}</td><td class="num">{{ratio .Counter}}</td></tr>
{{- range .Files}}
<tr><td>{{if .Link}}<a href="{{.Link}}">{{.Name}}</a>{{else}}{{.Name}}{{end}}</td><td class="num">{{.Counter.Missed}}</td><td class="num">{{.Counter.Covered}}</td><td class="num">{{ratio .Counter}}</td></tr>
{{- end}}
{{- end}}
</table>
</body>
</html>
`))

var sourceTmpl = template.Must(template.New("source").Funcs(funcs).Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<title>{{.Name}}</title>
<style>
pre { line-height: 1.3; }
span.fc { background: #ccffcc; }
span.nc { background: #ffaaaa; }
span.nr { color: #999; display: inline-block; width: 4em; }
</style>
</head>
<body>
<h1>{{pkgName .Package}} / {{.Name}}</h1>
<p>Lines covered: {{.Counter.Covered}} of {{.Counter.Total}} ({{ratio .Counter}})</p>
<pre>
{{- range .Lines}}
<span class="nr">{{.Number}}</span><span class="{{.Class}}">{{.Text}}</span>
{{- end}}
</pre>
<p><a href="{{.Up}}index.html">index</a></p>
</body>
</html>
`))

var funcs = template.FuncMap{
	"ratio": func(c coverage.Counter) string {
		r, ok := c.Ratio()
		if !ok {
			return "n/a"
		}
		f, _ := r.Float64()
		return fmt.Sprintf("%.1f%%", f*100)
	},
	"pkgName": displayPackage,
}

type indexPage struct {
	Name     string
	Counter  coverage.Counter
	Packages []indexPackage
}

type indexPackage struct {
	Name    string
	Counter coverage.Counter
	Files   []indexFile
}

type indexFile struct {
	Name    string
	Link    string
	Counter coverage.Counter
}

type sourcePage struct {
	Package string
	Name    string
	Counter coverage.Counter
	Lines   []sourceLine
	Up      string
}

type sourceLine struct {
	Number int
	Text   string
	Class  string // fc covered, nc missed, empty when not executable
}

func displayPackage(name string) string {
	if name == "" {
		return "(default)"
	}
	return strings.ReplaceAll(name, "/", ".")
}

// WriteHTML renders b into dir: an index of packages and source files, plus
// one annotated page per source file found under sourceDirs. dir is
// replaced as a whole.
func WriteHTML(dir string, b *coverage.Bundle, sourceDirs []string) (err error) {
	parent := filepath.Dir(dir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("creating report directory: %w", err)
	}
	tmpDir, err := os.MkdirTemp(parent, filepath.Base(dir)+".tmp.*")
	if err != nil {
		return fmt.Errorf("creating staging directory: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = os.RemoveAll(tmpDir)
		}
	}()

	idx := indexPage{Name: b.Name, Counter: b.Counter}
	for _, p := range b.Packages {
		ip := indexPackage{Name: p.Name, Counter: p.Counter}
		for _, sf := range SourceFiles(p) {
			f := indexFile{Name: sf.Name, Counter: sf.Counter}
			src, found, err := readSource(sourceDirs, sf.Package, sf.Name)
			if err != nil {
				return err
			}
			if found {
				f.Link = path.Join(displayPackage(sf.Package), sf.Name+".html")
				if err := writeSourcePage(tmpDir, f.Link, sf, src); err != nil {
					return err
				}
			}
			ip.Files = append(ip.Files, f)
		}
		idx.Packages = append(idx.Packages, ip)
	}

	var buf bytes.Buffer
	if err := indexTmpl.Execute(&buf, idx); err != nil {
		return fmt.Errorf("rendering index: %w", err)
	}
	if err := os.WriteFile(filepath.Join(tmpDir, "index.html"), buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing index: %w", err)
	}
	if err := os.Chmod(tmpDir, 0o755); err != nil {
		return err
	}

	_ = os.RemoveAll(dir)
	if err := os.Rename(tmpDir, dir); err != nil {
		return fmt.Errorf("committing html report: %w", err)
	}
	committed = true
	return nil
}

func writeSourcePage(root, link string, sf SourceFile, src []string) error {
	status := make(map[int]string, len(sf.Lines))
	for _, l := range sf.Lines {
		if l.Covered() {
			status[l.Number] = "fc"
		} else {
			status[l.Number] = "nc"
		}
	}
	page := sourcePage{Package: sf.Package, Name: sf.Name, Counter: sf.Counter, Up: "../"}
	for i, text := range src {
		page.Lines = append(page.Lines, sourceLine{Number: i + 1, Text: text, Class: status[i+1]})
	}

	var buf bytes.Buffer
	if err := sourceTmpl.Execute(&buf, page); err != nil {
		return fmt.Errorf("rendering %s: %w", sf.Name, err)
	}
	out := filepath.Join(root, filepath.FromSlash(link))
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return err
	}
	return os.WriteFile(out, buf.Bytes(), 0o644)
}

// readSource finds pkg/name under the first source dir containing it.
func readSource(sourceDirs []string, pkg, name string) ([]string, bool, error) {
	for _, dir := range sourceDirs {
		p := filepath.Join(dir, filepath.FromSlash(pkg), name)
		f, err := os.Open(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, false, fmt.Errorf("opening source %s: %w", p, err)
		}
		var lines []string
		sc := bufio.NewScanner(f)
		sc.Buffer(make([]byte, 64*1024), 1024*1024)
		for sc.Scan() {
			lines = append(lines, sc.Text())
		}
		err = sc.Err()
		_ = f.Close()
		if err != nil {
			return nil, false, fmt.Errorf("reading source %s: %w", p, err)
		}
		return lines, true, nil
	}
	return nil, false, nil
}
