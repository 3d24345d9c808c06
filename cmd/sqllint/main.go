// Command sqllint checks that every inline SQL constant starts with a
// "--sql <uuid>" audit marker and that no marker is reused.
package main

import (
	"flag"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

var sqlKeyword = regexp.MustCompile(`(?i)\b(select|insert|update|delete|with)\b`)

const markerPrefix = "--sql "

type finding struct {
	pos     token.Position
	name    string
	message string
}

func (f finding) String() string {
	return fmt.Sprintf("%s:%d %s (%s)", f.pos.Filename, f.pos.Line, f.message, f.name)
}

type linter struct {
	fset *token.FileSet
	seen map[string]token.Position
}

func newLinter() *linter {
	return &linter{fset: token.NewFileSet(), seen: map[string]token.Position{}}
}

func main() {
	flag.Parse()
	targets := flag.Args()
	if len(targets) == 0 {
		targets = []string{"internal/sqlinline"}
	}

	l := newLinter()
	var findings []finding
	for _, target := range targets {
		found, err := l.lintPath(target)
		if err != nil {
			fmt.Fprintf(os.Stderr, "sqllint: %v\n", err)
			os.Exit(1)
		}
		findings = append(findings, found...)
	}

	if len(findings) > 0 {
		fmt.Fprintln(os.Stderr, "sqllint: SQL audit marker problems")
		for _, f := range findings {
			fmt.Fprintf(os.Stderr, "  %s\n", f)
		}
		os.Exit(1)
	}
}

func (l *linter) lintPath(target string) ([]finding, error) {
	info, err := os.Stat(target)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		if filepath.Ext(target) != ".go" {
			return nil, nil
		}
		src, err := os.ReadFile(target)
		if err != nil {
			return nil, err
		}
		return l.lintSource(target, src)
	}

	var findings []finding
	err = filepath.WalkDir(target, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if path != target && (strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") || name == "vendor") {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) != ".go" || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		src, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		found, err := l.lintSource(path, src)
		findings = append(findings, found...)
		return err
	})
	return findings, err
}

// lintSource inspects string constants and variables in one Go file.
func (l *linter) lintSource(filename string, src []byte) ([]finding, error) {
	file, err := parser.ParseFile(l.fset, filename, src, parser.ParseComments)
	if err != nil {
		return nil, err
	}
	var findings []finding
	ast.Inspect(file, func(n ast.Node) bool {
		spec, ok := n.(*ast.ValueSpec)
		if !ok {
			return true
		}
		for _, value := range spec.Values {
			lit, ok := value.(*ast.BasicLit)
			if !ok || lit.Kind != token.STRING {
				continue
			}
			raw, err := unquote(lit.Value)
			if err != nil || !sqlKeyword.MatchString(raw) {
				continue
			}
			pos := l.fset.Position(lit.Pos())
			name := joinNames(spec.Names)
			id, ok := markerID(raw)
			if !ok {
				findings = append(findings, finding{pos: pos, name: name, message: "missing or invalid --sql <uuid> marker"})
				continue
			}
			if prev, dup := l.seen[id]; dup {
				findings = append(findings, finding{
					pos:     pos,
					name:    name,
					message: fmt.Sprintf("marker %s already used at %s:%d", id, prev.Filename, prev.Line),
				})
				continue
			}
			l.seen[id] = pos
		}
		return true
	})
	return findings, nil
}

// markerID returns the normalized uuid from the first line of a query.
func markerID(query string) (string, bool) {
	line := firstLine(query)
	if !strings.HasPrefix(line, markerPrefix) {
		return "", false
	}
	raw := strings.TrimSpace(strings.TrimPrefix(line, markerPrefix))
	// uuid.Parse also accepts urn and braced forms; only the canonical one counts.
	if len(raw) != 36 {
		return "", false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", false
	}
	return id.String(), true
}

func firstLine(s string) string {
	s = strings.TrimLeft(s, "\n\r \t")
	if idx := strings.IndexAny(s, "\n\r"); idx >= 0 {
		return strings.TrimSpace(s[:idx])
	}
	return strings.TrimSpace(s)
}

func unquote(v string) (string, error) {
	if len(v) >= 2 && v[0] == '`' {
		return v[1 : len(v)-1], nil
	}
	return strconv.Unquote(v)
}

func joinNames(idents []*ast.Ident) string {
	parts := make([]string, 0, len(idents))
	for _, ident := range idents {
		if ident != nil {
			parts = append(parts, ident.Name)
		}
	}
	return strings.Join(parts, ",")
}
