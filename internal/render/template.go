package render

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/nikolalohinski/gonja/v2"
	"github.com/nikolalohinski/gonja/v2/config"
	"github.com/nikolalohinski/gonja/v2/exec"
	"github.com/nikolalohinski/gonja/v2/loaders"

	"github.com/p-arndt/setzkasten/internal/session"
)

// Template delimiters are chosen so the engine's syntax cannot collide with
// TeX source: TeX treats a lone backslash command or a % comment as its own
// syntax, so plain Jinja-style {{ }} / {% %} markers are unusable here.
const (
	blockStart   = `\BLOCK{`
	blockEnd     = `}`
	exprStart    = `\EXPR{`
	exprEnd      = `}`
	commentStart = `\#{`
	commentEnd   = `}`
	lineStmt     = `%#`
	lineComment  = `%##`
)

func templateConfig() *config.Config {
	cfg := config.New()
	cfg.BlockStartString = blockStart
	cfg.BlockEndString = blockEnd
	cfg.VariableStartString = exprStart
	cfg.VariableEndString = exprEnd
	cfg.CommentStartString = commentStart
	cfg.CommentEndString = commentEnd
	cfg.TrimBlocks = true
	cfg.AutoEscape = false
	return cfg
}

// preprocessLines rewrites %# line statements into block form and drops %##
// line comments; the engine itself has no line-statement mode.
func preprocessLines(text string) string {
	lines := strings.Split(text, "\n")
	out := lines[:0]
	for _, line := range lines {
		trimmed := strings.TrimLeft(line, " \t")
		switch {
		case strings.HasPrefix(trimmed, lineComment):
			continue
		case strings.HasPrefix(trimmed, lineStmt):
			stmt := strings.TrimSpace(strings.TrimPrefix(trimmed, lineStmt))
			out = append(out, blockStart+stmt+blockEnd)
		default:
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// renderTemplate expands tpl.Text with tpl.Data as the root namespace.
func renderTemplate(tpl session.Template) (string, error) {
	const id = "/template"
	loader, err := loaders.NewMemoryLoader(map[string]string{id: preprocessLines(tpl.Text)})
	if err != nil {
		return "", fmt.Errorf("loading template %s: %w", tpl.Target, err)
	}
	compiled, err := exec.NewTemplate(id, templateConfig(), loader, gonja.DefaultEnvironment)
	if err != nil {
		return "", fmt.Errorf("parsing template %s: %w", tpl.Target, err)
	}
	var buf bytes.Buffer
	if err := compiled.Execute(&buf, exec.NewContext(tpl.Data)); err != nil {
		return "", fmt.Errorf("rendering template %s: %w", tpl.Target, err)
	}
	return buf.String(), nil
}

// expandTemplates renders every uploaded template into source/<target>,
// creating intermediate directories inside the sandbox.
func expandTemplates(sess *session.Session) error {
	templates, err := sess.Templates()
	if err != nil {
		return err
	}
	for _, tpl := range templates {
		text, err := renderTemplate(tpl)
		if err != nil {
			return err
		}
		f, err := sess.Sources().Create(tpl.Target)
		if err != nil {
			return err
		}
		_, err = f.WriteString(text)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("writing %s: %w", tpl.Target, err)
		}
	}
	return nil
}
