package render

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-arndt/setzkasten/internal/session"
)

func TestRenderTemplate_Expressions(t *testing.T) {
	out, err := renderTemplate(session.Template{
		Target: "rendered.tex",
		Text:   "\\EXPR{name_1}\n\\EXPR{data2.name}",
		Data: map[string]any{
			"name_1": "A",
			"data2":  map[string]any{"name": "B"},
		},
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "A\nB"))
}

func TestRenderTemplate_Blocks(t *testing.T) {
	out, err := renderTemplate(session.Template{
		Target: "list.tex",
		Text:   "\\BLOCK{for item in items}\\EXPR{item}\n\\BLOCK{endfor}",
		Data:   map[string]any{"items": []any{"x", "y"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "x\ny\n", out)
}

func TestRenderTemplate_Comments(t *testing.T) {
	out, err := renderTemplate(session.Template{
		Target: "c.tex",
		Text:   "keep\\#{dropped}",
		Data:   map[string]any{},
	})
	require.NoError(t, err)
	assert.Equal(t, "keep", out)
}

func TestRenderTemplate_Indexing(t *testing.T) {
	out, err := renderTemplate(session.Template{
		Target: "i.tex",
		Text:   "\\EXPR{rows.0}",
		Data:   map[string]any{"rows": []any{"first", "second"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "first", out)
}

func TestRenderTemplate_TeXPassthrough(t *testing.T) {
	// Ordinary TeX syntax must survive untouched.
	text := `\documentclass{article}
\begin{document}
Hello, \EXPR{who}.
\end{document}`
	out, err := renderTemplate(session.Template{
		Target: "doc.tex",
		Text:   text,
		Data:   map[string]any{"who": "world"},
	})
	require.NoError(t, err)
	assert.Contains(t, out, `\documentclass{article}`)
	assert.Contains(t, out, "Hello, world.")
}

func TestPreprocessLines(t *testing.T) {
	in := "before\n%# if flag\nbody\n%# endif\n%## a comment\nafter"
	want := "before\n\\BLOCK{if flag}\nbody\n\\BLOCK{endif}\nafter"
	assert.Equal(t, want, preprocessLines(in))
}

func TestRenderTemplate_LineStatements(t *testing.T) {
	out, err := renderTemplate(session.Template{
		Target: "ls.tex",
		Text:   "%# if show\nvisible\n%# endif\n%## never rendered",
		Data:   map[string]any{"show": true},
	})
	require.NoError(t, err)
	assert.Contains(t, out, "visible")
	assert.NotContains(t, out, "never rendered")
}

func TestExpandTemplates_WritesToSource(t *testing.T) {
	mgr := newTestManager(t)
	sess, err := mgr.Create(context.Background(), "xelatex", "rendered.tex", nil)
	require.NoError(t, err)

	require.NoError(t, sess.PutTemplate(session.Template{
		Target: "sub/rendered.tex",
		Text:   "\\EXPR{name_1}\n\\EXPR{data2.name}",
		Data: map[string]any{
			"name_1": "A",
			"data2":  map[string]any{"name": "B"},
		},
	}))

	require.NoError(t, expandTemplates(sess))

	f, err := sess.Sources().Open("sub/rendered.tex")
	require.NoError(t, err)
	defer f.Close()
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "A\nB"))
}
