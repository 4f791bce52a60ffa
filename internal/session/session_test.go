package session

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func editableSession(t *testing.T) *Session {
	t.Helper()
	mgr := newTestManager(t)
	sess, err := mgr.Create(context.Background(), "xelatex", "main.tex", nil)
	require.NoError(t, err)
	return sess
}

func TestStateMachine_FromEditable(t *testing.T) {
	sess := editableSession(t)

	assert.ErrorIs(t, sess.SetComplete("p.pdf", "p.log"), ErrInvalidState)
	assert.ErrorIs(t, sess.SetErrored("p.log"), ErrInvalidState)

	require.NoError(t, sess.Finalize())
	assert.Equal(t, StatusFinalized, sess.Status)
}

func TestStateMachine_FromFinalized(t *testing.T) {
	sess := editableSession(t)
	require.NoError(t, sess.Finalize())

	assert.ErrorIs(t, sess.Finalize(), ErrInvalidState)

	require.NoError(t, sess.SetComplete("p.pdf", "p.log"))
	assert.Equal(t, StatusSuccess, sess.Status)
	assert.Equal(t, "p.pdf", sess.Product)
	assert.Equal(t, "p.log", sess.Log)
}

func TestStateMachine_Terminal(t *testing.T) {
	for _, finish := range []func(*Session) error{
		func(s *Session) error { return s.SetComplete("p.pdf", "p.log") },
		func(s *Session) error { return s.SetErrored("p.log") },
	} {
		sess := editableSession(t)
		require.NoError(t, sess.Finalize())
		require.NoError(t, finish(sess))

		assert.ErrorIs(t, sess.Finalize(), ErrInvalidState)
		assert.ErrorIs(t, sess.SetComplete("q.pdf", "q.log"), ErrInvalidState)
		assert.ErrorIs(t, sess.SetErrored("q.log"), ErrInvalidState)
	}
}

func TestWriteSource_OnlyWhileEditable(t *testing.T) {
	sess := editableSession(t)

	require.NoError(t, sess.WriteSource("chapters/one.tex", strings.NewReader("\\section{One}")))
	files, err := sess.Files()
	require.NoError(t, err)
	assert.Equal(t, []string{"chapters/one.tex"}, files)

	require.NoError(t, sess.Finalize())
	err = sess.WriteSource("late.tex", strings.NewReader("too late"))
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestPutTemplate_RoundTrip(t *testing.T) {
	sess := editableSession(t)

	tpl := Template{
		Target: "rendered.tex",
		Text:   `\EXPR{name}`,
		Data:   map[string]any{"name": "A"},
	}
	require.NoError(t, sess.PutTemplate(tpl))

	// Re-posting the same target overwrites instead of accumulating.
	tpl.Data = map[string]any{"name": "B"}
	require.NoError(t, sess.PutTemplate(tpl))

	templates, err := sess.Templates()
	require.NoError(t, err)
	require.Len(t, templates, 1)
	assert.Equal(t, "B", templates["rendered.tex"].Data["name"])

	names, err := sess.TemplateFS().AllFiles(".")
	require.NoError(t, err)
	require.Len(t, names, 1)

	require.NoError(t, sess.Finalize())
	assert.ErrorIs(t, sess.PutTemplate(tpl), ErrInvalidState)
}

func TestPutTemplate_RequiresTarget(t *testing.T) {
	sess := editableSession(t)
	err := sess.PutTemplate(Template{Text: "hi"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestValidateConvert(t *testing.T) {
	assert.NoError(t, ValidateConvert(nil))
	assert.NoError(t, ValidateConvert(&Convert{Format: "png", DPI: 600}))
	assert.NoError(t, ValidateConvert(&Convert{Format: "jpeg", DPI: 10}))
	assert.NoError(t, ValidateConvert(&Convert{Format: "tiff", DPI: 10000}))

	assert.ErrorIs(t, ValidateConvert(&Convert{Format: "gif", DPI: 600}), ErrInvalidRequest)
	assert.ErrorIs(t, ValidateConvert(&Convert{Format: "png", DPI: 9}), ErrInvalidRequest)
	assert.ErrorIs(t, ValidateConvert(&Convert{Format: "png", DPI: 10001}), ErrInvalidRequest)
}

func TestPublicView(t *testing.T) {
	sess := editableSession(t)
	require.NoError(t, sess.WriteSource("main.tex", strings.NewReader("x")))

	pub, err := sess.PublicView()
	require.NoError(t, err)
	assert.Equal(t, sess.Key, pub.Key)
	assert.Equal(t, "xelatex", pub.Compiler)
	assert.Equal(t, "main.tex", pub.Target)
	assert.Equal(t, StatusEditable, pub.Status)
	assert.Equal(t, []string{"main.tex"}, pub.Files)
	assert.Equal(t, sess.Created+300, pub.ExpiresAt)
}
