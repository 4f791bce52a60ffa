// Package session implements the compile session lifecycle: the session
// record, its state machine, and the manager that persists sessions in the
// metastore and owns their working directories.
//
// A session owns a working directory <working_root>/<key>/ with two
// subdirectories: source/ holds the uploaded files and is the compiler's
// working directory, templates/ holds one JSON document per template. The
// record itself lives in the metastore under "session:<key>", and the key is
// a member of the per-instance session index set.
package session

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/p-arndt/setzkasten/internal/sandbox"
)

// Session statuses. Transitions are monotone:
// editable -> finalized -> (success | error).
const (
	StatusEditable  = "editable"
	StatusFinalized = "finalized"
	StatusSuccess   = "success"
	StatusError     = "error"
)

// Compilers supported by the render pipeline.
var Compilers = []string{"xelatex", "pdflatex", "lualatex"}

// ConvertFormats accepted for rasterization.
var ConvertFormats = []string{"jpeg", "png", "tiff"}

// Sentinel errors. ErrInvalidRequest and ErrInvalidState map to HTTP 400 and
// 403 at the API boundary.
var (
	ErrNotFound       = errors.New("session not found")
	ErrInvalidRequest = errors.New("invalid request")
	ErrInvalidState   = errors.New("invalid session state")
)

const (
	sourceDir   = "source"
	templateDir = "templates"
)

// Convert describes an optional rasterization of the compiled PDF.
type Convert struct {
	Format string `json:"format"`
	DPI    int    `json:"dpi"`
}

// Template is one parametric source file: text is expanded with data as the
// root namespace and written to source/<target> before compilation.
type Template struct {
	Target string         `json:"target"`
	Text   string         `json:"text"`
	Data   map[string]any `json:"data"`
}

// Record is the persisted session metadata. Created and ExpiresAt are
// fractional seconds since the Unix epoch. Product and Log are absolute
// paths inside the session working directory and are set only by the render
// pipeline.
type Record struct {
	Key       string   `json:"key"`
	Compiler  string   `json:"compiler"`
	Target    string   `json:"target"`
	Convert   *Convert `json:"convert,omitempty"`
	Created   float64  `json:"created"`
	ExpiresAt float64  `json:"expires_at"`
	Status    string   `json:"status"`
	Product   string   `json:"product,omitempty"`
	Log       string   `json:"log,omitempty"`
}

// SaveFunc persists the session record after a state transition.
type SaveFunc func(*Session) error

// Session is a live session: the record plus sandboxed access to its working
// directory.
type Session struct {
	Record

	fs        *sandbox.Sandbox
	sources   *sandbox.Sandbox
	templates *sandbox.Sandbox
	save      SaveFunc
}

// attach binds a record to its working directory, creating the source/ and
// templates/ subdirectories if needed.
func attach(rec Record, fs *sandbox.Sandbox, save SaveFunc) (*Session, error) {
	for _, dir := range []string{sourceDir, templateDir} {
		if !fs.Exists(dir) {
			if err := fs.MakeDirs(dir); err != nil {
				return nil, fmt.Errorf("creating %s: %w", dir, err)
			}
		}
	}
	sources, err := fs.Sub(sourceDir)
	if err != nil {
		return nil, err
	}
	templates, err := fs.Sub(templateDir)
	if err != nil {
		return nil, err
	}
	return &Session{
		Record:    rec,
		fs:        fs,
		sources:   sources,
		templates: templates,
		save:      save,
	}, nil
}

// Sources is the sandbox rooted at source/.
func (s *Session) Sources() *sandbox.Sandbox {
	return s.sources
}

// TemplateFS is the sandbox rooted at templates/.
func (s *Session) TemplateFS() *sandbox.Sandbox {
	return s.templates
}

// Files lists the relative paths of all files under source/.
func (s *Session) Files() ([]string, error) {
	return s.sources.AllFiles(".")
}

// Templates reconstructs the uploaded templates by reading every file in
// templates/, keyed by target.
func (s *Session) Templates() (map[string]Template, error) {
	names, err := s.templates.AllFiles(".")
	if err != nil {
		return nil, err
	}
	out := make(map[string]Template, len(names))
	for _, name := range names {
		f, err := s.templates.Open(name)
		if err != nil {
			return nil, err
		}
		var tpl Template
		err = json.NewDecoder(f).Decode(&tpl)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("decoding template %s: %w", name, err)
		}
		out[tpl.Target] = tpl
	}
	return out, nil
}

// WriteSource stores an uploaded file at source/<path>. Only allowed while
// the session is editable.
func (s *Session) WriteSource(path string, r io.Reader) error {
	if s.Status != StatusEditable {
		return fmt.Errorf("%w: session %s is %s, not editable", ErrInvalidState, s.Key, s.Status)
	}
	f, err := s.sources.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// PutTemplate stores a template document. The file name is the hex MD5 of
// the target so re-posting a template for the same target overwrites it.
// Only allowed while the session is editable.
func (s *Session) PutTemplate(tpl Template) error {
	if s.Status != StatusEditable {
		return fmt.Errorf("%w: session %s is %s, not editable", ErrInvalidState, s.Key, s.Status)
	}
	if tpl.Target == "" {
		return fmt.Errorf("%w: template target is required", ErrInvalidRequest)
	}
	sum := md5.Sum([]byte(tpl.Target))
	f, err := s.templates.Create(hex.EncodeToString(sum[:]))
	if err != nil {
		return err
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(tpl); err != nil {
		return fmt.Errorf("encoding template %s: %w", tpl.Target, err)
	}
	return nil
}

// SetConvert updates the rasterization spec. Only allowed while editable.
func (s *Session) SetConvert(c *Convert) error {
	if s.Status != StatusEditable {
		return fmt.Errorf("%w: session %s is %s, not editable", ErrInvalidState, s.Key, s.Status)
	}
	if err := ValidateConvert(c); err != nil {
		return err
	}
	s.Convert = c
	return s.save(s)
}

// Finalize locks the session for editing and releases it to a worker.
func (s *Session) Finalize() error {
	if s.Status != StatusEditable {
		return fmt.Errorf("%w: cannot finalize session %s in status %s", ErrInvalidState, s.Key, s.Status)
	}
	s.Status = StatusFinalized
	return s.save(s)
}

// SetComplete records a successful compilation. Product and log are absolute
// paths inside the working directory.
func (s *Session) SetComplete(product, log string) error {
	if s.Status != StatusFinalized {
		return fmt.Errorf("%w: cannot complete session %s in status %s", ErrInvalidState, s.Key, s.Status)
	}
	s.Status = StatusSuccess
	s.Product = product
	s.Log = log
	return s.save(s)
}

// SetErrored records a failed compilation, keeping the log for debugging.
func (s *Session) SetErrored(log string) error {
	if s.Status != StatusFinalized {
		return fmt.Errorf("%w: cannot mark session %s errored in status %s", ErrInvalidState, s.Key, s.Status)
	}
	s.Status = StatusError
	s.Log = log
	return s.save(s)
}

// Public is the client-visible view of a session. Product and log are
// surfaced as hyperlinks at the HTTP boundary, never as filesystem paths.
type Public struct {
	Key       string   `json:"key"`
	Created   float64  `json:"created"`
	ExpiresAt float64  `json:"expires_at"`
	Compiler  string   `json:"compiler"`
	Target    string   `json:"target"`
	Convert   *Convert `json:"convert,omitempty"`
	Files     []string `json:"files"`
	Status    string   `json:"status"`
}

// PublicView builds the non-secret view of the session.
func (s *Session) PublicView() (Public, error) {
	files, err := s.Files()
	if err != nil {
		return Public{}, err
	}
	return Public{
		Key:       s.Key,
		Created:   s.Created,
		ExpiresAt: s.ExpiresAt,
		Compiler:  s.Compiler,
		Target:    s.Target,
		Convert:   s.Convert,
		Files:     files,
		Status:    s.Status,
	}, nil
}

// ValidateConvert checks a rasterization spec. A nil spec is valid.
func ValidateConvert(c *Convert) error {
	if c == nil {
		return nil
	}
	valid := false
	for _, f := range ConvertFormats {
		if c.Format == f {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("%w: convert format must be one of jpeg, png, tiff, got %q", ErrInvalidRequest, c.Format)
	}
	if c.DPI < 10 || c.DPI > 10000 {
		return fmt.Errorf("%w: convert dpi must be between 10 and 10000, got %d", ErrInvalidRequest, c.DPI)
	}
	return nil
}

// SupportedCompiler reports whether name is a known compiler.
func SupportedCompiler(name string) bool {
	for _, c := range Compilers {
		if c == name {
			return true
		}
	}
	return false
}

// RedisKey converts a session key to the form used in the metastore.
func RedisKey(key string) string {
	return "session:" + key
}
