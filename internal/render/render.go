// Package render drives a finalized session to completion: it expands
// templates into source files, runs the LaTeX compiler until the log stops
// asking for another pass, optionally rasterizes the PDF, and commits the
// outcome to the session. Compile failures never escape as errors; they
// become status=error with a readable log. Only configuration problems
// (missing session, unknown binary) surface to the task runner.
package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/p-arndt/setzkasten/internal/metrics"
	"github.com/p-arndt/setzkasten/internal/session"
)

// maxPasses caps the compile fixed point. LaTeX needs multiple passes to
// converge cross-references; the "Rerun" token in the log is its own
// convergence signal.
const maxPasses = 5

// rerunToken in the compiler log requests another pass.
const rerunToken = "Rerun"

// Runner executes one external command in dir. Implementations must treat a
// non-zero exit status as success: LaTeX toolchains exit non-zero even when
// they produce usable output.
type Runner func(ctx context.Context, dir, name string, args ...string) error

// execRunner is the production Runner: stdout and stderr are discarded, the
// log file on disk is the only record of the run.
func execRunner(ctx context.Context, dir, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	err := cmd.Run()
	// A deadline kill also surfaces as an ExitError ("signal: killed"); the
	// context verdict must win over the exit-status swallow.
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

// Result is the outcome of one render pipeline run.
type Result struct {
	Success bool
	Product string
	Log     string
}

// Renderer compiles sessions.
type Renderer struct {
	mgr     *session.Manager
	logger  *slog.Logger
	run     Runner
	timeout time.Duration
}

// New builds a Renderer. timeout bounds each external process invocation.
func New(mgr *session.Manager, logger *slog.Logger, timeout time.Duration) *Renderer {
	return &Renderer{
		mgr:     mgr,
		logger:  logger,
		run:     execRunner,
		timeout: timeout,
	}
}

// Compile loads the session and runs the full pipeline. A session that is no
// longer finalized (double-finalize race, or already swept to completion) is
// a no-op. The returned error is fatal: the worker logs it and abandons the
// job, leaving the session to the sweeper.
func (r *Renderer) Compile(ctx context.Context, key string) error {
	sess, err := r.mgr.Load(ctx, key)
	if err != nil {
		return fmt.Errorf("loading session for compile: %w", err)
	}
	if sess.Status != session.StatusFinalized {
		r.logger.Info("skipping compile, session not finalized",
			"session_key", key, "status", sess.Status)
		return nil
	}
	if !session.SupportedCompiler(sess.Compiler) {
		return fmt.Errorf("compiler %q is not supported", sess.Compiler)
	}

	start := time.Now()
	result, err := r.renderAndCompile(ctx, sess)
	if err != nil {
		return err
	}

	if result.Success && sess.Convert != nil {
		r.logger.Info("rasterizing product",
			"session_key", key, "format", sess.Convert.Format, "dpi", sess.Convert.DPI)
		result = r.rasterize(ctx, sess, result)
	}

	metrics.CompileDuration.Observe(time.Since(start).Seconds())
	if result.Success {
		r.logger.Info("compilation successful", "session_key", key, "product", result.Product)
		metrics.CompilationsTotal.WithLabelValues("success").Inc()
		return sess.SetComplete(result.Product, result.Log)
	}
	r.logger.Info("compilation failed", "session_key", key, "log", result.Log)
	metrics.CompilationsTotal.WithLabelValues("error").Inc()
	return sess.SetErrored(result.Log)
}

// renderAndCompile expands templates and iterates the compiler until the log
// stops containing the rerun token, up to maxPasses. Success is determined
// solely by the existence of <key>.pdf; exit codes are ignored.
func (r *Renderer) renderAndCompile(ctx context.Context, sess *session.Session) (Result, error) {
	sourceRoot := sess.Sources().Root()
	logPath := filepath.Join(sourceRoot, sess.Key+".log")
	productPath := filepath.Join(sourceRoot, sess.Key+".pdf")

	if err := expandTemplates(sess); err != nil {
		// Bad template input is the client's compile failure, not ours.
		r.logger.Warn("template expansion failed", "session_key", sess.Key, "error", err)
		appendToLog(logPath, "Template expansion failed: "+err.Error())
		return Result{Success: false, Log: logPath}, nil
	}

	args := []string{"-interaction=nonstopmode", "-jobname=" + sess.Key, sess.Target}
	for pass := 1; pass <= maxPasses; pass++ {
		runCtx, cancel := context.WithTimeout(ctx, r.timeout)
		err := r.run(runCtx, sourceRoot, sess.Compiler, args...)
		cancel()
		if errors.Is(err, context.DeadlineExceeded) {
			appendToLog(logPath, fmt.Sprintf("Compiler timed out after %s on pass %d", r.timeout, pass))
			break
		}
		if err != nil {
			return Result{}, fmt.Errorf("running %s: %w", sess.Compiler, err)
		}

		logData, err := os.ReadFile(logPath)
		if err != nil || !bytes.Contains(logData, []byte(rerunToken)) {
			break
		}
		r.logger.Debug("log requests another pass", "session_key", sess.Key, "pass", pass)
	}

	if _, err := os.Stat(productPath); err != nil {
		return Result{Success: false, Log: logPath}, nil
	}
	return Result{Success: true, Product: productPath, Log: logPath}, nil
}

// rasterize converts the PDF product to an image with pdftoppm. The new file
// is found by diffing the directory listing around the invocation; anything
// other than exactly one new file fails the conversion.
func (r *Renderer) rasterize(ctx context.Context, sess *session.Session, in Result) Result {
	dir, fileName := filepath.Split(in.Product)
	base := fileName[:len(fileName)-len(filepath.Ext(fileName))]

	before, err := listNames(dir)
	if err != nil {
		appendToLog(in.Log, "Failed on conversion to image: "+err.Error())
		return Result{Success: false, Log: in.Log}
	}

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	err = r.run(runCtx, dir, "pdftoppm",
		"-singlefile", "-"+sess.Convert.Format, "-r", fmt.Sprintf("%d", sess.Convert.DPI),
		fileName, base)
	cancel()
	if err != nil {
		appendToLog(in.Log, "Failed on conversion to image: "+err.Error())
		return Result{Success: false, Log: in.Log}
	}

	after, err := listNames(dir)
	if err != nil {
		appendToLog(in.Log, "Failed on conversion to image: "+err.Error())
		return Result{Success: false, Log: in.Log}
	}

	var created []string
	for name := range after {
		if !before[name] {
			created = append(created, name)
		}
	}
	if len(created) != 1 {
		appendToLog(in.Log, fmt.Sprintf("Failed on conversion to image: expected 1 new file, found %d", len(created)))
		return Result{Success: false, Log: in.Log}
	}

	// The intermediate PDF stays on disk; only the product path moves.
	return Result{Success: true, Product: filepath.Join(dir, created[0]), Log: in.Log}
}

func listNames(dir string) (map[string]bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make(map[string]bool, len(entries))
	for _, e := range entries {
		names[e.Name()] = true
	}
	return names, nil
}

func appendToLog(logPath, note string) {
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	fmt.Fprintln(f, note)
}
