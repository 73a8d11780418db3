package render

import (
	"context"
	"encoding/base64"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/examprep/examprep/pkg/errors"
	"github.com/examprep/examprep/pkg/proc"
	"github.com/examprep/examprep/pkg/tex"
)

// maxExcerpt caps the compiler diagnostics placed in error messages.
const maxExcerpt = 400

// State is a position in the render state machine.
type State int

// Render states in pipeline order. StateFailed is reachable from any of them.
const (
	StateReceived State = iota
	StateAssembled
	StateCompiling
	StateCompiled
	StateRasterizing
	StateRendered
	StateResponded
	StateFailed
)

var stateNames = [...]string{
	StateReceived:    "received",
	StateAssembled:   "assembled",
	StateCompiling:   "compiling",
	StateCompiled:    "compiled",
	StateRasterizing: "rasterizing",
	StateRendered:    "rendered",
	StateResponded:   "responded",
	StateFailed:      "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "State(" + strconv.Itoa(int(s)) + ")"
	}
	return stateNames[s]
}

// StageError records the state a render failed in. Err carries the error
// code.
type StageError struct {
	State State
	Err   error
}

func (e *StageError) Error() string { return e.Err.Error() }
func (e *StageError) Unwrap() error { return e.Err }

// stateOf returns the failing state of err, or StateFailed when unknown.
func stateOf(err error) State {
	var se *StageError
	if stderrors.As(err, &se) {
		return se.State
	}
	return StateFailed
}

// compile writes the document and runs the compiler once. Any non-zero exit,
// timeout or missing PDF is a compilation failure.
func (r *Renderer) compile(ctx context.Context, ws workspaceDir, doc string) error {
	if err := os.WriteFile(ws.Path(sourceFile), []byte(doc), 0o600); err != nil {
		return errors.Wrap(errors.ErrCodeIO, err, "write document")
	}

	_, err := proc.Run(ctx, proc.Command{
		Path: r.Options.CompilerPath,
		Args: []string{
			"-interaction=nonstopmode",
			"-halt-on-error",
			"-no-shell-escape",
			"-output-directory=" + ws.Path(""),
			sourceFile,
		},
		Dir:     ws.Path(""),
		Timeout: r.Options.CompileTimeout,
	})
	if err != nil {
		return errors.Wrap(errors.ErrCodeCompilation, describe(err, true), "compilation failed")
	}

	if _, err := os.Stat(ws.Path(compiledFile)); err != nil {
		return errors.New(errors.ErrCodeCompilation, "compilation failed: compiler produced no %s", compiledFile)
	}
	return nil
}

// rasterize converts the first page of the compiled PDF into a single PNG.
func (r *Renderer) rasterize(ctx context.Context, ws workspaceDir) error {
	_, err := proc.Run(ctx, proc.Command{
		Path: r.Options.ConverterPath,
		Args: []string{
			"-png",
			"-singlefile",
			"-r", strconv.Itoa(r.Options.DPI),
			ws.Path(compiledFile),
			ws.Path(imageStem),
		},
		Dir:     ws.Path(""),
		Timeout: r.Options.RasterizeTimeout,
	})
	if err != nil {
		return errors.Wrap(errors.ErrCodeRasterization, describe(err, false), "rasterization failed")
	}

	if _, err := os.Stat(ws.Path(imageFile)); err != nil {
		return errors.New(errors.ErrCodeRasterization, "rasterization failed: converter produced no %s", imageFile)
	}
	return nil
}

// readImage loads the rendered PNG, enforcing the size cap first so an
// oversized image is never read into memory.
func (r *Renderer) readImage(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return nil, errors.Wrap(errors.ErrCodeIO, err, "read image")
		}
		return nil, errors.Wrap(errors.ErrCodeIO, err, "stat image")
	}
	if limit := r.Options.MaxImageBytes; limit > 0 && info.Size() > limit {
		return nil, errors.New(errors.ErrCodeRasterization, "rendered image is %d bytes, limit is %d", info.Size(), limit)
	}

	png, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeIO, err, "read image")
	}
	return png, nil
}

// describe turns a proc failure into a readable cause. For the compiler the
// "!" diagnostics from its log are more useful than the raw stderr.
func describe(err error, latex bool) error {
	var pe *proc.Error
	if !stderrors.As(err, &pe) {
		return err
	}
	if pe.TimedOut() || !latex {
		return err
	}
	if excerpt := tex.Excerpt(pe.Output(), maxExcerpt); excerpt != "" {
		return fmt.Errorf("%s: %w: %s", pe.Name, pe.Err, excerpt)
	}
	return err
}

// EncodeDataURL returns png as a "data:image/png;base64,..." URL.
func EncodeDataURL(png []byte) string {
	const prefix = "data:image/png;base64,"
	buf := make([]byte, len(prefix)+base64.StdEncoding.EncodedLen(len(png)))
	copy(buf, prefix)
	base64.StdEncoding.Encode(buf[len(prefix):], png)
	return string(buf)
}

// workspaceDir is the part of *workspace.Workspace the stages use.
type workspaceDir interface {
	Path(name string) string
}
