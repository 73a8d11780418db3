package dot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/examprep/examprep/pkg/proc"
)

// Exec renders DOT through an external dot-compatible command. The source is
// written to the command's stdin and the image read from its stdout, so no
// workspace is needed.
type Exec struct {
	Path    string        // dot binary, or the examprep binary itself
	Args    []string      // arguments placed before -T<format>, e.g. "graphviz"
	Timeout time.Duration // wall-clock bound; the process group is killed after it
}

// Render runs the command once. A non-zero exit means the tool rejected the
// source and is reported as a *ParseError. Timeouts and spawn failures are
// returned as *proc.Error.
func (e Exec) Render(ctx context.Context, src string, f Format) ([]byte, error) {
	if strings.TrimSpace(src) == "" {
		return nil, &ParseError{Err: fmt.Errorf("empty source")}
	}

	args := append(append([]string(nil), e.Args...), "-T"+string(f))
	res, err := proc.Run(ctx, proc.Command{
		Path:    e.Path,
		Args:    args,
		Stdin:   strings.NewReader(src),
		Timeout: e.Timeout,
	})
	if err != nil {
		var pe *proc.Error
		var ee *exec.ExitError
		if errors.As(err, &pe) && !pe.TimedOut() && errors.As(pe.Err, &ee) {
			return nil, &ParseError{Err: err}
		}
		return nil, err
	}
	if len(bytes.TrimSpace(res.Stdout)) == 0 {
		return nil, fmt.Errorf("%s: empty %s output", e.Path, f)
	}
	return res.Stdout, nil
}
