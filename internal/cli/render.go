package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/examprep/examprep/pkg/config"
	"github.com/examprep/examprep/pkg/errors"
	"github.com/examprep/examprep/pkg/render"
	"github.com/examprep/examprep/pkg/workspace"
)

// renderOpts holds the command-line flags for the render command.
type renderOpts struct {
	output  string // output directory; empty writes next to each input
	dpi     int    // raster resolution override
	jobs    int    // concurrent renders
	dataURL bool   // print data URLs instead of writing files
	strict  bool   // check brace balance before compiling
	noCache bool   // bypass the render cache
}

// renderJob is one input file and its outcome.
type renderJob struct {
	input  string
	output string
	res    *render.Result
	err    error
	took   time.Duration
}

// renderCommand creates the render command, which runs the server's
// pipeline on local files.
func (c *CLI) renderCommand() *cobra.Command {
	opts := renderOpts{jobs: runtime.NumCPU()}

	cmd := &cobra.Command{
		Use:   "render [file...]",
		Short: "Render TikZ (.tex, .tikz) or Graphviz (.dot, .gv) files to PNG",
		Long: `Render diagrams through the same pipeline as POST /render.

Files ending in .dot or .gv are rendered with Graphviz; everything else is
treated as TikZ markup or a complete LaTeX document.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.jobs < 1 {
				return fmt.Errorf("--jobs must be at least 1")
			}
			if opts.dpi != 0 {
				if err := errors.ValidateDPI(opts.dpi); err != nil {
					return err
				}
			}
			cfg, err := c.loadConfig(func(cfg *config.Config) {
				cfg.Server.AppAPI = false
				if opts.dpi != 0 {
					cfg.Render.DPI = opts.dpi
				}
				if opts.strict {
					cfg.Render.StrictMarkup = true
				}
			})
			if err != nil {
				return err
			}
			return c.runRender(cmd.Context(), cfg, args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "output directory (default: next to each input)")
	cmd.Flags().IntVar(&opts.dpi, "dpi", 0, "raster resolution (default from config)")
	cmd.Flags().IntVarP(&opts.jobs, "jobs", "j", opts.jobs, "number of concurrent renders")
	cmd.Flags().BoolVar(&opts.dataURL, "data-url", false, "print data URLs to stdout instead of writing files")
	cmd.Flags().BoolVar(&opts.strict, "strict", false, "reject unbalanced braces before compiling")
	cmd.Flags().BoolVar(&opts.noCache, "no-cache", false, "disable the render cache")

	return cmd
}

func (c *CLI) runRender(ctx context.Context, cfg config.Config, inputs []string, opts renderOpts) error {
	if cfg.Cache.Backend == "redis" && !opts.noCache {
		// The CLI does not dial redis; fall back to the local file cache.
		cfg.Cache.Backend = "file"
	}
	rc, err := newCache(cfg.Cache, nil, opts.noCache)
	if err != nil {
		return err
	}
	defer rc.Close()

	renderer := render.NewRenderer(renderOptions(cfg.Render, cfg.Cache), workspace.NewManager(cfg.Render.WorkDir, c.Logger), rc, c.Logger)

	jobs := make([]*renderJob, len(inputs))
	for i, in := range inputs {
		jobs[i] = &renderJob{input: in, output: outputPath(in, opts.output)}
	}
	if opts.output != "" && !opts.dataURL {
		if err := os.MkdirAll(opts.output, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	prog := newProgress(c.Logger)
	spinner := newSpinner(ctx, "Rendering", len(jobs))
	spinner.Start()

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.jobs)
	for _, job := range jobs {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			start := time.Now()
			res, err := renderFile(gctx, renderer, job.input)
			if err == nil && !opts.dataURL {
				err = os.WriteFile(job.output, res.PNG, 0o644)
			}
			mu.Lock()
			job.res, job.err, job.took = res, err, time.Since(start)
			mu.Unlock()
			spinner.Advance()
			return nil
		})
	}
	waitErr := g.Wait()
	spinner.Stop()
	if waitErr != nil {
		return waitErr
	}

	failed := 0
	for _, job := range jobs {
		if job.err != nil {
			failed++
			printRenderFailure(job.input, job.err)
			continue
		}
		if opts.dataURL {
			fmt.Println(job.res.DataURL)
			continue
		}
		printRendered(job.input, job.output, len(job.res.PNG), job.took, job.res.Cached)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d renders failed", failed, len(jobs))
	}
	prog.done(fmt.Sprintf("Rendered %d diagram(s)", len(jobs)))
	return nil
}

// renderFile renders one input, choosing the pipeline by extension.
func renderFile(ctx context.Context, r *render.Renderer, path string) (*render.Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeIO, err, "read input")
	}
	if isDOT(path) {
		return r.RenderDOT(ctx, string(data))
	}
	return r.Render(ctx, string(data))
}

func isDOT(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".dot", ".gv":
		return true
	}
	return false
}

// outputPath returns <dir>/<base>.png, or the input path with a .png
// extension when dir is empty.
func outputPath(input, dir string) string {
	base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input)) + ".png"
	if dir == "" {
		return filepath.Join(filepath.Dir(input), base)
	}
	return filepath.Join(dir, base)
}
