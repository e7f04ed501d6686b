package generator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/saworbit/fileloop/internal/platform"
	"github.com/saworbit/fileloop/pkg/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// TimestampLayout formats the local datetime written into target files.
// Whole seconds drop the fractional part, see FormatTimestamp.
const TimestampLayout = "2006-01-02 15:04:05.000000"

const wholeSecondLayout = "2006-01-02 15:04:05"

const (
	dirPerm  = 0o755
	filePerm = 0o644
)

// Observer receives step outcomes. Implementations must not block.
type Observer interface {
	ObserveStep(step State, start time.Time, err error)
	ObserveMissing()
	ObserveCycle()
}

type nopObserver struct{}

func (nopObserver) ObserveStep(State, time.Time, error) {}
func (nopObserver) ObserveMissing()                     {}
func (nopObserver) ObserveCycle()                       {}

// Option customizes a Generator.
type Option func(*Generator)

// WithFs replaces the OS filesystem.
func WithFs(fsys afero.Fs) Option {
	return func(g *Generator) { g.fs = fsys }
}

// WithOutput sets where progress lines are printed (stdout by default).
func WithOutput(w io.Writer) Option {
	return func(g *Generator) { g.out = w }
}

// WithClock sets the time source used for file names and content.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// WithSleeper sets the pause primitive used between steps.
func WithSleeper(sleep func(context.Context, time.Duration) error) Option {
	return func(g *Generator) { g.sleep = sleep }
}

// WithObserver attaches an Observer.
func WithObserver(o Observer) Option {
	return func(g *Generator) { g.observer = o }
}

// WithLogger sets the diagnostic logger.
func WithLogger(l *logrus.Entry) Option {
	return func(g *Generator) { g.log = l }
}

// Generator drives the create, edit, delete cycle.
type Generator struct {
	fs       afero.Fs
	dir      string
	interval time.Duration
	cycles   int

	out      io.Writer
	now      func() time.Time
	sleep    func(context.Context, time.Duration) error
	observer Observer
	log      *logrus.Entry

	state State
}

// New builds a Generator from cfg.
func New(cfg *config.Config, opts ...Option) *Generator {
	g := &Generator{
		fs:       afero.NewOsFs(),
		dir:      cfg.Dir,
		interval: cfg.Interval,
		cycles:   cfg.Cycles,
		out:      os.Stdout,
		now:      time.Now,
		sleep:    Sleep,
		observer: nopObserver{},
		log:      logrus.WithField("component", "generator"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// State returns the step the current cycle last entered.
func (g *Generator) State() State {
	return g.state
}

// TargetPath names the file for a cycle starting at t. The directory is kept
// as configured so "./loop_test" prints as "./loop_test/file_<n>.txt".
func (g *Generator) TargetPath(t time.Time) string {
	name := fmt.Sprintf("file_%d.txt", t.Unix())
	if g.dir == "" {
		return name
	}
	if os.IsPathSeparator(g.dir[len(g.dir)-1]) {
		return g.dir + name
	}
	return g.dir + string(filepath.Separator) + name
}

// Run ensures the working directory exists and runs cycles until ctx is done,
// the configured cycle count is reached, or a filesystem error occurs.
// Cancellation is a normal stop and returns nil.
func (g *Generator) Run(ctx context.Context) error {
	if err := g.fs.MkdirAll(platform.LongPathname(g.dir), dirPerm); err != nil {
		return fmt.Errorf("create working dir %s: %w", g.dir, err)
	}

	fmt.Fprintf(g.out, "🔄 Starting 24/7 file loop in %s...\n", g.dir)
	g.log.WithFields(logrus.Fields{
		"dir":      g.dir,
		"interval": g.interval,
		"cycles":   g.cycles,
	}).Info("generator started")

	for n := 0; g.cycles == 0 || n < g.cycles; n++ {
		if ctx.Err() != nil {
			break
		}
		if err := g.Cycle(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				break
			}
			return err
		}
	}

	g.log.Info("generator stopped")
	return nil
}

// Cycle performs one create, edit, delete sequence including the pause after
// each step. A context error is returned as-is from any pause.
func (g *Generator) Cycle(ctx context.Context) error {
	path := g.TargetPath(g.now())

	if err := g.step(Creating, func() error { return g.create(path) }); err != nil {
		return err
	}
	if err := g.sleep(ctx, g.interval); err != nil {
		return err
	}

	if err := g.step(Editing, func() error { return g.edit(path) }); err != nil {
		return err
	}
	if err := g.sleep(ctx, g.interval); err != nil {
		return err
	}

	if err := g.step(Deleting, func() error { return g.remove(path) }); err != nil {
		return err
	}

	g.state = Waiting
	if err := g.sleep(ctx, g.interval); err != nil {
		return err
	}

	g.observer.ObserveCycle()
	return nil
}

func (g *Generator) step(s State, fn func() error) error {
	g.state = s
	start := time.Now()
	err := fn()
	g.observer.ObserveStep(s, start, err)
	return err
}

func (g *Generator) create(path string) error {
	fmt.Fprintf(g.out, "Creating %s\n", path)
	line := fmt.Sprintf("This is a test file created at %s\n", g.timestamp())
	if err := g.writeLine(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, line); err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	g.log.WithField("path", path).Debug("created")
	return nil
}

func (g *Generator) edit(path string) error {
	fmt.Fprintf(g.out, "Editing %s\n", path)
	line := fmt.Sprintf("Edited at %s\n", g.timestamp())
	if err := g.writeLine(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, line); err != nil {
		return fmt.Errorf("edit %s: %w", path, err)
	}
	g.log.WithField("path", path).Debug("edited")
	return nil
}

func (g *Generator) remove(path string) error {
	fmt.Fprintf(g.out, "Deleting %s\n", path)
	err := g.fs.Remove(platform.LongPathname(path))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		g.observer.ObserveMissing()
		g.log.WithField("path", path).Debug("already gone")
		return nil
	case err != nil:
		return fmt.Errorf("delete %s: %w", path, err)
	}
	g.log.WithField("path", path).Debug("deleted")
	return nil
}

func (g *Generator) writeLine(path string, flag int, line string) (err error) {
	f, err := g.fs.OpenFile(platform.LongPathname(path), flag, filePerm)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	_, err = io.WriteString(f, line)
	return err
}

func (g *Generator) timestamp() string {
	return FormatTimestamp(g.now().Local())
}

// FormatTimestamp renders t with microsecond precision, omitting the
// fraction entirely when it is zero.
func FormatTimestamp(t time.Time) string {
	if t.Nanosecond()/int(time.Microsecond) == 0 {
		return t.Format(wholeSecondLayout)
	}
	return t.Format(TimestampLayout)
}

// Sleep pauses for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
