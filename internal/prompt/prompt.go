// Package prompt asks the user which project a tab belongs to.
package prompt

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hyperjump/tabwise/internal/models"
)

// DefaultTimeout bounds a single Choose call.
const DefaultTimeout = 30 * time.Second

// Prompter resolves a manual project choice for a tab. A nil id means no choice.
type Prompter interface {
	Choose(ctx context.Context, tab models.Tab, projects []*models.Project) (*int64, error)
}

// Noop never chooses a project.
type Noop struct{}

func (Noop) Choose(ctx context.Context, tab models.Tab, projects []*models.Project) (*int64, error) {
	return nil, nil
}

// CreateFunc creates a project by name and returns its id.
type CreateFunc func(ctx context.Context, name string) (int64, error)

// Terminal prompts on a line-oriented terminal. An unanswered prompt counts as no choice
// once the timeout passes.
type Terminal struct {
	in      io.Reader
	out     io.Writer
	timeout time.Duration
	create  CreateFunc

	mu       sync.Mutex
	lines    chan string
	readOnce sync.Once
}

// TerminalOption configures a Terminal.
type TerminalOption func(*Terminal)

// WithTimeout sets how long Choose waits for the user. Zero keeps DefaultTimeout.
func WithTimeout(d time.Duration) TerminalOption {
	return func(t *Terminal) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// WithCreate lets the user create a new project from the prompt.
func WithCreate(fn CreateFunc) TerminalOption {
	return func(t *Terminal) { t.create = fn }
}

// NewTerminal returns a prompter reading answers from in and writing questions to out.
func NewTerminal(in io.Reader, out io.Writer, opts ...TerminalOption) *Terminal {
	t := &Terminal{
		in:      in,
		out:     out,
		timeout: DefaultTimeout,
		lines:   make(chan string),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// readLines feeds input lines to t.lines for the life of the process, so a timed-out
// question does not leave a blocked read behind.
func (t *Terminal) readLines() {
	scanner := bufio.NewScanner(t.in)
	for scanner.Scan() {
		t.lines <- strings.TrimSpace(scanner.Text())
	}
	close(t.lines)
}

// Choose asks whether tab belongs to a project, then which one.
func (t *Terminal) Choose(ctx context.Context, tab models.Tab, projects []*models.Project) (*int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.readOnce.Do(func() { go t.readLines() })

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	fmt.Fprintf(t.out, "\nNew tab: %s\n  %s\nAdd to a research project? [y/N]: ", tab.Title, tab.URL)
	answer, ok := t.readLine(ctx)
	if !ok || !isYes(answer) {
		return nil, nil
	}

	for i, p := range projects {
		fmt.Fprintf(t.out, "  %d) %s\n", i+1, p.Name)
	}
	if t.create != nil {
		fmt.Fprint(t.out, "  n) new project\n")
	}
	fmt.Fprint(t.out, "Project (blank to skip): ")
	answer, ok = t.readLine(ctx)
	if !ok || answer == "" {
		return nil, nil
	}

	if t.create != nil && strings.EqualFold(answer, "n") {
		fmt.Fprint(t.out, "New project name: ")
		name, ok := t.readLine(ctx)
		if !ok || name == "" {
			return nil, nil
		}
		id, err := t.create(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("create project %q: %w", name, err)
		}
		return &id, nil
	}

	n, err := strconv.Atoi(answer)
	if err != nil || n < 1 || n > len(projects) {
		fmt.Fprintf(t.out, "Invalid choice %q, skipping.\n", answer)
		return nil, nil
	}
	id := projects[n-1].ID
	return &id, nil
}

func (t *Terminal) readLine(ctx context.Context) (string, bool) {
	select {
	case line, ok := <-t.lines:
		return line, ok
	case <-ctx.Done():
		fmt.Fprintln(t.out)
		return "", false
	}
}

func isYes(s string) bool {
	switch strings.ToLower(s) {
	case "y", "yes":
		return true
	}
	return false
}
