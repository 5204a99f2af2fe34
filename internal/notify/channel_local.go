package notify

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/hasip-timurtas/solana-watchtower/internal/config"
	"github.com/hasip-timurtas/solana-watchtower/internal/logging"
)

// ConsoleChannel writes rendered alerts to an io.Writer (normally
// os.Stdout). No third-party dependency is needed for this: it is a
// single Fprintf call, stdlib io is already the idiomatic fit and
// pulling a dependency in for it would not exercise it meaningfully
// (see DESIGN.md).
type ConsoleChannel struct {
	name string
	out  io.Writer
	mu   sync.Mutex
}

// NewConsoleChannel constructs a console sink writing to out.
func NewConsoleChannel(name string, out io.Writer) *ConsoleChannel {
	return &ConsoleChannel{name: name, out: out}
}

func (c *ConsoleChannel) Name() string { return c.name }

func (c *ConsoleChannel) Deliver(_ context.Context, r Rendered) DeliveryResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := fmt.Fprintf(c.out, "%s\n%s\n\n", r.Subject, r.Body); err != nil {
		return DeliveryResult{Retryable: true, Err: err}
	}
	return DeliveryResult{}
}

// FileChannel appends rendered alerts to a rotating log file, reusing
// the logging package's rotatingWriter (adapted, not duplicated) so the
// same size/age/backup-count policy governs both operational logs and
// alert archives.
type FileChannel struct {
	name   string
	writer io.Writer
	mu     sync.Mutex
}

// NewFileChannel constructs a file sink with its own rotation policy.
func NewFileChannel(name string, cfg config.LoggingConfig) (*FileChannel, error) {
	w, err := logging.NewRotatingFile(cfg)
	if err != nil {
		return nil, fmt.Errorf("file channel %q: %w", name, err)
	}
	return &FileChannel{name: name, writer: w}, nil
}

func (c *FileChannel) Name() string { return c.name }

func (c *FileChannel) Deliver(_ context.Context, r Rendered) DeliveryResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := fmt.Fprintf(c.writer, "%s\n%s\n\n", r.Subject, r.Body); err != nil {
		return DeliveryResult{Retryable: true, Err: err}
	}
	return DeliveryResult{}
}
