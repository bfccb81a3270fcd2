package orchestrator

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/apptainer-compose/apptainer-compose/internal/core/compose"
	"github.com/apptainer-compose/apptainer-compose/internal/core/stack"
)

// logPollInterval is how often followed log files are re-read for appended
// output.
const logPollInterval = 500 * time.Millisecond

// =============================================================================
// Logs
// =============================================================================

// logStream is one instance log file being read incrementally.
type logStream struct {
	service string
	path    string
	offset  int64
}

// Logs prints instance log output, each line prefixed with its service name.
// The runtime writes instance logs to per-instance files; only services with
// a registered instance have logs to show. With Follow set, streaming
// continues until the context ends.
func (o *Orchestrator) Logs(ctx context.Context, doc *compose.Document, opts LogOptions) error {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}

	targets := opts.Services
	if len(targets) == 0 {
		targets = doc.ServiceNames()
	}
	for _, name := range targets {
		if _, ok := doc.Service(name); !ok {
			return fmt.Errorf("%w: %s", ErrServiceNotFound, name)
		}
	}

	listed, err := o.runtime.InstanceList(ctx)
	if err != nil {
		return err
	}

	width := 0
	for _, name := range targets {
		if len(name) > width {
			width = len(name)
		}
	}

	var streams []*logStream
	for _, name := range targets {
		instName := stack.InstanceName(doc.Name, name)
		for _, info := range listed {
			if info.Name != instName {
				continue
			}
			for _, path := range []string{info.LogOutPath, info.LogErrPath} {
				if path != "" {
					streams = append(streams, &logStream{service: name, path: path})
				}
			}
		}
	}
	if len(streams) == 0 {
		o.logger.Warn("no running instances with logs", "project", doc.Name)
		return nil
	}

	// Initial pass over existing content
	for _, s := range streams {
		if err := o.drainStream(opts.Out, s, width); err != nil {
			o.logger.Warn("cannot read log file", "path", s.path, "error", err)
		}
	}
	if !opts.Follow {
		return nil
	}

	ticker := time.NewTicker(logPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, s := range streams {
				if err := o.drainStream(opts.Out, s, width); err != nil {
					o.logger.Warn("cannot read log file", "path", s.path, "error", err)
				}
			}
		}
	}
}

// drainStream writes log content appended since the previous call, prefixing
// each line with the service name.
func (o *Orchestrator) drainStream(out io.Writer, s *logStream, width int) error {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	if _, err := f.Seek(s.offset, io.SeekStart); err != nil {
		return err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	s.offset += int64(len(data))

	prefix := fmt.Sprintf("%-*s | ", width, s.service)
	for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
		fmt.Fprintln(out, prefix+line)
	}
	return nil
}
