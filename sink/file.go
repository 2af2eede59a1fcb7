package sink

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"hostmon/collector"
	"hostmon/logger"
)

// dateLayout is DDMMYYYY, the prefix of every daily log file.
const dateLayout = "02012006"

// FileSink appends log lines to one file per category per calendar day.
type FileSink struct {
	fs  afero.Fs
	dir string
	log *zap.Logger
}

// NewFileSink writes under dir on the given filesystem. A nil fs means the
// OS filesystem.
func NewFileSink(fs afero.Fs, dir string, log *zap.Logger) *FileSink {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if dir == "" {
		dir = "."
	}
	return &FileSink{fs: fs, dir: dir, log: log}
}

// PathFor returns the file a line for category c at ts goes to.
func (f *FileSink) PathFor(c collector.Category, ts time.Time) string {
	return filepath.Join(f.dir, ts.Format(dateLayout)+"-"+c.Table()+".log")
}

// Append writes line plus a newline to the category's file for the day of
// ts, creating the file on the first write of that day. The file is synced
// and closed before Append returns; existing content is never truncated.
func (f *FileSink) Append(ctx context.Context, c collector.Category, ts time.Time, line string) (err error) {
	if err := f.fs.MkdirAll(f.dir, 0o755); err != nil {
		return &PersistenceError{Sink: File, Op: "mkdir", Err: err}
	}
	path := f.PathFor(c, ts)
	fh, err := f.fs.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return &PersistenceError{Sink: File, Op: "open", Err: err}
	}
	defer func() {
		if cerr := fh.Close(); cerr != nil && err == nil {
			err = &PersistenceError{Sink: File, Op: "close", Err: cerr}
		}
	}()

	if _, err := fh.WriteString(line + "\n"); err != nil {
		return &PersistenceError{Sink: File, Op: "write", Err: err}
	}
	if err := fh.Sync(); err != nil {
		return &PersistenceError{Sink: File, Op: "sync", Err: err}
	}

	logger.FromContext(ctx, f.log).Debug("log line appended", zap.String("path", path))
	return nil
}
