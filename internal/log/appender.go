package log

import (
	"io"

	"gopkg.in/natefinch/lumberjack.v2"
)

// multiWriter fans log bytes out to stdout and, when configured, a
// rotated on-disk appender.
type multiWriter struct {
	writers []io.Writer
}

func newMultiWriter(w ...io.Writer) *multiWriter {
	return &multiWriter{writers: append([]io.Writer{}, w...)}
}

func (m *multiWriter) Write(p []byte) (int, error) {
	var lastErr error
	for _, w := range m.writers {
		if _, err := w.Write(p); err != nil {
			lastErr = err
		}
	}
	return len(p), lastErr
}

func (m *multiWriter) addFile(cfg FileAppender) *multiWriter {
	m.writers = append(m.writers, &lumberjack.Logger{
		Filename:   cfg.Filename,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	})
	return m
}
