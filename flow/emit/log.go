package emit

import (
	"log"
	"os"
)

// LogTap writes every event as a structured log line. Intended for
// development and as the default observability sink.
type LogTap struct {
	logger *log.Logger
}

// NewLogTap creates a LogTap. A nil logger writes to stderr with the
// standard flags.
func NewLogTap(logger *log.Logger) *LogTap {
	if logger == nil {
		logger = log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds)
	}
	return &LogTap{logger: logger}
}

// Observe implements Tap.
func (l *LogTap) Observe(ev Event) {
	switch ev.Kind {
	case KindProgressUpdate:
		l.logger.Printf("session=%s seq=%d kind=%s stage=%s progress=%.1f",
			ev.SessionID, ev.Sequence, ev.Kind, ev.Stage, ev.Progress)
	case KindError:
		l.logger.Printf("session=%s seq=%d kind=%s error_kind=%s recoverable=%t msg=%q",
			ev.SessionID, ev.Sequence, ev.Kind, ev.ErrorKind, ev.Recoverable, ev.Message)
	case KindCompletion:
		l.logger.Printf("session=%s seq=%d kind=%s artifact=%s version=%d",
			ev.SessionID, ev.Sequence, ev.Kind, ev.ArtifactID, ev.Version)
	default:
		l.logger.Printf("session=%s seq=%d kind=%s msg=%q",
			ev.SessionID, ev.Sequence, ev.Kind, ev.Message)
	}
}
