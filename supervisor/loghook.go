package supervisor

import (
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// callLogHook captures every log entry tagged with a given call_id into
// an in-memory buffer, so the sealed Call record can carry its own log
// excerpt without grepping the process-wide log stream. It is registered
// on the shared logger for the call's duration and deregistered at
// teardown, avoiding a process-global mutation that would otherwise
// accumulate one hook per call for the life of the process.
type callLogHook struct {
	callID    string
	formatter logrus.Formatter

	mu  sync.Mutex
	buf strings.Builder
}

func newCallLogHook(callID string, formatter logrus.Formatter) *callLogHook {
	return &callLogHook{callID: callID, formatter: formatter}
}

func (h *callLogHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *callLogHook) Fire(entry *logrus.Entry) error {
	id, _ := entry.Data["call_id"].(string)
	if id != h.callID {
		return nil
	}
	line, err := h.formatter.Format(entry)
	if err != nil {
		return nil
	}
	h.mu.Lock()
	h.buf.Write(line)
	h.mu.Unlock()
	return nil
}

func (h *callLogHook) String() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.buf.String()
}

// registerCallHook attaches hook to log for the call's duration.
func registerCallHook(log *logrus.Logger, hook *callLogHook) {
	log.AddHook(hook)
}

// deregisterCallHook removes hook from log, leaving every other
// registered hook (including other in-flight calls') intact.
func deregisterCallHook(log *logrus.Logger, hook *callLogHook) {
	current := log.Hooks
	replacement := make(logrus.LevelHooks)
	for level, hooks := range current {
		for _, h := range hooks {
			if h == hook {
				continue
			}
			replacement[level] = append(replacement[level], h)
		}
	}
	log.ReplaceHooks(replacement)
}
