package log

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// formatter renders a logrus.Entry using a small template language:
// %time, %level, %field, %msg, %caller.
type formatter struct {
	pattern string
	time    string
}

func (f *formatter) Format(entry *logrus.Entry) ([]byte, error) {
	out := f.pattern
	out = strings.Replace(out, "%time", entry.Time.Format(f.time), 1)
	out = strings.Replace(out, "%level", strings.ToUpper(entry.Level.String()), 1)
	out = strings.Replace(out, "%field", buildFields(entry), 1)
	out = strings.Replace(out, "%msg", entry.Message, 1)
	out = strings.Replace(out, "%caller", getCaller(entry), 1)
	out += "\n"
	return []byte(out), nil
}

func getCaller(entry *logrus.Entry) string {
	if !entry.HasCaller() {
		return ""
	}
	file := entry.Caller.File
	if idx := strings.LastIndex(file, "/"); idx != -1 {
		file = file[idx+1:]
	}
	return fmt.Sprintf("%s:%d", file, entry.Caller.Line)
}

func buildFields(entry *logrus.Entry) string {
	if len(entry.Data) == 0 {
		return ""
	}
	fields := make([]string, 0, len(entry.Data))
	for k, v := range entry.Data {
		fields = append(fields, fmt.Sprintf("%s=%v", k, v))
	}
	return strings.Join(fields, " ")
}
