// Package logging configures the logrus loggers used across FlintKV.
package logging

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// New returns a logger at the named level that tags every line with appName.
func New(level, appName string) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return nil, fmt.Errorf("unsupported log level %q", level)
	}

	logger := logrus.New()
	logger.SetLevel(lvl)
	logger.SetFormatter(&Formatter{AppName: appName})
	return logger, nil
}

// Discard returns a logger that drops everything, for tests and embedding.
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

// Formatter renders "2006/01/02 15:04:05 LEVEL [app] message k=v ...".
type Formatter struct {
	AppName string
}

func (f *Formatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b bytes.Buffer
	year, month, day := entry.Time.Date()
	hour, minute, second := entry.Time.Clock()
	fmt.Fprintf(&b, "%d/%02d/%02d %02d:%02d:%02d %s [%s] %s", year, month, day, hour, minute, second,
		strings.ToUpper(entry.Level.String()), f.AppName, entry.Message)

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, entry.Data[k])
	}
	b.WriteByte('\n')
	return b.Bytes(), nil
}
