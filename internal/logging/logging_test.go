package logging_test

import (
	"bytes"
	"testing"

	"github.com/MikhailWahib/flintkv/internal/logging"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	logger, err := logging.New("Debug", "flintkv")
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())

	_, err = logging.New("verbose", "flintkv")
	assert.Error(t, err)
}

func TestFormatter(t *testing.T) {
	logger, err := logging.New("info", "kv")
	require.NoError(t, err)

	var out bytes.Buffer
	logger.SetOutput(&out)
	logger.WithFields(logrus.Fields{"b": 2, "a": 1}).Warn("torn tail")
	logger.Debug("hidden")

	line := out.String()
	assert.Contains(t, line, "WARNING [kv] torn tail a=1 b=2\n")
	assert.NotContains(t, line, "hidden")
}
