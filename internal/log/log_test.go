package log

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhangcong2019/hsf-pipeline/internal/config"
)

func TestInit_SetsLevel(t *testing.T) {
	require.NoError(t, Init(config.ServiceConfig{LogSeverity: "warn"}))
	assert.Equal(t, logrus.WarnLevel, logrus.GetLevel())
}

func TestInit_RejectsUnknownSeverity(t *testing.T) {
	err := Init(config.ServiceConfig{LogSeverity: "verbose"})
	assert.Error(t, err)
}

func TestInit_CreatesLogDir(t *testing.T) {
	dir := t.TempDir() + "/nested/logs"
	require.NoError(t, Init(config.ServiceConfig{LogSeverity: "info", LogDir: dir}))
}
