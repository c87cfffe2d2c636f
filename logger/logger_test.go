package logger_test

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/firasghr/GoShroud/config"
	"github.com/firasghr/GoShroud/logger"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, logger.LevelDebug, logger.ParseLevel("DEBUG"))
	assert.Equal(t, logger.LevelWarn, logger.ParseLevel("warning"))
	assert.Equal(t, logger.LevelError, logger.ParseLevel("error"))
	assert.Equal(t, logger.LevelInfo, logger.ParseLevel("nonsense"))
}

func TestFromZap_FormatsMessages(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := logger.FromZap(zap.New(core))

	log.Infof("served %d bytes", 42)
	log.With(zap.String("session", "abc")).Error("boom")

	entries := logs.AllUntimed()
	require.Len(t, entries, 2)
	assert.Equal(t, "served 42 bytes", entries[0].Message)
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	assert.Equal(t, "abc", entries[1].ContextMap()["session"])
}

func TestNew_HooksAndLevel(t *testing.T) {
	var (
		mu  sync.Mutex
		got []string
	)
	hook := func(level, msg string) {
		mu.Lock()
		got = append(got, level+" "+msg)
		mu.Unlock()
	}
	cfg := config.DefaultConfig().Log
	cfg.File = filepath.Join(t.TempDir(), "gateway.log")

	log, err := logger.New(cfg, hook)
	require.NoError(t, err)

	log.Debug("hidden")
	log.Info("shown")
	log.SetLevel(logger.LevelDebug)
	log.Debugf("now %s", "visible")
	_ = log.Sync()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"INFO shown", "DEBUG now visible"}, got)
	assert.FileExists(t, cfg.File)
}

func TestNew_UnknownFormat(t *testing.T) {
	cfg := config.DefaultConfig().Log
	cfg.Format = "xml"
	_, err := logger.New(cfg)
	assert.Error(t, err)
}

func TestNewNop(t *testing.T) {
	log := logger.NewNop()
	log.Info("discarded")
	log.Errorf("also %s", "discarded")
}
