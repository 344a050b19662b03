package log

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigure(t *testing.T) {
	orig := GetLogger()
	t.Cleanup(func() { SetLogger(orig) })

	require.NoError(t, Configure("prod", "info"))
	require.NoError(t, Configure("dev", "DEBUG"))

	err := Configure("prod", "loud")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestZapFieldsNamesErrors(t *testing.T) {
	fields := zapFields(map[string]any{
		"error": errors.New("boom"),
		"count": 3,
	})
	assert.Len(t, fields, 2)
}

func TestNoopLoggerDiscards(t *testing.T) {
	orig := GetLogger()
	t.Cleanup(func() { SetLogger(orig) })

	SetLogger(NewNoopLogger())
	Info(map[string]any{"k": "v"}, "discarded")
	Warn(nil, "discarded")
	Error(nil, "discarded")
	Debug(nil, "discarded")
	Sync()
}
