package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup_Prod_IsJSONAtInfo(t *testing.T) {
	var buf bytes.Buffer
	log := Setup(EnvProd, &buf)

	log.Debug("hidden")
	log.Info("visible", slog.String("op", "x"))

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"visible"`)
	assert.Contains(t, out, `"op":"x"`)
}

func TestSetup_Dev_IsTextAtDebug(t *testing.T) {
	var buf bytes.Buffer
	log := Setup(EnvDev, &buf)

	log.Debug("dbg", slog.Int("n", 1))
	assert.Contains(t, buf.String(), "level=DEBUG")
	assert.Contains(t, buf.String(), "n=1")
}

func TestPrettyHandler_IncludesInheritedAttrs(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	log := Setup(EnvLocal, &buf).With(slog.String("op", "session.Register"))

	log.Info("user registered", slog.String("user_id", "u1"))

	out := buf.String()
	require.True(t, strings.Contains(out, "INFO:"), out)
	assert.Contains(t, out, "user registered")
	assert.Contains(t, out, `"op": "session.Register"`)
	assert.Contains(t, out, `"user_id": "u1"`)
}

func TestErr(t *testing.T) {
	a := Err(errors.New("boom"))
	assert.Equal(t, "error", a.Key)
	assert.Equal(t, "boom", a.Value.String())
	assert.Equal(t, "", Err(nil).Value.String())
}

func TestDiscard(t *testing.T) {
	assert.False(t, Discard().Enabled(context.Background(), slog.LevelError))
}
