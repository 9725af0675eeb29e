package activities

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akriventsev/activities/framework/boot"
	"github.com/akriventsev/activities/framework/logging"
)

func TestGetMetadata(t *testing.T) {
	meta := GetMetadata()
	assert.Equal(t, Version, meta.Version)
	assert.Contains(t, meta.Activities, "sequence")
	assert.Contains(t, meta.Activities, "try")
}

func TestRun(t *testing.T) {
	out, err := Run(context.Background(), []any{
		map[string]any{"activity": "assign", "name": "x", "value": "js: input + 1"},
		map[string]any{"activity": "eval", "value": "js: data.x * 2"},
	}, 20)
	require.NoError(t, err)
	assert.EqualValues(t, 42, out)
}

func TestNewApplicationDefaults(t *testing.T) {
	app, err := NewApplication(context.Background(), nil, boot.WithoutServers(), boot.WithLogger(logging.Nop()))
	require.NoError(t, err)
	assert.Equal(t, "activities", app.Config().App.Name)
}
