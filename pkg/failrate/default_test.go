// Copyright (C) 2021 Storj Labs, Inc.
// See LICENSE for copying information.

package failrate

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/authlimit/pkg/failrate/memstate"
	"storj.io/common/testcontext"
)

func TestSetDefault(t *testing.T) {
	ctx := testcontext.New(t)
	t.Setenv("XDG_CONFIG_HOME", ctx.Dir("config"))

	custom := New(ctx, zaptest.NewLogger(t), testConfig(2), memstate.New())

	previous := SetDefault(custom)
	defer SetDefault(previous)

	require.Same(t, custom, Default())
	require.Same(t, Default(), Default())

	Default().RecordIdentity(ctx, identityA, false)
	Default().RecordIdentity(ctx, identityA, false)
	assert.True(t, custom.IsLockedOutIdentity(identityA))

	require.Same(t, custom, SetDefault(nil))
	require.NotSame(t, custom, Default(), "a nil default is recreated on demand")
}

func TestDefaultStatePath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/authlimit-test-config")
	t.Setenv("HOME", "/tmp/authlimit-test-home")

	path, err := DefaultStatePath()
	require.NoError(t, err)
	assert.Equal(t, "state.bin", filepath.Base(path))
	assert.Equal(t, "authlimit", filepath.Base(filepath.Dir(path)))
}
