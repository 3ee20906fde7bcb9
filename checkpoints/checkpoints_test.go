// Copyright 2026 Connor Virgin. SPDX-License-Identifier: Apache-2.0

package checkpoints

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBasePath(t *testing.T) {
	assert.Equal(t, filepath.Join("dir", "weights_epoch_52"), BasePath("dir", 52))
}

func TestSaveDue(t *testing.T) {
	assert.True(t, SaveDue(0, 1))
	assert.True(t, SaveDue(7, 1))
	assert.True(t, SaveDue(10, 5))
	assert.False(t, SaveDue(7, 5))
	assert.False(t, SaveDue(3, 0)) // Zero frequency never saves.
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()

	ctx := context.New()
	ctx.SetParam("batch_size", 16)
	ctx.In("model").SetParam("depth", 3)
	ctx.In("model").VariableWithValue("weights", [][]float32{{1, 2}, {3, 4}})
	ctx.VariableWithValue("bias", []float64{0.5, -0.5})

	require.NoError(t, Save(ctx, dir, 5))
	assert.FileExists(t, filepath.Join(dir, "weights_epoch_5.json"))
	assert.FileExists(t, filepath.Join(dir, "weights_epoch_5.bin"))

	// No temporary files left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	loaded := context.New()
	epoch, err := Load(loaded, BasePath(dir, 5))
	require.NoError(t, err)
	assert.Equal(t, 5, epoch)

	assert.Equal(t, 16, context.GetParamOr(loaded, "batch_size", 0))
	assert.Equal(t, 3, context.GetParamOr(loaded.In("model"), "depth", 0))

	weights := loaded.GetVariableByScopeAndName("/model", "weights")
	require.NotNil(t, weights)
	assert.Equal(t, []float32{1, 2, 3, 4}, tensors.MustCopyFlatData[float32](weights.MustValue()))
	bias := loaded.GetVariableByScopeAndName("/", "bias")
	require.NotNil(t, bias)
	assert.Equal(t, []float64{0.5, -0.5}, tensors.MustCopyFlatData[float64](bias.MustValue()))
}

func TestLoadOverwritesExistingVariables(t *testing.T) {
	dir := t.TempDir()

	ctx := context.New()
	ctx.VariableWithValue("x", []float32{1, 2, 3})
	require.NoError(t, Save(ctx, dir, 0))

	// Loading into a context where the variable already exists with other
	// values overwrites it in place.
	other := context.New()
	other.VariableWithValue("x", []float32{9, 9, 9})
	epoch, err := Load(other, BasePath(dir, 0))
	require.NoError(t, err)
	assert.Equal(t, 0, epoch)
	v := other.GetVariableByScopeAndName("/", "x")
	require.NotNil(t, v)
	assert.Equal(t, []float32{1, 2, 3}, tensors.MustCopyFlatData[float32](v.MustValue()))
}

func TestLatest(t *testing.T) {
	dir := t.TempDir()

	_, _, err := Latest(dir)
	assert.Error(t, err)

	ctx := context.New()
	ctx.VariableWithValue("x", []float32{1})
	for _, epoch := range []int{0, 2, 10} {
		require.NoError(t, Save(ctx, dir, epoch))
	}
	// Unrelated files are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0660))

	base, epoch, err := Latest(dir)
	require.NoError(t, err)
	assert.Equal(t, 10, epoch)
	assert.Equal(t, BasePath(dir, 10), base)
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(context.New(), BasePath(t.TempDir(), 3))
	assert.Error(t, err)
}

func TestSaveOverwritesSameEpoch(t *testing.T) {
	dir := t.TempDir()

	ctx := context.New()
	v := ctx.VariableWithValue("x", []float32{1})
	require.NoError(t, Save(ctx, dir, 1))
	v.MustSetValue(tensors.FromValue([]float32{42}))
	require.NoError(t, Save(ctx, dir, 1))

	loaded := context.New()
	_, err := Load(loaded, BasePath(dir, 1))
	require.NoError(t, err)
	got := loaded.GetVariableByScopeAndName("/", "x")
	require.NotNil(t, got)
	assert.Equal(t, []float32{42}, tensors.MustCopyFlatData[float32](got.MustValue()))
}
