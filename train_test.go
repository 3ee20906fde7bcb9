// Copyright 2026 Connor Virgin. SPDX-License-Identifier: Apache-2.0

package fer

import (
	"testing"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRound3(t *testing.T) {
	assert.Equal(t, 0.123, round3(0.12345))
	assert.Equal(t, 0.124, round3(0.12351))
	assert.Equal(t, 1.0, round3(0.9999))
	assert.Equal(t, 0.0, round3(0.0))
}

func TestMean(t *testing.T) {
	assert.Equal(t, 2.0, mean([]float64{1, 2, 3}))
	assert.Equal(t, 0.5, mean([]float64{0.5}))
	assert.Equal(t, 0.0, mean(nil))
}

func TestPlateauScheduler(t *testing.T) {
	ctx := CreateDefaultContext()
	scheduler := newPlateauScheduler(ctx, 2)
	require.Equal(t, 0.001, scheduler.LearningRate())

	// Improving losses never reduce the rate.
	for _, loss := range []float64{1.0, 0.9, 0.8} {
		scheduler.Step(loss)
	}
	assert.Equal(t, 0.001, scheduler.LearningRate())

	// Two stalled epochs are within patience, the third one triggers.
	scheduler.Step(0.8)
	scheduler.Step(0.8)
	assert.Equal(t, 0.001, scheduler.LearningRate())
	scheduler.Step(0.8)
	assert.InDelta(t, 0.0001, scheduler.LearningRate(), 1e-12)

	// The context variable the optimizer reads was updated too.
	lrVar := ctx.GetVariableByScopeAndName("/"+optimizers.Scope, optimizers.ParamLearningRate)
	require.NotNil(t, lrVar)
	assert.InDelta(t, 0.0001, float64(tensors.ToScalar[float32](lrVar.MustValue())), 1e-9)
}
