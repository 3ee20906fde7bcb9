// Copyright 2026 Connor Virgin. SPDX-License-Identifier: Apache-2.0

package fer

import (
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"k8s.io/klog/v2"
)

const (
	// plateauFactor multiplies the learning rate when validation loss stalls.
	plateauFactor = 0.1

	// plateauThreshold is the minimum relative improvement that counts as
	// progress.
	plateauThreshold = 1e-4
)

// plateauScheduler reduces the learning rate when the validation loss has not
// improved for patience epochs. The optimizer reads its learning rate from a
// context variable on every step, so updating the variable between epochs is
// all that is needed.
type plateauScheduler struct {
	ctx      *context.Context
	patience int

	lr       float64
	bestLoss float64
	wait     int
}

func newPlateauScheduler(ctx *context.Context, patience int) *plateauScheduler {
	lr := context.GetParamOr(ctx, optimizers.ParamLearningRate, 0.001)
	// Materialize the variable now so the first update has a target.
	optimizers.LearningRateVar(ctx, dtypes.Float32, lr)
	return &plateauScheduler{
		ctx:      ctx,
		patience: patience,
		lr:       lr,
		bestLoss: -1,
	}
}

// Step records the epoch's validation loss and reduces the learning rate if
// the loss has stalled for more than patience epochs.
func (s *plateauScheduler) Step(valLoss float64) {
	if s.bestLoss < 0 || valLoss < s.bestLoss*(1-plateauThreshold) {
		s.bestLoss = valLoss
		s.wait = 0
		return
	}
	s.wait++
	if s.wait <= s.patience {
		return
	}
	s.lr *= plateauFactor
	s.wait = 0
	lrVar := optimizers.LearningRateVar(s.ctx, dtypes.Float32, s.lr)
	lrVar.MustSetValue(tensors.FromScalar(float32(s.lr)))
	klog.Infof("validation loss plateaued, learning rate reduced to %g", s.lr)
}

// LearningRate returns the current learning rate the scheduler tracks.
func (s *plateauScheduler) LearningRate() float64 { return s.lr }
