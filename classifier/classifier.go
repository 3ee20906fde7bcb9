// Copyright 2026 Connor Virgin. SPDX-License-Identifier: Apache-2.0

// Package classifier serves a trained Mini-Xception model for inference: it
// loads a checkpoint and classifies arbitrary face images, resizing them to
// the model's 48x48 grayscale input.
package classifier

import (
	"image"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"

	fer "github.com/Connor-Virgin/Emotions-Recognition"
	"github.com/Connor-Virgin/Emotions-Recognition/checkpoints"
)

// Classifier holds the compiled model. The backend is selected by
// GOMLX_BACKEND, defaulting to XLA on CPU.
type Classifier struct {
	backend backends.Backend

	// ctx holds the model's weights.
	ctx *context.Context

	exec *context.Exec
}

// New loads the highest-epoch checkpoint from checkpointDir and compiles the
// model for single-image inference.
func New(checkpointDir string) (*Classifier, error) {
	c := &Classifier{
		backend: backends.MustNew(),
		ctx:     context.New(),
	}
	base, _, err := checkpoints.Latest(checkpointDir)
	if err != nil {
		return nil, err
	}
	if _, err = checkpoints.Load(c.ctx, base); err != nil {
		return nil, errors.WithMessagef(err, "failed to load model from %q", checkpointDir)
	}
	// Reuse variables: creating a new one now would mean the checkpoint did
	// not match the model.
	c.ctx = c.ctx.Reuse()

	c.exec = context.MustNewExec(c.backend, c.ctx, func(ctx *context.Context, img *graph.Node) *graph.Node {
		ctx.SetTraining(img.Graph(), false)
		img = graph.ExpandAxes(img, 0) // Batch of one.
		logits := fer.ModelGraph(ctx, nil, []*graph.Node{img})[0]
		choice := graph.ArgMax(logits, -1, dtypes.Int32)
		return graph.Reshape(choice) // Drop the batch dimension.
	})
	return c, nil
}

// Classify returns the predicted emotion for a face image. The image may be
// any size or color model; it is converted to the model's input format first.
func (c *Classifier) Classify(img image.Image) (fer.Emotion, error) {
	output, err := c.exec.Exec1(fer.ToTensor(img))
	if err != nil {
		return 0, err
	}
	return fer.Emotion(tensors.ToScalar[int32](output)), nil
}
