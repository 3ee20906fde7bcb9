// Copyright 2026 Connor Virgin. SPDX-License-Identifier: Apache-2.0

package fer

// Mini-Xception: a fully-convolutional classifier built from depthwise
// separable convolutions and residual modules, small enough to run in
// real time on a CPU.

import (
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/gomlx/pkg/ml/layers/batchnorm"
)

// ModelGraph builds the Mini-Xception graph. It implements train.ModelFn.
//
// inputs: one tensor shaped [batch_size, Height, Width, 1].
// It returns the logits, shaped [batch_size, NumClasses].
func ModelGraph(ctx *context.Context, spec any, inputs []*graph.Node) []*graph.Node {
	ctx = ctx.In("model")
	x := inputs[0]
	batchSize := x.Shape().Dimensions[0]

	// Entry block: two plain 3x3 convolutions, unpadded.
	x = layers.Convolution(ctx.In("entry_conv_0"), x).Channels(8).KernelSize(3).UseBias(false).Done()
	x = batchnorm.New(ctx.In("entry_norm_0"), x, -1).Done()
	x = activations.Relu(x)
	x = layers.Convolution(ctx.In("entry_conv_1"), x).Channels(8).KernelSize(3).UseBias(false).Done()
	x = batchnorm.New(ctx.In("entry_norm_1"), x, -1).Done()
	x = activations.Relu(x)
	x.AssertDims(batchSize, 44, 44, 8)

	// Residual modules with increasing width, each halving the spatial
	// resolution with a strided max-pool.
	for i, channels := range []int{16, 32, 64, 128} {
		x = residualModule(ctx.Inf("module_%d", i), x, channels)
	}
	x.AssertDims(batchSize, 3, 3, 128)

	// Project to the classes and average over the remaining spatial grid.
	x = layers.Convolution(ctx.In("head_conv"), x).Channels(NumClasses).KernelSize(3).PadSame().Done()
	logits := graph.ReduceMean(x, 1, 2)
	logits.AssertDims(batchSize, NumClasses)
	return []*graph.Node{logits}
}

// residualModule is one Mini-Xception block: two separable convolutions and a
// strided max-pool on the main path, a strided 1x1 convolution on the shortcut.
func residualModule(ctx *context.Context, x *graph.Node, channels int) *graph.Node {
	shortcut := layers.Convolution(ctx.In("shortcut_conv"), x).
		Channels(channels).KernelSize(1).Strides(2).PadSame().UseBias(false).Done()
	shortcut = batchnorm.New(ctx.In("shortcut_norm"), shortcut, -1).Done()

	x = separableConv(ctx.In("separable_0"), x, channels)
	x = batchnorm.New(ctx.In("norm_0"), x, -1).Done()
	x = activations.Relu(x)
	x = separableConv(ctx.In("separable_1"), x, channels)
	x = batchnorm.New(ctx.In("norm_1"), x, -1).Done()
	x = graph.MaxPool(x).Window(3).Strides(2).PadSame().Done()

	return graph.Add(x, shortcut)
}

// separableConv is a depthwise 3x3 convolution followed by a 1x1 pointwise
// convolution mapping to the requested number of channels.
func separableConv(ctx *context.Context, x *graph.Node, channels int) *graph.Node {
	inChannels := x.Shape().Dimensions[x.Rank()-1]
	x = layers.Convolution(ctx.In("depthwise"), x).
		Channels(inChannels).KernelSize(3).PadSame().
		ChannelGroupCount(inChannels).UseBias(false).Done()
	x = layers.Convolution(ctx.In("pointwise"), x).
		Channels(channels).KernelSize(1).UseBias(false).Done()
	return x
}
