// Copyright 2026 Connor Virgin. SPDX-License-Identifier: Apache-2.0

package classification

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestAccuracy(t *testing.T) {
	labels := []int{0, 1, 2, 0}
	predictions := []int{0, 2, 1, 2}
	accuracy, err := Accuracy(labels, predictions)
	require.NoError(t, err)
	assert.Equal(t, 0.25, accuracy)

	accuracy, err = Accuracy(labels, labels)
	require.NoError(t, err)
	assert.Equal(t, 1.0, accuracy)

	_, err = Accuracy(labels, predictions[:2])
	assert.Error(t, err)
	_, err = Accuracy(nil, nil)
	assert.Error(t, err)
}

func TestMacroPrecisionAndRecall(t *testing.T) {
	// Class 0: predicted once, correctly   -> precision 1, recall 1/2.
	// Class 1: predicted once, incorrectly -> precision 0, recall 0.
	// Class 2: predicted twice, never right -> precision 0, recall 0.
	labels := []int{0, 1, 2, 0}
	predictions := []int{0, 2, 1, 2}

	precision, err := MacroPrecision(labels, predictions, 3)
	require.NoError(t, err)
	assert.InDelta(t, 1.0/3, precision, 1e-9)

	recall, err := MacroRecall(labels, predictions, 3)
	require.NoError(t, err)
	assert.InDelta(t, 0.5/3, recall, 1e-9)
}

func TestMacroPrecisionUnpredictedClass(t *testing.T) {
	// Class 1 exists but is never predicted: it contributes 0 instead of
	// dividing by zero.
	labels := []int{0, 1}
	predictions := []int{0, 0}

	precision, err := MacroPrecision(labels, predictions, 2)
	require.NoError(t, err)
	assert.InDelta(t, 0.25, precision, 1e-9) // (1/2 + 0) / 2

	recall, err := MacroRecall(labels, predictions, 2)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, recall, 1e-9) // (1 + 0) / 2
}

func TestMacroMetricsPerfect(t *testing.T) {
	labels := []int{0, 1, 2, 1}
	precision, err := MacroPrecision(labels, labels, 3)
	require.NoError(t, err)
	assert.Equal(t, 1.0, precision)

	recall, err := MacroRecall(labels, labels, 3)
	require.NoError(t, err)
	assert.Equal(t, 1.0, recall)
}

func TestConfusionMatrix(t *testing.T) {
	labels := []int{0, 1, 2, 0}
	predictions := []int{0, 2, 1, 2}
	cm, err := ConfusionMatrix(labels, predictions, 3)
	require.NoError(t, err)

	expected := mat.NewDense(3, 3, []float64{
		1, 0, 1,
		0, 0, 1,
		0, 1, 0,
	})
	assert.True(t, mat.Equal(expected, cm), "got %v", mat.Formatted(cm))

	_, err = ConfusionMatrix([]int{5}, []int{0}, 3)
	assert.Error(t, err)
}

func TestRowNormalize(t *testing.T) {
	cm := mat.NewDense(3, 3, []float64{
		2, 1, 1,
		0, 0, 0,
		0, 3, 1,
	})
	normalized := RowNormalize(cm)

	// Every non-empty row sums to 1; empty rows stay zero.
	for i := 0; i < 3; i++ {
		sum := mat.Sum(normalized.RowView(i))
		if i == 1 {
			assert.Equal(t, 0.0, sum)
		} else {
			assert.InDelta(t, 1.0, sum, 1e-9)
		}
	}
	assert.Equal(t, 0.5, normalized.At(0, 0))
	assert.Equal(t, 0.75, normalized.At(2, 1))
}

func TestFormat(t *testing.T) {
	cm := mat.NewDense(2, 2, []float64{1, 0, 0, 1})
	text := Format(cm, []string{"angry", "happy"})
	assert.Contains(t, text, "angry")
	assert.Contains(t, text, "happy")
	assert.Contains(t, text, "1.000")
}

func TestSaveHeatmap(t *testing.T) {
	cm := mat.NewDense(2, 2, []float64{0.9, 0.1, 0.4, 0.6})
	path := t.TempDir() + "/cm.png"
	require.NoError(t, SaveHeatmap(cm, []string{"a", "b"}, path))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}
