// Copyright 2026 Connor Virgin. SPDX-License-Identifier: Apache-2.0

package fer

import (
	"fmt"
	"image/color"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// csvRow builds one fer2013.csv row with every pixel set to the same value.
func csvRow(label int, pixel int, usage string) string {
	pixels := make([]string, Width*Height)
	for i := range pixels {
		pixels[i] = fmt.Sprintf("%d", pixel)
	}
	return fmt.Sprintf("%d,%s,%s", label, strings.Join(pixels, " "), usage)
}

func csvFile(rows ...string) string {
	return "emotion,pixels,Usage\n" + strings.Join(rows, "\n") + "\n"
}

func TestParseCSV(t *testing.T) {
	data, err := parseCSV(strings.NewReader(csvFile(
		csvRow(0, 0, "Training"),
		csvRow(3, 255, "Training"),
		csvRow(6, 51, "PublicTest"),
		csvRow(2, 128, "PrivateTest"),
	)))
	require.NoError(t, err)

	assert.Equal(t, 2, data.Train.Count())
	assert.Equal(t, 1, data.Validation.Count())
	assert.Equal(t, 1, data.Test.Count())

	assert.Equal(t, []int8{0, 3}, data.Train.Labels)
	assert.Equal(t, []int8{6}, data.Validation.Labels)
	assert.Equal(t, []int8{2}, data.Test.Labels)

	// Pixels normalized to [0, 1].
	assert.Equal(t, float32(0), data.Train.Pixels[0])
	assert.Equal(t, float32(1), data.Train.Pixels[Width*Height])
	assert.InDelta(t, 0.2, data.Validation.Pixels[0], 0.01)
	assert.Len(t, data.Train.Pixels, 2*Width*Height)
}

func TestParseCSVErrors(t *testing.T) {
	tests := []struct {
		name string
		csv  string
	}{
		{"bad header", "foo,bar,baz\n" + csvRow(0, 0, "Training") + "\n"},
		{"bad label", csvFile(csvRow(7, 0, "Training"))},
		{"bad usage", csvFile(csvRow(0, 0, "Unknown"))},
		{"bad pixel", csvFile("0,1 2 3,Training")},
		{"no training rows", csvFile(csvRow(0, 0, "PublicTest"))},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := parseCSV(strings.NewReader(test.csv))
			assert.Error(t, err)
		})
	}
}

func TestSplitForMode(t *testing.T) {
	split, known := SplitForMode("val")
	assert.True(t, known)
	assert.Equal(t, ValidationSplit, split)

	split, known = SplitForMode("test")
	assert.True(t, known)
	assert.Equal(t, TestSplit, split)

	// Anything unrecognized falls back to the training split.
	split, known = SplitForMode("bogus")
	assert.False(t, known)
	assert.Equal(t, TrainSplit, split)
}

func TestSplitDataImage(t *testing.T) {
	data, err := parseCSV(strings.NewReader(csvFile(csvRow(4, 204, "Training"))))
	require.NoError(t, err)

	img := data.Train.Image(0)
	assert.Equal(t, Width, img.Bounds().Dx())
	assert.Equal(t, Height, img.Bounds().Dy())
	gray := color.GrayModel.Convert(img.At(10, 10)).(color.Gray)
	assert.Equal(t, uint8(204), gray.Y)
}

func TestToTensor(t *testing.T) {
	data, err := parseCSV(strings.NewReader(csvFile(csvRow(1, 128, "Training"))))
	require.NoError(t, err)

	tensor := ToTensor(data.Train.Image(0))
	tensor.Shape().AssertDims(Height, Width, 1)
}
