// Copyright 2026 Connor Virgin. SPDX-License-Identifier: Apache-2.0

// Package fer trains and evaluates a Mini-Xception facial expression classifier
// on the FER-2013 dataset: 48x48 grayscale face crops labeled with one of seven
// emotions.
package fer

import "fmt"

const (
	// Width and Height of the FER-2013 face crops.
	Width  = 48
	Height = 48

	// NumClasses is the number of emotion labels.
	NumClasses = 7
)

// Emotion is a FER-2013 class label, in the dataset's canonical order.
type Emotion int32

const (
	Angry Emotion = iota
	Disgust
	Fear
	Happy
	Sad
	Surprise
	Neutral
)

// EmotionNames in label order. Useful for printing confusion matrices.
var EmotionNames = []string{"angry", "disgust", "fear", "happy", "sad", "surprise", "neutral"}

// String implements fmt.Stringer.
func (e Emotion) String() string {
	if e < 0 || int(e) >= len(EmotionNames) {
		return fmt.Sprintf("Emotion(%d)", int32(e))
	}
	return EmotionNames[e]
}
