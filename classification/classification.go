// Copyright 2026 Connor Virgin. SPDX-License-Identifier: Apache-2.0

// Package classification computes host-side multiclass metrics from predicted
// and true labels: accuracy, macro-averaged precision and recall, and
// (row-normalized) confusion matrices.
package classification

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Accuracy is the fraction of predictions matching the labels, in [0, 1].
func Accuracy(labels, predictions []int) (float64, error) {
	if err := checkPair(labels, predictions); err != nil {
		return 0, err
	}
	correct := 0
	for i, label := range labels {
		if predictions[i] == label {
			correct++
		}
	}
	return float64(correct) / float64(len(labels)), nil
}

// MacroPrecision is the unweighted mean over classes of
// truePositives/predictedPositives. A class that is never predicted
// contributes 0 to the mean.
func MacroPrecision(labels, predictions []int, numClasses int) (float64, error) {
	cm, err := ConfusionMatrix(labels, predictions, numClasses)
	if err != nil {
		return 0, err
	}
	var sum float64
	for class := 0; class < numClasses; class++ {
		predicted := mat.Sum(cm.ColView(class))
		if predicted > 0 {
			sum += cm.At(class, class) / predicted
		}
	}
	return sum / float64(numClasses), nil
}

// MacroRecall is the unweighted mean over classes of
// truePositives/actualPositives. A class with no examples contributes 0.
func MacroRecall(labels, predictions []int, numClasses int) (float64, error) {
	cm, err := ConfusionMatrix(labels, predictions, numClasses)
	if err != nil {
		return 0, err
	}
	var sum float64
	for class := 0; class < numClasses; class++ {
		actual := mat.Sum(cm.RowView(class))
		if actual > 0 {
			sum += cm.At(class, class) / actual
		}
	}
	return sum / float64(numClasses), nil
}

// ConfusionMatrix counts label/prediction pairs: entry (i, j) is the number of
// examples of true class i predicted as class j.
func ConfusionMatrix(labels, predictions []int, numClasses int) (*mat.Dense, error) {
	if err := checkPair(labels, predictions); err != nil {
		return nil, err
	}
	cm := mat.NewDense(numClasses, numClasses, nil)
	for i, label := range labels {
		pred := predictions[i]
		if label < 0 || label >= numClasses || pred < 0 || pred >= numClasses {
			return nil, errors.Errorf("example %d: label %d / prediction %d out of range [0, %d)",
				i, label, pred, numClasses)
		}
		cm.Set(label, pred, cm.At(label, pred)+1)
	}
	return cm, nil
}

// RowNormalize divides each row by its sum, so each row reads as the
// distribution of predictions for that true class. Rows with no examples are
// left as zeros.
func RowNormalize(cm *mat.Dense) *mat.Dense {
	rows, cols := cm.Dims()
	normalized := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		total := mat.Sum(cm.RowView(i))
		if total == 0 {
			continue
		}
		for j := 0; j < cols; j++ {
			normalized.Set(i, j, cm.At(i, j)/total)
		}
	}
	return normalized
}

// Format renders a confusion matrix with class names as a printable table.
func Format(cm *mat.Dense, classNames []string) string {
	rows, cols := cm.Dims()
	var b strings.Builder
	b.WriteString(fmt.Sprintf("%-10s", ""))
	for j := 0; j < cols; j++ {
		b.WriteString(fmt.Sprintf("%10s", name(classNames, j)))
	}
	b.WriteByte('\n')
	for i := 0; i < rows; i++ {
		b.WriteString(fmt.Sprintf("%-10s", name(classNames, i)))
		for j := 0; j < cols; j++ {
			b.WriteString(fmt.Sprintf("%10.3f", cm.At(i, j)))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func name(classNames []string, i int) string {
	if i < len(classNames) {
		return classNames[i]
	}
	return fmt.Sprintf("class_%d", i)
}

func checkPair(labels, predictions []int) error {
	if len(labels) != len(predictions) {
		return errors.Errorf("got %d labels but %d predictions", len(labels), len(predictions))
	}
	if len(labels) == 0 {
		return errors.New("no examples given")
	}
	return nil
}
