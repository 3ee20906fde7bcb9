// Copyright 2026 Connor Virgin. SPDX-License-Identifier: Apache-2.0

package classification

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// matrixGrid adapts a mat.Dense to plotter.GridXYZ: cell centers at integer
// coordinates, row 0 at the top.
type matrixGrid struct{ m *mat.Dense }

func (g matrixGrid) Dims() (c, r int) {
	r, c = g.m.Dims()
	return c, r
}

func (g matrixGrid) Z(c, r int) float64 {
	rows, _ := g.m.Dims()
	return g.m.At(rows-1-r, c)
}

func (g matrixGrid) X(c int) float64 { return float64(c) }
func (g matrixGrid) Y(r int) float64 { return float64(r) }

// SaveHeatmap renders the confusion matrix as a heatmap PNG, with class names
// on both axes: true classes on rows, predicted classes on columns.
func SaveHeatmap(cm *mat.Dense, classNames []string, filePath string) error {
	rows, cols := cm.Dims()

	p := plot.New()
	p.Title.Text = "Confusion matrix"
	p.X.Label.Text = "predicted"
	p.Y.Label.Text = "true"

	heatMap := plotter.NewHeatMap(matrixGrid{cm}, palette.Heat(64, 1))
	p.Add(heatMap)

	xTicks := make([]plot.Tick, cols)
	for j := 0; j < cols; j++ {
		xTicks[j] = plot.Tick{Value: float64(j), Label: name(classNames, j)}
	}
	yTicks := make([]plot.Tick, rows)
	for i := 0; i < rows; i++ {
		yTicks[i] = plot.Tick{Value: float64(rows - 1 - i), Label: name(classNames, i)}
	}
	p.X.Tick.Marker = plot.ConstantTicks(xTicks)
	p.Y.Tick.Marker = plot.ConstantTicks(yTicks)

	if err := p.Save(6*vg.Inch, 6*vg.Inch, filePath); err != nil {
		return errors.Wrapf(err, "failed to save confusion matrix heatmap to %q", filePath)
	}
	return nil
}
