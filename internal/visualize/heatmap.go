package visualize

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// matrixGrid exposes a matrix as a plot grid with row 0 at the top.
type matrixGrid struct {
	m *mat.Dense
}

func (g matrixGrid) Dims() (c, r int) {
	rows, cols := g.m.Dims()
	return cols, rows
}

func (g matrixGrid) Z(c, r int) float64 {
	rows, _ := g.m.Dims()
	return g.m.At(rows-1-r, c)
}

func (g matrixGrid) X(c int) float64 { return float64(c) }
func (g matrixGrid) Y(r int) float64 { return float64(r) }

// SaveHeatmap renders m as a heatmap image at path. The format follows the
// file extension.
func SaveHeatmap(path string, m *mat.Dense) error {
	rows, cols := m.Dims()
	if rows == 0 || cols == 0 {
		return fmt.Errorf("visualize: empty heatmap")
	}
	hm := plotter.NewHeatMap(matrixGrid{m: m}, palette.Heat(32, 1))
	if hm.Min == hm.Max {
		hm.Max = hm.Min + 1
	}

	p := plot.New()
	p.HideAxes()
	p.Add(hm)
	if err := p.Save(4*vg.Inch, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("save heatmap %s: %w", path, err)
	}
	return nil
}
