package callback

import (
	"fmt"
	"image"
	"image/color"
	"math/rand"
	"path/filepath"

	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"

	"epochforge/internal/dataset"
	"epochforge/internal/visualize"
)

// SegmentationModel renders its prediction for one (channel, height, width) image.
type SegmentationModel interface {
	DrawPredictedResult(img *tensor.Dense, height, width int, palette []color.RGBA, alpha uint8) (image.Image, error)
}

// SegmentationImage writes result_image{epoch+1}.png for a random sample.
type SegmentationImage struct {
	model   SegmentationModel
	outDir  string
	period  int
	ds      dataset.Dataset
	alpha   uint8
	palette []color.RGBA
	rng     *rand.Rand
}

// NewSegmentationImage uses alpha 150 and the default palette when they are zero.
func NewSegmentationImage(m SegmentationModel, outDir string, period int, ds dataset.Dataset, alpha uint8, palette []color.RGBA, opts ...Option) *SegmentationImage {
	if alpha == 0 {
		alpha = 150
	}
	if palette == nil {
		palette = visualize.DefaultColorPalette()
	}
	return &SegmentationImage{
		model:   m,
		outDir:  outDir,
		period:  period,
		ds:      ds,
		alpha:   alpha,
		palette: palette,
		rng:     buildOptions(opts).rng,
	}
}

func (c *SegmentationImage) OnEpochEnd(epoch int) error {
	if !fires(epoch, c.period) {
		return nil
	}
	sample, err := randomSample(c.rng, c.ds)
	if err != nil {
		return err
	}
	shape := sample.Image.Shape()
	if len(shape) != 3 {
		return fmt.Errorf("segmentation: sample shape %v", shape)
	}
	img, err := c.model.DrawPredictedResult(sample.Image, shape[1], shape[2], c.palette, c.alpha)
	if err != nil {
		return err
	}
	return visualize.SavePNG(filepath.Join(c.outDir, fmt.Sprintf("result_image%d.png", epoch+1)), img)
}

// AttentionModel predicts labels together with a per-pixel attention map.
type AttentionModel interface {
	Attention(inputs *tensor.Dense) ([]int, []*mat.Dense, error)
}

// AttentionMap writes the sampled input as epoch{n}_t{label}_p{pred}.png and
// its attention heatmap as epoch{n}_attention.png.
type AttentionMap struct {
	model  AttentionModel
	outDir string
	period int
	ds     dataset.Dataset
	rng    *rand.Rand
}

func NewAttentionMap(m AttentionModel, outDir string, period int, ds dataset.Dataset, opts ...Option) *AttentionMap {
	return &AttentionMap{model: m, outDir: outDir, period: period, ds: ds, rng: buildOptions(opts).rng}
}

func (c *AttentionMap) OnEpochEnd(epoch int) error {
	if !fires(epoch, c.period) {
		return nil
	}
	sample, err := randomSample(c.rng, c.ds)
	if err != nil {
		return err
	}
	shape := sample.Image.Shape()
	if len(shape) != 3 {
		return fmt.Errorf("attention: sample shape %v", shape)
	}
	batch := tensor.New(tensor.WithShape(1, shape[0], shape[1], shape[2]), tensor.WithBacking(sample.Image.Data()))
	preds, maps, err := c.model.Attention(batch)
	if err != nil {
		return err
	}
	if len(preds) != 1 || len(maps) != 1 {
		return fmt.Errorf("attention: expected one result, got %d", len(preds))
	}

	img, err := visualize.TensorToImage(sample.Image)
	if err != nil {
		return err
	}
	name := fmt.Sprintf("epoch%d_t%d_p%d.png", epoch+1, sample.Label, preds[0])
	if err := visualize.SavePNG(filepath.Join(c.outDir, name), img); err != nil {
		return err
	}
	return visualize.SaveHeatmap(filepath.Join(c.outDir, fmt.Sprintf("epoch%d_attention.png", epoch+1)), maps[0])
}

// DetectionModel renders predicted boxes for one (channel, height, width) image.
type DetectionModel interface {
	DrawPredictedResult(img *tensor.Dense, height, width int, labelNames []string) (image.Image, error)
}

// DetectionDataset yields images with their ground-truth boxes.
type DetectionDataset interface {
	Len() int
	At(i int) (*tensor.Dense, []visualize.BoundingBox, error)
}

// DetectionResult writes result_{epoch+1}.png with predicted and ground-truth
// boxes for a random sample.
type DetectionResult struct {
	model      DetectionModel
	height     int
	width      int
	ds         DetectionDataset
	outDir     string
	labelNames []string
	period     int
	truthColor color.RGBA
	rng        *rand.Rand
}

// NewDetectionResult uses period 10 when period <= 0. Ground truth is drawn
// in green over the model's own rendering.
func NewDetectionResult(m DetectionModel, height, width int, ds DetectionDataset, outDir string, labelNames []string, period int, opts ...Option) *DetectionResult {
	if period <= 0 {
		period = 10
	}
	return &DetectionResult{
		model:      m,
		height:     height,
		width:      width,
		ds:         ds,
		outDir:     outDir,
		labelNames: labelNames,
		period:     period,
		truthColor: color.RGBA{G: 255, A: 255},
		rng:        buildOptions(opts).rng,
	}
}

func (c *DetectionResult) OnEpochEnd(epoch int) error {
	if !fires(epoch, c.period) {
		return nil
	}
	if c.ds.Len() == 0 {
		return fmt.Errorf("detection: dataset is empty")
	}
	img, boxes, err := c.ds.At(c.rng.Intn(c.ds.Len()))
	if err != nil {
		return err
	}
	result, err := c.model.DrawPredictedResult(img, c.height, c.width, c.labelNames)
	if err != nil {
		return err
	}
	if len(boxes) > 0 {
		result = visualize.DrawBoundingBoxesWithNameTag(result, boxes, c.truthColor, c.labelNames)
	}
	return visualize.SavePNG(filepath.Join(c.outDir, fmt.Sprintf("result_%d.png", epoch+1)), result)
}

func randomSample(rng *rand.Rand, ds dataset.Dataset) (dataset.Sample, error) {
	if ds.Len() == 0 {
		return dataset.Sample{}, fmt.Errorf("callback: dataset is empty")
	}
	sample, err := ds.At(rng.Intn(ds.Len()))
	if err != nil {
		return dataset.Sample{}, err
	}
	if sample.Image == nil {
		return dataset.Sample{}, fmt.Errorf("callback: sample has no image")
	}
	return sample, nil
}
