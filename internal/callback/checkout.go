package callback

import (
	"fmt"
	"os"
	"path/filepath"

	"k8s.io/klog/v2"

	"epochforge/internal/model"
)

// Checkpointer is the part of a model adapter ModelCheckout needs.
type Checkpointer interface {
	SaveWeight(path string) error
	Config() model.Config
}

// ModelCheckout saves the model every period epochs to
// {outDir}/{ModelName}_ep{epoch+1}.pth.
type ModelCheckout struct {
	model  Checkpointer
	outDir string
	period int
}

// NewModelCheckout creates outDir if needed. A period <= 0 defaults to 5.
func NewModelCheckout(m Checkpointer, outDir string, period int) (*ModelCheckout, error) {
	if period <= 0 {
		period = 5
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("checkout dir: %w", err)
	}
	return &ModelCheckout{model: m, outDir: outDir, period: period}, nil
}

// Path returns the checkpoint file written after epoch.
func (c *ModelCheckout) Path(epoch int) string {
	return filepath.Join(c.outDir, fmt.Sprintf("%s_ep%d.pth", c.model.Config().ModelName, epoch+1))
}

func (c *ModelCheckout) OnEpochEnd(epoch int) error {
	if !fires(epoch, c.period) {
		return nil
	}
	path := c.Path(epoch)
	if err := c.model.SaveWeight(path); err != nil {
		return err
	}
	klog.Infof("checkpoint epoch=%d path=%s", epoch+1, path)
	return nil
}
