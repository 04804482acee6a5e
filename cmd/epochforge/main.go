package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"k8s.io/klog/v2"

	"epochforge/internal/callback"
	"epochforge/internal/config"
	"epochforge/internal/dataset"
	"epochforge/internal/history"
	"epochforge/internal/metrics"
	"epochforge/internal/model"
	"epochforge/internal/trainer"
)

func main() {
	klog.InitFlags(nil)
	cfgPath := flag.String("config", "configs/demo.yaml", "Path to YAML config")
	trainRoots := flag.String("train-roots", "", "Comma separated training roots override")
	evalRoot := flag.String("eval-root", "", "Override evaluation root")
	outDir := flag.String("out-dir", "", "Override output directory")
	historyDB := flag.String("history-db", "", "SQLite file recording the run")
	epochs := flag.Int("epochs", 0, "Override epochs for every model")
	batchSize := flag.Int("batch-size", 0, "Batch size")
	numWorkers := flag.Int("num-workers", 0, "Number of shard decode workers")
	seed := flag.Int64("seed", 0, "PRNG seed")

	flag.Parse()
	defer klog.Flush()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		klog.Exitf("failed to load config: %v", err)
	}

	var roots []string
	if *trainRoots != "" {
		roots = strings.Split(*trainRoots, ",")
	}
	cfg.ApplyOverrides(config.Overrides{
		TrainRoots: roots,
		EvalRoot:   *evalRoot,
		OutDir:     *outDir,
		HistoryDB:  *historyDB,
		BatchSize:  *batchSize,
		NumWorkers: *numWorkers,
		Seed:       *seed,
		Epochs:     *epochs,
	})

	if err := cfg.Validate(); err != nil {
		klog.Exitf("invalid config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		klog.Exitf("training failed: %v", err)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	train, err := loadRoots(ctx, cfg, cfg.TrainRoots)
	if err != nil {
		return fmt.Errorf("train data: %w", err)
	}
	klog.Infof("train samples=%d", train.Len())

	var (
		eval       trainer.BatchSource
		previewSet dataset.Dataset = train
	)
	if cfg.EvalRoot != "" {
		evalSet, err := loadRoots(ctx, cfg, []string{cfg.EvalRoot})
		if err != nil {
			return fmt.Errorf("eval data: %w", err)
		}
		klog.Infof("eval samples=%d", evalSet.Len())
		loader, err := dataset.NewLoader(evalSet, dataset.LoaderOptions{BatchSize: cfg.BatchSize})
		if err != nil {
			return err
		}
		eval = loader
		previewSet = evalSet
	}

	adapters := make([]model.Adapter, 0, len(cfg.Models))
	tables := make([]trainer.LearningTable, 0, len(cfg.Models))
	for i, mc := range cfg.Models {
		clf, err := model.NewClassifier(model.ClassifierOptions{
			NumClasses:  mc.NumClasses,
			Network:     mc.Network,
			Channels:    cfg.Channels,
			Height:      cfg.ImageSize,
			Width:       cfg.ImageSize,
			LR:          mc.LR,
			Momentum:    mc.Momentum,
			WeightDecay: mc.WeightDecay,
			Seed:        cfg.Seed + int64(i),
		})
		if err != nil {
			return fmt.Errorf("model %d: %w", i, err)
		}
		if mc.Weights != "" {
			if err := clf.LoadWeight(mc.Weights); err != nil {
				return fmt.Errorf("model %d: %w", i, err)
			}
			klog.Infof("model=%d weights=%s", i, mc.Weights)
		}
		table, err := buildTable(cfg, i, mc, clf, train, previewSet)
		if err != nil {
			return fmt.Errorf("model %d: %w", i, err)
		}
		adapters = append(adapters, clf)
		tables = append(tables, table)
	}

	reporter := trainer.MultiReporter{trainer.LogReporter{}}
	if cfg.HistoryDB != "" {
		rec, err := history.Open(ctx, cfg.HistoryDB)
		if err != nil {
			return err
		}
		defer rec.Close()
		klog.Infof("history db=%s run=%s", cfg.HistoryDB, rec.RunID())
		reporter = append(reporter, rec)
	}

	tr := trainer.New(model.NewAssemble(adapters...), trainer.WithReporter(reporter))
	return tr.Fit(ctx, tables, []metrics.Metric{metrics.Accuracy(), metrics.MeanConfidence()}, eval)
}

func loadRoots(ctx context.Context, cfg *config.Config, roots []string) (*dataset.Memory, error) {
	byRoot, err := dataset.DiscoverByRoot(roots)
	if err != nil {
		return nil, err
	}
	for root, shards := range byRoot {
		klog.Infof("root=%s shards=%d", root, len(shards))
	}
	return dataset.LoadShards(ctx, dataset.LoadOptions{
		Roots:      byRoot,
		Seed:       cfg.Seed,
		NumWorkers: cfg.NumWorkers,
		Channels:   cfg.Channels,
		Height:     cfg.ImageSize,
		Width:      cfg.ImageSize,
	})
}

func buildTable(cfg *config.Config, index int, mc config.ModelConfig, clf *model.Classifier, train, preview dataset.Dataset) (trainer.LearningTable, error) {
	loader, err := dataset.NewLoader(train, dataset.LoaderOptions{
		BatchSize: cfg.BatchSize,
		Shuffle:   true,
		Seed:      cfg.Seed + int64(index),
	})
	if err != nil {
		return trainer.LearningTable{}, err
	}

	dir := filepath.Join(cfg.OutDir, fmt.Sprintf("model_%d", index))
	var cbs []trainer.Callback
	if mc.CheckpointEvery > 0 {
		checkout, err := callback.NewModelCheckout(clf, dir, mc.CheckpointEvery)
		if err != nil {
			return trainer.LearningTable{}, err
		}
		cbs = append(cbs, checkout)
	}
	if mc.AttentionEvery > 0 {
		attnDir := filepath.Join(dir, "attention")
		if err := os.MkdirAll(attnDir, 0o755); err != nil {
			return trainer.LearningTable{}, fmt.Errorf("create %s: %w", attnDir, err)
		}
		cbs = append(cbs, callback.NewAttentionMap(clf, attnDir, mc.AttentionEvery, preview, callback.WithSeed(cfg.Seed+int64(index))))
	}
	switch mc.Schedule {
	case "poly":
		sched, err := callback.NewLearningRateScheduler(mc.Epochs, mc.PolyPower)
		if err != nil {
			return trainer.LearningTable{}, err
		}
		cbs = append(cbs, callback.NewScheduleLR(clf.Optimizer(), sched, mc.LR))
	case "warmup":
		sched := callback.WarmUpLRScheduler{WarmUpLR: mc.WarmupLR, LR: mc.LR, WarmUpEpochs: mc.WarmupEpochs}
		cbs = append(cbs, callback.NewScheduleLR(clf.Optimizer(), sched, 1))
	}
	return trainer.NewLearningTable(loader, mc.Epochs, cbs...), nil
}
