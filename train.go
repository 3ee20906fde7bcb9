// Copyright 2026 Connor Virgin. SPDX-License-Identifier: Apache-2.0

package fer

import (
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/datasets"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/losses"
	"github.com/gomlx/gomlx/pkg/ml/train/metrics"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/gomlx/gomlx/ui/plots"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"

	"github.com/Connor-Virgin/Emotions-Recognition/checkpoints"
	"github.com/Connor-Virgin/Emotions-Recognition/classification"
)

// Config holds the run-level options of a training or evaluation run.
// Hyperparameters (learning rate, weight decay, batch size) live in the
// context parameters instead, so they are saved and restored with checkpoints.
type Config struct {
	// DataDir is the directory holding fer2013.csv.
	DataDir string

	// SavePath is the directory checkpoints are written to.
	SavePath string

	// SaveFreq: a checkpoint is written at every epoch multiple of it.
	SaveFreq int

	// Epochs to train up to (exclusive).
	Epochs int

	// PlotDir is where per-epoch metric points (and the confusion matrix
	// heatmap, in evaluation runs) are written. Empty disables it.
	PlotDir string

	// Pretrained is the base path (no extension) of the checkpoint loaded
	// when resuming or evaluating.
	Pretrained string

	// Resume training from the Pretrained checkpoint, starting at the epoch
	// after the one it was saved at.
	Resume bool

	// Plateau enables the reduce-on-plateau learning rate policy.
	Plateau bool

	// PlateauPatience is the number of epochs without validation loss
	// improvement before the learning rate is reduced.
	PlateauPatience int

	// Mode selects the split for evaluation runs: "val" or "test". Anything
	// else falls back to the training split.
	Mode string
}

// CreateDefaultContext creates a context with the default hyperparameters.
func CreateDefaultContext() *context.Context {
	ctx := context.New()
	_ = ctx.ResetRNGState()
	ctx.SetParams(map[string]any{
		"batch_size": 16,

		optimizers.ParamOptimizer:       "adamw",
		optimizers.ParamLearningRate:    0.001,
		optimizers.ParamAdamWeightDecay: 1e-6,
	})
	return ctx
}

// TrainModel runs the training loop: one pass over the training split per
// epoch, followed by a validation pass, metric logging and (depending on
// SaveFreq) a checkpoint.
func TrainModel(ctx *context.Context, backend backends.Backend, cfg *Config) error {
	startEpoch := 0
	if cfg.Resume {
		epoch, err := checkpoints.Load(ctx, cfg.Pretrained)
		if err != nil {
			return errors.WithMessagef(err, "failed to resume from %q", cfg.Pretrained)
		}
		startEpoch = epoch + 1
		klog.Infof("resumed from %q, continuing at epoch %d", cfg.Pretrained, startEpoch)
		ctx = ctx.Reuse()
	}

	batchSize := context.GetParamOr(ctx, "batch_size", 16)
	trainDS, validDS, _, err := NewDatasets(backend, cfg.DataDir, batchSize)
	if err != nil {
		return err
	}
	klog.Infof("loaded FER-2013: %d training / %d validation examples",
		trainDS.NumExamples(), validDS.NumExamples())

	trainer := train.NewTrainer(backend, ctx, ModelGraph,
		losses.SparseCategoricalCrossEntropyLogits,
		optimizers.FromContext(ctx),
		[]metrics.Interface{metrics.NewMovingAverageSparseCategoricalAccuracy("Moving Average Accuracy", "~acc", 0.01)},
		[]metrics.Interface{metrics.NewSparseCategoricalAccuracy("Mean Accuracy", "#acc")})

	loop := train.NewLoop(trainer)
	commandline.AttachProgressBar(loop)

	// The first metric of every train step is the batch loss; collect it in
	// yield order so the epoch loss is the mean over batches.
	var batchLosses []float64
	loop.OnStep("epoch-loss", 100, func(_ *train.Loop, stepMetrics []*tensors.Tensor) error {
		batchLosses = append(batchLosses, shapes.ConvertTo[float64](stepMetrics[0].Value()))
		return nil
	})

	var pointsWriter chan<- plots.Point
	var pointsErr <-chan error
	if cfg.PlotDir != "" {
		if err = os.MkdirAll(cfg.PlotDir, 0770); err != nil {
			return errors.Wrapf(err, "failed to create plot directory %q", cfg.PlotDir)
		}
		pointsWriter, pointsErr = plots.CreatePointsWriter(filepath.Join(cfg.PlotDir, plots.TrainingPlotFileName))
		defer func() {
			close(pointsWriter)
			if plotErr := <-pointsErr; plotErr != nil {
				klog.Errorf("failed to write metric points: %+v", plotErr)
			}
		}()
	}

	validator := newValidator(backend, ctx, batchSize)
	var scheduler *plateauScheduler
	if cfg.Plateau {
		scheduler = newPlateauScheduler(ctx, cfg.PlateauPatience)
	}

	for epoch := startEpoch; epoch < cfg.Epochs; epoch++ {
		klog.Infof("epoch %d/%d", epoch, cfg.Epochs-1)
		batchLosses = batchLosses[:0]
		if _, err = loop.RunEpochs(trainDS, 1); err != nil {
			return errors.WithMessagef(err, "training failed at epoch %d", epoch)
		}
		trainLoss := round3(mean(batchLosses))

		result, err := validator.Run(validDS)
		if err != nil {
			return errors.WithMessagef(err, "validation failed at epoch %d", epoch)
		}

		klog.Infof("epoch %d: train loss = %.3f", epoch, trainLoss)
		klog.Infof("epoch %d: val loss = %.3f", epoch, result.Loss)
		klog.Infof("epoch %d: accuracy = %.1f%%, precision = %.1f%%, recall = %.1f%%",
			epoch, result.Accuracy*100, result.Precision*100, result.Recall*100)
		if pointsWriter != nil {
			step := float64(epoch)
			pointsWriter <- plots.Point{MetricName: "train_loss", Short: "loss", MetricType: "loss", Step: step, Value: trainLoss}
			pointsWriter <- plots.Point{MetricName: "val_loss", Short: "vloss", MetricType: "loss", Step: step, Value: result.Loss}
			pointsWriter <- plots.Point{MetricName: "accuracy", Short: "acc", MetricType: "accuracy", Step: step, Value: result.Accuracy}
			pointsWriter <- plots.Point{MetricName: "precision", Short: "prec", MetricType: "accuracy", Step: step, Value: result.Precision}
			pointsWriter <- plots.Point{MetricName: "recall", Short: "rec", MetricType: "accuracy", Step: step, Value: result.Recall}
		}

		if scheduler != nil {
			scheduler.Step(result.Loss)
		}
		if checkpoints.SaveDue(epoch, cfg.SaveFreq) {
			if err = checkpoints.Save(ctx, cfg.SavePath, epoch); err != nil {
				return errors.WithMessagef(err, "failed to save checkpoint at epoch %d", epoch)
			}
			klog.Infof("epoch %d: saved checkpoint to %q", epoch, checkpoints.BasePath(cfg.SavePath, epoch))
		}
	}
	return nil
}

// Evaluate loads the Pretrained checkpoint and runs a single validation pass
// over the split selected by Mode, reporting metrics and the row-normalized
// confusion matrix.
func Evaluate(ctx *context.Context, backend backends.Backend, cfg *Config) error {
	if _, err := checkpoints.Load(ctx, cfg.Pretrained); err != nil {
		return errors.WithMessagef(err, "failed to load checkpoint %q", cfg.Pretrained)
	}
	ctx = ctx.Reuse()

	split, known := SplitForMode(cfg.Mode)
	if !known {
		klog.Warningf("unknown mode %q, evaluating on the %s split", cfg.Mode, split)
	}
	batchSize := context.GetParamOr(ctx, "batch_size", 16)
	data, err := Load(cfg.DataDir)
	if err != nil {
		return err
	}
	ds, err := data.Split(split).InMemory(backend, split.String())
	if err != nil {
		return err
	}

	result, err := newValidator(backend, ctx, batchSize).Run(ds.BatchSize(batchSize, false))
	if err != nil {
		return errors.WithMessagef(err, "evaluation on the %s split failed", split)
	}
	klog.Infof("%s loss = %.3f", split, result.Loss)
	klog.Infof("accuracy = %.1f%%, precision = %.1f%%, recall = %.1f%%",
		result.Accuracy*100, result.Precision*100, result.Recall*100)

	cm, err := classification.ConfusionMatrix(result.Labels, result.Predictions, NumClasses)
	if err != nil {
		return err
	}
	normalized := classification.RowNormalize(cm)
	klog.Infof("confusion matrix (rows normalized):\n%s", classification.Format(normalized, EmotionNames))
	if cfg.PlotDir != "" {
		if err = os.MkdirAll(cfg.PlotDir, 0770); err != nil {
			return errors.Wrapf(err, "failed to create plot directory %q", cfg.PlotDir)
		}
		heatmapPath := filepath.Join(cfg.PlotDir, "confusion_matrix.png")
		if err = classification.SaveHeatmap(normalized, EmotionNames, heatmapPath); err != nil {
			return err
		}
		klog.Infof("confusion matrix heatmap saved to %q", heatmapPath)
	}
	return nil
}

// ValidationResult is the outcome of one pass over an evaluation split.
// Metric values are rounded to 3 decimals.
type ValidationResult struct {
	Loss, Accuracy, Precision, Recall float64

	// Labels and Predictions for every example, in yield order.
	Labels, Predictions []int
}

// validator runs inference passes over a dataset. The model graph is compiled
// once (per batch shape) and reused across epochs; variables are never updated.
type validator struct {
	exec      *context.Exec
	batchSize int
}

func newValidator(backend backends.Backend, ctx *context.Context, batchSize int) *validator {
	return &validator{
		exec:      context.MustNewExec(backend, ctx, evalGraphFn),
		batchSize: batchSize,
	}
}

// evalGraphFn computes the mean batch loss and the predicted classes, with
// training mode off so batch normalization uses its moving averages.
func evalGraphFn(ctx *context.Context, images, labels *graph.Node) (loss, predictions *graph.Node) {
	g := images.Graph()
	ctx.SetTraining(g, false)
	logits := ModelGraph(ctx, nil, []*graph.Node{images})[0]
	lossPerExample := losses.SparseCategoricalCrossEntropyLogits([]*graph.Node{labels}, []*graph.Node{logits})
	loss = graph.ReduceAllMean(lossPerExample)
	predictions = graph.ArgMax(logits, -1, dtypes.Int32)
	return
}

// Run iterates the dataset once and aggregates loss and predictions.
// The split loss is the unweighted mean of per-batch mean losses.
func (v *validator) Run(ds *datasets.InMemoryDataset) (*ValidationResult, error) {
	numBatches := (ds.NumExamples() + v.batchSize - 1) / v.batchSize
	bar := progressbar.Default(int64(numBatches), ds.Name())
	defer func() { _ = bar.Finish() }()

	result := &ValidationResult{}
	var batchLosses []float64
	for {
		_, inputs, labels, err := ds.Yield()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.WithMessagef(err, "failed reading from dataset %q", ds.Name())
		}
		lossT, predsT, err := v.exec.Exec2(inputs[0], labels[0])
		if err != nil {
			return nil, errors.WithMessagef(err, "failed evaluating batch of dataset %q", ds.Name())
		}
		batchLosses = append(batchLosses, shapes.ConvertTo[float64](lossT.Value()))
		for _, label := range tensors.MustCopyFlatData[int8](labels[0]) {
			result.Labels = append(result.Labels, int(label))
		}
		for _, pred := range tensors.MustCopyFlatData[int32](predsT) {
			result.Predictions = append(result.Predictions, int(pred))
		}
		_ = bar.Add(1)
	}
	ds.Reset()

	accuracy, err := classification.Accuracy(result.Labels, result.Predictions)
	if err != nil {
		return nil, err
	}
	precision, err := classification.MacroPrecision(result.Labels, result.Predictions, NumClasses)
	if err != nil {
		return nil, err
	}
	recall, err := classification.MacroRecall(result.Labels, result.Predictions, NumClasses)
	if err != nil {
		return nil, err
	}
	result.Loss = round3(mean(batchLosses))
	result.Accuracy = round3(accuracy)
	result.Precision = round3(precision)
	result.Recall = round3(recall)
	return result, nil
}

// round3 rounds to 3 decimal places, the precision metrics are reported at.
func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
