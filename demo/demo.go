// Copyright 2026 Connor Virgin. SPDX-License-Identifier: Apache-2.0

// Command demo trains or evaluates the Mini-Xception emotion classifier on
// FER-2013.
//
//  1. `demo`: trains for --epochs epochs, validating and checkpointing after
//     every epoch.
//  2. `demo --resume --pretrained <base>`: continues training from a saved
//     checkpoint.
//  3. `demo --evaluate --mode test`: loads --pretrained and reports metrics
//     and the confusion matrix on the chosen split.
package main

import (
	"flag"
	"io"
	"os"
	"path/filepath"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"

	_ "github.com/gomlx/gomlx/backends/default"

	fer "github.com/Connor-Virgin/Emotions-Recognition"
)

var (
	flagEpochs      = flag.Int("epochs", 300, "Number of epochs to train up to.")
	flagBatchSize   = flag.Int("batch_size", 16, "Batch size for training and evaluation.")
	flagTensorboard = flag.String("tensorboard", "checkpoint/tensorboard", "Directory for per-epoch metric points and evaluation plots.")
	flagLogging     = flag.String("logging", "checkpoint/logging", "Deprecated alias of --logdir.")
	flagLR          = flag.Float64("lr", 0.001, "Learning rate.")
	flagWeightDecay = flag.Float64("weight_decay", 1e-6, "Weight decay (Adam).")
	flagDataPath    = flag.String("datapath", "data", "Directory holding fer2013.csv.")
	flagPretrained  = flag.String("pretrained", "checkpoint/model_weights/weights_epoch_52", "Base path of the checkpoint to load with --resume or --evaluate.")
	flagResume      = flag.Bool("resume", false, "Resume training from the --pretrained checkpoint.")
	flagSavePath    = flag.String("savepath", "checkpoint/model_weights", "Directory checkpoints are saved to.")
	flagSaveFreq    = flag.Int("savefreq", 1, "Save a checkpoint every N epochs.")
	flagLogDir      = flag.String("logdir", "checkpoint/logging", "Directory for the training log file. Empty logs to stderr only.")
	flagLRPatience  = flag.Int("lr_patience", 40, "Epochs without validation improvement before reducing the learning rate (with --plateau).")
	flagPlateau     = flag.Bool("plateau", false, "Enable the reduce-on-plateau learning rate policy.")
	flagEvaluate    = flag.Bool("evaluate", false, "Evaluate the --pretrained checkpoint instead of training.")
	flagMode        = flag.String("mode", "val", "Split to evaluate with --evaluate: \"val\" or \"test\".")
)

func main() {
	ctx := fer.CreateDefaultContext()
	settings := commandline.CreateContextSettingsFlag(ctx, "")
	klog.InitFlags(nil)
	flag.Parse()
	defer klog.Flush()

	ctx.SetParams(map[string]any{
		"batch_size":                    *flagBatchSize,
		optimizers.ParamLearningRate:    *flagLR,
		optimizers.ParamAdamWeightDecay: *flagWeightDecay,
	})
	_ = must.M1(commandline.ParseContextSettings(ctx, *settings))

	logDir := *flagLogDir
	if logDir == "" {
		logDir = *flagLogging
	}
	if logDir != "" {
		logDir = fsutil.MustReplaceTildeInDir(logDir)
		must.M(os.MkdirAll(logDir, 0770))
		logFile := must.M1(os.OpenFile(filepath.Join(logDir, "train.log"),
			os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0664))
		defer func() { _ = logFile.Close() }()
		must.M(flag.Set("logtostderr", "false"))
		klog.SetOutput(io.MultiWriter(os.Stderr, logFile))
	}

	cfg := &fer.Config{
		DataDir:         fsutil.MustReplaceTildeInDir(*flagDataPath),
		SavePath:        fsutil.MustReplaceTildeInDir(*flagSavePath),
		SaveFreq:        *flagSaveFreq,
		Epochs:          *flagEpochs,
		PlotDir:         fsutil.MustReplaceTildeInDir(*flagTensorboard),
		Pretrained:      *flagPretrained,
		Resume:          *flagResume,
		Plateau:         *flagPlateau,
		PlateauPatience: *flagLRPatience,
		Mode:            *flagMode,
	}

	backend := backends.MustNew()
	err := exceptions.TryCatch[error](func() {
		if *flagEvaluate {
			must.M(fer.Evaluate(ctx, backend, cfg))
		} else {
			must.M(fer.TrainModel(ctx, backend, cfg))
		}
	})
	if err != nil {
		klog.Errorf("Error:\n%+v", err)
		klog.Flush()
		os.Exit(1)
	}
}
