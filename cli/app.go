// Package cli implements the snapclass command line front end: import a
// labeled image folder, train a head on-device, and classify new images.
package cli

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/edaniels/golog"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/snapclass/snapclass/classification"
	"github.com/snapclass/snapclass/dataset"
	"github.com/snapclass/snapclass/extractor"
	"github.com/snapclass/snapclass/ml"
	"github.com/snapclass/snapclass/pipeline"
)

const (
	flagDataDir    = "data-dir"
	flagImage      = "image"
	flagBackend    = "backend"
	flagModelPath  = "model-path"
	flagEpochs     = "epochs"
	flagHidden     = "hidden-width"
	flagSeed       = "seed"
	flagNormalize  = "normalize"
	flagNumThreads = "num-threads"
	flagMinScore   = "min-score"
)

// NewApp builds the snapclass CLI app.
func NewApp(logger golog.Logger) *cli.App {
	return &cli.App{
		Name:            "snapclass",
		Usage:           "train an on-device image classifier from a labeled folder",
		HideHelpCommand: true,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "enable debug logging",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "classify",
				Usage: "train a head on a labeled folder, then classify a test image",
				Flags: []cli.Flag{
					&cli.PathFlag{
						Name:     flagDataDir,
						Required: true,
						Usage:    "root folder of labeled images (one subfolder per class)",
					},
					&cli.PathFlag{
						Name:  flagImage,
						Usage: "image to classify after training",
					},
					&cli.StringFlag{
						Name:  flagBackend,
						Value: "fake",
						Usage: fmt.Sprintf("embedding backend: %v", backendNames()),
					},
					&cli.PathFlag{
						Name:  flagModelPath,
						Usage: "path to the embedding model file (tflite/onnx backends)",
					},
					&cli.IntFlag{
						Name:  flagNumThreads,
						Usage: "interpreter threads for the tflite backend",
					},
					&cli.IntFlag{
						Name:  flagEpochs,
						Usage: "training epochs (default 20)",
					},
					&cli.IntFlag{
						Name:  flagHidden,
						Usage: "hidden layer width (default 128)",
					},
					&cli.Int64Flag{
						Name:  flagSeed,
						Usage: "random seed for reproducible runs",
					},
					&cli.BoolFlag{
						Name:  flagNormalize,
						Usage: "L2-normalize embedding vectors",
					},
					&cli.Float64Flag{
						Name:  flagMinScore,
						Usage: "omit ranked labels below this probability",
					},
				},
				Action: func(c *cli.Context) error {
					return ClassifyAction(c, logger)
				},
			},
			{
				Name:  "labels",
				Usage: "show the per-label example counts a folder would import",
				Flags: []cli.Flag{
					&cli.PathFlag{
						Name:     flagDataDir,
						Required: true,
						Usage:    "root folder of labeled images",
					},
				},
				Action: LabelsAction,
			},
		},
	}
}

// ClassifyAction imports the folder, trains a head, and optionally classifies
// one image with it.
func ClassifyAction(c *cli.Context, logger golog.Logger) error {
	if c.Bool("debug") {
		logger = golog.NewDebugLogger("snapclass")
	}
	ctx := c.Context

	svc, err := buildBackend(ctx, c)
	if err != nil {
		return err
	}
	pl := pipeline.New(svc, pipeline.Config{
		Head: ml.HeadConfig{
			Epochs:      c.Int(flagEpochs),
			HiddenWidth: c.Int(flagHidden),
			Seed:        c.Int64(flagSeed),
		},
		NormalizeFeatures: c.Bool(flagNormalize),
	}, logger)
	defer func() {
		if err := pl.Close(ctx); err != nil {
			logger.Warnw("error closing pipeline", "error", err)
		}
	}()
	pl.SetProgressFunc(func(phase, message string) {
		logger.Infow(message, "phase", phase)
	})
	if err := pl.Start(ctx); err != nil {
		return err
	}

	batch, err := dataset.ImportFolder(c.Path(flagDataDir))
	if err != nil {
		return err
	}
	if err := pl.AddExamples(batch); err != nil {
		return err
	}
	renderLabelCounts(c, pl.LabelCounts())

	if _, err := pl.TrainHead(ctx); err != nil {
		return err
	}

	imagePath := c.Path(flagImage)
	if imagePath == "" {
		return nil
	}
	pred, err := classifyFile(ctx, pl, imagePath)
	if err != nil {
		return err
	}
	if minScore := c.Float64(flagMinScore); minScore > 0 {
		pred.Ranked = classification.NewScoreFilter(minScore)(pred.Ranked)
	}
	renderPrediction(c, pred)
	return nil
}

// LabelsAction scans a folder and prints the labels it would import.
func LabelsAction(c *cli.Context) error {
	batch, err := dataset.ImportFolder(c.Path(flagDataDir))
	if err != nil {
		return err
	}
	store := dataset.NewStore()
	store.AddExamples(batch)
	renderLabelCounts(c, store.SnapshotLabelCounts())
	return nil
}

func classifyFile(ctx context.Context, pl *pipeline.Pipeline, path string) (*pipeline.Prediction, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read test image %q", path)
	}
	img, err := extractor.DecodeImage(data)
	if err != nil {
		return nil, errors.Wrapf(err, "test image %q", path)
	}
	return pl.Predict(ctx, img)
}

func renderLabelCounts(c *cli.Context, counts map[string]int) {
	labels := make([]string, 0, len(counts))
	for l := range counts {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	tw := table.NewWriter()
	tw.SetOutputMirror(c.App.Writer)
	tw.AppendHeader(table.Row{"label", "examples"})
	for _, l := range labels {
		tw.AppendRow(table.Row{l, counts[l]})
	}
	tw.Render()
}

func renderPrediction(c *cli.Context, pred *pipeline.Prediction) {
	tw := table.NewWriter()
	tw.SetOutputMirror(c.App.Writer)
	tw.AppendHeader(table.Row{"label", "probability"})
	for _, cls := range pred.Ranked {
		tw.AppendRow(table.Row{cls.Label(), fmt.Sprintf("%.4f", cls.Score())})
	}
	tw.Render()
	fmt.Fprintf(c.App.Writer, "top: %s\n", pred.Top)
}
