package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/graft/internal/logger"
	"github.com/samcharles93/graft/internal/surgery"
	"github.com/samcharles93/graft/internal/version"
)

type appendOptions struct {
	input, output  string
	weightsPath    string
	embeddingsPath string
	weightsTensor  string
	biasesTensor   string
	outputMin      float64
	outputMax      float64
	minSet, maxSet bool
	normalize      bool
	producer       string
}

func appendCmd() *cli.Command {
	var opts appendOptions

	flags := graphFlags(&opts.input, &opts.output, "path of the grafted graph (required)")
	flags = append(flags,
		&cli.StringFlag{
			Name:        "weights",
			Aliases:     []string{"w"},
			Usage:       "trained head weights (.safetensors or .json)",
			Destination: &opts.weightsPath,
		},
		&cli.StringFlag{
			Name:        "embeddings",
			Usage:       "JSON file of per-class example embeddings; imprints a normalized head",
			Destination: &opts.embeddingsPath,
		},
		&cli.StringFlag{
			Name:        "weights-tensor",
			Usage:       "weights tensor name inside a .safetensors head",
			Value:       "weight",
			Destination: &opts.weightsTensor,
		},
		&cli.StringFlag{
			Name:        "biases-tensor",
			Usage:       "biases tensor name inside a .safetensors head",
			Value:       "bias",
			Destination: &opts.biasesTensor,
		},
		&cli.Float64Flag{
			Name:        "output-min",
			Usage:       "lower bound of the dense layer's output range",
			Destination: &opts.outputMin,
		},
		&cli.Float64Flag{
			Name:        "output-max",
			Usage:       "upper bound of the dense layer's output range",
			Destination: &opts.outputMax,
		},
		&cli.BoolFlag{
			Name:        "normalize",
			Usage:       "L2-normalize the embedding before the dense layer",
			Destination: &opts.normalize,
		},
		&cli.StringFlag{
			Name:        "producer",
			Usage:       "producer recorded in the output metadata",
			Destination: &opts.producer,
		},
	)

	return &cli.Command{
		Name:  "append",
		Usage: "Append a dense classifier and softmax to a graph's output",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			opts.minSet = cmd.IsSet("output-min")
			opts.maxSet = cmd.IsSet("output-max")
			applyAppendConfig(cmd, config, &opts)

			req, err := opts.request()
			if err != nil {
				return err
			}
			res, err := surgery.AppendDenseAndActivation(ctx, req)
			if err != nil {
				return err
			}
			logger.FromContext(ctx).Debug("operators appended",
				"l2norm", res.L2Norm,
				"dense", res.Dense,
				"reshape", res.Reshape,
				"softmax", res.Softmax)
			return nil
		},
	}
}

// request resolves the head source and output range into a GraftRequest.
func (o *appendOptions) request() (surgery.GraftRequest, error) {
	if o.output == "" {
		return surgery.GraftRequest{}, errors.New("--output is required")
	}
	if (o.weightsPath == "") == (o.embeddingsPath == "") {
		return surgery.GraftRequest{}, errors.New("exactly one of --weights or --embeddings is required")
	}

	head := surgery.ClassifierHead{Normalize: o.normalize}
	var err error
	if o.embeddingsPath != "" {
		// Imprinted weights are unit rows, so they only make sense against a
		// unit embedding.
		head.Normalize = true
		head.Weights, err = loadImprintedHead(o.embeddingsPath)
	} else {
		head.Weights, head.Biases, err = loadHead(o.weightsPath, o.weightsTensor, o.biasesTensor)
	}
	if err != nil {
		return surgery.GraftRequest{}, err
	}

	switch {
	case o.minSet && o.maxSet:
		head.OutputMin, head.OutputMax = float32(o.outputMin), float32(o.outputMax)
	case !o.minSet && !o.maxSet && head.Normalize && len(head.Biases) == 0:
		// Dot products of unit vectors lie in [-1, 1].
		head.OutputMin, head.OutputMax = -1, 1
	default:
		return surgery.GraftRequest{}, errors.New("--output-min and --output-max are required unless the head is normalized and unbiased")
	}
	if head.OutputMin > head.OutputMax {
		return surgery.GraftRequest{}, fmt.Errorf("output range [%g, %g] is inverted", head.OutputMin, head.OutputMax)
	}

	producer := o.producer
	if producer == "" {
		producer = "graft " + version.String()
	}
	return surgery.GraftRequest{
		InputPath:  o.input,
		OutputPath: o.output,
		Head:       head,
		Producer:   producer,
	}, nil
}
