package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/graft/internal/graph"
	"github.com/samcharles93/graft/internal/graphstore"
	"github.com/samcharles93/graft/internal/logger"
	"github.com/samcharles93/graft/internal/surgery"
	"github.com/samcharles93/graft/internal/version"
)

func detachCmd() *cli.Command {
	var (
		input, output string
		opName        string
		customCode    string
		producer      string
	)

	flags := graphFlags(&input, &output, "path of the edited graph (defaults to --input)")
	flags = append(flags,
		&cli.StringFlag{
			Name:        "op",
			Usage:       "kind of the trailing operator to remove, e.g. softmax or custom",
			Value:       graph.OpSoftmax.String(),
			Destination: &opName,
		},
		&cli.StringFlag{
			Name:        "custom-code",
			Usage:       "custom code the trailing operator must carry when --op is custom",
			Destination: &customCode,
		},
		&cli.StringFlag{
			Name:        "producer",
			Usage:       "producer recorded in the output metadata",
			Destination: &producer,
		},
	)

	return &cli.Command{
		Name:  "detach",
		Usage: "Remove the operator producing a graph's output",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			kind, ok := graph.ParseBuiltinOperator(strings.ToUpper(strings.TrimSpace(opName)))
			if !ok {
				return fmt.Errorf("%w: unknown operator %q", graph.ErrUnsupportedOperator, opName)
			}
			if customCode != "" && kind != graph.OpCustom {
				return fmt.Errorf("--custom-code requires --op %s", graph.OpCustom)
			}
			if output == "" {
				output = input
			}
			if producer == "" {
				producer = config.Producer
			}
			if producer == "" {
				producer = "graft " + version.String()
			}
			return detach(ctx, input, output, kind, customCode, producer)
		},
	}
}

func detach(ctx context.Context, input, output string, kind graph.BuiltinOperator, customCode, producer string) error {
	log := logger.FromContext(ctx).With("input", input)

	m, err := graphstore.Load(input)
	if err != nil {
		return err
	}
	op, ok := surgery.NewEditor(m, log).DetachTrailing(kind, customCode)
	if !ok {
		return fmt.Errorf("%w: %s has no trailing %s operator", graph.ErrStructure, input, kind)
	}
	if err := graphstore.Save(m, output, graphstore.SaveOptions{Producer: producer}); err != nil {
		return err
	}
	log.Info("operator detached",
		"output", output,
		"kind", kind,
		"restored_outputs", op.Inputs)
	return nil
}
