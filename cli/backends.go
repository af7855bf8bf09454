package cli

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/snapclass/snapclass/extractor"
	"github.com/snapclass/snapclass/extractor/fake"
	"github.com/snapclass/snapclass/extractor/onnxcpu"
)

type backendCtor func(ctx context.Context, attrs extractor.AttributeMap) (extractor.Service, error)

var backendCtors = map[string]backendCtor{
	"fake": func(ctx context.Context, attrs extractor.AttributeMap) (extractor.Service, error) {
		var conf fake.Config
		if err := extractor.DecodeAttributes(attrs, &conf); err != nil {
			return nil, err
		}
		return fake.New(conf), nil
	},
	"onnx": func(ctx context.Context, attrs extractor.AttributeMap) (extractor.Service, error) {
		var conf onnxcpu.Config
		if err := extractor.DecodeAttributes(attrs, &conf); err != nil {
			return nil, err
		}
		return onnxcpu.NewBackend(ctx, conf)
	},
}

func backendNames() []string {
	names := make([]string, 0, len(backendCtors))
	for name := range backendCtors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func buildBackend(ctx context.Context, c *cli.Context) (extractor.Service, error) {
	name := c.String(flagBackend)
	ctor, ok := backendCtors[name]
	if !ok {
		return nil, errors.Errorf("unknown backend %q, want one of %v", name, backendNames())
	}
	attrs := extractor.AttributeMap{
		"model_path":  c.Path(flagModelPath),
		"num_threads": c.Int(flagNumThreads),
	}
	return ctor(ctx, attrs)
}
