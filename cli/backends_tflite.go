//go:build !no_tflite && !no_cgo

package cli

import (
	"context"

	"github.com/snapclass/snapclass/extractor"
	"github.com/snapclass/snapclass/extractor/tflitecpu"
)

func init() {
	backendCtors["tflite"] = func(ctx context.Context, attrs extractor.AttributeMap) (extractor.Service, error) {
		var conf tflitecpu.Config
		if err := extractor.DecodeAttributes(attrs, &conf); err != nil {
			return nil, err
		}
		return tflitecpu.NewBackend(ctx, conf)
	}
}
