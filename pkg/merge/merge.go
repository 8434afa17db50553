// Package merge concatenates same-format container files into one output.
//
// The first input decides the output's schema, codec and user metadata.
// Later inputs are appended record by record without a schema compatibility
// check; a mismatch fails the merge and leaves the partial output on disk.
package merge

import (
	"context"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/datatoolset/pkg/errors"
	"github.com/ajitpratap0/datatoolset/pkg/formats"
)

// Result reports the outcome of Merge
type Result = formats.MergeResult

// Merge writes the records of paths, in order, into output. Every input must
// have the output's format.
func Merge(ctx context.Context, paths []string, output string, logger *zap.Logger) (*Result, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(paths) == 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "merge requires at least one input file")
	}

	outFormat, err := formats.Detect(output)
	if err != nil {
		return nil, err
	}
	outAbs, _ := filepath.Abs(output)
	for _, p := range paths {
		f, err := formats.Detect(p)
		if err != nil {
			return nil, err
		}
		if f != outFormat {
			return nil, errors.Newf(errors.ErrorTypeConfig, "cannot merge %s input %s into %s output", f, p, outFormat).
				WithDetail("input", p)
		}
		if abs, _ := filepath.Abs(p); abs == outAbs {
			return nil, errors.Newf(errors.ErrorTypeConfig, "output %s is also an input", output)
		}
	}

	adapter, err := formats.ForFormat(outFormat, logger)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	res, err := adapter.Merge(ctx, paths, output)
	if err != nil {
		return res, err
	}
	logger.Info("merged files",
		zap.String("output", output),
		zap.Int("inputs", res.Inputs),
		zap.Int64("rows", res.Rows),
		zap.Duration("elapsed", time.Since(start)))
	return res, nil
}
