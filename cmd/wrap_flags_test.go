package cmd

import (
	"testing"
	"time"

	"github.com/permagate/permagate/testing/assert"
	"github.com/permagate/permagate/testing/require"
	"github.com/urfave/cli/v2"
)

func TestWrapFlags_PreservesNames(t *testing.T) {
	flags := []cli.Flag{
		&cli.BoolFlag{Name: "bool-flag"},
		&cli.DurationFlag{Name: "duration-flag", Value: time.Second},
		&cli.Float64Flag{Name: "float-flag"},
		&cli.IntFlag{Name: "int-flag"},
		&cli.StringFlag{Name: "string-flag"},
		&cli.StringSliceFlag{Name: "slice-flag"},
		&cli.Uint64Flag{Name: "uint64-flag"},
		&cli.UintFlag{Name: "uint-flag"},
	}
	wrapped := WrapFlags(flags)
	require.Equal(t, len(flags), len(wrapped))
	for i, f := range wrapped {
		assert.Equal(t, flags[i].Names()[0], f.Names()[0])
	}
}
