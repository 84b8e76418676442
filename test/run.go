package test

import (
	"context"
	"testing"

	"github.com/pkg/errors"

	"github.com/outofforest/logger"
	"github.com/outofforest/parallel"
)

// RunInTest runs the background task for the duration of the unit test.
func RunInTest(t *testing.T, name string, task func(ctx context.Context) error) {
	ctx, cancel := context.WithCancel(logger.WithLogger(context.Background(), logger.New(logger.DefaultConfig)))
	t.Cleanup(cancel)

	group := parallel.NewGroup(ctx)
	group.Spawn(name, parallel.Continue, task)

	t.Cleanup(func() {
		group.Exit(nil)
		if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			t.Fatal(err)
		}
	})
}
