package datablock_test

import (
	"context"
	"testing"
)

// testContext returns a context canceled automatically when t completes.
func testContext(t *testing.T) context.Context {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	return ctx
}
