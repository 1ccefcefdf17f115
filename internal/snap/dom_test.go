package snap_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"dragcal/internal/snap"
)

func TestNewDOMResolverRequiresURL(t *testing.T) {
	_, err := snap.NewDOMResolver(context.Background(), snap.DOMOptions{})
	assert.Error(t, err, "a resolver without a page to hit-test is useless")
}
