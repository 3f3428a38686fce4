package runners

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/ternarybob/probo/internal/factory"
)

func newTestFactory(t *testing.T) *factory.Factory {
	t.Helper()
	f := factory.New()
	require.NoError(t, Register(f))
	return f
}
