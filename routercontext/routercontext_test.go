package routercontext

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateProducesConsistentIdentity(t *testing.T) {
	ctx, err := Generate(2)
	require.NoError(t, err)
	assert.Equal(t, byte(2), ctx.NetworkID)

	ri, err := ctx.RouterInfo(time.Now(), map[string]string{"netId": "2"})
	require.NoError(t, err)

	require.NoError(t, ri.Verify(time.Now(), time.Hour))
	assert.Equal(t, ctx.StaticPublicKey, ri.StaticPublicKey)
}

func TestGenerateProducesDistinctContexts(t *testing.T) {
	a, err := Generate(2)
	require.NoError(t, err)
	b, err := Generate(2)
	require.NoError(t, err)
	assert.NotEqual(t, a.RouterHash, b.RouterHash)
	assert.NotEqual(t, a.StaticKey, b.StaticKey)
}
