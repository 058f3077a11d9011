package idgen

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNextMonotoneLowBytes(t *testing.T) {
	g := New()
	a := g.Next()
	b := g.Next()
	c := g.Next()

	require.NotEqual(t, a, b)
	require.NotEqual(t, b, c)

	var aLow, bLow, cLow uint64
	for i := 0; i < 8; i++ {
		aLow = aLow<<8 | uint64(a[8+i])
		bLow = bLow<<8 | uint64(b[8+i])
		cLow = cLow<<8 | uint64(c[8+i])
	}
	require.Less(t, aLow, bLow)
	require.Less(t, bLow, cLow)
}

func TestNextDistinctRandomPrefix(t *testing.T) {
	g := New()
	a := g.Next()
	b := g.Next()
	require.NotEqual(t, a[:8], b[:8], "random prefix should vary between calls")
}
