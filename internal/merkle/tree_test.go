package merkle

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func leaves(n int) []common.Hash {
	out := make([]common.Hash, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, crypto.Keccak256Hash([]byte{byte(i)}))
	}
	return out
}

func TestBuildRootEmpty(t *testing.T) {
	_, err := BuildRoot(nil)
	require.ErrorIs(t, err, ErrEmptyTree)
}

func TestBuildRootSingleLeaf(t *testing.T) {
	l := leaves(1)
	root, err := BuildRoot(l)
	require.NoError(t, err)
	require.Equal(t, l[0], root)
}

func TestBuildRootOddPromotion(t *testing.T) {
	l := leaves(3)
	root, err := BuildRoot(l)
	require.NoError(t, err)
	require.Equal(t, HashPair(HashPair(l[0], l[1]), l[2]), root)
}

func TestBuildRootDeterministic(t *testing.T) {
	l := leaves(7)
	first, err := BuildRoot(l)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := BuildRoot(l)
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
}

func TestBuildRootPositionIsCommitted(t *testing.T) {
	l := leaves(3)
	permuted := []common.Hash{l[2], l[0], l[1]}

	a, err := BuildRoot(l)
	require.NoError(t, err)
	b, err := BuildRoot(permuted)
	require.NoError(t, err)
	require.NotEqual(t, a, b)

	// Swapping the members of one pair does not change the root.
	swapped := []common.Hash{l[1], l[0], l[2]}
	c, err := BuildRoot(swapped)
	require.NoError(t, err)
	require.Equal(t, a, c)
}

func TestBuildRootDoesNotMutateInput(t *testing.T) {
	l := leaves(4)
	snapshot := append([]common.Hash(nil), l...)
	_, err := BuildRoot(l)
	require.NoError(t, err)
	require.Equal(t, snapshot, l)
}

func TestProofRoundTrip(t *testing.T) {
	for _, n := range []int{1, 2, 3, 5, 8, 11} {
		l := leaves(n)
		tree, err := New(l)
		require.NoError(t, err)
		for i := range l {
			proof, err := tree.Proof(i)
			require.NoError(t, err)
			require.True(t, VerifyProof(l[i], proof, tree.Root()), "n=%d i=%d", n, i)
		}
	}

	tree, err := New(leaves(4))
	require.NoError(t, err)
	proof, err := tree.Proof(0)
	require.NoError(t, err)
	require.False(t, VerifyProof(crypto.Keccak256Hash([]byte("other")), proof, tree.Root()))

	_, err = tree.Proof(4)
	require.Error(t, err)
}

func TestParseLeavesRoundTrip(t *testing.T) {
	l := leaves(3)
	parsed, err := ParseLeaves(HexLeaves(l))
	require.NoError(t, err)
	require.Equal(t, l, parsed)

	_, err = ParseLeaves([]string{"0x1234"})
	require.Error(t, err)
}
