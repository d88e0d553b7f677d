package merkle

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrEmptyTree is returned when a tree is requested over no leaves.
var ErrEmptyTree = errors.New("merkle: empty leaf list")

// Tree is a binary Merkle tree with sorted-pair hashing. Odd nodes are
// promoted unchanged to the next level.
type Tree struct {
	levels [][]common.Hash
}

// New builds a tree over leaves in the given order.
func New(leaves []common.Hash) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, ErrEmptyTree
	}

	level := make([]common.Hash, len(leaves))
	copy(level, leaves)
	levels := [][]common.Hash{level}

	for len(level) > 1 {
		next := make([]common.Hash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
				continue
			}
			next = append(next, HashPair(level[i], level[i+1]))
		}
		levels = append(levels, next)
		level = next
	}

	return &Tree{levels: levels}, nil
}

// BuildRoot returns the root over leaves.
func BuildRoot(leaves []common.Hash) (common.Hash, error) {
	tree, err := New(leaves)
	if err != nil {
		return common.Hash{}, err
	}
	return tree.Root(), nil
}

// Root returns the tree root.
func (t *Tree) Root() common.Hash {
	top := t.levels[len(t.levels)-1]
	return top[0]
}

// Leaves returns a copy of the leaf level.
func (t *Tree) Leaves() []common.Hash {
	out := make([]common.Hash, len(t.levels[0]))
	copy(out, t.levels[0])
	return out
}

// Proof returns the sibling hashes from leaf index up to the root. Levels
// where the node was promoted contribute no sibling.
func (t *Tree) Proof(index int) ([]common.Hash, error) {
	if index < 0 || index >= len(t.levels[0]) {
		return nil, fmt.Errorf("merkle: leaf index %d out of range", index)
	}

	proof := make([]common.Hash, 0, len(t.levels))
	for _, level := range t.levels[:len(t.levels)-1] {
		sibling := index ^ 1
		if sibling < len(level) {
			proof = append(proof, level[sibling])
		}
		index /= 2
	}
	return proof, nil
}

// VerifyProof checks a sorted-pair proof for leaf against root.
func VerifyProof(leaf common.Hash, proof []common.Hash, root common.Hash) bool {
	node := leaf
	for _, sibling := range proof {
		node = HashPair(node, sibling)
	}
	return node == root
}

// HashPair hashes two nodes after ordering them lexicographically.
func HashPair(a, b common.Hash) common.Hash {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	return crypto.Keccak256Hash(a[:], b[:])
}

// ParseLeaves converts hex leaf strings into hashes.
func ParseLeaves(hexLeaves []string) ([]common.Hash, error) {
	leaves := make([]common.Hash, 0, len(hexLeaves))
	for _, leaf := range hexLeaves {
		b := common.FromHex(leaf)
		if len(b) != common.HashLength {
			return nil, fmt.Errorf("merkle: invalid leaf %q", leaf)
		}
		leaves = append(leaves, common.BytesToHash(b))
	}
	return leaves, nil
}

// HexLeaves renders hashes as 0x-prefixed hex strings.
func HexLeaves(leaves []common.Hash) []string {
	out := make([]string, 0, len(leaves))
	for _, leaf := range leaves {
		out = append(out, leaf.Hex())
	}
	return out
}
