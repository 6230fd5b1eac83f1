package types

import "github.com/veritaschain/consensus-core/crypto"

func blockIDOfCanonical(canonical []byte) BlockID {
	return BlockIDFromBytes(crypto.Sum(canonical))
}
