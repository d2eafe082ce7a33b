package models

import (
	"fmt"
	"math/big"
)

type BigInt struct {
	*big.Int
}

func NewBigInt(v int64) BigInt {
	return BigInt{big.NewInt(v)}
}

func (b BigInt) MarshalText() ([]byte, error) {
	if b.Int == nil {
		return []byte("0"), nil
	}

	return []byte(b.String()), nil
}

func (b *BigInt) UnmarshalText(text []byte) error {
	b.Int = new(big.Int)
	if _, ok := b.Int.SetString(string(text), 10); !ok {
		return fmt.Errorf("invalid base 10 integer %q", string(text))
	}

	return nil
}
