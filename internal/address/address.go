package address

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"filippo.io/edwards25519"
	"fmt"
	"github.com/mr-tron/base58"
	"io"
)

const (
	Len        = 32
	MaxSeeds   = 16
	MaxSeedLen = 32

	NamespacePoll      = "poll"
	NamespaceCandidate = "candidate"
	NamespaceReceipt   = "voter-receipt"

	pdaMarker = "ProgramDerivedAddress"
)

var (
	ErrTooManySeeds  = fmt.Errorf("address: more than %d seeds", MaxSeeds)
	ErrSeedTooLong   = fmt.Errorf("address: seed longer than %d bytes", MaxSeedLen)
	ErrNoViableBump  = errors.New("address: no viable bump found")
	ErrInvalidLength = errors.New("address: invalid length")
)

// DefaultProgram roots every derivation when no program id is configured.
var DefaultProgram = Address(sha256.Sum256([]byte("poll_ledger")))

type Address [Len]byte

func Parse(s string) (Address, error) {
	var a Address
	raw, err := base58.Decode(s)
	if err != nil {
		return a, fmt.Errorf("address: decode %q: %w", s, err)
	}
	if len(raw) != Len {
		return a, ErrInvalidLength
	}
	copy(a[:], raw)
	return a, nil
}

func (a Address) String() string {
	return base58.Encode(a[:])
}

func (a Address) Bytes() []byte {
	return a[:]
}

// Derive finds the address for (namespace, seeds) under program by searching the
// bump from 255 downwards for a digest that is not a valid ed25519 point. Nobody
// holds a private key for such an address. Namespace and seeds are length-prefixed
// so that different seed splits can never hash to the same preimage.
func Derive(program Address, namespace string, seeds ...[]byte) (Address, uint8, error) {
	if len(seeds) > MaxSeeds {
		return Address{}, 0, ErrTooManySeeds
	}
	for _, seed := range seeds {
		if len(seed) > MaxSeedLen {
			return Address{}, 0, ErrSeedTooLong
		}
	}
	for bump := 255; bump >= 0; bump-- {
		candidate := hashSeeds(program, namespace, seeds, uint8(bump))
		if !onCurve(candidate) {
			return candidate, uint8(bump), nil
		}
	}
	return Address{}, 0, ErrNoViableBump
}

// CreateWithBump recomputes an address from a previously discovered bump.
// It fails if the result lands on the curve.
func CreateWithBump(program Address, namespace string, bump uint8, seeds ...[]byte) (Address, error) {
	if len(seeds) > MaxSeeds {
		return Address{}, ErrTooManySeeds
	}
	for _, seed := range seeds {
		if len(seed) > MaxSeedLen {
			return Address{}, ErrSeedTooLong
		}
	}
	a := hashSeeds(program, namespace, seeds, bump)
	if onCurve(a) {
		return Address{}, ErrNoViableBump
	}
	return a, nil
}

func hashSeeds(program Address, namespace string, seeds [][]byte, bump uint8) Address {
	h := sha256.New()
	writePrefixed(h, []byte(namespace))
	for _, seed := range seeds {
		writePrefixed(h, seed)
	}
	h.Write([]byte{bump})
	h.Write(program[:])
	h.Write([]byte(pdaMarker))

	var a Address
	copy(a[:], h.Sum(nil))
	return a
}

func writePrefixed(w io.Writer, b []byte) {
	var n [2]byte
	binary.LittleEndian.PutUint16(n[:], uint16(len(b)))
	w.Write(n[:])
	w.Write(b)
}

func onCurve(a Address) bool {
	_, err := new(edwards25519.Point).SetBytes(a[:])
	return err == nil
}
