package address

import "encoding/binary"

func U64Seed(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

func PollSeeds(pollID uint64) [][]byte {
	return [][]byte{U64Seed(pollID)}
}

func CandidateSeeds(pollID uint64, name string) [][]byte {
	return [][]byte{U64Seed(pollID), []byte(name)}
}

// ReceiptSeeds carries the voter so that receipts of different voters for the
// same candidate land on different addresses.
func ReceiptSeeds(pollID uint64, name string, voter []byte) [][]byte {
	return [][]byte{U64Seed(pollID), []byte(name), voter}
}

// Deriver binds derivations to a single program address.
type Deriver struct {
	program Address
}

func NewDeriver(program Address) *Deriver {
	return &Deriver{program: program}
}

func (d *Deriver) Program() Address {
	return d.program
}

func (d *Deriver) Poll(pollID uint64) (Address, uint8, error) {
	return Derive(d.program, NamespacePoll, PollSeeds(pollID)...)
}

func (d *Deriver) Candidate(pollID uint64, name string) (Address, uint8, error) {
	return Derive(d.program, NamespaceCandidate, CandidateSeeds(pollID, name)...)
}

func (d *Deriver) Receipt(pollID uint64, name string, voter []byte) (Address, uint8, error) {
	return Derive(d.program, NamespaceReceipt, ReceiptSeeds(pollID, name, voter)...)
}
