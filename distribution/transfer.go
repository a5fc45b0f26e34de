package distribution

import (
	"encoding/binary"

	bsvhash "github.com/bsv-blockchain/go-sdk/primitives/hash"

	"github.com/bitfsorg/feerouter-go/policy"
	"github.com/bitfsorg/feerouter-go/progress"
)

// TransferID identifies one payout.
type TransferID = progress.TransferID

// Transfer is a payout the engine committed and an executor has to carry out.
// Committed transfers wait in the stream's outbox until acknowledged.
type Transfer = progress.Transfer

// InvestorTransferID returns the id of investor's payout on the page that
// starts at pageStart.
func InvestorTransferID(stream policy.StreamID, epoch uint64, pageStart uint32, investor policy.InvestorID) TransferID {
	buf := make([]byte, 0, 32+8+4+32)
	buf = append(buf, stream[:]...)
	buf = binary.BigEndian.AppendUint64(buf, epoch)
	buf = binary.BigEndian.AppendUint32(buf, pageStart)
	buf = append(buf, investor[:]...)
	var id TransferID
	copy(id[:], bsvhash.Sha256d(buf))
	return id
}

// CreatorTransferID returns the id of an epoch's creator payout.
func CreatorTransferID(stream policy.StreamID, epoch uint64, target policy.AccountID) TransferID {
	buf := make([]byte, 0, 32+8+7+32)
	buf = append(buf, stream[:]...)
	buf = binary.BigEndian.AppendUint64(buf, epoch)
	buf = append(buf, "creator"...)
	buf = append(buf, target[:]...)
	var id TransferID
	copy(id[:], bsvhash.Sha256d(buf))
	return id
}

// DustTransferID returns the id of the dust sweep that follows epoch's close.
func DustTransferID(stream policy.StreamID, epoch uint64, target policy.AccountID) TransferID {
	buf := make([]byte, 0, 32+8+4+32)
	buf = append(buf, stream[:]...)
	buf = binary.BigEndian.AppendUint64(buf, epoch)
	buf = append(buf, "dust"...)
	buf = append(buf, target[:]...)
	var id TransferID
	copy(id[:], bsvhash.Sha256d(buf))
	return id
}
