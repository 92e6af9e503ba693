package settlement

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"lukechampine.com/blake3"
)

// GenesisParentHash is the parent hash recorded on the first block.
var GenesisParentHash = strings.Repeat("0", 64)

// RecordChecksum derives a stable identifier for one reward record from its
// block, participant and amount.
func RecordChecksum(blockNumber uint64, participantID string, amount int64) string {
	payload := make([]byte, 8, 8+len(participantID)+20)
	binary.BigEndian.PutUint64(payload, blockNumber)
	payload = append(payload, participantID...)
	payload = append(payload, strconv.FormatInt(amount, 10)...)
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// BlockHash chains a block to its parent over its header fields and the
// checksums of its records in participant order.
func BlockHash(parentHash string, number uint64, totalReward int64, settledAt time.Time, checksums []string) string {
	h := blake3.New(32, nil)
	var buf [8]byte
	h.Write([]byte(parentHash))
	binary.BigEndian.PutUint64(buf[:], number)
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], uint64(totalReward))
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], uint64(settledAt.UTC().UnixNano()))
	h.Write(buf[:])
	for _, sum := range checksums {
		h.Write([]byte(sum))
	}
	return hex.EncodeToString(h.Sum(nil))
}
