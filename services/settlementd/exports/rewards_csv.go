package exports

import (
	"bytes"
	"encoding/csv"
	"strconv"
	"time"

	"idlechain/services/settlementd/models"
)

var csvHeader = []string{
	"block_number", "participant_id", "contributed_capacity", "effective_multiplier",
	"base_share", "reward_amount", "share_percent", "settled_at", "checksum",
}

// RewardsCSV renders reward records as CSV.
func RewardsCSV(records []models.RewardRecord) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	writer := csv.NewWriter(buffer)
	if err := writer.Write(csvHeader); err != nil {
		return nil, "", err
	}
	for _, r := range records {
		row := []string{
			strconv.FormatUint(r.BlockNumber, 10),
			r.ParticipantID,
			strconv.FormatInt(r.ContributedCapacity, 10),
			r.EffectiveMultiplier.String(),
			strconv.FormatInt(r.BaseShare, 10),
			strconv.FormatInt(r.RewardAmount, 10),
			r.SharePercent.StringFixed(6),
			r.CreatedAt.UTC().Format(time.RFC3339),
			r.Checksum,
		}
		if err := writer.Write(row); err != nil {
			return nil, "", err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, "", err
	}
	data := buffer.Bytes()
	return data, checksum(data), nil
}
