package exports

import (
	"bytes"
	"encoding/json"
	"time"

	"idlechain/services/settlementd/models"
)

// RecordView is the wire shape of a reward record shared by the JSON API and
// the JSONL export.
type RecordView struct {
	BlockNumber         uint64 `json:"blockNumber"`
	ParticipantID       string `json:"participantId"`
	ContributedCapacity int64  `json:"contributedCapacity"`
	EffectiveMultiplier string `json:"effectiveMultiplier"`
	BaseShare           int64  `json:"baseShare"`
	RewardAmount        int64  `json:"rewardAmount"`
	SharePercent        string `json:"sharePercent"`
	SettledAt           string `json:"settledAt"`
	Checksum            string `json:"checksum"`
}

// NewRecordView converts a stored record into its wire shape.
func NewRecordView(r models.RewardRecord) RecordView {
	return RecordView{
		BlockNumber:         r.BlockNumber,
		ParticipantID:       r.ParticipantID,
		ContributedCapacity: r.ContributedCapacity,
		EffectiveMultiplier: r.EffectiveMultiplier.String(),
		BaseShare:           r.BaseShare,
		RewardAmount:        r.RewardAmount,
		SharePercent:        r.SharePercent.StringFixed(6),
		SettledAt:           r.CreatedAt.UTC().Format(time.RFC3339),
		Checksum:            r.Checksum,
	}
}

// RewardsJSONL renders one JSON object per line.
func RewardsJSONL(records []models.RewardRecord) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	for _, r := range records {
		if err := encoder.Encode(NewRecordView(r)); err != nil {
			return nil, "", err
		}
	}
	data := buffer.Bytes()
	return data, checksum(data), nil
}
