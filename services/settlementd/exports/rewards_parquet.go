package exports

import (
	"bytes"
	"fmt"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"idlechain/services/settlementd/models"
)

type parquetRow struct {
	BlockNumber         int64  `parquet:"name=block_number, type=INT64"`
	ParticipantID       string `parquet:"name=participant_id, type=UTF8, encoding=PLAIN_DICTIONARY"`
	ContributedCapacity int64  `parquet:"name=contributed_capacity, type=INT64"`
	EffectiveMultiplier string `parquet:"name=effective_multiplier, type=UTF8, encoding=PLAIN_DICTIONARY"`
	BaseShare           int64  `parquet:"name=base_share, type=INT64"`
	RewardAmount        int64  `parquet:"name=reward_amount, type=INT64"`
	SharePercent        string `parquet:"name=share_percent, type=UTF8, encoding=PLAIN_DICTIONARY"`
	SettledAt           string `parquet:"name=settled_at, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Checksum            string `parquet:"name=checksum, type=UTF8, encoding=PLAIN_DICTIONARY"`
}

// RewardsParquet renders reward records as a snappy-compressed parquet file.
func RewardsParquet(records []models.RewardRecord) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	fw := writerfile.NewWriterFile(buffer)
	pw, err := writer.NewParquetWriter(fw, new(parquetRow), 1)
	if err != nil {
		return nil, "", fmt.Errorf("exports: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for _, r := range records {
		row := &parquetRow{
			BlockNumber:         int64(r.BlockNumber),
			ParticipantID:       r.ParticipantID,
			ContributedCapacity: r.ContributedCapacity,
			EffectiveMultiplier: r.EffectiveMultiplier.String(),
			BaseShare:           r.BaseShare,
			RewardAmount:        r.RewardAmount,
			SharePercent:        r.SharePercent.StringFixed(6),
			SettledAt:           r.CreatedAt.UTC().Format(time.RFC3339),
			Checksum:            r.Checksum,
		}
		if err := pw.Write(row); err != nil {
			_ = pw.WriteStop()
			return nil, "", fmt.Errorf("exports: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, "", fmt.Errorf("exports: parquet flush: %w", err)
	}
	data := buffer.Bytes()
	return data, checksum(data), nil
}
