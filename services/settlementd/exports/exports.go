package exports

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"idlechain/services/settlementd/models"
)

// Format names a reward export encoding.
type Format string

const (
	FormatJSON    Format = "json"
	FormatCSV     Format = "csv"
	FormatJSONL   Format = "jsonl"
	FormatParquet Format = "parquet"
)

// ParseFormat maps a query parameter onto a Format. Empty means JSON.
func ParseFormat(raw string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(raw))); f {
	case "":
		return FormatJSON, nil
	case FormatJSON, FormatCSV, FormatJSONL, FormatParquet:
		return f, nil
	default:
		return "", fmt.Errorf("exports: unsupported format %q", raw)
	}
}

// ContentType returns the HTTP media type for the format.
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv"
	case FormatJSONL:
		return "application/x-ndjson"
	case FormatParquet:
		return "application/vnd.apache.parquet"
	default:
		return "application/json"
	}
}

// Render encodes records in one of the file formats and returns the payload
// with its sha256 checksum. JSON is served by the API directly and is not a
// file format here.
func Render(format Format, records []models.RewardRecord) ([]byte, string, error) {
	switch format {
	case FormatCSV:
		return RewardsCSV(records)
	case FormatJSONL:
		return RewardsJSONL(records)
	case FormatParquet:
		return RewardsParquet(records)
	default:
		return nil, "", fmt.Errorf("exports: format %q is not a file export", format)
	}
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
