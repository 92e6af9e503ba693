package settlement

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

var (
	// ErrAlreadySettled reports that the block number was committed by an
	// earlier or concurrent settlement. Callers treat it as a successful no-op.
	ErrAlreadySettled = errors.New("settlement: block already settled")
	// ErrStoreUnavailable wraps store failures that abort the whole block.
	ErrStoreUnavailable = errors.New("settlement: store unavailable")
)

// ResolutionError describes malformed bonus inputs for one participant. The
// participant is excluded from the block; everyone else still settles.
type ResolutionError struct {
	ParticipantID string
	Reason        string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("settlement: participant %s excluded: %s", e.ParticipantID, e.Reason)
}

func storeErr(op string, err error) error {
	return fmt.Errorf("settlement: %s: %w: %w", op, ErrStoreUnavailable, err)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}
