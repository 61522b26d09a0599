package repository

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"

	"mcq_bot/internal/util"
	"mcq_bot/pkg/logger"

	"go.uber.org/zap"
)

// LedgerRepository persists the IDs delivered in the current rotation cycle.
type LedgerRepository struct {
	Path string
}

func NewLedgerRepository(path string) *LedgerRepository {
	return &LedgerRepository{Path: path}
}

// Load never fails: an absent or unreadable ledger means nothing has been
// delivered yet in this cycle.
func (r *LedgerRepository) Load() []int {
	data, err := os.ReadFile(r.Path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.Log.Warn("Failed to read ledger, starting a new cycle", zap.String("path", r.Path), zap.Error(err))
		}
		return []int{}
	}

	var ids []int
	if err := json.Unmarshal(data, &ids); err != nil {
		logger.Log.Warn("Corrupt ledger, starting a new cycle",
			zap.Error(&util.CorruptDataError{Path: r.Path, Err: err}))
		return []int{}
	}

	// 同一周期内不允许重复
	seen := make(map[int]bool, len(ids))
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// Save replaces the ledger atomically.
func (r *LedgerRepository) Save(ids []int) error {
	if ids == nil {
		ids = []int{}
	}
	data, err := json.MarshalIndent(ids, "", "  ")
	if err != nil {
		return err
	}
	return util.WriteFileAtomic(r.Path, data, 0644)
}
