package service

import (
	"fmt"
	"math/rand/v2"
	"sync"

	"mcq_bot/internal/model"
	"mcq_bot/internal/util"
	"mcq_bot/pkg/logger"

	"go.uber.org/zap"
)

type LedgerStore interface {
	Load() []int
	Save(ids []int) error
}

// RotationService picks questions so that none repeats until the whole pool
// has been delivered once. The ledger is written through on every pick,
// before the question is handed out.
type RotationService struct {
	pool   []model.Question
	ledger LedgerStore
	rng    *rand.Rand

	mu   sync.Mutex
	sent []int
	seen map[int]struct{}
}

// NewRotationService loads the ledger once. IDs no longer in the pool are
// kept; they simply never match.
func NewRotationService(pool []model.Question, ledger LedgerStore, rng *rand.Rand) *RotationService {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	s := &RotationService{
		pool:   pool,
		ledger: ledger,
		rng:    rng,
		seen:   make(map[int]struct{}),
	}
	for _, id := range ledger.Load() {
		s.sent = append(s.sent, id)
		s.seen[id] = struct{}{}
	}
	return s
}

func (s *RotationService) Next() (model.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pool) == 0 {
		return model.Question{}, util.ErrPoolEmpty
	}

	var remaining []model.Question
	for _, q := range s.pool {
		if _, ok := s.seen[q.ID]; !ok {
			remaining = append(remaining, q)
		}
	}

	if len(remaining) == 0 {
		return s.resetAndPick()
	}

	pick := remaining[s.rng.IntN(len(remaining))]
	next := append(append([]int(nil), s.sent...), pick.ID)
	if err := s.ledger.Save(next); err != nil {
		return model.Question{}, fmt.Errorf("persist delivery ledger: %w", err)
	}
	s.sent = next
	s.seen[pick.ID] = struct{}{}
	return pick, nil
}

// resetAndPick starts a new cycle. The pick is recorded in the same write
// that clears the old cycle.
func (s *RotationService) resetAndPick() (model.Question, error) {
	pick := s.pool[s.rng.IntN(len(s.pool))]
	next := []int{pick.ID}
	if err := s.ledger.Save(next); err != nil {
		return model.Question{}, fmt.Errorf("reset delivery ledger: %w", err)
	}

	logger.Log.Info("所有题目已发送完毕，开始新一轮", zap.Int("poolSize", len(s.pool)), zap.Int("cycleLength", len(s.sent)))
	s.sent = next
	s.seen = map[int]struct{}{pick.ID: {}}
	return pick, nil
}

// Delivered returns a copy of the current cycle's ledger.
func (s *RotationService) Delivered() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.sent...)
}

// Remaining is the number of pool questions not yet delivered this cycle.
func (s *RotationService) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, q := range s.pool {
		if _, ok := s.seen[q.ID]; !ok {
			n++
		}
	}
	return n
}
