package idgen

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_RejectsWorkerID(t *testing.T) {
	assert.Error(t, Init(-1))
	assert.Error(t, Init(maxWorkerID+1))
}

func TestSnowflake_UniqueConcurrent(t *testing.T) {
	s := &Snowflake{workerID: 3}
	const workers, perWorker = 8, 2000

	var mu sync.Mutex
	seen := make(map[int64]struct{}, workers*perWorker)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids := make([]int64, 0, perWorker)
			for j := 0; j < perWorker; j++ {
				ids = append(ids, s.Generate())
			}
			mu.Lock()
			for _, id := range ids {
				seen[id] = struct{}{}
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	require.Len(t, seen, workers*perWorker)
}

func TestSnowflake_WorkerBits(t *testing.T) {
	s := &Snowflake{workerID: 5}
	id := s.Generate()
	assert.Equal(t, int64(5), (id>>workerIDShift)&maxWorkerID)
	assert.Greater(t, s.Generate(), id)
}

func TestGenerateNumbers(t *testing.T) {
	assert.True(t, strings.HasPrefix(GenerateOrderNo(), "ORD"))
	assert.True(t, strings.HasPrefix(GeneratePayOrderNo(), "PAY"))
	assert.Len(t, GenerateWithdrawalNo(), 3+14+8)
	assert.NotEqual(t, GenerateFlowNo(), GenerateFlowNo())
}
