package utils_test

import (
	"sync"
	"testing"
	"time"

	"finetune-pipeline/internal/core/utils"

	"github.com/stretchr/testify/assert"
)

func TestKeyedMutexRunSequentiallyWhenSameKey(t *testing.T) {
	m := utils.NewKeyedMutex()
	key := "test"

	sleepDuration := 100 * time.Millisecond

	var wg sync.WaitGroup
	routine := func() {
		defer wg.Done()
		unlock := m.Lock(key)
		time.Sleep(sleepDuration)
		unlock()
	}

	start := time.Now()
	wg.Add(2)
	go routine()
	go routine()
	wg.Wait()

	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 2*sleepDuration, "routines with the same key should run sequentially")
	assert.Equal(t, 0, m.Len())
}

func TestKeyedMutexRunConcurrentlyWhenDifferentKeys(t *testing.T) {
	m := utils.NewKeyedMutex()

	sleepDuration := 200 * time.Millisecond

	var wg sync.WaitGroup
	routine := func(key string) {
		defer wg.Done()
		unlock := m.Lock(key)
		time.Sleep(sleepDuration)
		unlock()
	}

	start := time.Now()
	wg.Add(2)
	go routine("a")
	go routine("b")
	wg.Wait()

	elapsed := time.Since(start)
	assert.Less(t, elapsed, 2*sleepDuration, "routines with different keys should run concurrently")
	assert.Equal(t, 0, m.Len())
}
