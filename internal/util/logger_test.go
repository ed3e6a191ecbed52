package util

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitLoggerReplacesFallback(t *testing.T) {
	fallback := GetLogger()
	require.NotNil(t, fallback)

	require.NoError(t, InitLogger("production"))
	installed := GetLogger()
	assert.NotSame(t, fallback, installed)
	assert.Same(t, installed, GetLogger())
}

func TestGetLoggerConcurrent(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NotNil(t, GetLogger())
		}()
	}
	wg.Wait()
}
