package id

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratorIsMonotonic(t *testing.T) {
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	entropy := ulid.Monotonic(bytes.NewReader(bytes.Repeat([]byte{0x42}, 256)), 0)
	gen := NewGeneratorWithEntropy(entropy, func() time.Time { return fixed })

	a := gen.Generate()
	b := gen.Generate()
	assert.Equal(t, -1, a.Compare(b), "same millisecond still sorts")
	assert.Equal(t, uint64(fixed.UnixMilli()), a.Time())
}

func TestPrefixedIDs(t *testing.T) {
	tests := []struct {
		name   string
		value  string
		prefix string
	}{
		{name: "boot", value: NewBootID().String(), prefix: BootPrefix},
		{name: "span", value: NewSpanID().String(), prefix: SpanPrefix},
		{name: "request", value: NewRequestID().String(), prefix: RequestPrefix},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, strings.HasPrefix(tt.value, tt.prefix+"_"))
			assert.True(t, IsValid(tt.value))
			assert.Len(t, strings.TrimPrefix(tt.value, tt.prefix+"_"), 26)
		})
	}
}

func TestParseAndTimestamp(t *testing.T) {
	before := time.Now().Add(-time.Second)
	s := NewSpanID().String()

	ts, err := Timestamp(s)
	require.NoError(t, err)
	assert.True(t, ts.After(before))

	assert.False(t, IsValid("span_not-a-ulid"))
	_, err = Parse("")
	assert.Error(t, err)
}

func TestConcurrentGenerationIsUnique(t *testing.T) {
	gen := NewGenerator()
	const workers, each = 8, 200

	var mu sync.Mutex
	seen := make(map[string]struct{}, workers*each)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < each; i++ {
				s := gen.Generate().String()
				mu.Lock()
				seen[s] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, workers*each)
}
