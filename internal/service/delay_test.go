package service

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDelayScheduler_WithinBounds(t *testing.T) {
	d := NewDelayScheduler(rand.New(rand.NewSource(42)))
	seen := map[time.Duration]bool{}
	for i := 0; i < 500; i++ {
		v := d.Next(3, 7)
		assert.GreaterOrEqual(t, v, 3*time.Second)
		assert.LessOrEqual(t, v, 7*time.Second)
		seen[v] = true
	}
	assert.Len(t, seen, 5, "every value in the closed range should occur")
}

func TestDelayScheduler_FixedInterval(t *testing.T) {
	d := NewDelayScheduler(nil)
	assert.Equal(t, 2*time.Second, d.Next(2, 2))
}
