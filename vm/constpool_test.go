package vm

import (
	"fmt"
	"math"
	"testing"
)

func assert(t *testing.T, cond bool, format string, args ...any) {
	if !cond {
		t.Fatalf(fmt.Sprintf("%v %s", cond, format), args...)
	}
}

func TestConstantPoolDedup(t *testing.T) {
	pool := NewConstantPool()

	i1, err := pool.Add(U64Value(42))
	assert(t, err == nil, "Add failed: %s", err)
	assert(t, pool.Len() == 1, "expected length 1, got %d", pool.Len())

	i2, err := pool.Add(U64Value(42))
	assert(t, err == nil, "Add failed: %s", err)
	assert(t, i1 == i2, "duplicate add returned a different index: %d vs %d", i1, i2)
	assert(t, pool.Len() == 1, "dedup should not grow the pool, got length %d", pool.Len())

	_, err = pool.Add(U64Value(43))
	assert(t, err == nil, "Add failed: %s", err)
	assert(t, pool.Len() == 2, "expected length 2 after distinct add, got %d", pool.Len())
}

func TestConstantPoolNaNBitwiseDedup(t *testing.T) {
	pool := NewConstantPool()

	nan1 := F64Value(math.Float64frombits(0x7FF8000000000001))
	nan2 := F64Value(math.Float64frombits(0x7FF8000000000002))

	_, err := pool.Add(nan1)
	assert(t, err == nil, "Add failed: %s", err)
	_, err = pool.Add(nan2)
	assert(t, err == nil, "Add failed: %s", err)

	assert(t, pool.Len() == 2, "two distinct NaN bit patterns should not dedup, got length %d", pool.Len())
}

func TestConstantPoolGetOutOfRange(t *testing.T) {
	pool := NewConstantPool()
	_, err := pool.Get(0)
	assert(t, err != nil, "expected an out-of-range error on an empty pool")
}
