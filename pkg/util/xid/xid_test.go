package xid_test

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omeyang/gatekit/pkg/util/xid"
)

func fixedMachineID(id uint16) xid.Option {
	return xid.WithMachineID(func() (uint16, error) { return id, nil })
}

func TestGeneratorNew(t *testing.T) {
	gen, err := xid.NewGenerator(fixedMachineID(1))
	require.NoError(t, err)

	id, err := gen.New()
	require.NoError(t, err)
	assert.Positive(t, id)
}

func TestNewStringRoundTrip(t *testing.T) {
	gen, err := xid.NewGenerator(fixedMachineID(1))
	require.NoError(t, err)

	s, err := gen.NewString()
	require.NoError(t, err)

	id, err := xid.Parse(s)
	require.NoError(t, err)
	assert.Equal(t, strconv.FormatInt(id, 36), s)
}

func TestIDsUniqueAndSortable(t *testing.T) {
	gen, err := xid.NewGenerator(fixedMachineID(1))
	require.NoError(t, err)

	const n = 100
	prev := int64(0)
	prevStr := ""
	seen := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		id, err := gen.New()
		require.NoError(t, err)
		require.Greater(t, id, prev, "ids must be strictly increasing")

		s := strconv.FormatInt(id, 36)
		_, dup := seen[s]
		require.False(t, dup, "duplicate id %q", s)
		seen[s] = struct{}{}

		// 同长度下 base36 保持字典序
		if prevStr != "" && len(prevStr) == len(s) {
			require.Less(t, prevStr, s)
		}
		prev, prevStr = id, s
	}
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"garbage", "!!!"},
		{"zero", "0"},
		{"negative", "-1"},
		{"overflow", "zzzzzzzzzzzzzzzzzz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := xid.Parse(tt.input)
			assert.ErrorIs(t, err, xid.ErrInvalidID)
		})
	}
}

func TestMachineIDCheckRejected(t *testing.T) {
	_, err := xid.NewGenerator(
		fixedMachineID(7),
		xid.WithMachineIDCheck(func(uint16) bool { return false }),
	)
	assert.ErrorIs(t, err, xid.ErrInvalidConfig)
}

func TestNilGenerator(t *testing.T) {
	var g *xid.Generator
	_, err := g.New()
	assert.ErrorIs(t, err, xid.ErrNilGenerator)

	// 零值实例同样被拒绝
	_, err = new(xid.Generator).NewString()
	assert.ErrorIs(t, err, xid.ErrNilGenerator)
}

func TestNewWithRetryGuards(t *testing.T) {
	gen, err := xid.NewGenerator(fixedMachineID(1))
	require.NoError(t, err)

	t.Run("nil context", func(t *testing.T) {
		var nilCtx context.Context
		_, err := gen.NewWithRetry(nilCtx)
		assert.ErrorIs(t, err, xid.ErrNilContext)
	})

	t.Run("canceled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := gen.NewWithRetry(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestPackageLevelDefault(t *testing.T) {
	// 默认生成器依赖环境推导机器 ID，CI 与开发机上主机名总是可用的
	s, err := xid.NewStringWithRetry(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, s)

	id, err := xid.New()
	require.NoError(t, err)
	assert.Positive(t, id)
}
