package persistence

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dustState struct {
	Size     float64 `json:"size"`
	AvgPrice float64 `json:"avgPrice"`
}

type strategyState struct {
	Dust     dustState `persistence:"dust"`
	Untagged string
}

func TestJSONFileStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	service := NewJSONFileService(dir)

	store := service.NewStore("state", "btc-15m", "dust")

	var missing dustState
	err := store.Load(&missing)
	assert.ErrorIs(t, err, ErrNotExists)

	saved := dustState{Size: 3, AvgPrice: 0.62}
	require.NoError(t, store.Save(saved))

	var loaded dustState
	require.NoError(t, store.Load(&loaded))
	assert.Equal(t, saved, loaded)

	// rename 之后不应留下临时文件
	tmps, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, tmps)
}

func TestSaveLoadFields(t *testing.T) {
	dir := t.TempDir()
	service := NewJSONFileService(dir)

	src := &strategyState{Dust: dustState{Size: 7, AvgPrice: 0.55}}
	require.NoError(t, SaveFields(src, "btc-15m", service))

	dst := &strategyState{}
	require.NoError(t, LoadFields(dst, "btc-15m", service))
	assert.Equal(t, src.Dust, dst.Dust)

	// 不同 id 之间互不影响
	other := &strategyState{}
	require.NoError(t, LoadFields(other, "eth-15m", service))
	assert.Zero(t, other.Dust.Size)
}
