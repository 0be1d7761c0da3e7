package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAbnormalIndicatorStoreAppendKeepsHistory(t *testing.T) {
	ctx := context.Background()
	s := NewAbnormalIndicatorStore(NewMemoryKV())
	ts := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	require.NoError(t, s.Append(ctx, 7, []string{"GLU: 7.2 mmol/L (参考范围: 3.9-6.1)"}, ts, "ocr"))
	require.NoError(t, s.Append(ctx, 7, []string{"GLU: 7.2 mmol/L (参考范围: 3.9-6.1)", "TG: 2.3"}, ts.Add(time.Hour), "ocr"))

	all, err := s.GetAll(ctx, 7)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, all[0].Text, all[1].Text)
	assert.Equal(t, "ocr", all[2].Source)
	assert.True(t, all[2].Timestamp.Equal(ts.Add(time.Hour)))

	latest, err := s.Latest(ctx, 7, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"GLU: 7.2 mmol/L (参考范围: 3.9-6.1)", "TG: 2.3"}, []string{latest[0].Text, latest[1].Text})

	other, err := s.GetAll(ctx, 8)
	require.NoError(t, err)
	assert.NotNil(t, other)
	assert.Empty(t, other)

	require.NoError(t, s.Clear(ctx, 7))
	all, err = s.GetAll(ctx, 7)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestAbnormalIndicatorStoreAppendNothing(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	s := NewAbnormalIndicatorStore(kv)

	require.NoError(t, s.Append(ctx, 1, nil, time.Now(), "manual"))
	_, ok, err := kv.Get(ctx, indicatorKey(1))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDecodeRejectsUnknownVersion(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	require.NoError(t, kv.Set(ctx, indicatorKey(3), []byte(`{"version":99,"data":[]}`)))

	_, err := NewAbnormalIndicatorStore(kv).GetAll(ctx, 3)
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestEnvelopeShape(t *testing.T) {
	raw, err := encode([]string{"a"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":1,"data":["a"]}`, string(raw))
}

func TestCurrentSessionStore(t *testing.T) {
	ctx := context.Background()
	s := NewCurrentSessionStore(NewMemoryKV())

	id, err := s.Get(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, id)

	require.NoError(t, s.Set(ctx, 2, "6f1c7c0e-2d8e-4a55-9a50-1f1f0c3a9e11"))
	id, err = s.Get(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "6f1c7c0e-2d8e-4a55-9a50-1f1f0c3a9e11", id)

	require.NoError(t, s.Clear(ctx, 2))
	id, err = s.Get(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, id)
}
