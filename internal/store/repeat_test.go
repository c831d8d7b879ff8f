// ABOUTME: Tests for repeat-key (idempotency) records
// ABOUTME: Covers check/save, TTL expiry, and key reuse after expiry

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepeatKey_CheckMissReturnsNotFound(t *testing.T) {
	s := setupTestStore(t)

	err := s.RunInTx(context.Background(), func(tx *Tx) error {
		_, ok, err := tx.CheckRepeat("nope")
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	})
	require.NoError(t, err)
}

func TestRepeatKey_SaveThenCheck(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	err := s.RunInTx(ctx, func(tx *Tx) error {
		return tx.SaveRepeat("k1", `{"accepted":true}`, time.Hour)
	})
	require.NoError(t, err)

	err = s.RunInTx(ctx, func(tx *Tx) error {
		value, ok, err := tx.CheckRepeat("k1")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, `{"accepted":true}`, value)
		return nil
	})
	require.NoError(t, err)
}

func TestRepeatKey_ExpiredTreatedAsAbsent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	err := s.RunInTx(ctx, func(tx *Tx) error {
		return tx.SaveRepeat("k1", "old", -time.Second)
	})
	require.NoError(t, err)

	err = s.RunInTx(ctx, func(tx *Tx) error {
		_, ok, err := tx.CheckRepeat("k1")
		require.NoError(t, err)
		assert.False(t, ok)

		// The key can be reused as if absent
		return tx.SaveRepeat("k1", "new", time.Hour)
	})
	require.NoError(t, err)

	err = s.RunInTx(ctx, func(tx *Tx) error {
		value, ok, err := tx.CheckRepeat("k1")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "new", value)
		return nil
	})
	require.NoError(t, err)
}

func TestRepeatKey_PurgeExpired(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	err := s.RunInTx(ctx, func(tx *Tx) error {
		if err := tx.SaveRepeat("live", "v", time.Hour); err != nil {
			return err
		}
		return tx.SaveRepeat("dead", "v", -time.Minute)
	})
	require.NoError(t, err)

	err = s.RunInTx(ctx, func(tx *Tx) error {
		purged, err := tx.PurgeExpiredRepeats(time.Now())
		require.NoError(t, err)
		assert.Equal(t, int64(1), purged)

		_, ok, err := tx.CheckRepeat("live")
		require.NoError(t, err)
		assert.True(t, ok)
		return nil
	})
	require.NoError(t, err)
}
