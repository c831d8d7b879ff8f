// ABOUTME: Tests for lease lock row operations
// ABOUTME: Covers upsert, overwrite, and not-found behavior

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLock_GetNotFound(t *testing.T) {
	s := setupTestStore(t)

	err := s.RunInTx(context.Background(), func(tx *Tx) error {
		_, err := tx.GetLock("nope")
		assert.ErrorIs(t, err, ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestLock_PutAndGet(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	expires := time.Now().Add(30 * time.Second).UTC()
	err := s.RunInTx(ctx, func(tx *Tx) error {
		return tx.PutLock(&LockRecord{
			Key:         "expire-worker",
			HolderToken: "tok-1",
			ExpiresAt:   expires,
		})
	})
	require.NoError(t, err)

	err = s.RunInTx(ctx, func(tx *Tx) error {
		rec, err := tx.GetLock("expire-worker")
		require.NoError(t, err)
		assert.Equal(t, "tok-1", rec.HolderToken)
		assert.WithinDuration(t, expires, rec.ExpiresAt, time.Millisecond)
		return nil
	})
	require.NoError(t, err)
}

func TestLock_PutOverwritesHolder(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	err := s.RunInTx(ctx, func(tx *Tx) error {
		if err := tx.PutLock(&LockRecord{Key: "job", HolderToken: "tok-1", ExpiresAt: time.Now()}); err != nil {
			return err
		}
		return tx.PutLock(&LockRecord{Key: "job", HolderToken: "tok-2", ExpiresAt: time.Now().Add(time.Minute)})
	})
	require.NoError(t, err)

	err = s.RunInTx(ctx, func(tx *Tx) error {
		rec, err := tx.GetLock("job")
		require.NoError(t, err)
		assert.Equal(t, "tok-2", rec.HolderToken)
		return nil
	})
	require.NoError(t, err)
}
