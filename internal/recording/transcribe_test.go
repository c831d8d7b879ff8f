// ABOUTME: Tests for the transcription worker pass and the full lifecycle
// ABOUTME: Covers lease loss, stale re-checks, and the feed record sequence

package recording

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/looma-sync/internal/lease"
	"github.com/2389/looma-sync/internal/media"
	"github.com/2389/looma-sync/internal/store"
)

// finishedSession creates a session with finalized audio awaiting transcription.
func finishedSession(t *testing.T, svc *Service, owner string) string {
	t.Helper()
	ctx := context.Background()

	sess, err := svc.Create(ctx, owner)
	require.NoError(t, err)
	_, err = svc.UploadChunks(ctx, owner, sess.ID, "k1", "pcm16", [][]byte{[]byte("audio")})
	require.NoError(t, err)
	_, err = svc.Finish(ctx, owner, sess.ID)
	require.NoError(t, err)
	return sess.ID
}

func TestTranscribeNext_NoWork(t *testing.T) {
	svc, _, _ := setupTestService(t, echoTranscriber("hi"))

	did, err := svc.TranscribeNext(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, did)
}

func TestTranscribeNext_FinishesSession(t *testing.T) {
	svc, st, _ := setupTestService(t, echoTranscriber("hello from the lake"))
	ctx := context.Background()
	id := finishedSession(t, svc, "alice")

	did, err := svc.TranscribeNext(ctx, nil)
	require.NoError(t, err)
	assert.True(t, did)

	got, err := st.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, store.SessionFinished, got.State)
	require.NotNil(t, got.Transcription)
	assert.Equal(t, "hello from the lake", *got.Transcription)
}

func TestTranscribeNext_LeaseLostDiscardsWork(t *testing.T) {
	svc, st, _ := setupTestService(t, echoTranscriber("wasted"))
	ctx := context.Background()
	id := finishedSession(t, svc, "alice")

	lost := func() bool { return false }
	_, err := svc.TranscribeNext(ctx, lost)
	assert.ErrorIs(t, err, lease.ErrLockNotHeld)

	got, err := st.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, store.SessionProcessing, got.State)
	assert.Nil(t, got.Transcription)
}

func TestTranscribeNext_TranscriberFailure(t *testing.T) {
	boom := media.TranscriberFunc(func(ctx context.Context, ref string) (string, error) {
		return "", errors.New("backend down")
	})
	svc, st, _ := setupTestService(t, boom)
	ctx := context.Background()
	id := finishedSession(t, svc, "alice")

	_, err := svc.TranscribeNext(ctx, nil)
	assert.Error(t, err)

	// Session stays eligible for the next pass.
	got, err := st.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, store.SessionProcessing, got.State)
}

func TestTranscribeNext_NoTranscriberConfigured(t *testing.T) {
	svc, _, _ := setupTestService(t, nil)
	finishedSession(t, svc, "alice")

	_, err := svc.TranscribeNext(context.Background(), nil)
	assert.Error(t, err)
}

func TestTranscribeNext_SessionMovedOnDiscards(t *testing.T) {
	var svc *Service
	var st *store.SQLiteStore

	// The session is canceled while transcription is in flight; the
	// re-check inside the final transaction must discard the result.
	racer := media.TranscriberFunc(func(ctx context.Context, ref string) (string, error) {
		pending, err := st.NextTranscribable(ctx)
		if err != nil {
			return "", err
		}
		err = st.RunInTx(ctx, func(tx *store.Tx) error {
			cur, err := tx.GetSession(pending.ID)
			if err != nil {
				return err
			}
			cur.State = store.SessionCanceled
			cur.LastActivityAt = time.Now()
			return tx.UpdateSession(cur)
		})
		return "too late", err
	})

	svc, st, fd := setupTestService(t, racer)
	ctx := context.Background()
	id := finishedSession(t, svc, "alice")
	before := len(readAll(t, fd, "alice"))

	did, err := svc.TranscribeNext(ctx, nil)
	require.NoError(t, err)
	assert.True(t, did)

	got, err := st.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, store.SessionCanceled, got.State)
	assert.Nil(t, got.Transcription)
	assert.Len(t, readAll(t, fd, "alice"), before)
}

// TestSessionLifecycle_FeedSequence walks one session through its whole
// life and checks the update log a client would replay: the first upload
// is seq 1, a retried upload adds nothing, and transcription lands as
// seq 2 and 3.
func TestSessionLifecycle_FeedSequence(t *testing.T) {
	svc, st, fd := setupTestService(t, echoTranscriber("morning standup notes"))
	ctx := context.Background()

	sess, err := svc.Create(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, store.SessionStarting, sess.State)

	_, err = svc.UploadChunks(ctx, "alice", sess.ID, "k1", "pcm16", [][]byte{[]byte("audio")})
	require.NoError(t, err)

	res, err := svc.UploadChunks(ctx, "alice", sess.ID, "k1", "pcm16", [][]byte{[]byte("audio")})
	require.NoError(t, err)
	assert.True(t, res.AlreadyApplied)

	_, err = svc.Finish(ctx, "alice", sess.ID)
	require.NoError(t, err)

	did, err := svc.TranscribeNext(ctx, nil)
	require.NoError(t, err)
	assert.True(t, did)

	chunks, err := st.SessionChunks(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, chunks, 1)

	records := readAll(t, fd, "alice")
	require.Len(t, records, 3)

	assert.Equal(t, int64(1), records[0].Seq)
	assert.Equal(t, store.UpdateTypeSessionUpdated, records[0].Type)
	var first SessionUpdatePayload
	require.NoError(t, json.Unmarshal(records[0].Payload, &first))
	assert.Equal(t, store.SessionInProgress, first.State)

	assert.Equal(t, int64(2), records[1].Seq)
	assert.Equal(t, store.UpdateTypeSessionTranscribed, records[1].Type)
	var transcribed SessionTranscribedPayload
	require.NoError(t, json.Unmarshal(records[1].Payload, &transcribed))
	assert.Equal(t, "morning standup notes", transcribed.Transcription)

	assert.Equal(t, int64(3), records[2].Seq)
	assert.Equal(t, store.UpdateTypeSessionUpdated, records[2].Type)
	var last SessionUpdatePayload
	require.NoError(t, json.Unmarshal(records[2].Payload, &last))
	assert.Equal(t, store.SessionFinished, last.State)
}

func TestWorkers_AdaptToLeasePasses(t *testing.T) {
	svc, st, _ := setupTestService(t, echoTranscriber("via worker"))
	ctx := context.Background()
	id := finishedSession(t, svc, "alice")

	require.NoError(t, svc.ExpiryWorker()(ctx, func() bool { return true }))
	require.NoError(t, svc.TranscriptionWorker()(ctx, func() bool { return true }))

	got, err := st.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, store.SessionFinished, got.State)
}
