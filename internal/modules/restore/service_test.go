package restore

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/delimatsuo/dressup-core/internal/config"
	"github.com/delimatsuo/dressup-core/internal/modules/session"
	"github.com/delimatsuo/dressup-core/internal/pkg/apperr"
	"github.com/delimatsuo/dressup-core/internal/pkg/kv"
)

func newTestServices(t *testing.T) (*Service, *session.Service, *time.Time) {
	t.Helper()
	store := kv.NewMemoryStore()
	now := time.Now().UTC()
	store.SetClock(func() time.Time { return now })
	sessions := session.NewService(store, config.SessionConfig{
		TTL:         1800 * time.Second,
		MaxLifetime: 4 * time.Hour,
	}, session.WithClock(func() time.Time { return now }))
	svc := NewService(store, sessions, 24*time.Hour)
	return svc, sessions, &now
}

func TestIssueAndRedeemRotatesToken(t *testing.T) {
	svc, sessions, _ := newTestServices(t)
	ctx := context.Background()

	sess, err := sessions.Create(ctx)
	require.NoError(t, err)

	token, err := svc.Issue(ctx, sess.ID)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	res, err := svc.Redeem(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, res.SessionID)
	assert.NotEmpty(t, res.Token)
	assert.NotEqual(t, token, res.Token)

	// The stored session carries the replacement token.
	stored, err := sessions.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Token, stored.RestorationToken)
}

func TestRedeemConsumesToken(t *testing.T) {
	svc, sessions, _ := newTestServices(t)
	ctx := context.Background()

	sess, err := sessions.Create(ctx)
	require.NoError(t, err)
	token, err := svc.Issue(ctx, sess.ID)
	require.NoError(t, err)

	_, err = svc.Redeem(ctx, token)
	require.NoError(t, err)

	// Replay of the consumed token must fail.
	_, err = svc.Redeem(ctx, token)
	assert.True(t, apperr.IsNotFound(err))
}

func TestRedeemIsExactlyOncePerIssuance(t *testing.T) {
	svc, sessions, _ := newTestServices(t)
	ctx := context.Background()

	sess, err := sessions.Create(ctx)
	require.NoError(t, err)
	token, err := svc.Issue(ctx, sess.ID)
	require.NoError(t, err)

	// Overlapping redemptions of the same token must agree on one winner.
	const attempts = 8
	var wg sync.WaitGroup
	var successes atomic.Int32
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Redeem(ctx, token); err == nil {
				successes.Add(1)
			} else {
				assert.True(t, apperr.IsNotFound(err))
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), successes.Load())
}

func TestIssueInvalidatesPreviousToken(t *testing.T) {
	svc, sessions, _ := newTestServices(t)
	ctx := context.Background()

	sess, err := sessions.Create(ctx)
	require.NoError(t, err)

	first, err := svc.Issue(ctx, sess.ID)
	require.NoError(t, err)
	second, err := svc.Issue(ctx, sess.ID)
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	_, err = svc.Redeem(ctx, first)
	assert.True(t, apperr.IsNotFound(err), "only the latest token is live")

	res, err := svc.Redeem(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, res.SessionID)
}

func TestRedeemAfterSessionDelete(t *testing.T) {
	svc, sessions, _ := newTestServices(t)
	ctx := context.Background()

	sess, err := sessions.Create(ctx)
	require.NoError(t, err)
	token, err := svc.Issue(ctx, sess.ID)
	require.NoError(t, err)

	deleted, err := sessions.Delete(ctx, sess.ID)
	require.NoError(t, err)
	require.True(t, deleted)

	_, err = svc.Redeem(ctx, token)
	assert.True(t, apperr.IsNotFound(err))
}

func TestRedeemAfterSessionExpiry(t *testing.T) {
	svc, sessions, now := newTestServices(t)
	ctx := context.Background()

	sess, err := sessions.Create(ctx)
	require.NoError(t, err)
	token, err := svc.Issue(ctx, sess.ID)
	require.NoError(t, err)

	// Token window is still open, but the session itself lapsed.
	*now = now.Add(2 * time.Hour)
	_, err = svc.Redeem(ctx, token)
	assert.True(t, apperr.IsNotFound(err), "liveness is checked at redemption time")
}

func TestRedeemEmptyToken(t *testing.T) {
	svc, _, _ := newTestServices(t)
	_, err := svc.Redeem(context.Background(), "")
	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
}

func TestIssueForUnknownSession(t *testing.T) {
	svc, _, _ := newTestServices(t)
	_, err := svc.Issue(context.Background(), "ghost")
	assert.True(t, apperr.IsNotFound(err))
}
