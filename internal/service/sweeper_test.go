package service

import (
	"context"
	"testing"
	"time"

	"github.com/fjod/go_ucp/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweeper_Run(t *testing.T) {
	env := newTestEnv(t)
	c := env.createReady(t)
	env.clock.Advance(DefaultCheckoutTTL + time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewSweeper(env.svc, 5*time.Millisecond).Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		got, err := env.repo.GetCheckout(context.Background(), c.ID)
		return err == nil && got.Status == domain.CheckoutStatusCanceled
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestExpireCheckouts_SkipsLockedCheckout(t *testing.T) {
	env := newTestEnv(t)
	c := env.createReady(t)
	env.clock.Advance(DefaultCheckoutTTL)

	unlock, ok := env.svc.locks.TryLock(c.ID)
	require.True(t, ok)
	n, err := env.svc.ExpireCheckouts(context.Background())
	unlock()
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = env.svc.ExpireCheckouts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
