package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wenwu/saas-platform/botfleet/internal/models"
)

func newTestPool(validator keyValidator) (*AccountPool, *memAccounts, *memDeployments) {
	accounts := newMemAccounts()
	deployments := newMemDeployments(accounts)
	return NewAccountPool(accounts, deployments, validator, zap.NewNop()), accounts, deployments
}

// ---------- Next ----------

func TestAccountPool_Next_NoAccounts(t *testing.T) {
	pool, accounts, _ := newTestPool(nil)
	accounts.add("off", models.InstanceMicro, false)

	a, err := pool.Next(context.Background())
	assert.Nil(t, a)
	assert.ErrorIs(t, err, ErrNoAccountAvailable)
}

func TestAccountPool_Next_PrefersNeverUsed(t *testing.T) {
	pool, accounts, _ := newTestPool(nil)
	ctx := context.Background()

	used := accounts.add("used", models.InstanceMicro, true)
	require.NoError(t, accounts.MarkUsed(ctx, used.ID))
	fresh := accounts.add("fresh", models.InstanceMicro, true)

	a, err := pool.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, fresh.ID, a.ID)
}

func TestAccountPool_Next_LeastRecentlyUsed(t *testing.T) {
	pool, accounts, _ := newTestPool(nil)
	ctx := context.Background()

	a1 := accounts.add("a1", models.InstanceMicro, true)
	a2 := accounts.add("a2", models.InstanceMicro, true)
	a3 := accounts.add("a3", models.InstanceMicro, true)
	require.NoError(t, accounts.MarkUsed(ctx, a2.ID))
	require.NoError(t, accounts.MarkUsed(ctx, a3.ID))
	require.NoError(t, accounts.MarkUsed(ctx, a1.ID))

	a, err := pool.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, a2.ID, a.ID)
}

func TestAccountPool_Next_ListError(t *testing.T) {
	pool, accounts, _ := newTestPool(nil)
	accounts.err = errors.New("db down")

	_, err := pool.Next(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoAccountAvailable)
}

// ---------- Acquire / leases ----------

func TestAccountPool_Acquire_SpreadsConcurrentLeases(t *testing.T) {
	pool, accounts, _ := newTestPool(nil)
	ctx := context.Background()
	a1 := accounts.add("a1", models.InstanceMicro, true)
	a2 := accounts.add("a2", models.InstanceMicro, true)

	l1, err := pool.Acquire(ctx)
	require.NoError(t, err)
	l2, err := pool.Acquire(ctx)
	require.NoError(t, err)

	assert.Equal(t, a1.ID, l1.Account.ID)
	assert.Equal(t, a2.ID, l2.Account.ID)

	// everything leased: fall back to LRU
	l3, err := pool.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, a1.ID, l3.Account.ID)

	l1.Release()
	l2.Release()
	l3.Release()
	assert.Empty(t, pool.leased)
}

func TestAccountPool_Lease_CommitMarksUsed(t *testing.T) {
	pool, accounts, _ := newTestPool(nil)
	ctx := context.Background()
	a1 := accounts.add("a1", models.InstanceMicro, true)
	a2 := accounts.add("a2", models.InstanceMicro, true)

	lease, err := pool.Acquire(ctx)
	require.NoError(t, err)
	require.Equal(t, a1.ID, lease.Account.ID)
	require.NoError(t, lease.Commit(ctx))
	assert.NotNil(t, accounts.lastUsed(a1.ID))

	// commit after commit is a no-op
	require.NoError(t, lease.Commit(ctx))
	lease.Release()

	next, err := pool.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, a2.ID, next.ID)
	assert.Empty(t, pool.leased)
}

func TestAccountPool_Lease_ReleaseLeavesRotation(t *testing.T) {
	pool, accounts, _ := newTestPool(nil)
	ctx := context.Background()
	a1 := accounts.add("a1", models.InstanceMicro, true)

	lease, err := pool.Acquire(ctx)
	require.NoError(t, err)
	lease.Release()
	require.NoError(t, lease.Commit(ctx))

	assert.Nil(t, accounts.lastUsed(a1.ID))
}

func TestAccountPool_Acquire_NoAccounts(t *testing.T) {
	pool, _, _ := newTestPool(nil)

	lease, err := pool.Acquire(context.Background())
	assert.Nil(t, lease)
	assert.ErrorIs(t, err, ErrNoAccountAvailable)
}

// ---------- Create ----------

func TestAccountPool_Create_DefaultsTier(t *testing.T) {
	pool, _, _ := newTestPool(nil)

	a, err := pool.Create(context.Background(), &models.CreateAccountRequest{
		Name: " main ", APIKey: "key", AppID: "app", SkipValidation: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "main", a.Name)
	assert.Equal(t, models.InstanceMicro, a.InstanceType)
	assert.True(t, a.Enabled)
	assert.NotZero(t, a.ID)
}

func TestAccountPool_Create_Validation(t *testing.T) {
	tests := []struct {
		name  string
		req   models.CreateAccountRequest
		field string
	}{
		{"missing name", models.CreateAccountRequest{APIKey: "k", AppID: "a"}, "name"},
		{"blank api key", models.CreateAccountRequest{Name: "n", APIKey: "  ", AppID: "a"}, "api_key"},
		{"missing app id", models.CreateAccountRequest{Name: "n", APIKey: "k"}, "app_id"},
		{"bad tier", models.CreateAccountRequest{Name: "n", APIKey: "k", AppID: "a", InstanceType: "huge"}, "instance_type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool, accounts, _ := newTestPool(nil)
			_, err := pool.Create(context.Background(), &tt.req)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidation)
			var ve *ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tt.field, ve.Field)
			assert.Empty(t, accounts.rows)
		})
	}
}

func TestAccountPool_Create_ChecksAPIKey(t *testing.T) {
	ctx := context.Background()

	t.Run("rejected key", func(t *testing.T) {
		v := &mockProvider{}
		v.On("ValidateAPIKey", mock.Anything, "bad").Return(false, nil)
		pool, accounts, _ := newTestPool(v)

		_, err := pool.Create(ctx, &models.CreateAccountRequest{Name: "n", APIKey: "bad", AppID: "a"})
		assert.ErrorIs(t, err, ErrValidation)
		assert.Contains(t, err.Error(), "Invalid Koyeb API key")
		assert.Empty(t, accounts.rows)
		v.AssertExpectations(t)
	})

	t.Run("provider unreachable", func(t *testing.T) {
		v := &mockProvider{}
		v.On("ValidateAPIKey", mock.Anything, "k").Return(false, errors.New("timeout"))
		pool, _, _ := newTestPool(v)

		_, err := pool.Create(ctx, &models.CreateAccountRequest{Name: "n", APIKey: "k", AppID: "a"})
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrValidation)
	})

	t.Run("skip validation", func(t *testing.T) {
		v := &mockProvider{}
		pool, _, _ := newTestPool(v)

		_, err := pool.Create(ctx, &models.CreateAccountRequest{Name: "n", APIKey: "k", AppID: "a", SkipValidation: true})
		require.NoError(t, err)
		v.AssertNotCalled(t, "ValidateAPIKey", mock.Anything, mock.Anything)
	})
}

// ---------- SetEnabled / Delete / Stats ----------

func TestAccountPool_SetEnabled(t *testing.T) {
	pool, accounts, _ := newTestPool(nil)
	ctx := context.Background()
	a := accounts.add("a", models.InstanceMicro, true)

	require.NoError(t, pool.SetEnabled(ctx, a.ID, false))
	_, err := pool.Next(ctx)
	assert.ErrorIs(t, err, ErrNoAccountAvailable)

	assert.ErrorIs(t, pool.SetEnabled(ctx, 999, true), ErrNotFound)
}

func TestAccountPool_Delete_RefusesWhileInUse(t *testing.T) {
	pool, accounts, deployments := newTestPool(nil)
	ctx := context.Background()
	a := accounts.add("a", models.InstanceMicro, true)
	require.NoError(t, deployments.Create(ctx, &models.Deployment{AccountID: a.ID, ServiceID: "svc"}))

	err := pool.Delete(ctx, a.ID)
	assert.ErrorIs(t, err, ErrAccountInUse)
	_, err = pool.Get(ctx, a.ID)
	require.NoError(t, err)

	require.NoError(t, deployments.Delete(ctx, 1))
	require.NoError(t, pool.Delete(ctx, a.ID))
	_, err = pool.Get(ctx, a.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAccountPool_Delete_NotFound(t *testing.T) {
	pool, _, _ := newTestPool(nil)
	assert.ErrorIs(t, pool.Delete(context.Background(), 42), ErrNotFound)
}

func TestAccountPool_Stats(t *testing.T) {
	pool, accounts, _ := newTestPool(nil)
	accounts.add("a", models.InstanceMicro, true)
	accounts.add("b", models.InstanceFree, false)

	stats, err := pool.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &models.AccountStats{Total: 2, Enabled: 1}, stats)
}

func TestAccountPool_MarkUsed(t *testing.T) {
	pool, accounts, _ := newTestPool(nil)
	ctx := context.Background()
	a := accounts.add("a", models.InstanceMicro, true)

	require.NoError(t, pool.MarkUsed(ctx, a.ID))
	assert.NotNil(t, accounts.lastUsed(a.ID))

	assert.ErrorIs(t, pool.MarkUsed(ctx, 77), ErrNotFound)
}
