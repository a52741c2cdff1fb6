package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/meter_pay_server/internal/model"
	"github.com/qs3c/meter_pay_server/internal/testutil"
)

func TestSubscriptionChecker_SweepExpired(t *testing.T) {
	env := setupServices(t)
	expired := testutil.TestUser(t, env.client,
		testutil.WithSubscription(model.SubscriptionMonthly, time.Now().Add(-time.Minute)),
		testutil.WithCallsRemaining(7),
	)
	active := testutil.TestUser(t, env.client,
		testutil.WithSubscription(model.SubscriptionYearly, time.Now().Add(time.Hour)),
	)
	trial := testutil.TestUser(t, env.client, testutil.WithCallsRemaining(2))

	result, err := env.checker.SweepExpired(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Scanned)
	assert.Equal(t, 1, result.Demoted)

	demoted := env.reloadUser(t, expired.ID)
	assert.Equal(t, model.SubscriptionTrial, demoted.SubscriptionType)
	assert.Equal(t, 0, demoted.APICallsRemaining)
	assert.Nil(t, demoted.SubscriptionExpiresAt)

	assert.Equal(t, model.SubscriptionYearly, env.reloadUser(t, active.ID).SubscriptionType)
	assert.Equal(t, 2, env.reloadUser(t, trial.ID).APICallsRemaining)
	assert.Equal(t, 1.0, promtest.ToFloat64(env.metrics.SweepDemotions))
	assert.True(t, hasLogMessage(env.hook, "expired subscription demoted to trial"))

	// 再次扫描不会重复降级
	result, err = env.checker.SweepExpired(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Demoted)
}

func TestSubscriptionChecker_SweepExpired_ManyPages(t *testing.T) {
	env := setupServices(t)
	const users = sweepBatchSize*2 + 15
	for i := 0; i < users; i++ {
		testutil.TestUser(t, env.client,
			testutil.WithEmail(fmt.Sprintf("page_%d@example.com", i)),
			testutil.WithSubscription(model.SubscriptionMonthly, time.Now().Add(-time.Hour)),
		)
	}

	result, err := env.checker.SweepExpired(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, users, result.Scanned)
	assert.Equal(t, users, result.Demoted)
}

func TestSubscriptionChecker_SweepExpired_Cancelled(t *testing.T) {
	env := setupServices(t)
	testutil.TestUser(t, env.client)

	ctx, cancel := context.WithCancel(env.ctx)
	cancel()

	_, err := env.checker.SweepExpired(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSubscriptionChecker_CheckOne(t *testing.T) {
	env := setupServices(t)
	expired := testutil.TestUser(t, env.client,
		testutil.WithSubscription(model.SubscriptionYearly, time.Now().Add(-time.Second)),
	)
	active := testutil.TestUser(t, env.client,
		testutil.WithSubscription(model.SubscriptionMonthly, time.Now().Add(time.Hour)),
	)
	trial := testutil.TestUser(t, env.client, testutil.WithCallsRemaining(0))

	valid, err := env.checker.CheckOne(env.ctx, expired.ID)
	require.NoError(t, err)
	assert.False(t, valid)
	assert.Equal(t, model.SubscriptionTrial, env.reloadUser(t, expired.ID).SubscriptionType)

	valid, err = env.checker.CheckOne(env.ctx, active.ID)
	require.NoError(t, err)
	assert.True(t, valid)

	valid, err = env.checker.CheckOne(env.ctx, trial.ID)
	require.NoError(t, err)
	assert.True(t, valid)

	_, err = env.checker.CheckOne(env.ctx, "missing00000")
	assert.ErrorIs(t, err, ErrUserNotFound)
}
