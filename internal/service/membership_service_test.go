package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/studio_go_server/internal/model"
	"github.com/qs3c/studio_go_server/internal/pkg/email"
	"github.com/qs3c/studio_go_server/internal/testutil"
)

func TestMembershipService_AssignMembership(t *testing.T) {
	env := setupServices(t)
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	env.setNow(now)

	owner := env.ownerPrincipal(t)
	student := testutil.TestUser(t, env.db)
	mt := testutil.TestMembershipType(t, env.db)

	m, err := env.ledger.AssignMembership(context.Background(), owner, student.ID, mt.ID)
	require.NoError(t, err)

	assert.True(t, m.IsActive)
	assert.True(t, m.StartDate.Equal(now))
	require.NotNil(t, m.EndDate)
	assert.True(t, m.EndDate.Equal(now.AddDate(0, 0, 30)))
	assert.Nil(t, m.RemainingClasses)
	assert.True(t, m.BalanceDue.Equal(decimal.NewFromInt(50)))
	assert.Nil(t, m.PurchaseDate)
	assert.Equal(t, []email.Kind{email.KindMembershipAssigned}, env.notifier.kinds())
}

func TestMembershipService_AssignMembership_Errors(t *testing.T) {
	env := setupServices(t)
	owner := env.ownerPrincipal(t)
	student := testutil.TestUser(t, env.db)
	mt := testutil.TestMembershipType(t, env.db)
	inactive := testutil.TestMembershipType(t, env.db, testutil.WithTypeInactive())

	_, err := env.ledger.AssignMembership(context.Background(), principalOf(student), student.ID, mt.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = env.ledger.AssignMembership(context.Background(), owner, 99999, mt.ID)
	assert.ErrorIs(t, err, ErrUserNotFound)

	_, err = env.ledger.AssignMembership(context.Background(), owner, student.ID, 99999)
	assert.ErrorIs(t, err, ErrMembershipTypeNotFound)

	_, err = env.ledger.AssignMembership(context.Background(), owner, student.ID, inactive.ID)
	assert.ErrorIs(t, err, ErrMembershipTypeInactive)
	assertKind(t, err, KindInvalidState)
}

func TestMembershipService_AssignTwice_ThenSuspendAndAssign(t *testing.T) {
	env := setupServices(t)
	owner := env.ownerPrincipal(t)
	student := testutil.TestUser(t, env.db)
	mt := testutil.TestMembershipType(t, env.db)

	first, err := env.ledger.AssignMembership(context.Background(), owner, student.ID, mt.ID)
	require.NoError(t, err)

	_, err = env.ledger.AssignMembership(context.Background(), owner, student.ID, mt.ID)
	assert.ErrorIs(t, err, ErrMembershipActiveExists)
	assertKind(t, err, KindConflict)

	suspended, err := env.ledger.SuspendMembership(context.Background(), owner, first.ID)
	require.NoError(t, err)
	assert.False(t, suspended.IsActive)

	// 重复暂停保持幂等
	_, err = env.ledger.SuspendMembership(context.Background(), owner, first.ID)
	require.NoError(t, err)

	second, err := env.ledger.AssignMembership(context.Background(), owner, student.ID, mt.ID)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	// 同类型已有有效会员，恢复旧会员冲突
	_, err = env.ledger.ReactivateMembership(context.Background(), owner, first.ID)
	assert.ErrorIs(t, err, ErrMembershipActiveExists)
}

func TestMembershipService_ConcurrentAssign_OneWins(t *testing.T) {
	env := setupServices(t)
	owner := env.ownerPrincipal(t)
	student := testutil.TestUser(t, env.db)
	mt := testutil.TestMembershipType(t, env.db)
	const attempts = 8

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, conflicts := 0, 0
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.ledger.AssignMembership(context.Background(), owner, student.ID, mt.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case KindOf(err) == KindConflict:
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, attempts-1, conflicts)

	var count int64
	require.NoError(t, env.db.Model(&model.Membership{}).
		Where("user_id = ? AND membership_type_id = ? AND is_active = ?", student.ID, mt.ID, true).
		Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestMembershipService_Reactivate(t *testing.T) {
	env := setupServices(t)
	owner := env.ownerPrincipal(t)
	student := testutil.TestUser(t, env.db)
	mt := testutil.TestMembershipType(t, env.db)

	m, err := env.ledger.AssignMembership(context.Background(), owner, student.ID, mt.ID)
	require.NoError(t, err)
	_, err = env.ledger.SuspendMembership(context.Background(), owner, m.ID)
	require.NoError(t, err)

	reactivated, err := env.ledger.ReactivateMembership(context.Background(), owner, m.ID)
	require.NoError(t, err)
	assert.True(t, reactivated.IsActive)

	again, err := env.ledger.ReactivateMembership(context.Background(), owner, m.ID)
	require.NoError(t, err)
	assert.True(t, again.IsActive)

	_, err = env.ledger.ReactivateMembership(context.Background(), owner, 99999)
	assert.ErrorIs(t, err, ErrMembershipNotFound)
}

func TestMembershipService_Reactivate_Expired(t *testing.T) {
	env := setupServices(t)
	owner := env.ownerPrincipal(t)
	student := testutil.TestUser(t, env.db)
	mt := testutil.TestMembershipType(t, env.db)

	past := time.Now().UTC().Add(-time.Hour)
	m := testutil.TestMembership(t, env.db, student, mt, func(m *model.Membership) {
		m.IsActive = false
		m.EndDate = &past
	})

	_, err := env.ledger.ReactivateMembership(context.Background(), owner, m.ID)
	assert.ErrorIs(t, err, ErrMembershipExpired)
}

func TestMembershipService_ApplyMembership(t *testing.T) {
	env := setupServices(t)
	student := testutil.TestUser(t, env.db)
	mt := testutil.TestMembershipType(t, env.db)

	_, err := env.ledger.ApplyMembership(context.Background(), principalOf(student), mt.ID)
	assert.ErrorIs(t, err, ErrSelfApplyDisabled)
	assertKind(t, err, KindForbidden)

	env.cfg.Membership.AllowSelfApply = true
	m, err := env.ledger.ApplyMembership(context.Background(), principalOf(student), mt.ID)
	require.NoError(t, err)
	assert.Equal(t, student.ID, m.UserID)
	assert.Equal(t, []email.Kind{email.KindMembershipActivated}, env.notifier.kinds())

	_, err = env.ledger.ApplyMembership(context.Background(), principalOf(student), mt.ID)
	assert.ErrorIs(t, err, ErrMembershipActiveExists)

	_, err = env.ledger.ApplyMembership(context.Background(), nil, mt.ID)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestMembershipService_ConsumeOneClass_Basic10(t *testing.T) {
	env := setupServices(t)
	owner := env.ownerPrincipal(t)
	student := testutil.TestUser(t, env.db)
	basic10 := testutil.TestMembershipType(t, env.db, testutil.WithClassCount(10))

	m, err := env.ledger.AssignMembership(context.Background(), owner, student.ID, basic10.ID)
	require.NoError(t, err)
	require.NotNil(t, m.RemainingClasses)
	assert.Equal(t, 10, *m.RemainingClasses)

	for i := 0; i < 10; i++ {
		require.NoError(t, env.ledger.ConsumeOneClass(context.Background(), m.ID), "consume #%d", i+1)
	}

	err = env.ledger.ConsumeOneClass(context.Background(), m.ID)
	assert.ErrorIs(t, err, ErrEntitlementExhausted)
	assertKind(t, err, KindEntitlementExhausted)

	var stored model.Membership
	require.NoError(t, env.db.First(&stored, m.ID).Error)
	assert.Equal(t, 0, *stored.RemainingClasses)

	require.NoError(t, env.ledger.restoreOneClass(context.Background(), env.db, m.ID))
	require.NoError(t, env.db.First(&stored, m.ID).Error)
	assert.Equal(t, 1, *stored.RemainingClasses)

	err = env.ledger.restoreOneClass(context.Background(), env.db, 99999)
	assert.ErrorIs(t, err, ErrMembershipNotFound)
}

func TestMembershipService_ConsumeOneClass_UnlimitedAndInactive(t *testing.T) {
	env := setupServices(t)
	student := testutil.TestUser(t, env.db)
	unlimited := testutil.TestMembershipType(t, env.db)
	counted := testutil.TestMembershipType(t, env.db, testutil.WithClassCount(5))

	u := testutil.TestMembership(t, env.db, student, unlimited)
	for i := 0; i < 3; i++ {
		require.NoError(t, env.ledger.ConsumeOneClass(context.Background(), u.ID))
	}

	suspended := testutil.TestMembership(t, env.db, student, counted, func(m *model.Membership) {
		m.IsActive = false
	})
	assert.ErrorIs(t, env.ledger.ConsumeOneClass(context.Background(), suspended.ID), ErrEntitlementExhausted)

	assert.ErrorIs(t, env.ledger.ConsumeOneClass(context.Background(), 99999), ErrMembershipNotFound)
}

func TestMembershipService_ActivateFromPayment_Idempotent(t *testing.T) {
	env := setupServices(t)
	student := testutil.TestUser(t, env.db)
	mt := testutil.TestMembershipType(t, env.db)

	first, err := env.ledger.ActivateFromPayment(context.Background(), student.ID, mt.ID, 42)
	require.NoError(t, err)
	require.NotNil(t, first.PurchaseDate)
	require.NotNil(t, first.PaymentTransactionID)
	assert.Equal(t, int64(42), *first.PaymentTransactionID)

	second, err := env.ledger.ActivateFromPayment(context.Background(), student.ID, mt.ID, 42)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	var count int64
	env.db.Model(&model.Membership{}).Where("user_id = ?", student.ID).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestMembershipService_ExpireMemberships(t *testing.T) {
	env := setupServices(t)
	now := time.Now().UTC()
	env.setNow(now)

	student := testutil.TestUser(t, env.db)
	mt := testutil.TestMembershipType(t, env.db)
	other := testutil.TestMembershipType(t, env.db)

	past := now.Add(-time.Minute)
	expired := testutil.TestMembership(t, env.db, student, mt, func(m *model.Membership) { m.EndDate = &past })
	current := testutil.TestMembership(t, env.db, student, other)

	count, err := env.ledger.ExpireMemberships(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	count, err = env.ledger.ExpireMemberships(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	var stored model.Membership
	require.NoError(t, env.db.First(&stored, expired.ID).Error)
	assert.False(t, stored.IsActive)
	require.NoError(t, env.db.First(&stored, current.ID).Error)
	assert.True(t, stored.IsActive)
}

func TestMembershipService_ListMemberships(t *testing.T) {
	env := setupServices(t)
	owner := env.ownerPrincipal(t)
	student := testutil.TestUser(t, env.db)
	mt := testutil.TestMembershipType(t, env.db)
	testutil.TestMembership(t, env.db, student, mt)
	testutil.TestMembership(t, env.db, testutil.TestUser(t, env.db), mt)

	mine, err := env.ledger.ListMyMemberships(context.Background(), principalOf(student))
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, mt.Name, mine[0].MembershipTypeName)

	all, err := env.ledger.ListMemberships(context.Background(), owner)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.NotEmpty(t, all[0].UserEmail)

	_, err = env.ledger.ListMemberships(context.Background(), principalOf(student))
	assert.ErrorIs(t, err, ErrForbidden)
}
