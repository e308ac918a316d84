package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/referral-system/internal/model"
	"github.com/mmeshcher/referral-system/internal/repository"
)

func seedUser(t *testing.T, s *Store, email, code string) *model.User {
	t.Helper()
	u := &model.User{Email: email, ReferralCode: code, PasswordHash: []byte("h")}
	require.NoError(t, s.Users().Create(context.Background(), u))
	return u
}

func TestStore_UniqueConstraints(t *testing.T) {
	s := NewStore()
	seedUser(t, s, "alice@example.com", "ALCE1234")

	err := s.Users().Create(context.Background(), &model.User{Email: "alice@example.com", ReferralCode: "OTHER123"})
	require.ErrorIs(t, err, repository.ErrUserExists)

	err = s.Users().Create(context.Background(), &model.User{Email: "bob@example.com", ReferralCode: "ALCE1234"})
	require.ErrorIs(t, err, repository.ErrReferralCodeTaken)
}

func TestStore_WithinTx_RollbackDiscardsChanges(t *testing.T) {
	s := NewStore()
	u := seedUser(t, s, "alice@example.com", "ALCE1234")
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.WithinTx(ctx, func(ctx context.Context, tx repository.Unit) error {
		if err := tx.Purchases().Create(ctx, &model.Purchase{UserID: u.ID, Amount: 10}); err != nil {
			return err
		}
		if err := tx.Users().Save(ctx, &model.User{ID: u.ID, Credits: 2, HasConverted: true}); err != nil {
			return err
		}

		inside, err := tx.Users().FindByID(ctx, u.ID)
		require.NoError(t, err)
		assert.True(t, inside.HasConverted)

		return boom
	})
	require.ErrorIs(t, err, boom)

	after, err := s.Users().FindByID(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, after.HasConverted)
	assert.Zero(t, after.Credits)

	list, err := s.Purchases().ListByUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestStore_WithinTx_CommitPublishesChanges(t *testing.T) {
	s := NewStore()
	u := seedUser(t, s, "alice@example.com", "ALCE1234")
	ctx := context.Background()

	err := s.WithinTx(ctx, func(ctx context.Context, tx repository.Unit) error {
		if err := tx.Purchases().Create(ctx, &model.Purchase{UserID: u.ID, Amount: 19.999}); err != nil {
			return err
		}
		return tx.Users().Save(ctx, &model.User{ID: u.ID, Credits: 2, HasConverted: true})
	})
	require.NoError(t, err)

	after, err := s.Users().FindByID(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, after.HasConverted)
	assert.Equal(t, int64(2), after.Credits)

	list, err := s.Purchases().ListByUser(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 20.0, list[0].Amount)
}

func TestStore_PurchaseRequiresOwner(t *testing.T) {
	s := NewStore()

	err := s.Purchases().Create(context.Background(), &model.Purchase{UserID: "ghost"})
	require.ErrorIs(t, err, repository.ErrUserNotFound)
}

func TestStore_SaveNeverRevertsConversion(t *testing.T) {
	s := NewStore()
	u := seedUser(t, s, "alice@example.com", "ALCE1234")
	ctx := context.Background()

	require.NoError(t, s.Users().Save(ctx, &model.User{ID: u.ID, HasConverted: true}))
	require.NoError(t, s.Users().Save(ctx, &model.User{ID: u.ID, HasConverted: false, Credits: 1}))

	after, err := s.Users().FindByID(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, after.HasConverted)
	assert.Equal(t, int64(1), after.Credits)
}

func TestStore_Counts(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	seedUser(t, s, "ref@example.com", "REF999")

	for i, email := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		u := &model.User{Email: email, ReferralCode: "CODE" + string(rune('A'+i)), ReferredBy: "REF999"}
		require.NoError(t, s.Users().Create(ctx, u))
		if i == 0 {
			require.NoError(t, s.Users().Save(ctx, &model.User{ID: u.ID, HasConverted: true}))
		}
	}

	total, err := s.Users().CountReferred(ctx, "REF999")
	require.NoError(t, err)
	converted, err := s.Users().CountConvertedReferred(ctx, "REF999")
	require.NoError(t, err)

	assert.Equal(t, int64(3), total)
	assert.Equal(t, int64(1), converted)
}

func TestStore_PurchaseAmountOutOfRangeStoredAsZero(t *testing.T) {
	s := NewStore()
	u := seedUser(t, s, "alice@example.com", "ALCE1234")
	ctx := context.Background()

	require.NoError(t, s.Purchases().Create(ctx, &model.Purchase{UserID: u.ID, Amount: 1e307}))

	list, err := s.Purchases().ListByUser(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Zero(t, list[0].Amount)
}
