package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/qs3c/studio_go_server/internal/model"
	"github.com/qs3c/studio_go_server/internal/testutil"
)

func TestUserRepository_GetByID(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewUserRepository(db)

	created := testutil.TestUser(t, db)

	found, err := repo.GetByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Email, found.Email)
	assert.Equal(t, model.RoleStudent, found.Role)

	_, err = repo.GetByID(context.Background(), 99999)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestUserRepository_GetByEmail(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewUserRepository(db)

	testutil.TestUser(t, db, testutil.WithEmail("unique@example.com"))

	found, err := repo.GetByEmail(context.Background(), "unique@example.com")
	require.NoError(t, err)
	assert.Equal(t, "unique@example.com", found.Email)

	exists, err := repo.ExistsByEmail(context.Background(), "unique@example.com")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = repo.ExistsByEmail(context.Background(), "nobody@example.com")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestUserRepository_DuplicateEmail(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewUserRepository(db)

	testutil.TestUser(t, db, testutil.WithEmail("dup@example.com"))

	err := repo.Create(context.Background(), &model.User{
		Email:        "dup@example.com",
		FullName:     "Someone Else",
		PasswordHash: "hash",
		Role:         model.RoleStudent,
	})
	assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)
}

func TestUserRepository_ListByRole(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewUserRepository(db)

	testutil.TestUser(t, db)
	testutil.TestUser(t, db)
	owner := testutil.TestUser(t, db, testutil.WithRole(model.RoleOwner))

	owners, err := repo.ListByRole(context.Background(), model.RoleOwner)
	require.NoError(t, err)
	require.Len(t, owners, 1)
	assert.Equal(t, owner.ID, owners[0].ID)

	students, err := repo.ListByRole(context.Background(), model.RoleStudent)
	require.NoError(t, err)
	assert.Len(t, students, 2)
}

func TestUserRepository_LockByIDInTx(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewUserRepository(db)
	user := testutil.TestUser(t, db)

	err := db.Transaction(func(tx *gorm.DB) error {
		locked, err := repo.WithTx(tx).LockByID(context.Background(), user.ID)
		if err != nil {
			return err
		}
		assert.Equal(t, user.ID, locked.ID)
		return nil
	})
	require.NoError(t, err)
}
