package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/greentrace/internal/database/testutil"
	"github.com/charlesng35/greentrace/internal/models"
)

func TestRegistrationServiceRequiresDB(t *testing.T) {
	_, err := NewRegistrationService(nil)
	require.Error(t, err)
}

func TestRegistrationServiceRoundTrip(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc, err := NewRegistrationService(db)
	require.NoError(t, err)
	ctx := context.Background()

	reg, err := svc.Load(ctx, "/")
	require.NoError(t, err)
	require.Nil(t, reg)

	installed := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, svc.Save(ctx, &models.WorkerRegistration{
		Scope:       "",
		State:       "installed",
		InstalledAt: &installed,
	}))

	reg, err = svc.Load(ctx, "/")
	require.NoError(t, err)
	require.NotNil(t, reg)
	require.Equal(t, "installed", reg.State)
	require.Empty(t, reg.ActiveVersion)

	activated := installed.Add(time.Minute)
	reg.ActiveVersion = "v1.0.0"
	reg.State = "activated"
	reg.ActivatedAt = &activated
	require.NoError(t, svc.Save(ctx, reg))

	reg, err = svc.Load(ctx, "/")
	require.NoError(t, err)
	require.Equal(t, "v1.0.0", reg.ActiveVersion)
	require.Equal(t, "activated", reg.State)
	require.NotNil(t, reg.ActivatedAt)

	var count int64
	require.NoError(t, db.Model(&models.WorkerRegistration{}).Count(&count).Error)
	require.Equal(t, int64(1), count)
}
