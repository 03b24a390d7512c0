package repo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-todo-go/internal/notify/entity"
	"github.com/ovaphlow/pitchfork/service-todo-go/pkg/database/dbtest"
)

func TestDeliveryRepo(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()
	r := NewDeliveryRepo(db)

	require.NoError(t, r.Record(ctx, &entity.Delivery{
		ID: 1, JobID: "job-1", Recipient: "ann@example.com", Subject: "[Todo] Confirm Your Account",
		Tag: "confirm", Status: entity.DeliverySent, Attempts: 1,
	}))
	require.NoError(t, r.Record(ctx, &entity.Delivery{
		ID: 2, JobID: "job-2", Recipient: "ann@example.com", Subject: "[Todo] Reset Your Password",
		Tag: "reset_password", Status: entity.DeliveryFailed, Attempts: 3, LastError: "timeout",
	}))
	require.NoError(t, r.Record(ctx, &entity.Delivery{
		ID: 3, JobID: "job-3", Recipient: "bob@example.com", Subject: "[Todo] Confirm Your Account",
		Status: entity.DeliverySent, Attempts: 1,
	}))

	got, err := r.ListByRecipient(ctx, "ann@example.com", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(2), got[0].ID)
	assert.Equal(t, "timeout", got[0].LastError)
	assert.False(t, got[1].CreatedAt.IsZero())

	got, err = r.ListByRecipient(ctx, "ann@example.com", 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = r.ListByRecipient(ctx, "nobody@example.com", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}
