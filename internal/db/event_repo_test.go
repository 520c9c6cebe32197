package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"subsync/internal/dedup"
	"subsync/internal/types"
)

var _ dedup.Deduper = (*ProcessedEventRepo)(nil)

func TestProcessedEventRepo_MarkProcessed_First(t *testing.T) {
	db := new(mockDBTX)
	repo := NewProcessedEventRepo(db, nil)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	first, err := repo.MarkProcessed(context.Background(), "subscription.updated-sub_1-1000")
	require.NoError(t, err)
	assert.True(t, first)
	db.AssertExpectations(t)
}

func TestProcessedEventRepo_MarkProcessed_Duplicate(t *testing.T) {
	db := new(mockDBTX)
	repo := NewProcessedEventRepo(db, nil)

	// ON CONFLICT DO NOTHING reports zero rows for a duplicate key.
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 0"), nil)

	first, err := repo.MarkProcessed(context.Background(), "subscription.updated-sub_1-1000")
	require.NoError(t, err)
	assert.False(t, first)
}

func TestProcessedEventRepo_MarkProcessed_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewProcessedEventRepo(db, nil)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("connection refused"))

	_, err := repo.MarkProcessed(context.Background(), "k")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDedup, appErr.Code)
}

func TestProcessedEventRepo_PruneOlderThan(t *testing.T) {
	db := new(mockDBTX)
	repo := NewProcessedEventRepo(db, nil)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("DELETE 42"), nil)

	n, err := repo.PruneOlderThan(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
}

func TestProcessedEventRepo_RunPruner_PrunesUntilCanceled(t *testing.T) {
	db := new(mockDBTX)
	repo := NewProcessedEventRepo(db, nil)

	pruned := make(chan struct{}, 1)
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Run(func(mock.Arguments) {
			select {
			case pruned <- struct{}{}:
			default:
			}
		}).
		Return(pgconn.NewCommandTag("DELETE 1"), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- repo.RunPruner(ctx, time.Millisecond, 7)
	}()

	select {
	case <-pruned:
	case <-time.After(time.Second):
		t.Fatal("pruner never ran")
	}
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err, "cancellation is a normal shutdown")
	case <-time.After(time.Second):
		t.Fatal("pruner did not stop on cancel")
	}
}
