package cyclecount

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"inventory-backend/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateBatchStartsPending(t *testing.T) {
	f := newFixture(t)
	s := f.schedule(t, models.MethodRandom)

	b := f.batch(t, &s.ID)
	assert.Equal(t, models.BatchPending, b.Status)
	require.NotNil(t, b.ScheduleID)
	assert.Equal(t, s.ID, *b.ScheduleID)
	assert.False(t, b.StartDate.IsZero())
}

func TestCreateBatchRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s := f.schedule(t, models.MethodRandom)
	inactive := false
	_, err := f.svc.UpdateSchedule(ctx, f.admin, s.ID, ScheduleUpdate{IsActive: &inactive})
	require.NoError(t, err)

	_, err = f.svc.CreateBatch(ctx, NewBatch{ScheduleID: &s.ID, Name: "Q1", CreatedBy: f.manager})
	var verr ValidationError
	require.True(t, errors.As(err, &verr), err)
	assert.Equal(t, "schedule_id", verr.Field)

	missing := uint(999)
	_, err = f.svc.CreateBatch(ctx, NewBatch{ScheduleID: &missing, Name: "Q1", CreatedBy: f.manager})
	var nerr NotFoundError
	require.True(t, errors.As(err, &nerr), err)

	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(-24 * time.Hour)
	_, err = f.svc.CreateBatch(ctx, NewBatch{Name: "Q1", CreatedBy: f.manager, StartDate: &start, EndDate: &end})
	require.True(t, errors.As(err, &verr), err)
	assert.Equal(t, "end_date", verr.Field)

	_, err = f.svc.CreateBatch(ctx, NewBatch{Name: "Q1", CreatedBy: f.counter})
	var aerr AuthorizationError
	require.True(t, errors.As(err, &aerr), err)
	assert.Equal(t, models.CapManageBatches, aerr.Capability)
}

func TestGenerateItemsMovesBatchToInProgress(t *testing.T) {
	f := newFixture(t)
	s := f.schedule(t, models.MethodRandom)
	b := f.batch(t, &s.ID)

	seed := int64(99)
	batch, items, err := f.svc.GenerateItems(context.Background(), f.manager, b.ID, GenerateParams{
		SampleSize: 10,
		Seed:       &seed,
	})
	require.NoError(t, err)
	require.Len(t, items, 10)

	assert.Equal(t, models.BatchInProgress, batch.Status)
	assert.Equal(t, models.MethodRandom, batch.Method)
	require.NotNil(t, batch.SampleSeed)
	assert.Equal(t, seed, *batch.SampleSeed)

	for _, it := range items {
		assert.Equal(t, models.ItemPending, it.Status)
		entry, err := f.catalog.Resolve(context.Background(), it.Ref())
		require.NoError(t, err)
		assert.True(t, entry.Quantity.Equal(it.ExpectedQuantity))
		assert.Equal(t, entry.Location, it.ExpectedLocation)
	}

	// the stored sample is reproducible from the recorded seed
	again, err := Sample(f.catalog.entries, models.MethodRandom, SampleParams{
		ItemTypes: models.AllItemTypes, SampleSize: 10, Seed: seed,
	})
	require.NoError(t, err)
	for i, e := range again {
		assert.Equal(t, e.Ref, items[i].Ref())
	}
}

func TestGenerateItemsTwiceConflicts(t *testing.T) {
	f := newFixture(t)
	batch, _ := f.generated(t, 5)

	_, _, err := f.svc.GenerateItems(context.Background(), f.manager, batch.ID, GenerateParams{
		Method: models.MethodRandom, SampleSize: 5,
	})
	var cerr ConflictError
	assert.True(t, errors.As(err, &cerr), err)
}

func TestGenerateItemsConcurrentlyOnlyOneWins(t *testing.T) {
	f := newFixture(t)
	b := f.batch(t, nil)

	const callers = 6
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := f.svc.GenerateItems(context.Background(), f.manager, b.ID, GenerateParams{
				Method: models.MethodRandom, SampleSize: 4,
			})
			mu.Lock()
			defer mu.Unlock()
			var cerr ConflictError
			switch {
			case err == nil:
				wins++
			case errors.As(err, &cerr):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, callers-1, conflicts)

	var n int64
	require.NoError(t, f.db.Model(&models.CycleCountItem{}).Where("batch_id = ?", b.ID).Count(&n).Error)
	assert.EqualValues(t, 4, n)
}

func TestGenerateItemsMethodRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	adhoc := f.batch(t, nil)
	_, _, err := f.svc.GenerateItems(ctx, f.manager, adhoc.ID, GenerateParams{SampleSize: 3})
	var verr ValidationError
	require.True(t, errors.As(err, &verr), err)
	assert.Equal(t, "method", verr.Field)

	s := f.schedule(t, models.MethodABC)
	scheduled := f.batch(t, &s.ID)
	_, _, err = f.svc.GenerateItems(ctx, f.manager, scheduled.ID, GenerateParams{Method: models.MethodRandom, SampleSize: 3})
	require.True(t, errors.As(err, &verr), err)
	assert.Equal(t, "method", verr.Field)

	batch, items, err := f.svc.GenerateItems(ctx, f.manager, scheduled.ID, GenerateParams{SampleSize: 3})
	require.NoError(t, err)
	assert.Equal(t, models.MethodABC, batch.Method)
	assert.Len(t, items, 3)
}

func TestGenerateItemsWithEmptySampleKeepsBatchPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.batch(t, nil)

	_, _, err := f.svc.GenerateItems(ctx, f.manager, b.ID, GenerateParams{
		Method: models.MethodLocation, Location: "Warehouse 9",
	})
	var verr ValidationError
	require.True(t, errors.As(err, &verr), err)

	got, err := f.svc.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchPending, got.Status)
}

func TestGenerateItemsByLocationAndType(t *testing.T) {
	f := newFixture(t)
	b := f.batch(t, nil)

	_, items, err := f.svc.GenerateItems(context.Background(), f.manager, b.ID, GenerateParams{
		Method:    models.MethodLocation,
		Location:  "cabinet 1",
		ItemTypes: []models.ItemType{models.ItemTypeChemical},
	})
	require.NoError(t, err)
	require.Len(t, items, 5)
	for _, it := range items {
		assert.Equal(t, models.ItemTypeChemical, it.ItemType)
	}
}

func TestGenerateItemsRejectsUnknownItemType(t *testing.T) {
	f := newFixture(t)
	b := f.batch(t, nil)

	_, _, err := f.svc.GenerateItems(context.Background(), f.manager, b.ID, GenerateParams{
		Method:     models.MethodRandom,
		SampleSize: 2,
		ItemTypes:  []models.ItemType{"forklift"},
	})
	var verr ValidationError
	require.True(t, errors.As(err, &verr), err)
	assert.Equal(t, "item_types[0]", verr.Field)
}

func TestGenerateItemsWithAssigneeNotifies(t *testing.T) {
	f := newFixture(t)
	b := f.batch(t, nil)

	_, items, err := f.svc.GenerateItems(context.Background(), f.manager, b.ID, GenerateParams{
		Method: models.MethodRandom, SampleSize: 3, AssignedTo: &f.counter,
	})
	require.NoError(t, err)
	for _, it := range items {
		require.NotNil(t, it.AssignedTo)
		assert.Equal(t, f.counter, *it.AssignedTo)
	}

	events := f.events.ofType(EventBatchAssigned)
	require.Len(t, events, 1)
	assert.Equal(t, b.ID, events[0].ReferenceID)
	require.NotNil(t, events[0].Recipient)
	assert.Equal(t, f.counter, *events[0].Recipient)
	assert.NotEmpty(t, events[0].ID)
}

func TestCancelBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pending := f.batch(t, nil)
	cancelled, err := f.svc.CancelBatch(ctx, f.manager, pending.ID, "shelf relabelling")
	require.NoError(t, err)
	assert.Equal(t, models.BatchCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.CancelledAt)
	require.NotNil(t, cancelled.CancelledBy)
	assert.Equal(t, f.manager, *cancelled.CancelledBy)
	assert.Contains(t, cancelled.Notes, "shelf relabelling")

	_, err = f.svc.CancelBatch(ctx, f.manager, pending.ID, "")
	var cerr ConflictError
	require.True(t, errors.As(err, &cerr), err)

	running, items := f.generated(t, 2)
	_, err = f.svc.CancelBatch(ctx, f.manager, running.ID, "")
	require.NoError(t, err)

	_, err = f.svc.SubmitCount(ctx, CountSubmission{ItemID: items[0].ID, CountedBy: f.counter, ActualQuantity: quantity(decimal.NewFromInt(1))})
	require.True(t, errors.As(err, &cerr), err)
	_, err = f.svc.SkipItem(ctx, f.counter, items[1].ID, "blocked aisle")
	require.True(t, errors.As(err, &cerr), err)

	// the rejected attempts leave no trace on the items
	for _, it := range items {
		got, err := f.svc.GetItem(ctx, it.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ItemPending, got.Status)
		assert.Empty(t, got.SkipReason)
	}
	results, err := f.svc.ListItemResults(ctx, items[0].ID)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestCancelCompletedBatchConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	batch, items := f.generated(t, 1)
	f.count(t, items[0], items[0].ExpectedQuantity)

	got, err := f.svc.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	require.Equal(t, models.BatchCompleted, got.Status)

	_, err = f.svc.CancelBatch(ctx, f.manager, batch.ID, "")
	var cerr ConflictError
	assert.True(t, errors.As(err, &cerr), err)
}

func TestAssignItems(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	batch, items := f.generated(t, 4)

	n, err := f.svc.AssignItems(ctx, f.manager, batch.ID, AssignRequest{UserID: f.counter2, ItemIDs: []uint{items[0].ID, items[1].ID}})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	mine, err := f.svc.ListItems(ctx, batch.ID, ItemFilter{AssignedTo: &f.counter2})
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	// the rest
	n, err = f.svc.AssignItems(ctx, f.manager, batch.ID, AssignRequest{UserID: f.counter})
	require.NoError(t, err)
	assert.EqualValues(t, 4, n)

	assert.Len(t, f.events.ofType(EventBatchAssigned), 2)

	_, err = f.svc.AssignItems(ctx, f.manager, batch.ID, AssignRequest{UserID: f.counter, ItemIDs: []uint{9999}})
	var nerr NotFoundError
	require.True(t, errors.As(err, &nerr), err)

	_, err = f.svc.AssignItems(ctx, f.manager, batch.ID, AssignRequest{UserID: 9999})
	require.True(t, errors.As(err, &nerr), err)
	assert.Equal(t, EntityUser, nerr.Entity)
}

func TestAddItem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pending := f.batch(t, nil)
	_, err := f.svc.AddItem(ctx, f.manager, pending.ID, AddItemRequest{ItemType: models.ItemTypeTool, ItemID: 1})
	var cerr ConflictError
	require.True(t, errors.As(err, &cerr), err)

	batch, _, err := f.svc.GenerateItems(ctx, f.manager, pending.ID, GenerateParams{
		Method: models.MethodCategory, Category: "hand tools",
	})
	require.NoError(t, err)

	item, err := f.svc.AddItem(ctx, f.manager, batch.ID, AddItemRequest{ItemType: models.ItemTypeChemical, ItemID: 2})
	require.NoError(t, err)
	assert.Equal(t, models.ChemicalRef(2), item.Ref())
	assert.Equal(t, "Cabinet 1", item.ExpectedLocation)
	assert.Equal(t, models.ItemPending, item.Status)

	_, err = f.svc.AddItem(ctx, f.manager, batch.ID, AddItemRequest{ItemType: models.ItemTypeTool, ItemID: 3})
	require.True(t, errors.As(err, &cerr), "tool 3 is a hand tool already in the batch: %v", err)

	_, err = f.svc.AddItem(ctx, f.manager, batch.ID, AddItemRequest{ItemType: models.ItemTypeTool, ItemID: 404})
	var nerr NotFoundError
	require.True(t, errors.As(err, &nerr), err)

	_, err = f.svc.AddItem(ctx, f.manager, batch.ID, AddItemRequest{ItemType: "crate", ItemID: 1})
	var verr ValidationError
	require.True(t, errors.As(err, &verr), err)
}

func TestBatchProgressAndRecompute(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	batch, items := f.generated(t, 4)

	f.count(t, items[0], items[0].ExpectedQuantity)
	f.count(t, items[1], items[1].ExpectedQuantity.Add(decimal.NewFromInt(1)))
	_, err := f.svc.SkipItem(ctx, f.counter, items[2].ID, "out on loan")
	require.NoError(t, err)

	p, err := f.svc.BatchProgress(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, BatchProgress{
		BatchID: batch.ID, Status: models.BatchInProgress,
		Total: 4, Pending: 1, Counted: 2, Skipped: 1, Discrepancies: 1,
	}, *p)
	assert.Equal(t, p.Total, p.Pending+p.Counted+p.Skipped)

	got, err := f.svc.RecomputeStatus(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchInProgress, got.Status)

	f.count(t, items[3], items[3].ExpectedQuantity)
	for i := 0; i < 2; i++ {
		got, err = f.svc.RecomputeStatus(ctx, batch.ID)
		require.NoError(t, err)
		assert.Equal(t, models.BatchCompleted, got.Status)
		assert.NotNil(t, got.CompletedAt)
	}
	assert.Len(t, f.events.ofType(EventBatchCompleted), 1)
}

func TestListBatchesFilters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s := f.schedule(t, models.MethodRandom)
	f.batch(t, &s.ID)
	f.generated(t, 2)

	pending, err := f.svc.ListBatches(ctx, BatchFilter{Status: models.BatchPending})
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	fromSchedule, err := f.svc.ListBatches(ctx, BatchFilter{ScheduleID: &s.ID})
	require.NoError(t, err)
	assert.Len(t, fromSchedule, 1)

	all, err := f.svc.ListBatches(ctx, BatchFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
