package cyclecount

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"inventory-backend/internal/auth"
	"inventory-backend/internal/database/dbtest"
	"inventory-backend/internal/models"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeCatalog struct {
	entries []CatalogEntry
}

func (c *fakeCatalog) Resolve(_ context.Context, ref models.ItemRef) (CatalogEntry, error) {
	for _, e := range c.entries {
		if e.Ref == ref {
			return e, nil
		}
	}
	return CatalogEntry{}, NotFoundError{Entity: string(ref.Type), ID: ref.ID}
}

func (c *fakeCatalog) Snapshot(_ context.Context, types []models.ItemType) ([]CatalogEntry, error) {
	want := map[models.ItemType]bool{}
	for _, t := range types {
		want[t] = true
	}
	var out []CatalogEntry
	for _, e := range c.entries {
		if want[e.Ref.Type] {
			out = append(out, e)
		}
	}
	return out, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (n *recordingNotifier) Notify(_ context.Context, evt Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, evt)
	return nil
}

func (n *recordingNotifier) ofType(typ EventType) []Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []Event
	for _, e := range n.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

type failingNotifier struct{}

func (failingNotifier) Notify(context.Context, Event) error {
	return errors.New("broker down")
}

type fixture struct {
	db      *gorm.DB
	svc     *Service
	catalog *fakeCatalog
	events  *recordingNotifier

	admin    uint
	manager  uint
	counter  uint
	counter2 uint
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	db := dbtest.Open(t)
	f := &fixture{
		db:      db,
		catalog: &fakeCatalog{entries: stockEntries()},
		events:  &recordingNotifier{},
	}
	f.admin = createUser(t, db, "Ada Admin", models.RoleAdmin)
	f.manager = createUser(t, db, "Max Manager", models.RoleManager)
	f.counter = createUser(t, db, "Cory Counter", models.RoleCounter)
	f.counter2 = createUser(t, db, "Cam Counter", models.RoleCounter)

	opts = append([]Option{WithNotifier(f.events), WithSeedSource(func() int64 { return 42 })}, opts...)
	f.svc = NewService(db, f.catalog, auth.NewRoleAuthorizer(db), quietLogger(), opts...)
	return f
}

func createUser(t *testing.T, db *gorm.DB, name string, role models.UserRole) uint {
	t.Helper()
	u := models.User{
		Name:         name,
		Email:        strings.ToLower(strings.ReplaceAll(name, " ", ".")) + "@example.com",
		PasswordHash: "x",
		Role:         role,
		IsActive:     true,
	}
	require.NoError(t, db.Create(&u).Error)
	return u.ID
}

// stockEntries: 20 tools split across two shelves and two categories, plus 5 chemicals in one cabinet.
func stockEntries() []CatalogEntry {
	var out []CatalogEntry
	for i := 1; i <= 20; i++ {
		loc := "Shelf B"
		if i%2 == 0 {
			loc = "Shelf A"
		}
		cat := "power tools"
		if i <= 10 {
			cat = "hand tools"
		}
		out = append(out, CatalogEntry{
			Ref:       models.ToolRef(uint(i)),
			Name:      fmt.Sprintf("T-%03d", i),
			Category:  cat,
			Location:  loc,
			Quantity:  decimal.NewFromInt(int64(i%4 + 1)),
			UnitValue: decimal.NewFromInt(int64(10 * i)),
		})
	}
	for i := 1; i <= 5; i++ {
		out = append(out, CatalogEntry{
			Ref:       models.ChemicalRef(uint(i)),
			Name:      fmt.Sprintf("C-%03d", i),
			Category:  "sealants",
			Location:  "Cabinet 1",
			Quantity:  decimal.NewFromInt(2),
			UnitValue: decimal.NewFromInt(25),
		})
	}
	return out
}

func (f *fixture) schedule(t *testing.T, method models.SamplingMethod) *models.CycleCountSchedule {
	t.Helper()
	s, err := f.svc.CreateSchedule(context.Background(), NewSchedule{
		Name:      "Monthly " + string(method),
		Frequency: models.FrequencyMonthly,
		Method:    method,
		CreatedBy: f.admin,
	})
	require.NoError(t, err)
	return s
}

func (f *fixture) batch(t *testing.T, scheduleID *uint) *models.CycleCountBatch {
	t.Helper()
	b, err := f.svc.CreateBatch(context.Background(), NewBatch{
		ScheduleID: scheduleID,
		Name:       "Batch",
		CreatedBy:  f.manager,
	})
	require.NoError(t, err)
	return b
}

// generated returns an in_progress ad hoc batch with n randomly sampled items.
func (f *fixture) generated(t *testing.T, n int) (*models.CycleCountBatch, []models.CycleCountItem) {
	t.Helper()
	b := f.batch(t, nil)
	batch, items, err := f.svc.GenerateItems(context.Background(), f.manager, b.ID, GenerateParams{
		Method:     models.MethodRandom,
		SampleSize: n,
	})
	require.NoError(t, err)
	require.Len(t, items, n)
	return batch, items
}

func quantity(d decimal.Decimal) *decimal.Decimal { return &d }

func (f *fixture) count(t *testing.T, item models.CycleCountItem, qty decimal.Decimal) *models.CycleCountResult {
	t.Helper()
	r, err := f.svc.SubmitCount(context.Background(), CountSubmission{
		ItemID:         item.ID,
		CountedBy:      f.counter,
		ActualQuantity: quantity(qty),
	})
	require.NoError(t, err)
	return r
}
