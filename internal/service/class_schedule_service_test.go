package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/studio-ops-api/internal/dto"
	"github.com/noah-isme/studio-ops-api/internal/models"
	"github.com/noah-isme/studio-ops-api/internal/repository"
	appErrors "github.com/noah-isme/studio-ops-api/pkg/errors"
)

type memoryClassStore struct {
	mu        sync.Mutex
	rows      map[string]models.ClassInstance
	createErr error
	updateErr error
}

func newMemoryClassStore() *memoryClassStore {
	return &memoryClassStore{rows: map[string]models.ClassInstance{}}
}

func (m *memoryClassStore) FindByID(ctx context.Context, id string) (*models.ClassInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &row, nil
}

func (m *memoryClassStore) ListSeries(ctx context.Context, rootID string) ([]models.ClassInstance, error) {
	return models.Selection{Scope: models.ScopeAll, RootID: rootID}.Filter(m.sorted()), nil
}

func (m *memoryClassStore) ListCalendar(ctx context.Context, filter models.CalendarFilter) ([]models.ClassInstance, int, error) {
	var out []models.ClassInstance
	for _, row := range m.sorted() {
		if row.StudioID == filter.StudioID && !row.IsAnchor() {
			out = append(out, row)
		}
	}
	return out, len(out), nil
}

func (m *memoryClassStore) CreateSeries(ctx context.Context, rows []models.ClassInstance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	for _, row := range rows {
		m.rows[row.ID] = row
	}
	return nil
}

func (m *memoryClassStore) UpdateSelection(ctx context.Context, sel models.Selection, patch models.ClassPatch, guard repository.SelectionGuard) ([]models.ClassInstance, error) {
	selected := sel.Filter(m.sorted())
	if len(selected) == 0 {
		return nil, sql.ErrNoRows
	}
	if guard != nil {
		if err := guard(selected); err != nil {
			return nil, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	for _, row := range selected {
		row.Name = patch.Name
		row.TeacherID = patch.TeacherID
		row.LocationID = patch.LocationID
		row.StartTime = patch.StartTime
		row.EndTime = patch.EndTime
		row.IsDropIn = patch.IsDropIn
		row.Capacity = patch.Capacity
		row.DropInPrice = patch.DropInPrice
		row.UpdatedAt = patch.UpdatedAt
		m.rows[row.ID] = row
	}
	return selected, nil
}

func (m *memoryClassStore) DeleteSelection(ctx context.Context, sel models.Selection) ([]models.ClassInstance, error) {
	selected := sel.Filter(m.sorted())
	if len(selected) == 0 {
		return nil, sql.ErrNoRows
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range selected {
		delete(m.rows, row.ID)
	}
	return selected, nil
}

func (m *memoryClassStore) sorted() []models.ClassInstance {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.ClassInstance, 0, len(m.rows))
	for _, row := range m.rows {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date.Equal(out[j].Date) {
			return out[i].IsAnchor()
		}
		return out[i].Date.Before(out[j].Date)
	})
	return out
}

type stubSeeder struct {
	instanceIDs []string
	studentIDs  []string
	err         error
}

func (s *stubSeeder) Seed(ctx context.Context, instanceIDs, studentIDs []string) (int64, error) {
	if s.err != nil {
		return 0, s.err
	}
	s.instanceIDs = instanceIDs
	s.studentIDs = studentIDs
	return int64(len(instanceIDs) * len(studentIDs)), nil
}

type stubAudit struct {
	logs []models.AuditLog
}

func (a *stubAudit) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	a.logs = append(a.logs, *log)
	return nil
}

var testActor = &models.JWTClaims{UserID: "user-1", StudioID: "studio-1", Role: models.RoleAdmin}

func fixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

type scheduleFixture struct {
	svc      *ClassScheduleService
	store    *memoryClassStore
	seeder   *stubSeeder
	notifier *recordingNotifier
	audit    *stubAudit
}

func newScheduleFixture() *scheduleFixture {
	store := newMemoryClassStore()
	seeder := &stubSeeder{}
	notifier := &recordingNotifier{}
	audit := &stubAudit{}
	svc := NewClassScheduleService(store, seeder, nil, notifier, audit, nil,
		ClassScheduleConfig{Clock: fixedClock(date(2024, 1, 1)), MaxRecurrenceWeeks: 104}, nil, nil)
	return &scheduleFixture{svc: svc, store: store, seeder: seeder, notifier: notifier, audit: audit}
}

func wednesdayRequest() dto.CreateClassRequest {
	weekday := int(time.Wednesday)
	return dto.CreateClassRequest{
		Name:        "Ballet Basics",
		TeacherID:   "teacher-1",
		LocationID:  "room-1",
		StartTime:   "17:00",
		EndTime:     "18:00",
		IsRecurring: true,
		Weekday:     &weekday,
		EndDate:     "2024-01-24",
	}
}

func (f *scheduleFixture) createWednesdays(t *testing.T) *dto.CreateClassResult {
	t.Helper()
	result, err := f.svc.Create(context.Background(), wednesdayRequest(), testActor)
	require.NoError(t, err)
	return result
}

func (f *scheduleFixture) row(t *testing.T, id string) models.ClassInstance {
	t.Helper()
	row, err := f.store.FindByID(context.Background(), id)
	require.NoError(t, err)
	return *row
}

func TestClassScheduleServiceCreateWeeklySeries(t *testing.T) {
	f := newScheduleFixture()
	result := f.createWednesdays(t)

	require.NotNil(t, result.AnchorID)
	require.Len(t, result.InstanceIDs, 4)
	want := []time.Time{date(2024, 1, 3), date(2024, 1, 10), date(2024, 1, 17), date(2024, 1, 24)}
	for i, id := range result.InstanceIDs {
		row := f.row(t, id)
		assert.Equal(t, want[i], row.Date)
		assert.Equal(t, row.Date, row.EndDate)
		assert.Equal(t, *result.AnchorID, *row.ParentClassID)
		assert.True(t, row.IsRecurring)
		assert.Equal(t, "studio-1", row.StudioID)
	}

	anchor := f.row(t, *result.AnchorID)
	assert.True(t, anchor.IsAnchor())
	assert.Equal(t, date(2024, 1, 3), anchor.Date)
	assert.Equal(t, date(2024, 1, 24), anchor.EndDate)
	assert.Len(t, f.store.rows, 5)

	assert.Equal(t, []models.NotificationKind{models.NotificationScheduleChanged, models.NotificationTeacherAssigned}, f.notifier.kinds())
	require.Len(t, f.audit.logs, 1)
	assert.Equal(t, models.AuditActionClassCreate, f.audit.logs[0].Action)
}

func TestClassScheduleServiceCreateOneOff(t *testing.T) {
	f := newScheduleFixture()
	capacity := 12
	result, err := f.svc.Create(context.Background(), dto.CreateClassRequest{
		Name: "Workshop", TeacherID: "t1", LocationID: "r1", Date: "2024-02-10",
		StartTime: "09:00", EndTime: "10:30", IsDropIn: true, Capacity: &capacity,
	}, testActor)
	require.NoError(t, err)
	assert.Nil(t, result.AnchorID)
	require.Len(t, result.InstanceIDs, 1)
	row := f.row(t, result.InstanceIDs[0])
	assert.False(t, row.IsRecurring)
	assert.Nil(t, row.ParentClassID)
	assert.Equal(t, 12, *row.Capacity)
}

func TestClassScheduleServiceCreateSeedsRoster(t *testing.T) {
	f := newScheduleFixture()
	req := wednesdayRequest()
	req.StudentIDs = []string{"s1", "s2", "s1", " "}
	result, err := f.svc.Create(context.Background(), req, testActor)
	require.NoError(t, err)
	assert.True(t, result.RosterSeeded)
	assert.Equal(t, result.InstanceIDs, f.seeder.instanceIDs)
	assert.Equal(t, []string{"s1", "s2"}, f.seeder.studentIDs)
}

func TestClassScheduleServiceCreateSeedFailureIsWarning(t *testing.T) {
	f := newScheduleFixture()
	f.seeder.err = errors.New("db timeout")
	req := wednesdayRequest()
	req.StudentIDs = []string{"s1"}
	result, err := f.svc.Create(context.Background(), req, testActor)
	require.NoError(t, err)
	assert.False(t, result.RosterSeeded)
	assert.NotEmpty(t, result.Warnings)
	assert.Len(t, f.store.rows, 5)
}

func TestClassScheduleServiceCreateValidation(t *testing.T) {
	capacity := 5
	cases := map[string]func(*dto.CreateClassRequest){
		"missing name":           func(r *dto.CreateClassRequest) { r.Name = "" },
		"bad time":               func(r *dto.CreateClassRequest) { r.StartTime = "5pm" },
		"end before start":       func(r *dto.CreateClassRequest) { r.EndTime = "16:00" },
		"missing weekday":        func(r *dto.CreateClassRequest) { r.Weekday = nil },
		"missing end date":       func(r *dto.CreateClassRequest) { r.EndDate = "" },
		"capacity without drop":  func(r *dto.CreateClassRequest) { r.Capacity = &capacity },
		"end date before today":  func(r *dto.CreateClassRequest) { r.EndDate = "2023-12-01" },
		"no weekday in range":    func(r *dto.CreateClassRequest) { r.EndDate = "2024-01-02" },
		"one-off without a date": func(r *dto.CreateClassRequest) { r.IsRecurring = false },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			f := newScheduleFixture()
			req := wednesdayRequest()
			mutate(&req)
			_, err := f.svc.Create(context.Background(), req, testActor)
			require.Error(t, err)
			assert.True(t, appErrors.Is(err, appErrors.ErrValidation), err.Error())
			assert.Empty(t, f.store.rows)
		})
	}
}

func TestClassScheduleServiceCreateRespectsMaxWeeks(t *testing.T) {
	f := newScheduleFixture()
	f.svc.maxWeeks = 3
	_, err := f.svc.Create(context.Background(), wednesdayRequest(), testActor)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestClassScheduleServiceCreateIsAtomic(t *testing.T) {
	f := newScheduleFixture()
	f.store.createErr = errors.New("connection reset")
	_, err := f.svc.Create(context.Background(), wednesdayRequest(), testActor)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrStorage))
	assert.Empty(t, f.store.rows)
	assert.Empty(t, f.notifier.kinds())
}

func updateRequest(scope models.Scope, teacher string) dto.UpdateClassRequest {
	return dto.UpdateClassRequest{
		Scope:      scope,
		Name:       "Ballet Basics",
		TeacherID:  teacher,
		LocationID: "room-1",
		StartTime:  "17:00",
		EndTime:    "18:00",
	}
}

func TestClassScheduleServiceUpdateFutureFromSecondInstance(t *testing.T) {
	f := newScheduleFixture()
	created := f.createWednesdays(t)

	result, err := f.svc.Update(context.Background(), created.InstanceIDs[1], updateRequest(models.ScopeFuture, "teacher-2"), testActor)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Count)
	assert.ElementsMatch(t, created.InstanceIDs[1:], result.AffectedIDs)

	assert.Equal(t, "teacher-1", f.row(t, created.InstanceIDs[0]).TeacherID)
	assert.Equal(t, "teacher-1", f.row(t, *created.AnchorID).TeacherID)
	for _, id := range created.InstanceIDs[1:] {
		assert.Equal(t, "teacher-2", f.row(t, id).TeacherID)
	}
	assert.Contains(t, f.notifier.kinds(), models.NotificationTeacherAssigned)
}

func TestClassScheduleServiceUpdateFutureFromFirstIncludesAnchor(t *testing.T) {
	f := newScheduleFixture()
	created := f.createWednesdays(t)

	result, err := f.svc.Update(context.Background(), created.InstanceIDs[0], updateRequest(models.ScopeFuture, "teacher-2"), testActor)
	require.NoError(t, err)
	assert.Equal(t, 5, result.Count)
	assert.Equal(t, "teacher-2", f.row(t, *created.AnchorID).TeacherID)
}

func TestClassScheduleServiceUpdateAllAndSingle(t *testing.T) {
	f := newScheduleFixture()
	created := f.createWednesdays(t)

	result, err := f.svc.Update(context.Background(), created.InstanceIDs[2], updateRequest(models.ScopeAll, "teacher-3"), testActor)
	require.NoError(t, err)
	assert.Equal(t, 5, result.Count)

	result, err = f.svc.Update(context.Background(), created.InstanceIDs[2], updateRequest(models.ScopeSingle, "teacher-4"), testActor)
	require.NoError(t, err)
	assert.Equal(t, []string{created.InstanceIDs[2]}, result.AffectedIDs)
	assert.Equal(t, "teacher-3", f.row(t, created.InstanceIDs[3]).TeacherID)
	assert.Equal(t, "teacher-4", f.row(t, created.InstanceIDs[2]).TeacherID)
}

func TestClassScheduleServiceUpdateRequiresScopeForRecurring(t *testing.T) {
	f := newScheduleFixture()
	created := f.createWednesdays(t)

	_, err := f.svc.Update(context.Background(), created.InstanceIDs[0], updateRequest("", "teacher-2"), testActor)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))

	_, err = f.svc.Update(context.Background(), created.InstanceIDs[0], updateRequest("weekly", "teacher-2"), testActor)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestClassScheduleServiceUpdateRejectsCapacityBelowBookings(t *testing.T) {
	f := newScheduleFixture()
	created := f.createWednesdays(t)

	booked := f.row(t, created.InstanceIDs[3])
	booked.IsDropIn = true
	booked.BookedCount = 6
	f.store.rows[booked.ID] = booked

	capacity := 5
	req := updateRequest(models.ScopeAll, "teacher-1")
	req.IsDropIn = true
	req.Capacity = &capacity
	_, err := f.svc.Update(context.Background(), created.InstanceIDs[0], req, testActor)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))

	for _, row := range f.store.rows {
		assert.Nil(t, row.Capacity, "no row may change when the edit is rejected")
	}
}

func TestClassScheduleServiceUpdateKeepsDropInWhileBooked(t *testing.T) {
	f := newScheduleFixture()
	created := f.createWednesdays(t)

	booked := f.row(t, created.InstanceIDs[2])
	booked.IsDropIn = true
	booked.BookedCount = 2
	f.store.rows[booked.ID] = booked

	_, err := f.svc.Update(context.Background(), created.InstanceIDs[0], updateRequest(models.ScopeAll, "teacher-1"), testActor)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
	assert.True(t, f.row(t, booked.ID).IsDropIn)

	result, err := f.svc.Update(context.Background(), created.InstanceIDs[0], updateRequest(models.ScopeSingle, "teacher-1"), testActor)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Count)
}

func TestClassScheduleServiceUpdateStorageFailureLeavesRows(t *testing.T) {
	f := newScheduleFixture()
	created := f.createWednesdays(t)
	f.store.updateErr = errors.New("deadlock detected")

	_, err := f.svc.Update(context.Background(), created.InstanceIDs[1], updateRequest(models.ScopeAll, "teacher-9"), testActor)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrStorage))
	for _, row := range f.store.rows {
		assert.Equal(t, "teacher-1", row.TeacherID)
	}
}

func TestClassScheduleServiceUpdateOtherStudioIsNotFound(t *testing.T) {
	f := newScheduleFixture()
	created := f.createWednesdays(t)

	other := &models.JWTClaims{UserID: "u2", StudioID: "studio-2", Role: models.RoleAdmin}
	_, err := f.svc.Update(context.Background(), created.InstanceIDs[0], updateRequest(models.ScopeAll, "t"), other)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestClassScheduleServiceDeleteRequiresScopeForRecurring(t *testing.T) {
	f := newScheduleFixture()
	created := f.createWednesdays(t)

	_, err := f.svc.Delete(context.Background(), created.InstanceIDs[1], "", testActor)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
	assert.Len(t, f.store.rows, 5)
}

func TestClassScheduleServiceDeleteScopes(t *testing.T) {
	f := newScheduleFixture()
	created := f.createWednesdays(t)

	result, err := f.svc.Delete(context.Background(), created.InstanceIDs[0], models.ScopeSingle, testActor)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Count)
	assert.Len(t, f.store.rows, 4)

	result, err = f.svc.Delete(context.Background(), created.InstanceIDs[2], models.ScopeFuture, testActor)
	require.NoError(t, err)
	assert.ElementsMatch(t, created.InstanceIDs[2:], result.AffectedIDs)
	assert.Len(t, f.store.rows, 2)

	result, err = f.svc.Delete(context.Background(), created.InstanceIDs[1], models.ScopeAll, testActor)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Count)
	assert.Empty(t, f.store.rows)
}

func TestClassScheduleServiceDeleteAnchorRequiresScopeAll(t *testing.T) {
	f := newScheduleFixture()
	created := f.createWednesdays(t)
	require.NotNil(t, created.AnchorID)
	audits := len(f.audit.logs)

	for _, scope := range []models.Scope{models.ScopeSingle, models.ScopeFuture, ""} {
		_, err := f.svc.Delete(context.Background(), *created.AnchorID, scope, testActor)
		require.Error(t, err, "scope %q", scope)
		assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
	}
	assert.Len(t, f.store.rows, 5)
	assert.Len(t, f.audit.logs, audits)

	result, err := f.svc.Delete(context.Background(), *created.AnchorID, models.ScopeAll, testActor)
	require.NoError(t, err)
	assert.Equal(t, 5, result.Count)
	assert.Contains(t, result.AffectedIDs, *created.AnchorID)
	assert.Empty(t, f.store.rows)
}

func TestClassScheduleServiceDeleteOneOffIgnoresScope(t *testing.T) {
	f := newScheduleFixture()
	result, err := f.svc.Create(context.Background(), dto.CreateClassRequest{
		Name: "Workshop", TeacherID: "t1", LocationID: "r1", Date: "2024-02-10", StartTime: "09:00", EndTime: "10:00",
	}, testActor)
	require.NoError(t, err)

	deleted, err := f.svc.Delete(context.Background(), result.InstanceIDs[0], "", testActor)
	require.NoError(t, err)
	assert.Equal(t, models.ScopeSingle, deleted.Scope)
	assert.Empty(t, f.store.rows)
}

func TestClassScheduleServiceGetSeries(t *testing.T) {
	f := newScheduleFixture()
	created := f.createWednesdays(t)

	series, err := f.svc.GetSeries(context.Background(), created.InstanceIDs[2], testActor)
	require.NoError(t, err)
	assert.Equal(t, *created.AnchorID, series.Anchor.ID)
	var ids []string
	for _, instance := range series.Instances() {
		ids = append(ids, instance.ID)
	}
	assert.Equal(t, created.InstanceIDs, ids)
}

func TestClassScheduleServiceListCalendarExcludesAnchor(t *testing.T) {
	f := newScheduleFixture()
	created := f.createWednesdays(t)

	items, page, cached, err := f.svc.ListCalendar(context.Background(), dto.CalendarQuery{}, testActor)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Len(t, items, len(created.InstanceIDs))
	assert.Equal(t, 4, page.TotalCount)
	assert.Equal(t, 50, page.PageSize)

	_, _, _, err = f.svc.ListCalendar(context.Background(), dto.CalendarQuery{From: "2024-02-01", To: "2024-01-01"}, testActor)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}
