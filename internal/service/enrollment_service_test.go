package service

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/studio-ops-api/internal/dto"
	"github.com/noah-isme/studio-ops-api/internal/models"
	appErrors "github.com/noah-isme/studio-ops-api/pkg/errors"
)

type memoryEnrollmentStore struct {
	roster   map[string]map[string]bool
	locked   map[string]bool
	applies  int
	applyErr error
	seeded   [][2][]string
	// racing students are enrolled by another request just before Apply runs.
	racing []string
}

func newMemoryEnrollmentStore(instanceID string, students ...string) *memoryEnrollmentStore {
	store := &memoryEnrollmentStore{roster: map[string]map[string]bool{}, locked: map[string]bool{}}
	store.roster[instanceID] = map[string]bool{}
	for _, id := range students {
		store.roster[instanceID][id] = true
	}
	return store
}

func (m *memoryEnrollmentStore) ListStudentIDs(ctx context.Context, instanceID string) ([]string, error) {
	var ids []string
	for id := range m.roster[instanceID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *memoryEnrollmentStore) Apply(ctx context.Context, instanceID string, add, remove []string) (*models.RosterChange, error) {
	m.applies++
	if m.applyErr != nil {
		return nil, m.applyErr
	}
	for _, id := range m.racing {
		m.roster[instanceID][id] = true
	}
	change := &models.RosterChange{}
	for _, id := range add {
		if !m.roster[instanceID][id] {
			m.roster[instanceID][id] = true
			change.Added = append(change.Added, id)
		}
	}
	for _, id := range remove {
		if m.locked[id] {
			change.Locked = append(change.Locked, id)
			continue
		}
		delete(m.roster[instanceID], id)
		change.Removed = append(change.Removed, id)
	}
	return change, nil
}

func (m *memoryEnrollmentStore) Seed(ctx context.Context, instanceIDs, studentIDs []string) (int64, error) {
	m.seeded = append(m.seeded, [2][]string{instanceIDs, studentIDs})
	return int64(len(instanceIDs) * len(studentIDs)), nil
}

type enrollmentFixture struct {
	svc      *EnrollmentService
	classes  *memoryClassStore
	store    *memoryEnrollmentStore
	notifier *recordingNotifier
	audit    *stubAudit
}

func newEnrollmentFixture(students ...string) *enrollmentFixture {
	classes := newMemoryClassStore()
	classes.rows["inst-1"] = models.ClassInstance{ID: "inst-1", StudioID: "studio-1", Date: date(2024, 1, 10), EndDate: date(2024, 1, 10)}
	store := newMemoryEnrollmentStore("inst-1", students...)
	notifier := &recordingNotifier{}
	audit := &stubAudit{}
	return &enrollmentFixture{
		svc:      NewEnrollmentService(classes, store, notifier, audit, nil, nil, nil),
		classes:  classes,
		store:    store,
		notifier: notifier,
		audit:    audit,
	}
}

func TestEnrollmentServiceReconcileAppliesDiff(t *testing.T) {
	f := newEnrollmentFixture("s1", "s2")

	result, err := f.svc.Reconcile(context.Background(), "inst-1", dto.ReconcileRosterRequest{StudentIDs: []string{"s2", "s3"}}, testActor)
	require.NoError(t, err)
	assert.Equal(t, []string{"s3"}, result.Added)
	assert.Equal(t, []string{"s1"}, result.Removed)
	assert.Empty(t, result.Conflicts)
	assert.Equal(t, []string{"s2", "s3"}, result.Roster)

	assert.Equal(t, []models.NotificationKind{models.NotificationRosterChanged}, f.notifier.kinds())
	require.Len(t, f.audit.logs, 1)
	assert.Equal(t, models.AuditActionRosterSync, f.audit.logs[0].Action)
}

func TestEnrollmentServiceReconcileNoopWritesNothing(t *testing.T) {
	f := newEnrollmentFixture("s1", "s2")

	result, err := f.svc.Reconcile(context.Background(), "inst-1", dto.ReconcileRosterRequest{StudentIDs: []string{"s2", "s1", "s1"}}, testActor)
	require.NoError(t, err)
	assert.Empty(t, result.Added)
	assert.Empty(t, result.Removed)
	assert.Equal(t, []string{"s1", "s2"}, result.Roster)
	assert.Zero(t, f.store.applies)
	assert.Empty(t, f.notifier.kinds())
	assert.Empty(t, f.audit.logs)
}

func TestEnrollmentServiceReconcileKeepsAttendanceLockedStudents(t *testing.T) {
	f := newEnrollmentFixture("s1", "s2", "s3")
	f.store.locked["s1"] = true

	result, err := f.svc.Reconcile(context.Background(), "inst-1", dto.ReconcileRosterRequest{StudentIDs: []string{"s3"}}, testActor)
	require.NoError(t, err)
	assert.Equal(t, []string{"s2"}, result.Removed)
	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, models.RosterConflict{StudentID: "s1", Reason: models.RosterConflictAttendanceRecorded}, result.Conflicts[0])
	assert.Equal(t, []string{"s1", "s3"}, result.Roster)

	roster, err := f.svc.Roster(context.Background(), "inst-1", testActor)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s3"}, roster)
}

func TestEnrollmentServiceReconcileRosterIncludesConcurrentAdds(t *testing.T) {
	f := newEnrollmentFixture("s1")
	f.store.racing = []string{"s2"}

	result, err := f.svc.Reconcile(context.Background(), "inst-1", dto.ReconcileRosterRequest{StudentIDs: []string{"s1", "s2", "s3"}}, testActor)
	require.NoError(t, err)
	assert.Equal(t, []string{"s3"}, result.Added)
	assert.Equal(t, []string{"s1", "s2", "s3"}, result.Roster)

	roster, err := f.svc.Roster(context.Background(), "inst-1", testActor)
	require.NoError(t, err)
	assert.Equal(t, roster, result.Roster)
}

func TestEnrollmentServiceReconcileOnlyConflictsEmitsNothing(t *testing.T) {
	f := newEnrollmentFixture("s1")
	f.store.locked["s1"] = true

	result, err := f.svc.Reconcile(context.Background(), "inst-1", dto.ReconcileRosterRequest{StudentIDs: []string{}}, testActor)
	require.NoError(t, err)
	assert.Len(t, result.Conflicts, 1)
	assert.Empty(t, f.notifier.kinds())
}

func TestEnrollmentServiceReconcileRejectsAnchor(t *testing.T) {
	f := newEnrollmentFixture()
	weekday := 3
	f.classes.rows["anchor"] = models.ClassInstance{ID: "anchor", StudioID: "studio-1", IsRecurring: true, Weekday: &weekday}

	_, err := f.svc.Reconcile(context.Background(), "anchor", dto.ReconcileRosterRequest{StudentIDs: []string{"s1"}}, testActor)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
	assert.Zero(t, f.store.applies)
}

func TestEnrollmentServiceReconcileErrors(t *testing.T) {
	f := newEnrollmentFixture("s1")

	_, err := f.svc.Reconcile(context.Background(), "missing", dto.ReconcileRosterRequest{}, testActor)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))

	_, err = f.svc.Reconcile(context.Background(), "inst-1", dto.ReconcileRosterRequest{StudentIDs: []string{""}}, testActor)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))

	f.store.applyErr = errors.New("connection refused")
	_, err = f.svc.Reconcile(context.Background(), "inst-1", dto.ReconcileRosterRequest{StudentIDs: []string{"s2"}}, testActor)
	assert.True(t, appErrors.Is(err, appErrors.ErrStorage))
	assert.Empty(t, f.notifier.kinds())
}

func TestEnrollmentServiceSeedDeduplicatesStudents(t *testing.T) {
	f := newEnrollmentFixture()

	inserted, err := f.svc.Seed(context.Background(), []string{"a", "b"}, []string{"s1", "s1", "s2"})
	require.NoError(t, err)
	assert.Equal(t, int64(4), inserted)
	require.Len(t, f.store.seeded, 1)
	assert.Equal(t, []string{"s1", "s2"}, f.store.seeded[0][1])
}

func TestDiffRoster(t *testing.T) {
	add, remove := diffRoster([]string{"a", "b", "c"}, []string{"c", "d"})
	assert.Equal(t, []string{"d"}, add)
	assert.Equal(t, []string{"a", "b"}, remove)

	add, remove = diffRoster(nil, nil)
	assert.Empty(t, add)
	assert.Empty(t, remove)
}
