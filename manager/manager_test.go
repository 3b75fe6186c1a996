package manager

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"os"
	"reflect"
	"testing"

	"github.com/GoCodeAlone/depflow/graph"
	"github.com/GoCodeAlone/depflow/task"
)

func newTestManager(t *testing.T) (*Manager, *task.SQLiteStore) {
	t.Helper()
	f, err := os.CreateTemp("", "depflow-mgr-*.db")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	f.Close()
	path := f.Name()
	t.Cleanup(func() { os.Remove(path) })

	store, err := task.NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mgr, err := New(store, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return mgr, store
}

func mustCreate(t *testing.T, mgr *Manager, title string, deps ...string) *task.Task {
	t.Helper()
	tk, err := mgr.CreateTask(title, CreateOptions{DependsOn: deps})
	if err != nil {
		t.Fatalf("CreateTask %s: %v", title, err)
	}
	return tk
}

func TestCreateTask(t *testing.T) {
	mgr, _ := newTestManager(t)

	tk := mustCreate(t, mgr, "first")
	if tk.ID == "" {
		t.Fatal("empty ID")
	}
	if tk.Status != task.StatusPending {
		t.Errorf("Status = %q, want pending", tk.Status)
	}

	dep := mustCreate(t, mgr, "second", tk.ID)
	if len(dep.DependsOn) != 1 || dep.DependsOn[0] != tk.ID {
		t.Errorf("DependsOn = %v, want [%s]", dep.DependsOn, tk.ID)
	}
}

func TestCreateTask_UnknownDependency(t *testing.T) {
	mgr, _ := newTestManager(t)

	_, err := mgr.CreateTask("broken", CreateOptions{DependsOn: []string{"ghost"}})
	if !errors.Is(err, graph.ErrUnknownTask) {
		t.Errorf("CreateTask error = %v, want ErrUnknownTask", err)
	}
	tasks, err := mgr.ListTasks(nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 0 {
		t.Errorf("store has %d tasks after failed create, want 0", len(tasks))
	}
}

func TestCreateTask_DedupesDependencies(t *testing.T) {
	mgr, _ := newTestManager(t)

	a := mustCreate(t, mgr, "a")
	b, err := mgr.CreateTask("b", CreateOptions{DependsOn: []string{a.ID, a.ID}})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if len(b.DependsOn) != 1 {
		t.Errorf("DependsOn = %v, want single entry", b.DependsOn)
	}
}

func TestAddDependency_CycleRejectedUnchanged(t *testing.T) {
	mgr, store := newTestManager(t)

	a := mustCreate(t, mgr, "A")
	b := mustCreate(t, mgr, "B")
	c := mustCreate(t, mgr, "C")

	if err := mgr.AddDependency(a.ID, b.ID); err != nil {
		t.Fatalf("add-dep A B: %v", err)
	}
	if err := mgr.AddDependency(b.ID, c.ID); err != nil {
		t.Fatalf("add-dep B C: %v", err)
	}

	before, err := store.List()
	if err != nil {
		t.Fatal(err)
	}

	err = mgr.AddDependency(c.ID, a.ID)
	if !errors.Is(err, graph.ErrWouldCreateCycle) {
		t.Fatalf("add-dep C A = %v, want ErrWouldCreateCycle", err)
	}

	after, err := store.List()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(before, after) {
		t.Error("store changed by rejected dependency")
	}

	// A depends on B depends on C: execution order is C, B, A.
	order, err := mgr.ExecutionOrder()
	if err != nil {
		t.Fatalf("ExecutionOrder: %v", err)
	}
	got := []string{order[0].ID, order[1].ID, order[2].ID}
	want := []string{c.ID, b.ID, a.ID}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}

func TestAddDependency_SelfAndDuplicate(t *testing.T) {
	mgr, _ := newTestManager(t)

	a := mustCreate(t, mgr, "a")
	b := mustCreate(t, mgr, "b")

	if err := mgr.AddDependency(a.ID, a.ID); !errors.Is(err, graph.ErrWouldCreateCycle) {
		t.Errorf("self dependency = %v, want ErrWouldCreateCycle", err)
	}
	if err := mgr.AddDependency(a.ID, b.ID); err != nil {
		t.Fatalf("add-dep: %v", err)
	}
	if err := mgr.AddDependency(a.ID, b.ID); !errors.Is(err, graph.ErrDuplicateEdge) {
		t.Errorf("duplicate dependency = %v, want ErrDuplicateEdge", err)
	}
}

func TestAddDependency_Unknown(t *testing.T) {
	mgr, _ := newTestManager(t)
	a := mustCreate(t, mgr, "a")

	if err := mgr.AddDependency("ghost", a.ID); !errors.Is(err, task.ErrNotFound) {
		t.Errorf("unknown task = %v, want ErrNotFound", err)
	}
	if err := mgr.AddDependency(a.ID, "ghost"); !errors.Is(err, graph.ErrUnknownTask) {
		t.Errorf("unknown dependency = %v, want ErrUnknownTask", err)
	}
}

func TestRemoveDependency(t *testing.T) {
	mgr, store := newTestManager(t)

	a := mustCreate(t, mgr, "a")
	b := mustCreate(t, mgr, "b", a.ID)

	if err := mgr.RemoveDependency(b.ID, a.ID); err != nil {
		t.Fatalf("RemoveDependency: %v", err)
	}
	got, err := store.Get(b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.DependsOn) != 0 {
		t.Errorf("DependsOn = %v, want empty", got.DependsOn)
	}
	if err := mgr.RemoveDependency(b.ID, a.ID); !errors.Is(err, graph.ErrEdgeNotFound) {
		t.Errorf("second remove = %v, want ErrEdgeNotFound", err)
	}
}

func TestDeleteTask_BlockedThenAllowed(t *testing.T) {
	mgr, store := newTestManager(t)

	b := mustCreate(t, mgr, "B")
	a := mustCreate(t, mgr, "A", b.ID)

	err := mgr.DeleteTask(b.ID)
	if !errors.Is(err, ErrHasDependents) {
		t.Fatalf("delete with dependent = %v, want ErrHasDependents", err)
	}
	if _, err := store.Get(b.ID); err != nil {
		t.Fatalf("task B disappeared after blocked delete: %v", err)
	}

	if err := mgr.RemoveDependency(a.ID, b.ID); err != nil {
		t.Fatalf("RemoveDependency: %v", err)
	}
	if err := mgr.DeleteTask(b.ID); err != nil {
		t.Fatalf("delete after remove-dep: %v", err)
	}
	if _, err := store.Get(b.ID); !errors.Is(err, task.ErrNotFound) {
		t.Errorf("Get deleted = %v, want ErrNotFound", err)
	}
}

func TestDeleteTask_NotFound(t *testing.T) {
	mgr, _ := newTestManager(t)
	if err := mgr.DeleteTask("ghost"); !errors.Is(err, task.ErrNotFound) {
		t.Errorf("DeleteTask = %v, want ErrNotFound", err)
	}
}

func TestUpdateStatus(t *testing.T) {
	mgr, store := newTestManager(t)
	a := mustCreate(t, mgr, "a")

	if err := mgr.UpdateStatus(a.ID, task.StatusDone); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	got, err := store.Get(a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != task.StatusDone {
		t.Errorf("Status = %q, want done", got.Status)
	}
	if err := mgr.UpdateStatus("ghost", task.StatusDone); !errors.Is(err, task.ErrNotFound) {
		t.Errorf("UpdateStatus ghost = %v, want ErrNotFound", err)
	}
}

func TestExecutionOrder_Idempotent(t *testing.T) {
	mgr, _ := newTestManager(t)

	a := mustCreate(t, mgr, "a")
	mustCreate(t, mgr, "b", a.ID)
	mustCreate(t, mgr, "c", a.ID)
	mustCreate(t, mgr, "d")

	first, err := mgr.ExecutionOrder()
	if err != nil {
		t.Fatalf("ExecutionOrder: %v", err)
	}
	if len(first) != 4 {
		t.Fatalf("len = %d, want 4", len(first))
	}
	second, err := mgr.ExecutionOrder()
	if err != nil {
		t.Fatalf("ExecutionOrder: %v", err)
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Fatalf("order differs at %d: %s vs %s", i, first[i].ID, second[i].ID)
		}
	}
}

func TestReadyTasks(t *testing.T) {
	mgr, _ := newTestManager(t)

	a := mustCreate(t, mgr, "a")
	b := mustCreate(t, mgr, "b", a.ID)

	ready, err := mgr.ReadyTasks()
	if err != nil {
		t.Fatalf("ReadyTasks: %v", err)
	}
	if len(ready) != 1 || ready[0].ID != a.ID {
		t.Fatalf("ready = %v, want only a", ids(ready))
	}

	if err := mgr.UpdateStatus(a.ID, task.StatusDone); err != nil {
		t.Fatal(err)
	}
	ready, err = mgr.ReadyTasks()
	if err != nil {
		t.Fatalf("ReadyTasks: %v", err)
	}
	if len(ready) != 1 || ready[0].ID != b.ID {
		t.Fatalf("ready after done = %v, want only b", ids(ready))
	}
}

func TestListTasks_StatusFilter(t *testing.T) {
	mgr, _ := newTestManager(t)

	a := mustCreate(t, mgr, "a")
	mustCreate(t, mgr, "b")
	if err := mgr.UpdateStatus(a.ID, task.StatusDone); err != nil {
		t.Fatal(err)
	}

	done := task.StatusDone
	tasks, err := mgr.ListTasks(&done)
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != a.ID {
		t.Errorf("filtered = %v, want only a", ids(tasks))
	}
}

func TestExportImport_RoundTrip(t *testing.T) {
	mgr, _ := newTestManager(t)

	a := mustCreate(t, mgr, "a")
	b := mustCreate(t, mgr, "b", a.ID)

	var buf bytes.Buffer
	if err := mgr.Export(&buf); err != nil {
		t.Fatalf("Export: %v", err)
	}

	mgr2, store2 := newTestManager(t)
	mustCreate(t, mgr2, "stale")
	if err := mgr2.Import(bytes.NewReader(buf.Bytes())); err != nil {
		t.Fatalf("Import: %v", err)
	}

	tasks, err := store2.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 2 {
		t.Fatalf("imported %d tasks, want 2", len(tasks))
	}
	got, err := store2.Get(b.ID)
	if err != nil {
		t.Fatalf("Get imported b: %v", err)
	}
	if len(got.DependsOn) != 1 || got.DependsOn[0] != a.ID {
		t.Errorf("imported DependsOn = %v, want [%s]", got.DependsOn, a.ID)
	}

	// The imported graph is live: the old cycle rules apply.
	if err := mgr2.AddDependency(a.ID, b.ID); !errors.Is(err, graph.ErrWouldCreateCycle) {
		t.Errorf("add-dep after import = %v, want ErrWouldCreateCycle", err)
	}
}

func TestImport_RejectsCyclicSnapshot(t *testing.T) {
	mgr, store := newTestManager(t)
	keep := mustCreate(t, mgr, "keep")

	snap := `{"tasks":[
		{"id":"x","title":"x","status":"pending","depends_on":["y"]},
		{"id":"y","title":"y","status":"pending","depends_on":["x"]}
	]}`
	err := mgr.Import(bytes.NewReader([]byte(snap)))
	if !errors.Is(err, graph.ErrWouldCreateCycle) {
		t.Fatalf("Import = %v, want ErrWouldCreateCycle", err)
	}
	if _, err := store.Get(keep.ID); err != nil {
		t.Errorf("existing task lost after rejected import: %v", err)
	}
}

func TestImport_RejectsUnknownStatus(t *testing.T) {
	mgr, store := newTestManager(t)
	keep := mustCreate(t, mgr, "keep")

	snap := `{"tasks":[{"id":"x","title":"x","status":"bogus"}]}`
	if err := mgr.Import(bytes.NewReader([]byte(snap))); err == nil {
		t.Fatal("Import accepted unrecognized status, want error")
	}
	if _, err := store.Get("x"); !errors.Is(err, task.ErrNotFound) {
		t.Errorf("rejected task reached the store: %v", err)
	}
	if _, err := store.Get(keep.ID); err != nil {
		t.Errorf("existing task lost after rejected import: %v", err)
	}
}

func TestImport_DefaultsEmptyStatus(t *testing.T) {
	mgr, store := newTestManager(t)

	snap := `{"tasks":[{"id":"x","title":"x"}]}`
	if err := mgr.Import(bytes.NewReader([]byte(snap))); err != nil {
		t.Fatalf("Import: %v", err)
	}
	got, err := store.Get("x")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != task.StatusPending {
		t.Errorf("Status = %q, want pending", got.Status)
	}
}

func TestImport_RejectsEmptyID(t *testing.T) {
	mgr, store := newTestManager(t)
	keep := mustCreate(t, mgr, "keep")

	snap := `{"tasks":[{"title":"anonymous","status":"pending"}]}`
	if err := mgr.Import(bytes.NewReader([]byte(snap))); err == nil {
		t.Fatal("Import accepted task without id, want error")
	}
	if _, err := store.Get(keep.ID); err != nil {
		t.Errorf("existing task lost after rejected import: %v", err)
	}
}

func TestImport_RejectsDuplicateID(t *testing.T) {
	mgr, store := newTestManager(t)
	keep := mustCreate(t, mgr, "keep")

	snap := `{"tasks":[
		{"id":"x","title":"first","status":"pending"},
		{"id":"x","title":"second","status":"pending"}
	]}`
	if err := mgr.Import(bytes.NewReader([]byte(snap))); err == nil {
		t.Fatal("Import accepted duplicate task ids, want error")
	}
	if _, err := store.Get(keep.ID); err != nil {
		t.Errorf("existing task lost after rejected import: %v", err)
	}
}

// flakyStore fails Create once a call budget is spent, simulating a storage
// fault in the middle of a bulk write.
type flakyStore struct {
	task.Store
	createsLeft int
}

func (s *flakyStore) Create(t *task.Task) (string, error) {
	if s.createsLeft <= 0 {
		return "", task.ErrStorage
	}
	s.createsLeft--
	return s.Store.Create(t)
}

func TestImport_ResyncsGraphOnStorageFailure(t *testing.T) {
	_, inner := newTestManager(t)
	flaky := &flakyStore{Store: inner, createsLeft: 1}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mgr, err := New(flaky, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	snap := `{"tasks":[
		{"id":"a","title":"a","status":"pending"},
		{"id":"b","title":"b","status":"pending","depends_on":["a"]}
	]}`
	err = mgr.Import(bytes.NewReader([]byte(snap)))
	if !errors.Is(err, task.ErrStorage) {
		t.Fatalf("Import = %v, want ErrStorage", err)
	}

	// Only "a" was written; the graph view must match the partial store.
	tasks, err := inner.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 1 || tasks[0].ID != "a" {
		t.Fatalf("store = %v, want only a", ids(tasks))
	}
	order, err := mgr.ExecutionOrder()
	if err != nil {
		t.Fatalf("ExecutionOrder after failed import: %v", err)
	}
	if len(order) != 1 || order[0].ID != "a" {
		t.Errorf("order = %v, want only a", ids(order))
	}
}

func TestNew_RejectsCorruptStore(t *testing.T) {
	_, store := newTestManager(t)

	// Write a dangling dependency straight to the store.
	if _, err := store.Create(&task.Task{ID: "broken", Title: "broken", Status: task.StatusPending, DependsOn: []string{"ghost"}}); err != nil {
		t.Fatal(err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, err := New(store, logger); !errors.Is(err, graph.ErrUnknownTask) {
		t.Errorf("New on corrupt store = %v, want ErrUnknownTask", err)
	}
}

func ids(tasks []*task.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID
	}
	return out
}
