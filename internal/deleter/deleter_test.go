package deleter

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"objsweep/internal/config"
	"objsweep/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeBackend is a scripted in-memory backend. Listing pages are played
// back per container; deletes and container deletes are recorded in a
// single ordered event log so tests can assert phase ordering.
type fakeBackend struct {
	mu         sync.Mutex
	containers []string
	pages      map[string][][]string
	pageIdx    map[string]int
	endless    bool
	listCalls  map[string]int
	resets     map[string]int
	flushReqs  int

	deletes       []Task
	events        []string
	failKey       string
	deleteDelay   time.Duration
	containerErrs map[string]int
}

func newFakeBackend(containers []string, pages map[string][][]string) *fakeBackend {
	return &fakeBackend{
		containers:    containers,
		pages:         pages,
		pageIdx:       make(map[string]int),
		listCalls:     make(map[string]int),
		resets:        make(map[string]int),
		containerErrs: make(map[string]int),
	}
}

func (b *fakeBackend) Login(ctx context.Context) error { return nil }

func (b *fakeBackend) ListContainers(ctx context.Context, prefixes []string) ([]string, error) {
	var matched []string
	for _, name := range b.containers {
		if storage.MatchPrefixes(name, prefixes) {
			matched = append(matched, name)
		}
	}
	return matched, nil
}

func (b *fakeBackend) ListObjects(ctx context.Context, container string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.listCalls[container]++

	if b.endless {
		page := make([]string, 10)
		for i := range page {
			page[i] = fmt.Sprintf("obj-%d-%d", b.listCalls[container], i)
		}
		return page, nil
	}

	idx := b.pageIdx[container]
	script := b.pages[container]
	if idx >= len(script) {
		return nil, nil
	}
	b.pageIdx[container] = idx + 1
	return script[idx], nil
}

func (b *fakeBackend) ResetCursor(container string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resets[container]++
}

func (b *fakeBackend) DeleteContainer(ctx context.Context, container string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.containerErrs[container] > 0 {
		b.containerErrs[container]--
		return fmt.Errorf("container %s is busy", container)
	}
	b.events = append(b.events, "container "+container)
	return nil
}

func (b *fakeBackend) BulkSize() int { return 0 }

func (b *fakeBackend) RequestFlush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushReqs++
}

func (b *fakeBackend) OpenSession(ctx context.Context) (storage.Session, error) {
	return &fakeSession{backend: b}, nil
}

func (b *fakeBackend) deletedTasks() []Task {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Task(nil), b.deletes...)
}

func (b *fakeBackend) eventLog() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.events...)
}

type fakeSession struct {
	backend *fakeBackend
}

func (s *fakeSession) Delete(ctx context.Context, container, key string) error {
	b := s.backend
	if b.deleteDelay > 0 {
		time.Sleep(b.deleteDelay)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failKey != "" && key == b.failKey {
		return fmt.Errorf("simulated delete failure for %s", key)
	}
	b.deletes = append(b.deletes, Task{Container: container, Key: key})
	b.events = append(b.events, "object "+container+"/"+key)
	return nil
}

func (s *fakeSession) Flush(ctx context.Context) error { return nil }
func (s *fakeSession) Close(ctx context.Context) error { return nil }

func testSweep() config.Sweep {
	return config.Sweep{
		MaxThreads:       4,
		QueueSize:        100,
		ListRetries:      2,
		ContainerRetries: 2,
	}
}

func TestRunDeletesObjectsThenContainers(t *testing.T) {
	backend := newFakeBackend([]string{"c1", "c2"}, map[string][][]string{
		"c1": {{"a", "b"}, {}, {}},
		"c2": {{"x"}, {}, {}},
	})

	d := New(testSweep(), backend, zap.NewNop(), nil, nil)
	require.NoError(t, d.Run(context.Background()))

	deleted := backend.deletedTasks()
	assert.ElementsMatch(t, []Task{
		{Container: "c1", Key: "a"},
		{Container: "c1", Key: "b"},
		{Container: "c2", Key: "x"},
	}, deleted)
	assert.Equal(t, int64(3), d.queue.Enqueued())

	// Two-phase ordering: every object delete precedes every container
	// delete.
	events := backend.eventLog()
	lastObject, firstContainer := -1, len(events)
	for i, e := range events {
		if strings.HasPrefix(e, "object ") && i > lastObject {
			lastObject = i
		}
		if strings.HasPrefix(e, "container ") && i < firstContainer {
			firstContainer = i
		}
	}
	assert.Less(t, lastObject, firstContainer,
		"no container delete may precede an object delete")
	assert.Equal(t, []string{"container c1", "container c2"}, events[firstContainer:])

	// One forced bulk flush per exhausted container.
	assert.Equal(t, 2, backend.flushReqs)
}

func TestRecheckBeforeExhaustion(t *testing.T) {
	backend := newFakeBackend([]string{"c"}, map[string][][]string{
		"c": {{"a", "b"}, {}, {}},
	})

	d := New(testSweep(), backend, zap.NewNop(), nil, nil)
	require.NoError(t, d.Run(context.Background()))

	// Exactly two tasks, and the container was rechecked once (cursor
	// cleared after the first empty page) before being declared exhausted.
	assert.Len(t, backend.deletedTasks(), 2)
	assert.Equal(t, 1, backend.resets["c"])
	assert.Equal(t, 3, backend.listCalls["c"])
}

func TestRecheckFindsLaggedObjects(t *testing.T) {
	// An empty page followed by a non-empty recheck must not end
	// enumeration; only two consecutive empties do.
	backend := newFakeBackend([]string{"c"}, map[string][][]string{
		"c": {{"a"}, {}, {"b"}, {}, {}},
	})

	d := New(testSweep(), backend, zap.NewNop(), nil, nil)
	require.NoError(t, d.Run(context.Background()))

	assert.ElementsMatch(t, []Task{
		{Container: "c", Key: "a"},
		{Container: "c", Key: "b"},
	}, backend.deletedTasks())
	assert.Equal(t, 2, backend.resets["c"])
	assert.Equal(t, 5, backend.listCalls["c"])
}

func TestPrefixMatching(t *testing.T) {
	pages := map[string][][]string{
		"logs-a": {{}, {}},
		"data-b": {{"should-not-be-listed"}, {}, {}},
		"tmp-c":  {{}, {}},
		"logs-d": {{}, {}},
	}
	backend := newFakeBackend([]string{"logs-a", "data-b", "tmp-c", "logs-d"}, pages)

	cfg := testSweep()
	cfg.Prefixes = []string{"logs-", "tmp-"}
	d := New(cfg, backend, zap.NewNop(), nil, nil)
	require.NoError(t, d.Run(context.Background()))

	// Matching containers deleted in provider listing order; the unmatched
	// container is never touched.
	assert.Equal(t, []string{"container logs-a", "container tmp-c", "container logs-d"},
		backend.eventLog())
	assert.Zero(t, backend.listCalls["data-b"])
}

func TestWorkerFailureAbortsRun(t *testing.T) {
	keys := make([]string, 40)
	for i := range keys {
		keys[i] = fmt.Sprintf("k%d", i)
	}
	backend := newFakeBackend([]string{"c"}, map[string][][]string{
		"c": {keys, {}, {}},
	})
	backend.failKey = "k0"

	cfg := testSweep()
	cfg.MaxThreads = 3
	d := New(cfg, backend, zap.NewNop(), nil, nil)

	err := d.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "k0")

	// Fail-fast: the run aborts, the remaining tasks are never consumed,
	// and no container delete is attempted.
	assert.Less(t, len(backend.deletedTasks()), 40)
	assert.Positive(t, d.queue.Len(), "queued tasks must stay unconsumed after abort")
	for _, e := range backend.eventLog() {
		assert.False(t, strings.HasPrefix(e, "container "),
			"container delete must not run after an aborted drain")
	}
}

func TestCancellationStopsWorkers(t *testing.T) {
	backend := newFakeBackend([]string{"c"}, nil)
	backend.endless = true
	backend.deleteDelay = 5 * time.Millisecond

	cfg := testSweep()
	cfg.MaxThreads = 100
	d := New(cfg, backend, zap.NewNop(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	time.Sleep(200 * time.Millisecond)
	cancel()

	var err error
	select {
	case err = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancellation")
	}
	require.Error(t, err)

	// Run returning means every worker joined; no further backend delete
	// calls may happen afterwards.
	before := len(backend.deletedTasks())
	time.Sleep(250 * time.Millisecond)
	assert.Equal(t, before, len(backend.deletedTasks()))
	for _, e := range backend.eventLog() {
		assert.False(t, strings.HasPrefix(e, "container "))
	}
}

func TestContainerDeleteRetries(t *testing.T) {
	backend := newFakeBackend([]string{"c1", "c2"}, map[string][][]string{
		"c1": {{}, {}},
		"c2": {{}, {}},
	})
	backend.containerErrs["c1"] = 2 // recovers within the retry budget

	d := New(testSweep(), backend, zap.NewNop(), nil, nil)
	require.NoError(t, d.Run(context.Background()))
	assert.Equal(t, []string{"container c1", "container c2"}, backend.eventLog())
}

func TestContainerDeleteExhaustionDoesNotAbortOthers(t *testing.T) {
	backend := newFakeBackend([]string{"c1", "c2"}, map[string][][]string{
		"c1": {{}, {}},
		"c2": {{}, {}},
	})
	backend.containerErrs["c1"] = 10 // exceeds the retry budget

	d := New(testSweep(), backend, zap.NewNop(), nil, nil)
	err := d.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 container")

	// The failing container is skipped; the other is still deleted.
	assert.Equal(t, []string{"container c2"}, backend.eventLog())
}

func TestStopIsIdempotent(t *testing.T) {
	backend := newFakeBackend([]string{"c"}, map[string][][]string{
		"c": {{}, {}},
	})
	d := New(testSweep(), backend, zap.NewNop(), nil, nil)
	require.NoError(t, d.Run(context.Background()))

	// Stop was already called inside Run; further calls are no-ops.
	d.Stop()
	d.Stop()
}
