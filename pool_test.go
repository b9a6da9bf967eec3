package tileloader

import (
	"sync"
	"testing"
	"time"
)

type testTask struct {
	onRun    func()
	onCancel func()
}

func (t *testTask) run() {
	if t.onRun != nil {
		t.onRun()
	}
}

func (t *testTask) cancel() {
	if t.onCancel != nil {
		t.onCancel()
	}
}

func singleWorkerPool() *workerPool {
	return &workerPool{
		core:      1,
		max:       1,
		keepAlive: time.Second,
		wake:      make(chan struct{}, 16),
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPoolLIFOOrder(t *testing.T) {
	p := singleWorkerPool()
	started := make(chan struct{})
	block := make(chan struct{})
	p.execute(&testTask{onRun: func() {
		close(started)
		<-block
	}})
	<-started

	var mu sync.Mutex
	var order []string
	for _, name := range []string{"a", "b", "c"} {
		name := name
		p.execute(&testTask{onRun: func() {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}})
	}
	close(block)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 3
	})
	mu.Lock()
	defer mu.Unlock()
	if order[0] != "c" || order[1] != "b" || order[2] != "a" {
		t.Fatalf("run order %v, want newest first [c b a]", order)
	}
}

func TestPoolCancelOutstanding(t *testing.T) {
	p := singleWorkerPool()
	started := make(chan struct{})
	block := make(chan struct{})
	p.execute(&testTask{onRun: func() {
		close(started)
		<-block
	}})
	<-started

	var mu sync.Mutex
	var canceled, ran int
	for i := 0; i < 3; i++ {
		p.execute(&testTask{
			onRun: func() {
				mu.Lock()
				ran++
				mu.Unlock()
			},
			onCancel: func() {
				mu.Lock()
				canceled++
				mu.Unlock()
			},
		})
	}

	p.cancelOutstanding()
	close(block)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return canceled == 3
	})
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if ran != 0 {
		t.Fatalf("%d canceled tasks ran anyway", ran)
	}
}

func TestPoolRunsQueuedWork(t *testing.T) {
	p := newWorkerPool(4)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var count int
	for i := 0; i < 20; i++ {
		wg.Add(1)
		p.execute(&testTask{onRun: func() {
			defer wg.Done()
			mu.Lock()
			count++
			mu.Unlock()
		}})
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("queued work not drained")
	}
	if count != 20 {
		t.Fatalf("ran %d tasks, want 20", count)
	}
}
