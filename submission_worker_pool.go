package main

import (
	"runtime"
	"sync"
	"time"
)

const (
	// submissionWorkerQueueMultiplier determines how much backlog we allow
	// per worker goroutine.
	submissionWorkerQueueMultiplier = 32
	submissionWorkerQueueMinDepth   = 128
)

var (
	submissionWorkers    *submissionWorkerPool
	submissionWorkerOnce sync.Once
)

func ensureSubmissionWorkerPool() {
	submissionWorkerOnce.Do(func() {
		workers := runtime.NumCPU()
		if workers <= 0 {
			workers = 1
		}
		submissionWorkers = newSubmissionWorkerPool(workers)
	})
}

type submissionTask struct {
	mc         *MinerConn
	reqID      any
	req        submitRequest
	receivedAt time.Time
}

type submissionWorkerPool struct {
	tasks chan submissionTask
}

func newSubmissionWorkerPool(workerCount int) *submissionWorkerPool {
	if workerCount <= 0 {
		workerCount = 1
	}
	queueDepth := max(workerCount*submissionWorkerQueueMultiplier, submissionWorkerQueueMinDepth)
	pool := &submissionWorkerPool{
		tasks: make(chan submissionTask, queueDepth),
	}
	for i := 0; i < workerCount; i++ {
		go pool.worker(i)
	}
	return pool
}

func (p *submissionWorkerPool) submit(task submissionTask) {
	p.tasks <- task
}

func (p *submissionWorkerPool) worker(id int) {
	for task := range p.tasks {
		func(t submissionTask) {
			defer func() {
				if r := recover(); r != nil {
					stratumLog.Error("submission worker panic", "worker", id, "error", r)
				}
			}()
			t.mc.processSubmissionTask(t)
		}(task)
	}
}
