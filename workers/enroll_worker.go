package workers

import (
	"context"
	"log"
	"sync"

	"github.com/camden-git/attendancebackend/models"
	"github.com/camden-git/attendancebackend/services"
)

// Enroller stores one identity without rebuilding the classifier.
type Enroller interface {
	EnrollWithoutRetrain(ctx context.Context, req services.EnrollRequest) (*models.Identity, error)
}

type EnrollJob struct {
	Request services.EnrollRequest
	Source  string // file path or other origin, for logs
}

type EnrollResult struct {
	Job      EnrollJob
	Identity *models.Identity
	Err      error
}

// EnrollmentPool runs bulk enrollments on a fixed set of workers. Jobs for an
// external id that is already queued are rejected.
type EnrollmentPool struct {
	JobQueue chan EnrollJob
	Enroller Enroller
	OnResult func(EnrollResult) // called from worker goroutines
	Wg       sync.WaitGroup
	StopChan chan struct{}
	Pending  map[string]bool
	Mutex    sync.Mutex

	ctx        context.Context
	finishOnce sync.Once
	stopOnce   sync.Once
}

func NewEnrollmentPool(ctx context.Context, enroller Enroller, onResult func(EnrollResult), queueSize, numWorkers int) *EnrollmentPool {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	if queueSize <= 0 {
		queueSize = 100
	}
	pool := &EnrollmentPool{
		JobQueue: make(chan EnrollJob, queueSize),
		Enroller: enroller,
		OnResult: onResult,
		StopChan: make(chan struct{}),
		Pending:  make(map[string]bool),
		ctx:      ctx,
	}
	pool.Wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go pool.worker(i)
	}
	log.Printf("Started %d enrollment worker(s) with queue size %d", numWorkers, queueSize)
	return pool
}

func (p *EnrollmentPool) worker(id int) {
	defer p.Wg.Done()
	for {
		select {
		case job, ok := <-p.JobQueue:
			if !ok {
				return
			}
			p.process(id, job)
		case <-p.StopChan:
			log.Printf("Enrollment worker %d stopping: Stop signal received", id)
			return
		case <-p.ctx.Done():
			log.Printf("Enrollment worker %d stopping: %v", id, p.ctx.Err())
			return
		}
	}
}

func (p *EnrollmentPool) process(id int, job EnrollJob) {
	identity, err := p.Enroller.EnrollWithoutRetrain(p.ctx, job.Request)
	if err != nil {
		log.Printf("Enrollment worker %d: %s (%s) failed: %v", id, job.Request.ExternalID, job.Source, err)
	}

	p.Mutex.Lock()
	delete(p.Pending, job.Request.ExternalID)
	p.Mutex.Unlock()

	if p.OnResult != nil {
		p.OnResult(EnrollResult{Job: job, Identity: identity, Err: err})
	}
}

// QueueJob queues a job unless its external id is pending or the queue is full.
func (p *EnrollmentPool) QueueJob(job EnrollJob) bool {
	key := job.Request.ExternalID

	p.Mutex.Lock()
	if p.Pending[key] {
		p.Mutex.Unlock()
		return false
	}
	p.Pending[key] = true
	p.Mutex.Unlock()

	select {
	case p.JobQueue <- job:
		return true
	default:
		log.Printf("WARNING: Enrollment queue full. Failed to queue %s (%s)", key, job.Source)
		p.Mutex.Lock()
		delete(p.Pending, key)
		p.Mutex.Unlock()
		return false
	}
}

// QueueJobWait is QueueJob but blocks while the queue is full. It returns
// false if the job is a duplicate or the pool stops first.
func (p *EnrollmentPool) QueueJobWait(job EnrollJob) bool {
	key := job.Request.ExternalID
	select {
	case <-p.StopChan:
		return false
	case <-p.ctx.Done():
		return false
	default:
	}

	p.Mutex.Lock()
	if p.Pending[key] {
		p.Mutex.Unlock()
		return false
	}
	p.Pending[key] = true
	p.Mutex.Unlock()

	select {
	case p.JobQueue <- job:
		return true
	case <-p.StopChan:
	case <-p.ctx.Done():
	}
	p.Mutex.Lock()
	delete(p.Pending, key)
	p.Mutex.Unlock()
	return false
}

// Finish stops accepting jobs, lets the workers drain the queue and waits.
// Queueing after Finish panics.
func (p *EnrollmentPool) Finish() {
	p.finishOnce.Do(func() { close(p.JobQueue) })
	p.Wg.Wait()
}

// Stop abandons queued jobs and waits for in-flight ones.
func (p *EnrollmentPool) Stop() {
	log.Println("Stopping enrollment workers...")
	p.stopOnce.Do(func() { close(p.StopChan) })
	p.Wg.Wait()
	log.Println("All enrollment workers stopped")
}
