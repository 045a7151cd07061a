package predict

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/bbernhard/cifar-playground/internal/datastructures"
	raven "github.com/getsentry/raven-go"
	log "github.com/sirupsen/logrus"
)

// Job holds the attributes needed to perform unit of work.
type Job struct {
	PredictionRequest datastructures.PredictionRequest
}

// JobSource hands out queued prediction requests. ok is false when nothing
// arrived within timeout.
type JobSource interface {
	Pop(timeout time.Duration) (req datastructures.PredictionRequest, ok bool, err error)
}

// ResultStore keeps the outcome of a processed job.
type ResultStore interface {
	StoreResult(res datastructures.AsyncPredictionResult) error
}

// NewWorker returns a worker that registers with workerPool and stores what
// classifier predicts for each job in store.
func NewWorker(id int, workerPool chan chan Job, classifier *Classifier, store ResultStore) Worker {
	return Worker{
		id:         id,
		jobQueue:   make(chan Job),
		workerPool: workerPool,
		classifier: classifier,
		store:      store,
	}
}

type Worker struct {
	id         int
	jobQueue   chan Job
	workerPool chan chan Job
	classifier *Classifier
	store      ResultStore
}

func (w Worker) start(ctx context.Context, wg *sync.WaitGroup) {
	log.Debug("[Worker] Worker ", w.id, " starting")

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			// Add my jobQueue to the worker pool.
			w.workerPool <- w.jobQueue

			select {
			case job := <-w.jobQueue:
				w.process(job)
			case <-ctx.Done():
				log.Debug("[Worker] Worker ", w.id, " stopping")
				return
			}
		}
	}()
}

func (w Worker) process(job Job) {
	req := job.PredictionRequest
	res := datastructures.AsyncPredictionResult{Uuid: req.Uuid, Filename: req.Filename}

	img, err := w.classifier.DecodeImage(bytes.NewReader(req.Image))
	if err == nil {
		var prediction datastructures.PredictionResult
		prediction, err = w.classifier.Predict(img)
		if err == nil {
			res.Result = &prediction
		}
	}
	if err != nil {
		log.Debug("[Worker] Couldn't predict ", req.Uuid, ": ", err.Error())
		raven.CaptureError(err, map[string]string{"uuid": req.Uuid, "filename": req.Filename})
		res.Error = err.Error()
	}

	if err := w.store.StoreResult(res); err != nil {
		log.Debug("[Worker] Couldn't store prediction result: ", err.Error())
		raven.CaptureError(err, map[string]string{"uuid": req.Uuid})
	}
}

// NewDispatcher creates, and returns a new Dispatcher object.
func NewDispatcher(jobQueue chan Job, maxWorkers int, classifier *Classifier, store ResultStore) *Dispatcher {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	return &Dispatcher{
		jobQueue:   jobQueue,
		maxWorkers: maxWorkers,
		workerPool: make(chan chan Job, maxWorkers),
		classifier: classifier,
		store:      store,
	}
}

type Dispatcher struct {
	workerPool chan chan Job
	maxWorkers int
	jobQueue   chan Job
	classifier *Classifier
	store      ResultStore
}

// Run starts the workers and hands queued jobs to whichever is idle. It
// returns once ctx is done and every worker has finished its current job.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < d.maxWorkers; i++ {
		NewWorker(i+1, d.workerPool, d.classifier, d.store).start(ctx, &wg)
	}

	d.dispatch(ctx)
	wg.Wait()
}

func (d *Dispatcher) dispatch(ctx context.Context) {
	for {
		select {
		case job := <-d.jobQueue:
			select {
			case workerJobQueue := <-d.workerPool:
				select {
				case workerJobQueue <- job:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// Feed moves requests from src into jobQueue until ctx is done.
func Feed(ctx context.Context, src JobSource, jobQueue chan<- Job, pollTimeout time.Duration) {
	for {
		if ctx.Err() != nil {
			return
		}

		req, ok, err := src.Pop(pollTimeout)
		if err != nil {
			log.Debug("[Main] Couldn't pop prediction request: ", err.Error())
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		if !ok {
			continue
		}

		log.Debug("[Main] Got a new request to process")
		select {
		case jobQueue <- Job{PredictionRequest: req}:
		case <-ctx.Done():
			return
		}
	}
}
