// Package queue stores asynchronous prediction requests and their results in
// Redis.
package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/bbernhard/cifar-playground/internal/datastructures"
	"github.com/garyburd/redigo/redis"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultQueueKey     = "predictme"
	DefaultResultPrefix = "predict"
	DefaultResultTTL    = time.Hour
)

type Options struct {
	Address        string
	MaxConnections int
	QueueKey       string
	ResultPrefix   string
	ResultTTL      time.Duration
}

type Queue struct {
	pool *redis.Pool
	opts Options
}

func New(opts Options) *Queue {
	if opts.QueueKey == "" {
		opts.QueueKey = DefaultQueueKey
	}
	if opts.ResultPrefix == "" {
		opts.ResultPrefix = DefaultResultPrefix
	}
	if opts.ResultTTL <= 0 {
		opts.ResultTTL = DefaultResultTTL
	}
	address := opts.Address

	pool := &redis.Pool{
		MaxIdle:     opts.MaxConnections,
		MaxActive:   opts.MaxConnections,
		IdleTimeout: 5 * time.Minute,
		Dial: func() (redis.Conn, error) {
			return redis.Dial("tcp", address)
		},
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			if time.Since(t) < time.Minute {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
	}
	return &Queue{pool: pool, opts: opts}
}

// Ping checks that Redis is reachable.
func (q *Queue) Ping() error {
	conn := q.pool.Get()
	defer conn.Close()
	_, err := conn.Do("PING")
	return err
}

// Push appends req to the tail of the prediction queue.
func (q *Queue) Push(req datastructures.PredictionRequest) error {
	serialized, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshalling prediction request: %w", err)
	}

	conn := q.pool.Get()
	defer conn.Close()
	if _, err := conn.Do("RPUSH", q.opts.QueueKey, serialized); err != nil {
		return fmt.Errorf("queueing prediction request: %w", err)
	}
	return nil
}

// Pop blocks up to timeout for the oldest queued request. Redis only accepts
// whole seconds, so shorter timeouts are rounded up to one second.
func (q *Queue) Pop(timeout time.Duration) (datastructures.PredictionRequest, bool, error) {
	var req datastructures.PredictionRequest

	seconds := int(timeout / time.Second)
	if seconds < 1 {
		seconds = 1
	}

	conn := q.pool.Get()
	defer conn.Close()

	reply, err := redis.ByteSlices(conn.Do("BLPOP", q.opts.QueueKey, seconds))
	if err == redis.ErrNil {
		return req, false, nil
	}
	if err != nil {
		return req, false, fmt.Errorf("popping prediction request: %w", err)
	}
	if len(reply) != 2 {
		return req, false, fmt.Errorf("unexpected BLPOP reply with %d elements", len(reply))
	}

	if err := json.Unmarshal(reply[1], &req); err != nil {
		log.Debug("[Queue] Couldn't unmarshal: ", err.Error())
		return req, false, fmt.Errorf("unmarshalling prediction request: %w", err)
	}
	return req, true, nil
}

// StoreResult saves res under its uuid. It expires after the result TTL, as
// nobody is expected to ask for it later than that.
func (q *Queue) StoreResult(res datastructures.AsyncPredictionResult) error {
	serialized, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshalling prediction result: %w", err)
	}

	conn := q.pool.Get()
	defer conn.Close()
	ttl := int(q.opts.ResultTTL / time.Second)
	if ttl < 1 {
		ttl = 1
	}
	if _, err := conn.Do("SETEX", q.opts.ResultPrefix+res.Uuid, ttl, serialized); err != nil {
		return fmt.Errorf("storing prediction result: %w", err)
	}
	return nil
}

// Result returns the stored outcome for uuid. ok is false while the job is
// still pending, or when the uuid is unknown.
func (q *Queue) Result(uuid string) (datastructures.AsyncPredictionResult, bool, error) {
	var res datastructures.AsyncPredictionResult

	conn := q.pool.Get()
	defer conn.Close()

	data, err := redis.Bytes(conn.Do("GET", q.opts.ResultPrefix+uuid))
	if err == redis.ErrNil {
		return res, false, nil
	}
	if err != nil {
		return res, false, fmt.Errorf("getting prediction result: %w", err)
	}
	if err := json.Unmarshal(data, &res); err != nil {
		return res, false, fmt.Errorf("unmarshalling prediction result: %w", err)
	}
	return res, true, nil
}

// Pending returns the number of queued requests.
func (q *Queue) Pending() (int, error) {
	conn := q.pool.Get()
	defer conn.Close()
	return redis.Int(conn.Do("LLEN", q.opts.QueueKey))
}

func (q *Queue) Close() error {
	return q.pool.Close()
}
