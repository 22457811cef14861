package collab

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/IBM/sarama"
)

// Dispatcher decouples Kafka publishing from the commit path: Submit only
// enqueues, workers send with bounded retries. A full queue degrades to
// dropping events rather than growing without bound; the op log in MySQL is
// the source of truth, fan-out is not required to be lossless.
type Dispatcher struct {
	producer sarama.SyncProducer
	topic    string

	queue chan FlowOpEvent

	workers     int
	maxRetry    int
	baseBackoff time.Duration
	maxBackoff  time.Duration

	wg        sync.WaitGroup
	closeOnce sync.Once
}

type DispatcherOptions struct {
	QueueSize   int
	Workers     int
	MaxRetry    int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func NewDispatcher(producer sarama.SyncProducer, topic string, opt DispatcherOptions) *Dispatcher {
	d := &Dispatcher{
		producer:    producer,
		topic:       topic,
		queue:       make(chan FlowOpEvent, opt.QueueSize),
		workers:     opt.Workers,
		maxRetry:    opt.MaxRetry,
		baseBackoff: opt.BaseBackoff,
		maxBackoff:  opt.MaxBackoff,
	}
	d.start()
	return d
}

// Enqueue places an event on the local queue, waiting until ctx expires if
// the queue is full.
func (d *Dispatcher) Enqueue(ctx context.Context, evt FlowOpEvent) error {
	select {
	case d.queue <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) start() {
	d.wg.Add(d.workers)
	for i := 0; i < d.workers; i++ {
		go d.workerLoop(i)
	}
}

// Close drains the queue and waits for the workers to finish what is
// already enqueued. Callers must stop enqueueing first; Enqueue after Close
// panics on the closed channel.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.queue)
	})
	d.wg.Wait()
}

func (d *Dispatcher) workerLoop(workerID int) {
	defer d.wg.Done()
	for evt := range d.queue {
		d.sendWithRetry(workerID, evt)
	}
}

func (d *Dispatcher) sendWithRetry(workerID int, evt FlowOpEvent) {
	for attempt := 0; attempt <= d.maxRetry; attempt++ {
		err := d.sendOnce(evt)
		if err == nil {
			return
		}
		if attempt == d.maxRetry {
			log.Printf("kafka send failed, drop event flow=%s version=%d worker=%d err=%v",
				evt.FlowID, evt.Version, workerID, err)
			return
		}
		backoff := d.baseBackoff * time.Duration(1<<attempt)
		if backoff > d.maxBackoff {
			backoff = d.maxBackoff
		}
		time.Sleep(backoff)
	}
}

func (d *Dispatcher) sendOnce(evt FlowOpEvent) error {
	if d.producer == nil || d.topic == "" {
		return nil
	}
	b, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: d.topic,
		// flow id as key keeps one flow's events on one partition, in order
		Key:   sarama.StringEncoder(evt.FlowID),
		Value: sarama.ByteEncoder(b),
	}
	_, _, err = d.producer.SendMessage(msg)
	return err
}
