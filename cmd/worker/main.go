package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/suPer8Hu/medchat/internal/audit"
	"github.com/suPer8Hu/medchat/internal/config"
	"github.com/suPer8Hu/medchat/internal/db"
	"github.com/suPer8Hu/medchat/internal/logging"
	"github.com/suPer8Hu/medchat/internal/store/rabbitmq"
)

const (
	retryHeader = "x-retry-count"
	maxRetries  = 3
	retryDelay  = 5 * time.Second
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var logLevel string
	var concurrency int
	cmd := &cobra.Command{
		Use:           "medchat-worker",
		Short:         "Consume turn events and write the audit trail",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			if concurrency > 0 {
				cfg.WorkerConcurrency = min(concurrency, 50)
			}
			logging.Setup(cfg.LogLevel, cfg.LogFormat)
			if err := run(cfg); err != nil {
				log.WithError(err).Error("worker stopped")
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "", "log level (overrides LOG_LEVEL)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "worker goroutines (overrides WORKER_CONCURRENCY)")
	return cmd
}

func run(cfg config.Config) error {
	gdb, err := db.Connect(cfg.DBDSN, &audit.TurnRecord{})
	if err != nil {
		return err
	}
	repo := audit.NewRepo(gdb)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		return errors.Wrap(err, "rabbit dial")
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return errors.Wrap(err, "rabbit channel")
	}
	defer ch.Close()

	if err := rabbitmq.DeclareTopology(ch, cfg.RabbitQueue); err != nil {
		return err
	}

	// strict concurrency control
	concurrency := cfg.WorkerConcurrency
	if err := ch.Qos(concurrency, 0, false); err != nil {
		return errors.Wrap(err, "qos")
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		return errors.Wrap(err, "consume")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{"queue": cfg.RabbitQueue, "concurrency": concurrency}).Info("worker started")

	w := &worker{repo: repo, retry: ch, queue: cfg.RabbitQueue}

	// worker pool
	jobs := make(chan amqp.Delivery, concurrency*2)
	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				w.process(ctx, log.WithField("worker", workerID), d)
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			log.Info("worker shutting down")
			close(jobs)
			wg.Wait()
			return nil

		case d, ok := <-msgs:
			if !ok {
				close(jobs)
				wg.Wait()
				return errors.New("delivery channel closed")
			}
			jobs <- d
		}
	}
}

type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

type worker struct {
	repo  *audit.Repo
	retry publisher
	queue string
}

// process stores one event. Undecodable messages go straight to the DLQ;
// storage failures are retried through the .retry queue up to maxRetries.
func (w *worker) process(ctx context.Context, l *log.Entry, d amqp.Delivery) {
	eventID, ev, err := rabbitmq.DecodeTurn(d)
	if err != nil {
		l.WithError(err).Warn("bad message")
		_ = d.Nack(false, false)
		return
	}
	l = l.WithFields(log.Fields{"event_id": eventID, "session_id": ev.SessionID})

	start := time.Now()
	if err := w.repo.Insert(ctx, audit.FromEvent(eventID, ev)); err != nil {
		attempt := retryCount(d) + 1
		l = l.WithError(err).WithFields(log.Fields{"attempt": attempt, "cost": time.Since(start).String()})
		if attempt > maxRetries {
			l.Error("audit insert failed, dead-lettering")
			_ = d.Nack(false, false)
			return
		}
		if perr := w.requeue(ctx, d, attempt); perr != nil {
			l.WithField("publish_error", perr.Error()).Error("retry publish failed")
			_ = d.Nack(false, false)
			return
		}
		l.Warn("audit insert failed, retrying")
		_ = d.Ack(false)
		return
	}

	if err := d.Ack(false); err != nil {
		l.WithError(err).Warn("ack failed")
	}
}

func (w *worker) requeue(ctx context.Context, d amqp.Delivery, attempt int) error {
	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers[retryHeader] = int32(attempt)

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return w.retry.PublishWithContext(cctx, "", w.queue+".retry", false, false, amqp.Publishing{
		Headers:      headers,
		ContentType:  d.ContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    d.MessageId,
		Type:         d.Type,
		Timestamp:    d.Timestamp,
		Expiration:   strconv.FormatInt(retryDelay.Milliseconds(), 10),
		Body:         d.Body,
	})
}

func retryCount(d amqp.Delivery) int {
	switch v := d.Headers[retryHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}
