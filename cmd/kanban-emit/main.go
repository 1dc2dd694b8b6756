// Command kanban-emit publishes one board event to the broker, the way the
// record mutation layer does after a committed change.
//
//	kanban-emit -action task_moved -id 42 -title "Ship release" -from todo -to done
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/aescanero/kanban-live/internal/application/emitter"
	"github.com/aescanero/kanban-live/internal/config"
	"github.com/aescanero/kanban-live/internal/logger"
	"github.com/aescanero/kanban-live/pkg/adapters/events/amqp"
	"github.com/aescanero/kanban-live/pkg/adapters/events/zapwatermill"
	"github.com/aescanero/kanban-live/pkg/adapters/metrics/prometheus"
	"github.com/aescanero/kanban-live/pkg/domain"

	"go.uber.org/zap"
)

// event is one parsed command line.
type event struct {
	action domain.Action
	taskID int64
	title  string
	from   string
	to     string
}

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

// run returns the process exit code. Everything it opens is closed before
// it returns.
func run(args []string, stderr io.Writer) int {
	ev, err := parseFlags(args, stderr)
	if err != nil {
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log := logger.New("kanban-emit", cfg.LogLevel)
	defer log.Sync()

	wmLogger := zapwatermill.New(log)
	settings := amqp.Settings{
		URI:      cfg.GetAMQPURI(),
		Exchange: cfg.Broker.Exchange,
		Queue:    cfg.Broker.Queue,
	}

	conn, err := amqp.Connect(settings, wmLogger)
	if err != nil {
		log.Error("failed to connect to RabbitMQ", zap.Error(err))
		return 1
	}
	defer conn.Close()

	// Declare the queue as well so events published before the relay's first
	// start are retained.
	subscriber, err := amqp.NewSubscriber(settings, conn, wmLogger)
	if err != nil {
		log.Error("failed to create subscriber", zap.Error(err))
		return 1
	}
	defer subscriber.Close()
	if err := amqp.DeclareTopology(subscriber, cfg.Broker.Exchange); err != nil {
		log.Error("failed to declare topology", zap.Error(err))
		return 1
	}

	publisher, err := amqp.NewPublisher(settings, conn, wmLogger)
	if err != nil {
		log.Error("failed to create publisher", zap.Error(err))
		return 1
	}

	e := emitter.New(publisher, cfg.Broker.Exchange, prometheus.NewCollector(nil), log)
	defer e.Close()

	if !publish(context.Background(), e, ev) {
		return 1
	}
	log.Info("event published",
		zap.String("action", string(ev.action)),
		zap.Int64("task_id", ev.taskID))
	return 0
}

func parseFlags(args []string, stderr io.Writer) (event, error) {
	fs := flag.NewFlagSet("kanban-emit", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		action = fs.String("action", "", "task_created, task_moved, task_deleted or task_updated")
		taskID = fs.Int64("id", 0, "task identifier")
		title  = fs.String("title", "", "task title")
		from   = fs.String("from", "", "previous status key (task_moved)")
		to     = fs.String("to", "", "new status key (task_created, task_moved)")
	)
	if err := fs.Parse(args); err != nil {
		return event{}, err
	}

	ev := event{
		action: domain.Action(*action),
		taskID: *taskID,
		title:  *title,
		from:   *from,
		to:     *to,
	}
	if !ev.action.Valid() || ev.taskID == 0 {
		fs.Usage()
		return event{}, fmt.Errorf("action and id are required")
	}
	return ev, nil
}

func publish(ctx context.Context, e *emitter.Emitter, ev event) bool {
	switch ev.action {
	case domain.ActionTaskCreated:
		return e.TaskCreated(ctx, ev.taskID, ev.title, ev.to)
	case domain.ActionTaskMoved:
		return e.TaskMoved(ctx, ev.taskID, ev.title, ev.from, ev.to)
	case domain.ActionTaskDeleted:
		return e.TaskDeleted(ctx, ev.taskID, ev.title)
	case domain.ActionTaskUpdated:
		return e.TaskUpdated(ctx, ev.taskID, ev.title)
	}
	return false
}
