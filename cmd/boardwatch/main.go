// boardwatch joins a project's broadcast room and prints the task list
// every time it changes, healing missed pushes only through the initial
// bulk fetch. Ctrl-C to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/baidenprynce9-wq/codealpha-tasks/board"
	"github.com/baidenprynce9-wq/codealpha-tasks/domain"
)

func main() {
	server := flag.String("server", "http://localhost:8080", "server base URL")
	token := flag.String("token", os.Getenv("BOARD_TOKEN"), "bearer token (defaults to BOARD_TOKEN)")
	project := flag.Int64("project", 0, "project id to watch")
	interval := flag.Duration("interval", 500*time.Millisecond, "poll interval for reprinting")
	flag.Parse()

	logger := log.New()
	logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	if *project == 0 {
		logger.Fatal("-project is required")
	}
	if *token == "" {
		logger.Fatal("-token or BOARD_TOKEN is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := board.NewClient(*server, *token, *project, logger)

	p, err := client.FetchProject(ctx)
	if err != nil {
		logger.Fatalf("fetch project: %v", err)
	}
	fmt.Printf("watching %q (%s)\n", p.Name, domain.RoomKey(p.ID))

	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	var last string
	for {
		select {
		case err := <-done:
			if err != nil && ctx.Err() == nil {
				logger.Fatalf("watch ended: %v", err)
			}
			return
		case <-ticker.C:
			out := render(client.Tasks())
			if out == last {
				continue
			}
			last = out
			fmt.Print(out)
		}
	}
}

func render(tasks []domain.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "---- %d tasks ----\n", len(tasks))
	for _, t := range tasks {
		assignee := "unassigned"
		if t.AssigneeName != "" {
			assignee = t.AssigneeName
		}
		fmt.Fprintf(&b, "#%d [%s/%s] %s (%s)\n", t.ID, t.Status, t.Priority, t.Title, assignee)
	}
	return b.String()
}
