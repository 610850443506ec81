// Copyright (c) The Task Executor Authors
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"strings"
	"time"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/posener/complete"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/taskexec/taskexec"
	"github.com/taskexec/taskexec/pool"
	"github.com/taskexec/taskexec/runner"
	"github.com/taskexec/taskexec/store"
	"github.com/taskexec/taskexec/tasks/echo"
	"github.com/taskexec/taskexec/telemetry"
)

// RunCommand submits a single echo task and blocks until it completes.
type RunCommand struct{}

func (c *RunCommand) Synopsis() string { return "Submit a demo task and wait for it to complete" }

func (c *RunCommand) Help() string {
	return strings.TrimSpace(`
Usage: task-executor run [options]

  Submits a single "echo" task, waits for it to reach a terminal state, and
  prints the resulting record as JSON.

Options:

  -message=<string>   Message the task's subtasks record (default "hello")
  -count=<int>        Number of subtasks in the task's single group (default 1)
  -delay=<duration>   How long each subtask sleeps before completing (default 100ms)
  -timeout=<duration> How long to wait for the task to complete (default 30s)
  -bolt=<path>        Persist records to a bbolt file instead of memory
`)
}

func (c *RunCommand) AutocompleteFlags() complete.Flags {
	return complete.Flags{
		"-message": complete.PredictAnything,
		"-count":   complete.PredictAnything,
		"-delay":   complete.PredictAnything,
		"-timeout": complete.PredictAnything,
		"-bolt":    complete.PredictFiles("*"),
	}
}

func (c *RunCommand) AutocompleteArgs() complete.Predictor { return complete.PredictNothing }

func (c *RunCommand) Run(args []string) int {
	var message, boltPath string
	var count int
	var delay, timeout time.Duration

	flags := flag.NewFlagSet("run", flag.ContinueOnError)
	flags.StringVar(&message, "message", "hello", "message to echo")
	flags.IntVar(&count, "count", 1, "number of subtasks")
	flags.DurationVar(&delay, "delay", 100*time.Millisecond, "per-subtask delay")
	flags.DurationVar(&timeout, "timeout", 30*time.Second, "overall wait timeout")
	flags.StringVar(&boltPath, "bolt", "", "bbolt file path; empty uses in-memory storage")
	if err := flags.Parse(args); err != nil {
		return 1
	}

	taskStore, closeStore, err := openStore(boltPath)
	if err != nil {
		fmt.Println(err)
		return 1
	}
	defer closeStore()

	registry := taskexec.NewRegistry()
	registry.Register(echo.TaskType, echo.New, taskexec.Descriptor{Abortable: true})

	wp := pool.NewBoundedPool("default", 8)
	provider := pool.NewStaticProvider(wp)

	sink := telemetry.NewPrometheusSink(prometheus.NewRegistry())
	logger := hclog.New(&hclog.LoggerOptions{Name: "task-executor", Level: hclog.Info})

	exec := taskexec.New(taskexec.Config{
		Registry: registry,
		Store:    taskStore,
		Provider: provider,
		Sink:     sink,
		Logger:   logger,
		Owner:    "task-executor-cli",
	})

	rt, err := exec.CreateRunnable(echo.TaskType, map[string]any{
		"message":  message,
		"count":    float64(count),
		"delay_ms": float64(delay.Milliseconds()),
	}, runner.Listener{})
	if err != nil {
		fmt.Println("create runnable:", err)
		return 1
	}

	if err := exec.Submit(rt, wp); err != nil {
		fmt.Println("submit:", err)
		return 1
	}

	waitErr := exec.WaitFor(rt.ID(), timeout)

	snap := rt.Record().Snapshot()
	out, _ := json.MarshalIndent(snap, "", "  ")
	fmt.Println(string(out))

	if waitErr != nil {
		fmt.Println("task ended with error:", waitErr)
		return 1
	}
	return 0
}

func openStore(boltPath string) (store.TaskStore, func(), error) {
	if boltPath == "" {
		s := store.NewMemStore()
		return s, func() {}, nil
	}
	s, err := store.NewBoltStore(boltPath)
	if err != nil {
		return nil, nil, err
	}
	return s, func() { _ = s.Close() }, nil
}
