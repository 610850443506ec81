// Copyright (c) The Task Executor Authors
// SPDX-License-Identifier: MPL-2.0

// Command task-executor is a small harness around the taskexec engine: it
// registers the demo task types, submits one run, waits for it to reach a
// terminal state, and prints the resulting record. It exists to exercise
// the executor end to end from outside its own test suite, the way nomad's
// CLI exercises the scheduler from outside the server package.
package main

import (
	"fmt"
	"os"

	"github.com/hashicorp/cli"
)

var version = "dev"

func main() {
	os.Exit(realMain(os.Args[1:]))
}

func realMain(args []string) int {
	c := cli.NewCLI("task-executor", version)
	c.Args = args
	c.Commands = commands()

	exitStatus, err := c.Run()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return exitStatus
}

func commands() map[string]cli.CommandFactory {
	return map[string]cli.CommandFactory{
		"run": func() (cli.Command, error) {
			return &RunCommand{}, nil
		},
	}
}
