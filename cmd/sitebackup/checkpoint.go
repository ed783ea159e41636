package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Sternrassler/sitebackup/pkg/checkpoint"
)

// Run executes the checkpoint list command.
func (c *CheckpointListCmd) Run(deps *Dependencies) error {
	tasks, err := deps.Store.List(deps.Ctx)
	if err != nil {
		fmt.Fprintf(deps.Stderr, "error: %s\n", err)
		return err
	}

	if len(tasks) == 0 {
		fmt.Fprintln(deps.Stdout, "No checkpoints found.")
		return nil
	}

	for _, task := range tasks {
		fmt.Fprintln(deps.Stdout, task)
	}
	return nil
}

// Run executes the checkpoint show command.
func (c *CheckpointShowCmd) Run(deps *Dependencies) error {
	data, err := deps.Store.Load(deps.Ctx, c.Task)
	if errors.Is(err, checkpoint.ErrNotFound) {
		fmt.Fprintf(deps.Stderr, "No checkpoint for %s.\n", c.Task)
		return err
	}
	if err != nil {
		return err
	}

	var out bytes.Buffer
	if err := json.Indent(&out, data, "", "  "); err != nil {
		// Not JSON; print as stored.
		out.Reset()
		out.Write(data)
	}
	fmt.Fprintln(deps.Stdout, out.String())
	return nil
}

// Run executes the checkpoint clear command.
func (c *CheckpointClearCmd) Run(deps *Dependencies) error {
	if err := deps.Store.Delete(deps.Ctx, c.Task); err != nil {
		return err
	}
	fmt.Fprintf(deps.Stdout, "Cleared checkpoint %s\n", c.Task)
	return nil
}
