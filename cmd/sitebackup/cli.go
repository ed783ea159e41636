package main

import (
	"context"
	"io"
	"os"

	"github.com/Sternrassler/sitebackup/pkg/checkpoint"
	"github.com/Sternrassler/sitebackup/pkg/config"
	"github.com/rs/zerolog"
)

// Dependencies holds all services and configuration for command execution.
type Dependencies struct {
	Ctx     context.Context
	Stdout  io.Writer
	Stderr  io.Writer
	Config  *config.Config
	Store   checkpoint.Store
	Logger  zerolog.Logger
	Exit    func(int)
	Signals <-chan os.Signal

	// Code is the exit code the command wants.
	Code int
}

// CLI defines the command-line interface structure for Kong.
type CLI struct {
	Config string `short:"c" default:"sitebackup.yaml" env:"SITEBACKUP_CONFIG" help:"Config file"`

	Run        RunCmd        `cmd:"" help:"Run backup tasks"`
	Checkpoint CheckpointCmd `cmd:"" help:"Inspect or clear checkpoints"`
}

// RunCmd is the "run" subcommand.
type RunCmd struct {
	Task  []string `short:"t" name:"task" help:"Task to run (repeatable, default all)"`
	Debug bool     `help:"Dump every request and response below the debug dir"`
	Fresh bool     `help:"Discard checkpoints of the selected tasks before starting"`
}

// CheckpointCmd groups the checkpoint subcommands.
type CheckpointCmd struct {
	List  CheckpointListCmd  `cmd:"" help:"List tasks with a checkpoint"`
	Show  CheckpointShowCmd  `cmd:"" help:"Print the checkpoint of a task"`
	Clear CheckpointClearCmd `cmd:"" help:"Delete the checkpoint of a task"`
}

// CheckpointListCmd is the "checkpoint list" subcommand.
type CheckpointListCmd struct{}

// CheckpointShowCmd is the "checkpoint show" subcommand.
type CheckpointShowCmd struct {
	Task string `arg:"" help:"Task name"`
}

// CheckpointClearCmd is the "checkpoint clear" subcommand.
type CheckpointClearCmd struct {
	Task string `arg:"" help:"Task name"`
}
