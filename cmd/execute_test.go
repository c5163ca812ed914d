package cmd

import (
	"os"
	"testing"
)

func TestExecuteUnknownCommand(t *testing.T) {
	origArgs := os.Args
	defer func() { os.Args = origArgs }()

	os.Args = []string{"lorekeep", "no-such-command"}
	if err := Execute(); err == nil {
		t.Error("Execute() with unknown command should error")
	}
}

func TestExecuteVersion(t *testing.T) {
	origArgs := os.Args
	defer func() { os.Args = origArgs }()

	os.Args = []string{"lorekeep", "version"}
	if err := Execute(); err != nil {
		t.Errorf("Execute(version) error: %v", err)
	}
}

func TestExecuteHelp(t *testing.T) {
	origArgs := os.Args
	defer func() { os.Args = origArgs }()

	os.Args = []string{"lorekeep", "help"}
	if err := Execute(); err != nil {
		t.Errorf("Execute(help) error: %v", err)
	}
}
