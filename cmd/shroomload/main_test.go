package main

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/shroomp/shroomload/internal/cli"
)

func TestMain_Version(t *testing.T) {
	oldArgs := os.Args
	defer func() { os.Args = oldArgs }()

	os.Args = []string{"shroomload", "version"}
	assert.Equal(t, cli.ExitOK, Main())
}

func TestMain_UnknownCommand(t *testing.T) {
	oldArgs := os.Args
	defer func() { os.Args = oldArgs }()

	os.Args = []string{"shroomload", "explode"}
	assert.Equal(t, cli.ExitError, Main())
}
