package main

import (
	"io"
	"strings"
	"testing"
)

func TestRootCmd_RequiresAudioFile(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"--job-title", "Software Engineer"})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)

	err := cmd.Execute()
	if err == nil {
		t.Fatal("expected an error without --audio")
	}
	if !strings.Contains(err.Error(), `"audio"`) {
		t.Errorf("expected the missing flag to be named, got %v", err)
	}
}
