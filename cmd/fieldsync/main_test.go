package main

import (
	"bytes"
	"strings"
	"testing"
)

// execute runs the root command with args, capturing output. Only used
// for invocations expected to fail before any component is wired.
func execute(args ...string) error {
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

func TestRecordCmd_RequiresFlags(t *testing.T) {
	err := execute("record")
	if err == nil {
		t.Fatal("record should fail without its required flags")
	}
	msg := err.Error()
	for _, flag := range []string{"kind", "subject", "contact"} {
		if !strings.Contains(msg, flag) {
			t.Errorf("error %q should name the missing %q flag", msg, flag)
		}
	}
}

func TestDeleteCmd_RequiresClientID(t *testing.T) {
	if err := execute("delete"); err == nil {
		t.Error("delete should fail without a client id")
	}
}

func TestDeleteCmd_RejectsExtraArgs(t *testing.T) {
	if err := execute("delete", "id-1", "id-2"); err == nil {
		t.Error("delete should fail with more than one argument")
	}
}

func TestSearchCmd_RequiresName(t *testing.T) {
	if err := execute("search"); err == nil {
		t.Error("search should fail without a business name")
	}
}

func TestAuthCmd_RejectsExtraArgs(t *testing.T) {
	if err := execute("auth", "token-1", "token-2"); err == nil {
		t.Error("auth should fail with more than one argument")
	}
}

func TestUnknownCommand(t *testing.T) {
	if err := execute("frobnicate"); err == nil {
		t.Error("an unknown subcommand should fail")
	}
}
