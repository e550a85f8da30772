package main

import (
	"strings"
	"testing"
)

func TestRootCommands(t *testing.T) {
	root := newRootCmd()
	want := map[string]bool{
		"serve":     false,
		"bootstrap": false,
		"doctor":    false,
		"token":     false,
		"users":     false,
		"version":   false,
	}
	for _, cmd := range root.Commands() {
		if _, ok := want[cmd.Name()]; ok {
			want[cmd.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Fatalf("expected root command to include %s", name)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := runCmd(t, newVersionCmd(), "")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out, "pkt.systems/gitpilot ") || !strings.Contains(out, "\ngo ") {
		t.Fatalf("unexpected version output: %q", out)
	}
	short, err := runCmd(t, newVersionCmd(), "", "--short")
	if err != nil {
		t.Fatalf("version --short: %v", err)
	}
	if strings.Count(short, "\n") != 1 || !strings.HasPrefix(short, "v") {
		t.Fatalf("unexpected short version: %q", short)
	}
}
