package commands

import (
	"testing"

	"github.com/tidwall/redcon"
)

func setCommand(args ...string) redcon.Command {
	cmd := redcon.Command{}
	for _, arg := range args {
		cmd.Args = append(cmd.Args, []byte(arg))
	}
	return cmd
}

func TestParseSetArgsBasic(t *testing.T) {
	args, err := ParseSetArgs(setCommand("SET", "key", "value"))
	if err != nil {
		t.Fatalf("ParseSetArgs failed: %v", err)
	}
	if args.Key != "key" || args.Value != "value" {
		t.Errorf("Unexpected args: %+v", args)
	}
	if args.Timestamp != nil {
		t.Error("Expected no timestamp without TS option")
	}
}

func TestParseSetArgsWithTimestamp(t *testing.T) {
	args, err := ParseSetArgs(setCommand("SET", "key", "value", "TS", "1234"))
	if err != nil {
		t.Fatalf("ParseSetArgs failed: %v", err)
	}
	if args.Timestamp == nil || *args.Timestamp != 1234 {
		t.Errorf("Expected timestamp 1234, got %v", args.Timestamp)
	}
}

func TestParseSetArgsErrors(t *testing.T) {
	cases := [][]string{
		{"SET", "key"},                        // missing value
		{"SET", "key", "value", "TS"},         // dangling TS
		{"SET", "key", "value", "TS", "abc"},  // non-integer timestamp
		{"SET", "key", "value", "EX", "10"},   // unsupported option
	}

	for _, c := range cases {
		if _, err := ParseSetArgs(setCommand(c...)); err == nil {
			t.Errorf("Expected error for %v", c)
		}
	}
}
