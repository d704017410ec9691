package commands

import (
	"errors"
	"strconv"
	"strings"

	"github.com/tidwall/redcon"
)

// SetArgs holds the parsed parameters of the SET command.
// SET key value [TS milliseconds]
type SetArgs struct {
	Key       string
	Value     string
	Timestamp *int64
}

// ParseSetArgs parses a SET command. The TS option carries an explicit
// write timestamp in milliseconds; without it the server's clock
// decides.
func ParseSetArgs(cmd redcon.Command) (*SetArgs, error) {
	if len(cmd.Args) < 3 {
		return nil, errors.New("wrong number of arguments for 'set' command")
	}

	args := &SetArgs{
		Key:   string(cmd.Args[1]),
		Value: string(cmd.Args[2]),
	}

	for i := 3; i < len(cmd.Args); i++ {
		switch strings.ToLower(string(cmd.Args[i])) {
		case "ts":
			i++
			if i >= len(cmd.Args) {
				return nil, errors.New("syntax error")
			}
			ts, err := strconv.ParseInt(string(cmd.Args[i]), 10, 64)
			if err != nil {
				return nil, errors.New("timestamp is not an integer or out of range")
			}
			args.Timestamp = &ts
		default:
			return nil, errors.New("syntax error")
		}
	}

	return args, nil
}
