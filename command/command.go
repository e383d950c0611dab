// Package command implements the text command surface of the carriage
// controller: MOVE <arg>, HOME and STATUS lines, one per line, answered with
// OK/WARN/ERROR reply lines.
package command

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownCommand is returned for verbs and MOVE arguments that are
	// not recognized.
	ErrUnknownCommand = errors.New("command not found")
	// ErrEmpty is returned for lines with no tokens.
	ErrEmpty = errors.New("empty command")
)

const (
	VerbMove   = "MOVE"
	VerbHome   = "HOME"
	VerbStatus = "STATUS"
)

// MOVE arguments
const (
	ArgStop        = "STOP"
	ArgRight       = "RIGHT"
	ArgLeft        = "LEFT"
	ArgRightNudge  = "GR1"
	ArgLeftNudge   = "GL1"
	ArgCNC         = "GOCNC"
	ArgChopSaw     = "GOCHOPSAW"
	ArgWorkbench   = "GOWORKBENCH"
	ArgStagePrefix = "H"
)

var moveArgs = map[string]bool{
	ArgStop: true, ArgRight: true, ArgLeft: true,
	ArgRightNudge: true, ArgLeftNudge: true,
	ArgCNC: true, ArgChopSaw: true, ArgWorkbench: true,
	"H1": true, "H2": true, "H3": true, "H4": true,
}

type Command struct {
	Verb string
	Arg  string
}

func (c Command) String() string {
	if c.Arg == "" {
		return c.Verb
	}
	return c.Verb + " " + c.Arg
}

// IsStop reports whether c halts the motor. Stops are never queued behind
// another command.
func (c Command) IsStop() bool {
	return c.Verb == VerbMove && c.Arg == ArgStop
}

const delimiters = " ,\t\r\n"

// Parse tokenizes one command line. Tokens are separated by spaces, commas,
// tabs or line endings and are case-insensitive; extra tokens are ignored.
func Parse(line string) (Command, error) {
	fields := strings.FieldsFunc(line, func(r rune) bool {
		return strings.ContainsRune(delimiters, r)
	})
	if len(fields) == 0 {
		return Command{}, ErrEmpty
	}
	cmd := Command{Verb: strings.ToUpper(fields[0])}
	switch cmd.Verb {
	case VerbMove:
		if len(fields) < 2 {
			return cmd, fmt.Errorf("MOVE needs an argument: %w", ErrUnknownCommand)
		}
		cmd.Arg = strings.ToUpper(fields[1])
		if !moveArgs[cmd.Arg] {
			return cmd, fmt.Errorf("MOVE %s: %w", cmd.Arg, ErrUnknownCommand)
		}
	case VerbHome, VerbStatus:
	default:
		return cmd, fmt.Errorf("%s: %w", fields[0], ErrUnknownCommand)
	}
	return cmd, nil
}
