// Package main runs trackerctl, the control-socket client for trackerd.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"trackerd/internal/control"
)

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

func run(args []string, out, errOut *os.File) int {
	if len(args) < 2 {
		printUsage(errOut)
		return 1
	}

	verb := args[1]
	verbArgs := args[2:]

	socketPath := defaultSocketPath()

	ctx := context.Background()

	client, err := control.Dial(ctx, socketPath)
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}
	defer client.Close()

	reqArgs, err := argsFor(verb, verbArgs)
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}

	resp, err := client.Call(verb, reqArgs)
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}

	if !resp.OK {
		fmt.Fprintln(errOut, "error:", resp.Error)
		return 1
	}

	if resp.Data != nil {
		encoded, _ := json.MarshalIndent(resp.Data, "", "  ")
		fmt.Fprintln(out, string(encoded))
	}

	return 0
}

// argsFor builds each verb's JSON argument object from bare positional
// CLI args (spec.md §6's nine control verbs).
func argsFor(verb string, rest []string) (any, error) {
	switch verb {
	case "start", "stop":
		return nil, nil
	case "status":
		return nil, nil
	case "pause", "continue":
		reason := "user-request"
		if len(rest) > 0 {
			reason = rest[0]
		}

		return map[string]string{"reason": reason}, nil
	case "check_files":
		return map[string][]string{"paths": rest}, nil
	case "index_file":
		if len(rest) != 1 {
			return nil, fmt.Errorf("index_file requires exactly one uri")
		}

		return map[string]string{"uri": rest[0]}, nil
	case "move_file":
		if len(rest) != 2 {
			return nil, fmt.Errorf("move_file requires <from> <to>")
		}

		return map[string]string{"from": rest[0], "to": rest[1]}, nil
	case "reindex_by_mime_type":
		return map[string][]string{"mimes": rest}, nil
	default:
		return nil, fmt.Errorf("unknown verb %q; run trackerctl without arguments for the verb list", verb)
	}
}

func printUsage(errOut *os.File) {
	fmt.Fprintln(errOut, "usage: trackerctl <verb> [args...]")
	fmt.Fprintln(errOut, "verbs:", strings.Join([]string{
		"start", "pause <reason>", "continue <reason>", "stop", "status",
		"check_files <paths...>", "move_file <from> <to>",
		"reindex_by_mime_type <mimes...>", "index_file <uri>",
	}, ", "))
}

func defaultSocketPath() string {
	if xdg := os.Getenv("XDG_RUNTIME_DIR"); xdg != "" {
		return filepath.Join(xdg, "trackerd.sock")
	}

	return filepath.Join(os.TempDir(), "trackerd.sock")
}
