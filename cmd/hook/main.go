// Command hook is a short-lived client invoked from shell/editor/git hooks
// to report a memory event or a lint/test failure to a running daemon
// instance. It never blocks or fails the caller: a daemon that is down, or
// a malformed report, is logged to stderr and the process still exits 0.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"
)

const hookTimeout = 2 * time.Second

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: hook <memory|failure> [flags]")
		return
	}

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "memory":
		runMemory(args)
	case "failure":
		runFailure(args)
	default:
		fmt.Fprintf(os.Stderr, "hook: unknown subcommand %q\n", cmd)
	}
}

func runMemory(args []string) {
	fs := flag.NewFlagSet("memory", flag.ContinueOnError)
	addr := fs.String("addr", "127.0.0.1:7420", "daemon HTTP address")
	eventType := fs.String("type", "event", "memory event type: decision|discovery|lesson|rejected_pattern|pattern_candidate|event")
	text := fs.String("text", "", "event text")
	tags := fs.String("tags", "", "comma-separated tags")
	importance := fs.Float64("importance", 0.5, "importance in [0,1]")
	sessionID := fs.String("session", "", "session id this event belongs to")
	if err := fs.Parse(args); err != nil {
		return
	}
	if *text == "" {
		fmt.Fprintln(os.Stderr, "hook memory: -text is required")
		return
	}

	body := map[string]any{
		"type":       *eventType,
		"text":       *text,
		"importance": *importance,
		"sessionid":  *sessionID,
	}
	if *tags != "" {
		body["tags"] = splitCSV(*tags)
	}
	post(*addr+"/memory/events", body)
}

func runFailure(args []string) {
	fs := flag.NewFlagSet("failure", flag.ContinueOnError)
	addr := fs.String("addr", "127.0.0.1:7420", "daemon HTTP address")
	category := fs.String("category", "lint", "failure category: lint|test|tdd")
	filePath := fs.String("file", "", "file path the failure occurred in")
	detail := fs.String("detail", "", "failure detail (truncated server-side)")
	if err := fs.Parse(args); err != nil {
		return
	}

	post(*addr+"/learning/analytics/failure", map[string]any{
		"category":  *category,
		"file_path": *filePath,
		"detail":    *detail,
	})
}

func post(url string, body map[string]any) {
	data, err := json.Marshal(body)
	if err != nil {
		fmt.Fprintln(os.Stderr, "hook: encoding request:", err)
		return
	}

	client := &http.Client{Timeout: hookTimeout}
	resp, err := client.Post("http://"+url, "application/json", bytes.NewReader(data))
	if err != nil {
		fmt.Fprintln(os.Stderr, "hook: daemon unreachable, dropping report:", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		fmt.Fprintf(os.Stderr, "hook: daemon rejected report: %s\n", resp.Status)
	}
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
