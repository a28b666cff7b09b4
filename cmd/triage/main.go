// Package main provides the CLI entry point for the triage classifier.
//
// It reads a free-text emergency report (from -text or stdin), runs it
// through the full ensemble pipeline, and prints the resulting verdict as
// JSON.
//
// Environment variables:
//   - MEDTRIAGE_*: see internal/config for the full list of overrides.
//   - ANTHROPIC_API_KEY: read by internal/llm; a missing key means the LLM
//     source simply abstains rather than failing the classification.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"medtriage/internal/config"
	"medtriage/internal/triage"
)

func main() {
	text := flag.String("text", "", "free-text emergency report to classify (reads stdin if empty)")
	configPath := flag.String("config", "", "path to a JSON config file (defaults to env-only configuration)")
	statsOnly := flag.Bool("stats", false, "print system stats instead of classifying")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	t, err := triage.New(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize triage pipeline: %v", err)
	}
	defer func() {
		if err := t.Close(); err != nil {
			log.Printf("Warning: failed to close triage pipeline: %v", err)
		}
	}()

	ctx := context.Background()

	if *statsOnly {
		stats, err := t.SystemStats(ctx)
		if err != nil {
			log.Fatalf("Failed to read system stats: %v", err)
		}
		printJSON(stats)
		return
	}

	input := *text
	if input == "" {
		input, err = readStdin()
		if err != nil {
			log.Fatalf("Failed to read report text: %v", err)
		}
	}

	result, err := t.Classify(ctx, triage.Request{Text: input})
	if err != nil {
		log.Fatalf("Classify failed: %v", err)
	}

	printJSON(result)
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Load()
	}
	return config.LoadFromFile(path)
}

func readStdin() (string, error) {
	scanner := bufio.NewScanner(os.Stdin)
	var sb strings.Builder
	for scanner.Scan() {
		sb.WriteString(scanner.Text())
		sb.WriteString(" ")
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimSpace(sb.String()), nil
}

func printJSON(v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Fatalf("Failed to marshal output: %v", err)
	}
	fmt.Println(string(data))
}
