package main

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"rostercal/internal/ics"
)

// fetchTimeout bounds how long a remote feed download may take.
const fetchTimeout = 30 * time.Second

func main() {
	if len(os.Args) < 2 {
		log.Fatal("Usage: validate_feed <path-or-url>")
	}

	target := os.Args[1]

	content, err := readFeed(target)
	if err != nil {
		log.Fatalf("Failed to read %s: %v", target, err)
	}

	ok, violations := ics.ValidateCalendar(content)
	if ok {
		log.Printf("✓ %s is a valid calendar (%d bytes)", target, len(content))
		return
	}

	log.Printf("✗ %s has %d violations:", target, len(violations))
	for _, violation := range violations {
		log.Printf("  - %s", violation)
	}
	os.Exit(1)
}

// readFeed loads the calendar bytes from an http(s) URL or a local file.
func readFeed(target string) ([]byte, error) {
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		client := &http.Client{Timeout: fetchTimeout}
		resp, err := client.Get(target)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("unexpected status %s", resp.Status)
		}
		return io.ReadAll(resp.Body)
	}
	return os.ReadFile(target)
}
