// Command examples sends one message to a running gateway and prints the
// event stream. Set STAYRELAY_URL to point at the gateway.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"StayRelay/sdk/go/stayrelay"
)

func main() {
	baseURL := os.Getenv("STAYRELAY_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	text := "hotels in Lisbon with a pool"
	if len(os.Args) > 1 {
		text = strings.Join(os.Args[1:], " ")
	}

	client, err := stayrelay.NewClient(baseURL, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	final, err := client.SendMessage(ctx, text, "", func(event stayrelay.Event) error {
		fmt.Printf("[%s] %s\n", event.State, event.Text)
		return nil
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if category := final.Reply("category"); category.Exists() {
		fmt.Printf("category=%s\n", category.String())
	}
	record, err := client.GetTask(ctx, final.TaskID)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("task %s finished as %s (dispatched=%t)\n", record.ID, record.State, record.Dispatched)
}
