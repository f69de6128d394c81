// relay is the one-shot command line client: it routes a single prompt
// through the same wiring the server uses and prints the reply to stdout.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/antoniostano/relay/internal/app"
	"github.com/antoniostano/relay/internal/config"
	"github.com/antoniostano/relay/internal/router"
)

func main() {
	sessionID := flag.String("session", "", "session id; empty routes statelessly without memory")
	noStream := flag.Bool("no-stream", false, "print the full reply at once instead of streaming")
	flag.Parse()

	prompt := strings.TrimSpace(strings.Join(flag.Args(), " "))
	if prompt == "" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			log.Fatalf("reading stdin: %v", err)
		}
		prompt = strings.TrimSpace(string(data))
	}
	if prompt == "" {
		fmt.Fprintln(os.Stderr, "usage: relay [-session ID] [-no-stream] PROMPT (or prompt on stdin)")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	built, err := app.Build(ctx, cfg)
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}
	defer func() {
		if err := built.Cleanup(); err != nil {
			log.Printf("cleanup: %v", err)
		}
	}()

	var onDelta func(string) error
	if !*noStream {
		onDelta = func(delta string) error {
			_, err := fmt.Print(delta)
			return err
		}
	}

	result, err := built.Routes.Route(ctx, *sessionID, prompt, router.Overrides{}, onDelta)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error (%s): %v\n", router.ErrorCode(err), err)
		os.Exit(1)
	}

	if *noStream {
		fmt.Println(result.Text)
	} else {
		fmt.Println()
	}
}
