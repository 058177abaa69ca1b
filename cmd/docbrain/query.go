package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/docbrain-ai/docbrain/pkg/model"
	"github.com/docbrain-ai/docbrain/pkg/query"
)

// QueryCmd asks a knowledge base a question using the configured
// providers directly, without a running server. With a question
// argument it answers once and exits; without one it starts an
// interactive session when stdin is a terminal, otherwise it reads the
// question from stdin.
type QueryCmd struct {
	Question string `arg:"" optional:"" help:"Question to ask. Omit for an interactive session."`
	KB       string `name:"kb" required:"" help:"Knowledge base id to query."`
	TopK     int    `name:"top-k" help:"Override how many chunks retrieval considers."`
	Service  string `help:"Force a service (rag or tag) instead of routing."`
	Sources  bool   `help:"Print the sources behind each answer."`
}

func (c *QueryCmd) Run(cli *CLI) error {
	// No signal trap here: an interactive session blocked on a stdin
	// read cannot observe a canceled context, so Ctrl+C keeps its
	// default exit behavior.
	ctx := context.Background()

	service := model.Service(c.Service)
	switch service {
	case "", model.ServiceRAG, model.ServiceTAG:
	default:
		return fmt.Errorf("invalid service %q (expected %s or %s)", c.Service, model.ServiceRAG, model.ServiceTAG)
	}

	cfg, loader, err := loadConfig(ctx, cli)
	if err != nil {
		return err
	}
	if loader != nil {
		defer loader.Close()
	}

	rt, err := buildRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	if _, err := rt.store.GetKnowledgeBase(ctx, c.KB); err != nil {
		return fmt.Errorf("knowledge base %q: %w", c.KB, err)
	}

	opts := query.Options{TopK: c.TopK, Service: service}

	question := strings.TrimSpace(c.Question)
	if question != "" {
		return c.askOnce(ctx, rt, question, opts)
	}

	if term.IsTerminal(int(os.Stdin.Fd())) {
		return c.interactive(ctx, rt, opts)
	}

	// Piped input: the whole of stdin is the question.
	piped, err := io.ReadAll(os.Stdin)
	if err != nil {
		return fmt.Errorf("failed to read question from stdin: %w", err)
	}
	question = strings.TrimSpace(string(piped))
	if question == "" {
		return fmt.Errorf("no question given (pass one as an argument or on stdin)")
	}
	return c.askOnce(ctx, rt, question, opts)
}

func (c *QueryCmd) askOnce(ctx context.Context, rt *runtime, question string, opts query.Options) error {
	result := rt.router.Answer(ctx, question, c.KB, opts)
	c.printResult(result)
	return nil
}

// interactive runs a read-answer loop until /quit, /exit or EOF.
func (c *QueryCmd) interactive(ctx context.Context, rt *runtime, opts query.Options) error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Printf("\nQuerying knowledge base %s. Type /quit to leave.\n\n", c.KB)

	for {
		fmt.Print("You: ")

		input, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				fmt.Println()
				return nil
			}
			return fmt.Errorf("failed to read input: %w", err)
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		switch input {
		case "/quit", "/exit":
			return nil
		}

		result := rt.router.Answer(ctx, input, c.KB, opts)
		fmt.Println()
		c.printResult(result)
		fmt.Println()
	}
}

func (c *QueryCmd) printResult(result *model.QueryResult) {
	fmt.Println(result.Answer)

	if !c.Sources || len(result.Sources) == 0 {
		return
	}
	fmt.Printf("\nSources (%s):\n", result.Service)
	for i, src := range result.Sources {
		switch src.Service {
		case model.ServiceQuestions:
			fmt.Printf("  %d. curated: %s (score %.2f)\n", i+1, src.Question, src.Score)
		default:
			line := src.Title
			if src.Section != "" {
				line += " > " + src.Section
			}
			fmt.Printf("  %d. %s (score %.2f)\n", i+1, line, src.Score)
		}
	}
}
