package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/kirillkom/docqa/internal/bootstrap"
	"github.com/kirillkom/docqa/internal/config"
	"github.com/kirillkom/docqa/internal/core/domain"
	"github.com/kirillkom/docqa/internal/observability/logging"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:      "ask",
		Usage:     "Answer one question against the configured document store",
		ArgsUsage: "QUESTION",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "env-file", Usage: "Load environment from this file", Value: ".env"},
			&cli.StringFlag{Name: "org", Usage: "Organization ID", EnvVars: []string{"DOCQA_ORG_ID"}, Required: true},
			&cli.StringFlag{Name: "folder", Usage: "Restrict to a folder"},
			&cli.StringFlag{Name: "doc", Usage: "Restrict to a single document"},
			&cli.BoolFlag{Name: "linked", Usage: "Include documents linked to --doc"},
			&cli.StringFlag{Name: "conversation", Usage: "Conversation ID for follow-up questions"},
			&cli.BoolFlag{Name: "strict", Usage: "Require well-supported citations"},
			&cli.StringFlag{Name: "vertical", Usage: "Domain vertical (financial, legal, resume, compliance)"},
			&cli.StringFlag{Name: "type", Usage: "Document type filter"},
			&cli.IntFlag{Name: "limit", Usage: "Maximum listed documents"},
			&cli.BoolFlag{Name: "remote", Usage: "Send the question to a worker over NATS"},
			&cli.BoolFlag{Name: "json", Usage: "Print the full response as JSON"},
			&cli.DurationFlag{Name: "timeout", Usage: "Overall timeout", Value: 2 * time.Minute},
			&cli.StringFlag{Name: "log-level", Usage: "Set logging level (debug, info, warn, error)", Value: "warn"},
		},
		Action: askCommand,
	}
}

func askCommand(c *cli.Context) error {
	question := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if question == "" {
		return cli.Exit("a question is required", 2)
	}
	_ = godotenv.Load(c.String("env-file"))
	cfg := config.Load()
	logger := logging.NewJSONLogger("docqa-ask", c.String("log-level"))

	ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
	defer cancel()

	req := buildRequest(c, question)

	var (
		resp *domain.QueryResponse
		err  error
	)
	if c.Bool("remote") {
		queue, qerr := bootstrap.NewQueryQueue(cfg, logger)
		if qerr != nil {
			return qerr
		}
		defer queue.Close()
		resp, err = queue.Ask(ctx, req)
	} else {
		app, berr := bootstrap.New(ctx, cfg, logger, nil)
		if berr != nil {
			return berr
		}
		defer app.Close()
		resp, err = app.QueryUC.Answer(ctx, req)
	}
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	if c.Bool("json") {
		enc := json.NewEncoder(c.App.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	printResponse(c, resp)
	return nil
}

func buildRequest(c *cli.Context, question string) domain.QueryRequest {
	scope := domain.ScopeOrg
	switch {
	case c.String("doc") != "":
		scope = domain.ScopeDoc
	case c.String("folder") != "":
		scope = domain.ScopeFolder
	}
	return domain.QueryRequest{
		Question: domain.Question{Text: question, ConversationID: c.String("conversation")},
		Scope: domain.ScopeContext{
			Scope:         scope,
			OrgID:         c.String("org"),
			FolderID:      c.String("folder"),
			DocID:         c.String("doc"),
			IncludeLinked: c.Bool("linked"),
		},
		Options: domain.QueryOptions{
			StrictCitations: c.Bool("strict"),
			Vertical:        c.String("vertical"),
			Limit:           c.Int("limit"),
			Filters:         domain.QueryFilters{Type: c.String("type")},
		},
	}
}

func printResponse(c *cli.Context, resp *domain.QueryResponse) {
	w := c.App.Writer
	fmt.Fprintln(w, resp.Answer)
	if len(resp.Citations) > 0 {
		fmt.Fprintln(w, "\nSources:")
		for i, cit := range resp.Citations {
			name := cit.DocName
			if name == "" {
				name = cit.DocID
			}
			fmt.Fprintf(w, "  [%d] %s\n", i+1, name)
		}
	}
	fmt.Fprintf(w, "\noutcome=%s coverage=%.2f confidence=%.2f conversation=%s\n",
		resp.Outcome, resp.Coverage, resp.Confidence, resp.ConversationID)
}
