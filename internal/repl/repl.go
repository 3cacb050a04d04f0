// Package repl provides the interactive prompt and the JSON-RPC server
// mode over the same verb set: list, show, graph, status, validate.
package repl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bqdrift/bqdrift/internal/drift"
	"github.com/bqdrift/bqdrift/internal/loader"
	"github.com/bqdrift/bqdrift/internal/state"
	"github.com/bqdrift/bqdrift/pkg/core"
	"github.com/chzyer/readline"
)

// Session answers REPL verbs against a loaded repository and state
// store. One Session serves one client.
type Session struct {
	repo   *loader.Repository
	store  state.Store
	logger *slog.Logger
}

// NewSession creates a session over a loaded repository.
func NewSession(repo *loader.Repository, store state.Store, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Session{repo: repo, store: store, logger: logger}
}

// Interactive runs the readline loop until EOF or .quit.
func (s *Session) Interactive(ctx context.Context, out io.Writer) error {
	historyFile := filepath.Join(os.TempDir(), "bqdrift_repl_history")
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "bqdrift> ",
		HistoryFile:     historyFile,
		AutoComplete:    s.completer(),
		InterruptPrompt: "^C",
		EOFPrompt:       ".quit",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize REPL: %w", err)
	}
	defer func() { _ = rl.Close() }()

	fmt.Fprintln(out, "bqdrift REPL")
	fmt.Fprintln(out, "Commands: list, show <query>, graph, status <query> <partition>, validate, .quit")
	fmt.Fprintln(out)

	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == ".quit" || line == ".exit" {
			return nil
		}

		reply, err := s.Eval(ctx, line)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		fmt.Fprintln(out, reply)
	}
}

// Eval executes one REPL line and returns the rendered reply.
func (s *Session) Eval(ctx context.Context, line string) (string, error) {
	fields := strings.Fields(line)
	verb := strings.ToLower(fields[0])
	args := fields[1:]

	switch verb {
	case "list":
		return s.list(), nil
	case "show":
		if len(args) != 1 {
			return "", fmt.Errorf("usage: show <query>")
		}
		return s.show(args[0])
	case "graph":
		return s.repo.Graph.PrettyForest(), nil
	case "status":
		if len(args) != 2 {
			return "", fmt.Errorf("usage: status <query> <partition>")
		}
		return s.status(ctx, args[0], args[1])
	case "validate":
		return s.validate(), nil
	case "help", ".help":
		return "commands: list, show <query>, graph, status <query> <partition>, validate, .quit", nil
	default:
		return "", fmt.Errorf("unknown command %q", verb)
	}
}

func (s *Session) list() string {
	var b strings.Builder
	for _, q := range s.repo.Queries {
		fmt.Fprintf(&b, "%s -> %s (%d versions)\n", q.Name, q.Destination.Relation(), len(q.Versions))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (s *Session) show(name string) (string, error) {
	q, ok := s.repo.Query(name)
	if !ok {
		return "", fmt.Errorf("unknown query %q", name)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s -> %s\n", q.Name, q.Destination.Relation())
	for _, v := range q.Versions {
		fmt.Fprintf(&b, "  v%d effective %s, %d revisions, %d fields\n",
			v.Version, v.EffectiveFrom.Format("2006-01-02"), len(v.Revisions), len(v.Schema.Fields))
	}
	if len(q.Upstreams) > 0 {
		fmt.Fprintf(&b, "  upstreams: %s\n", strings.Join(q.Upstreams, ", "))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (s *Session) status(ctx context.Context, name, partition string) (string, error) {
	q, ok := s.repo.Query(name)
	if !ok {
		return "", fmt.Errorf("unknown query %q", name)
	}
	key, err := core.ParseKey(q.Destination.Partition, partition)
	if err != nil {
		return "", err
	}
	d, err := drift.NewClassifier(s.repo, s.store, s.logger).Classify(ctx, q, key)
	if err != nil {
		return "", err
	}
	reply := fmt.Sprintf("%s %s: %s", name, key, d.DisplayLabel())
	if d.CausedBy != "" {
		reply += " (caused by " + d.CausedBy + ")"
	}
	return reply, nil
}

func (s *Session) validate() string {
	if s.repo.Valid() {
		return fmt.Sprintf("%d queries valid, %d warnings", len(s.repo.Queries), len(s.repo.Warnings))
	}
	var b strings.Builder
	for _, e := range s.repo.Errors {
		fmt.Fprintf(&b, "error: %v\n", e)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (s *Session) completer() readline.AutoCompleter {
	var names []readline.PrefixCompleterInterface
	for _, q := range s.repo.Queries {
		names = append(names, readline.PcItem(q.Name))
	}
	return readline.NewPrefixCompleter(
		readline.PcItem("list"),
		readline.PcItem("show", names...),
		readline.PcItem("status", names...),
		readline.PcItem("graph"),
		readline.PcItem("validate"),
		readline.PcItem(".quit"),
	)
}
