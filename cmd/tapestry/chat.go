// Copyright 2026 Tapestry Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"

	"github.com/tapestry-labs/tapestry/internal/log"
	"github.com/tapestry-labs/tapestry/pkg/config"
	"github.com/tapestry-labs/tapestry/pkg/events"
	"github.com/tapestry-labs/tapestry/pkg/llm/anthropic"
	"github.com/tapestry-labs/tapestry/pkg/retry"
	"github.com/tapestry-labs/tapestry/pkg/session"
	"github.com/tapestry-labs/tapestry/pkg/shuttle"
	"github.com/tapestry-labs/tapestry/pkg/subagent"
	"github.com/tapestry-labs/tapestry/pkg/tools"
)

var (
	chatAgent   string
	chatMessage string
	chatAPIKey  string
	chatModel   string
)

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Start an interactive session with a subagent",
	Long: heredoc.Doc(`
		Start an interactive session. Messages you type are queued to the
		session and processed strictly in order; responses stream back as
		they are generated.

		Examples:
		  tapestry chat --agent coder "refactor the parser"
		  tapestry chat --agent coder          # interactive, /quit to exit
		  echo "summarize main.go" | tapestry chat --agent coder -m -
	`),
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatAgent, "agent", "", "subagent definition to run (from <datadir>/agents)")
	chatCmd.Flags().StringVarP(&chatMessage, "message", "m", "", "one-shot message ('-' reads stdin), exits after the response")
	chatCmd.Flags().StringVar(&chatAPIKey, "api-key", "", "Anthropic API key (default: ANTHROPIC_API_KEY)")
	chatCmd.Flags().StringVar(&chatModel, "model", "", "model override")
}

func runChat(cmd *cobra.Command, args []string) error {
	settings, err := config.Load()
	if err != nil {
		return err
	}
	if flagLogLevel != "" {
		settings.LogLevel = flagLogLevel
	}
	if chatModel != "" {
		settings.Model.Name = chatModel
	}

	level, _ := log.ParseLevel(settings.LogLevel)
	logger := log.New(log.Options{
		Level: &level,
		Dir:   config.LogsDir(),
	})
	defer logger.Shutdown()
	log.Init(logger)

	apiKey := chatAPIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return fmt.Errorf("no API key: set ANTHROPIC_API_KEY or pass --api-key")
	}

	agentsDir := settings.AgentsDir
	if agentsDir == "" {
		agentsDir = config.AgentsDir()
	}
	library, loadErrs := subagent.LoadDir(agentsDir)
	for _, lerr := range loadErrs {
		logger.Warn("skipped subagent definition", map[string]any{"error": lerr.Error()})
	}

	if settings.HotReload {
		watcher, werr := subagent.NewWatcher(library, subagent.WatcherConfig{Logger: logger})
		if werr == nil {
			if serr := watcher.Start(); serr == nil {
				defer watcher.Stop()
			} else {
				logger.Warn("definition hot-reload unavailable", map[string]any{"error": serr.Error()})
			}
		}
	}

	scopeCfg := subagent.ScopeConfig{
		SubagentName: "assistant",
		MaxRounds:    settings.Session.MaxRounds,
		MaxDuration:  time.Duration(settings.Session.MaxDurationSeconds) * time.Second,
		StreamRetry:  retry.DefaultConfig(),
	}
	if chatAgent != "" {
		def, ok := library.Get(chatAgent)
		if !ok {
			return fmt.Errorf("unknown subagent %q (known: %s)", chatAgent, strings.Join(library.Names(), ", "))
		}
		scopeCfg.SubagentName = def.Name
		scopeCfg.SystemPrompt = def.SystemPrompt
		scopeCfg.ToolNames = def.Tools
		scopeCfg.AllowNestedTasks = def.AllowNestedTasks
		if def.MaxRounds > 0 {
			scopeCfg.MaxRounds = def.MaxRounds
		}
	}

	bus := events.NewBus(events.WithLogger(logger))
	printer := newEventPrinter(cmd.OutOrStdout(), cmd.ErrOrStderr())
	bus.Subscribe(printer.handle)

	manager := session.NewManager(bus, session.WithManagerLogger(logger))
	sessionID, err := manager.CreateSession(session.CreateOptions{
		Name:         "chat",
		SubagentName: scopeCfg.SubagentName,
		Config: session.Config{
			Interactive:          true,
			MaxDepth:             settings.Session.MaxDepth,
			AutoSwitch:           true,
			InheritContext:       true,
			AllowUserInteraction: true,
		},
	})
	if err != nil {
		return err
	}
	scopeCfg.SessionID = sessionID

	workDir, err := os.Getwd()
	if err != nil {
		return err
	}
	registry := shuttle.NewRegistry()
	for _, t := range tools.NewFileTools(workDir, logger) {
		registry.Register(t)
	}
	registry.Register(subagent.NewDelegationTool(manager, library, sessionID, nil))
	executor := shuttle.NewExecutor(registry, shuttle.WithExecutorLogger(logger))

	client := anthropic.NewClient(anthropic.Config{
		APIKey:    apiKey,
		Model:     settings.Model.Name,
		MaxTokens: settings.Model.MaxTokens,
		Timeout:   time.Duration(settings.Model.TimeoutSeconds) * time.Second,
	})

	scope := subagent.NewScope(manager, client, executor, scopeCfg, subagent.WithScopeLogger(logger))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- scope.RunInteractive(runCtx, nil)
	}()

	message := chatMessage
	if message == "" && len(args) > 0 {
		message = strings.Join(args, " ")
	}
	if message != "" {
		return runOneShot(runCtx, cancel, done, manager, bus, sessionID, message)
	}
	return runREPL(runCtx, cancel, done, manager, sessionID, cmd)
}

// runOneShot sends a single message and exits after its round completes.
func runOneShot(ctx context.Context, cancel context.CancelFunc, done chan error, manager *session.Manager, bus *events.Bus, sessionID, message string) error {
	if message == "-" {
		message = readStdin()
	}
	if message == "" {
		cancel()
		<-done
		return fmt.Errorf("message cannot be empty")
	}

	roundDone := make(chan struct{}, 1)
	sub := bus.SubscribeTo(func(ev events.Event) {
		select {
		case roundDone <- struct{}{}:
		default:
		}
	}, events.SubagentRoundEnd)
	defer sub.Unsubscribe()

	if err := manager.SendUserMessage(sessionID, message); err != nil {
		cancel()
		<-done
		return err
	}

	select {
	case <-roundDone:
	case <-ctx.Done():
	}
	cancel()
	return <-done
}

// runREPL reads lines from stdin until EOF or /quit.
func runREPL(ctx context.Context, cancel context.CancelFunc, done chan error, manager *session.Manager, sessionID string, cmd *cobra.Command) error {
	fmt.Fprintln(cmd.ErrOrStderr(), "Type a message and press enter. /quit exits, /cancel aborts the current response.")

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return <-done
		case line, ok := <-lines:
			if !ok {
				cancel()
				return <-done
			}
			text := strings.TrimSpace(line)
			switch {
			case text == "":
			case text == "/quit", text == "/exit":
				cancel()
				return <-done
			case text == "/cancel":
				manager.CancelCurrentMessage()
			default:
				if err := manager.SendUserMessage(sessionID, text); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", err)
				}
			}
		}
	}
}

func readStdin() string {
	scanner := bufio.NewScanner(os.Stdin)
	var collected []string
	for scanner.Scan() {
		collected = append(collected, scanner.Text())
	}
	return strings.TrimSpace(strings.Join(collected, "\n"))
}
