package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ashureev/prosim/internal/collaborator"
	"github.com/ashureev/prosim/internal/config"
	"github.com/ashureev/prosim/internal/engine"
	"github.com/ashureev/prosim/internal/store"
)

const (
	cmdEnd    = "/end"
	cmdStatus = "/status"
)

func newPlayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "play <scenario>",
		Short: "Run a simulation interactively",
		Long: `Run a simulation in the terminal. Each input line is one reply to the
conversation partner. Type /status to see rolling scores and /end (or send
EOF) to finish and print the feedback report.

Without --provider the COLLABORATOR_PROVIDER setting is used, falling back
to the offline scripted partner.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider, _ := cmd.Flags().GetString("provider")
			user, _ := cmd.Flags().GetString("user")
			verbose, _ := cmd.Flags().GetBool("verbose")
			jsonOut, _ := cmd.Flags().GetBool("json")

			backendCfg, err := collaboratorConfig(provider)
			if err != nil {
				return err
			}

			level := slog.LevelWarn
			if verbose {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

			catalog, err := loadCatalog(cmd)
			if err != nil {
				return err
			}
			backend, err := collaborator.New(backendCfg, logger)
			if err != nil {
				return fmt.Errorf("collaborator backend: %w", err)
			}
			defer func() { _ = backend.Close() }()

			sessions := store.NewTwoTier(store.NewMemoryDurable(nil), store.WithLogger(logger))
			defer func() { _ = sessions.Close() }()

			e := engine.New(catalog, sessions, backend, engine.WithLogger(logger))
			return play(cmd, e, args[0], user, jsonOut)
		},
	}

	cmd.Flags().String("provider", "", "Collaborator backend: scripted, openai or grpc")
	cmd.Flags().String("user", "local", "User id recorded on the session")
	cmd.Flags().BoolP("verbose", "v", false, "Log engine activity to stderr")
	return cmd
}

// collaboratorConfig reads backend settings from .env and the environment.
// A non-empty provider overrides COLLABORATOR_PROVIDER.
func collaboratorConfig(provider string) (collaborator.Config, error) {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return collaborator.Config{}, err
	}
	cc := cfg.CollaboratorBackend()
	if provider != "" {
		cc.Provider = provider
	}
	return cc, nil
}

func play(cmd *cobra.Command, e *engine.Engine, scenarioID, user string, jsonOut bool) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	started, err := e.Start(ctx, scenarioID, user, nil)
	if err != nil {
		return err
	}
	if jsonOut {
		if err := emit(out, "started", started); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(out, "== %s ==\n%s\n\n", started.ScenarioID, started.Instructions)
		fmt.Fprintf(out, "%s: %s\n", started.PersonaName, started.OpeningMessage)
	}

	in := bufio.NewScanner(cmd.InOrStdin())
	for {
		if !jsonOut {
			fmt.Fprint(out, "> ")
		}
		if !in.Scan() {
			if err := in.Err(); err != nil {
				return fmt.Errorf("read input: %w", err)
			}
			break
		}
		line := strings.TrimSpace(in.Text())
		switch line {
		case "":
			continue
		case cmdEnd:
			return finish(cmd, e, started.SessionID, jsonOut)
		case cmdStatus:
			s, err := e.Status(ctx, started.SessionID)
			if err != nil {
				return err
			}
			if jsonOut {
				if err := emit(out, "status", s); err != nil {
					return err
				}
				continue
			}
			m := s.Metrics
			fmt.Fprintf(out, "[phase %s, %d turns] clarity %.1f  accuracy %.1f  communication %.1f  relevance %.1f\n",
				s.Phase, len(s.Transcript), m.Clarity, m.TechnicalAccuracy, m.CommunicationEffectiveness, m.ResponseRelevance)
			continue
		}

		res, err := e.Respond(ctx, started.SessionID, line)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", err)
			continue
		}
		if jsonOut {
			if err := emit(out, "reply", res); err != nil {
				return err
			}
			continue
		}
		if res.Transition != nil {
			fmt.Fprintf(out, "-- %s --\n", res.Transition.Message)
		}
		fmt.Fprintf(out, "%s: %s\n", started.PersonaName, res.Reply)
		if res.Feedback != "" {
			fmt.Fprintf(out, "   (%s)\n", res.Feedback)
		}
	}
	return finish(cmd, e, started.SessionID, jsonOut)
}

func finish(cmd *cobra.Command, e *engine.Engine, sessionID string, jsonOut bool) error {
	res, err := e.End(cmd.Context(), sessionID)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if jsonOut {
		return emit(out, "ended", res)
	}

	fmt.Fprintf(out, "\n== Simulation complete ==\n%s", res.Summary.Text)
	s := res.Scores
	fmt.Fprintf(out, "\nOverall: %.1f/10\n", s.Overall)
	fmt.Fprintf(out, "  clarity %.1f  accuracy %.1f  communication %.1f  relevance %.1f\n",
		s.Clarity, s.TechnicalAccuracy, s.Communication, s.Relevance)
	if res.Report.OverallSummary != "" {
		fmt.Fprintf(out, "\n%s\n", res.Report.OverallSummary)
	}
	printList(out, "Strengths", res.Report.Strengths)
	printList(out, "Improve", res.ImprovementSuggestions)
	printList(out, "Next steps", res.NextSteps)
	return nil
}

func printList(out io.Writer, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(out, "\n%s:\n", title)
	for _, item := range items {
		fmt.Fprintf(out, "  - %s\n", item)
	}
}

// emit writes one JSON line tagged with its event name.
func emit(out io.Writer, event string, data any) error {
	return json.NewEncoder(out).Encode(map[string]any{"event": event, "data": data})
}
