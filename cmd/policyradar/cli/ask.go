package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/policyradar/policyradar/internal/config"
	"github.com/policyradar/policyradar/internal/observe"
	"github.com/policyradar/policyradar/internal/orchestrate"
	"github.com/policyradar/policyradar/internal/provider"
	"github.com/policyradar/policyradar/internal/router"
	"github.com/policyradar/policyradar/internal/store"
	"github.com/policyradar/policyradar/internal/tools"
	"github.com/policyradar/policyradar/internal/ui"
)

var (
	askSession   string
	askDays      int
	askSources   []string
	askNoRoute   bool
	askPlain     bool
	askProvider  string
	askModel     string
	askShowSteps bool
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question about federal regulatory activity",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAsk(strings.Join(args, " "))
	},
}

func init() {
	askCmd.Flags().StringVarP(&askSession, "session", "s", "", "Continue an existing session")
	askCmd.Flags().IntVarP(&askDays, "days", "d", 30, "Time window in days for date-filtered searches")
	askCmd.Flags().StringSliceVar(&askSources, "sources", nil, "Restrict to specific source keys")
	askCmd.Flags().BoolVar(&askNoRoute, "no-route", false, "Skip automatic source selection")
	askCmd.Flags().BoolVar(&askPlain, "plain", false, "Plain output without styling")
	askCmd.Flags().StringVarP(&askProvider, "provider", "p", "", "Override the LLM provider")
	askCmd.Flags().StringVarP(&askModel, "model", "m", "", "Override the model name")
	askCmd.Flags().BoolVar(&askShowSteps, "steps", true, "Show tool execution steps")
}

func runAsk(question string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if askProvider != "" {
		cfg.Provider = askProvider
	}
	if askModel != "" {
		cfg.Model = askModel
	}

	var logOut io.Writer = os.Stderr
	if !verbose {
		logOut = io.Discard
	}
	var obs *observe.Observer
	if jsonLogs {
		obs = observe.NewJSON(logOut, verbose)
	} else {
		obs = observe.New(logOut, verbose)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a, err := buildApp(ctx, cfg, obs)
	if err != nil {
		return err
	}
	defer a.Close()

	backend, err := provider.New(ctx, backendOptions(cfg))
	if err != nil {
		return err
	}

	sessionID := askSession
	newSession := sessionID == ""
	if newSession {
		sessionID = uuid.NewString()
	}

	req := orchestrate.Request{
		SessionID:      sessionID,
		Message:        question,
		Days:           askDays,
		AutoRoute:      !askNoRoute,
		AllowedSources: resolveSources(cfg),
	}
	if !newSession {
		if err := loadContinuation(a.history, backend, sessionID, &req); err != nil {
			return err
		}
	}

	dispatcher := tools.NewDispatcher(obs, a.deps, sessionID, a.embCfg)
	engine := orchestrate.NewEngine(
		backend,
		dispatcher,
		router.New(backend, obs),
		a.memory,
		a.embCfg,
		obs,
		orchestrate.NewCallRegistry(),
		orchestrate.Options{
			AutoMemorySearch: cfg.AutoMemorySearch,
			MemoryTopK:       cfg.RAGTopK,
		},
	)

	renderer := ui.NewRenderer(os.Stdout, askPlain)
	var done *orchestrate.Done
	var failed bool

	for ev := range engine.Stream(ctx, req) {
		if ev.Kind == orchestrate.EventStep && !askShowSteps {
			continue
		}
		renderer.Render(ev)
		switch ev.Kind {
		case orchestrate.EventDone:
			done = ev.Done
		case orchestrate.EventError:
			failed = true
		}
	}

	if done != nil {
		persistTurn(a.history, obs, sessionID, newSession, question, done)
		fmt.Fprintf(os.Stderr, "\nsession: %s\n", sessionID)
	}
	if failed {
		return fmt.Errorf("request failed")
	}
	return nil
}

// loadContinuation attaches the prior conversation to the request in
// whichever form the backend consumes.
func loadContinuation(history store.History, backend provider.Backend, sessionID string, req *orchestrate.Request) error {
	sess, err := history.GetSession(sessionID)
	if err != nil {
		return fmt.Errorf("unknown session %q: %w", sessionID, err)
	}

	if backend.Stateful() && sess.LastResponseID != "" {
		req.PreviousResponseID = sess.LastResponseID
		return nil
	}

	messages, err := history.Messages(sessionID)
	if err != nil {
		return err
	}
	req.History = messages
	return nil
}

func persistTurn(history store.History, obs *observe.Observer, sessionID string, newSession bool, question string, done *orchestrate.Done) {
	sess := &store.Session{
		ID:             sessionID,
		Model:          done.Model,
		LastResponseID: done.ResponseID,
	}
	if newSession {
		sess.Title = sessionTitle(question)
	}
	if err := history.UpsertSession(sess); err != nil {
		obs.Log().Warn().Str("error", err.Error()).Msg("Failed to persist session")
		return
	}

	err := history.AppendMessages(sessionID, []provider.Message{
		{Role: provider.RoleUser, Content: question},
		{Role: provider.RoleAssistant, Content: done.AnswerText},
	})
	if err != nil {
		obs.Log().Warn().Str("error", err.Error()).Msg("Failed to persist messages")
	}
}

func sessionTitle(question string) string {
	title := strings.TrimSpace(question)
	if len(title) > 60 {
		title = title[:57] + "..."
	}
	return title
}

// resolveSources intersects the configured sources with any --sources
// restriction.
func resolveSources(cfg config.Settings) []string {
	configured := configuredSources(cfg)
	if len(askSources) == 0 {
		return configured
	}

	available := make(map[string]bool, len(configured))
	for _, key := range configured {
		available[key] = true
	}
	var out []string
	for _, key := range askSources {
		key = strings.TrimSpace(key)
		if available[key] {
			out = append(out, key)
		}
	}
	return out
}
