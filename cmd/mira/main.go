package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mirabot/mira/common/environment"
	"github.com/mirabot/mira/common/version"
	"github.com/mirabot/mira/internal/mira/chat"
	"github.com/mirabot/mira/internal/mira/ingest"
	"github.com/mirabot/mira/internal/mira/memory"
	"github.com/mirabot/mira/internal/mira/observability"
	"github.com/mirabot/mira/internal/mira/persona"
	"github.com/mirabot/mira/internal/mira/settings"
	"github.com/mirabot/mira/internal/mira/store"
	"github.com/mirabot/mira/internal/mira/web"
)

func main() {
	fmt.Printf("Mira Memory Service\n")
	fmt.Printf("Version: %s\n", version.Version)
	fmt.Printf("Commit: %s\n", version.GitCommit)
	fmt.Printf("Build Time: %s\n", version.BuildTime)
	fmt.Println()

	observability.Setup(
		environment.StringOr("MIRA_LOG_LEVEL", "info"),
		environment.StringOr("MIRA_LOG_FORMAT", "text"),
	)

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	dbPath := environment.StringOr("DATABASE_PATH", "./mira.db")
	addr := environment.StringOr("MIRA_LISTEN_ADDR", "127.0.0.1:8080")
	token := environment.StringOr("MIRA_API_TOKEN", "")
	personaDir := environment.StringOr("MIRA_PERSONA_DIR", "")
	personaName := environment.StringOr("MIRA_PERSONA", "")

	db, err := store.New(dbPath)
	if err != nil {
		return fmt.Errorf("open database %s: %w", dbPath, err)
	}
	defer db.Close()

	active, err := loadPersona(personaDir, personaName)
	if err != nil {
		return err
	}

	logger := slog.Default()
	set := settings.New(db)
	longTerm := memory.NewLongTermStore(db.DB(), observability.Component("memory"))
	shortTerm := memory.NewShortTermBuffer(
		environment.IntOr("MIRA_SHORT_TERM_CAPACITY", memory.DefaultShortTermCapacity))
	pipeline := memory.NewSuggestionPipeline(longTerm, observability.Component("suggestions"))

	orch := chat.New(chat.Config{
		Settings:  set,
		LongTerm:  longTerm,
		ShortTerm: shortTerm,
		Pipeline:  pipeline,
		Logs:      db,
		Persona:   active,
		Logger:    observability.Component("chat"),
	})

	server := web.New(web.Config{
		Addr:     addr,
		Token:    token,
		Orch:     orch,
		Memories: longTerm,
		Settings: set,
		Ingestor: ingest.New(longTerm, observability.Component("ingest")),
		Logs:     db,
		Logger:   observability.Component("web"),
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.Start(ctx); err != nil {
		return err
	}
	logger.Info("mira started", "db", dbPath, "persona", active.Name)

	<-ctx.Done()
	logger.Info("shutting down")
	server.Stop()
	return nil
}

// loadPersona picks the active persona. With no directory configured the
// built-in default applies; a configured name must exist in the registry.
func loadPersona(dir, name string) (persona.Persona, error) {
	if dir == "" {
		return persona.Default(), nil
	}
	reg, err := persona.LoadDir(os.DirFS(dir), ".")
	if err != nil {
		return persona.Persona{}, fmt.Errorf("load personas from %s: %w", dir, err)
	}
	if name == "" {
		return persona.Default(), nil
	}
	p, ok := reg.Get(name)
	if !ok {
		return persona.Persona{}, fmt.Errorf("persona %q not found in %s (have %v)", name, dir, reg.Names())
	}
	return *p, nil
}
