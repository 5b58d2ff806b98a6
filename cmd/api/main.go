package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
	"github.com/joho/godotenv"

	"github.com/coinchat/backend/internal/config"
	"github.com/coinchat/backend/internal/handler"
	"github.com/coinchat/backend/internal/service/ai"
	"github.com/coinchat/backend/internal/service/chat"
	"github.com/coinchat/backend/internal/service/market"
	"github.com/coinchat/backend/internal/service/orchestrator"
	"github.com/coinchat/backend/internal/service/tools"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := stdr.New(log.New(os.Stderr, "", log.LstdFlags))

	chatService := newChatService(cfg.Chat, logger)

	marketClient := market.NewClient(cfg.Market, market.WithLogger(logger.WithName("market")))
	registry, err := tools.NewRegistry(marketClient, marketClient.Currency())
	if err != nil {
		log.Fatalf("failed to build tool registry: %v", err)
	}

	var turns *orchestrator.Orchestrator
	if cfg.AI.Enabled() {
		turns, err = newOrchestrator(ctx, cfg.AI, chatService, registry, logger)
		if err != nil {
			log.Printf("warning: failed to initialize AI service: %v", err)
			log.Println("continuing without AI functionality - 请检查 Ark 模型相关环境变量")
		} else {
			log.Println("AI service initialized successfully")
		}
	} else {
		log.Println("Ark 凭证未配置，跳过 AI 功能初始化")
	}

	router := handler.NewRouter(chatService, registry, turns, logger)

	startServer(ctx, cfg.Server, router)
}

func newChatService(cfg config.ChatConfig, logger logr.Logger) *chat.Service {
	opts := []chat.Option{chat.WithLogger(logger.WithName("chat"))}
	if cfg.TranscriptDir != "" {
		persister, err := chat.NewFilePersister(cfg.TranscriptDir)
		if err != nil {
			log.Printf("warning: transcripts will not be saved: %v", err)
		} else {
			opts = append(opts, chat.WithPersister(persister))
			log.Printf("saving finalized transcripts to %s", cfg.TranscriptDir)
		}
	}
	return chat.NewService(opts...)
}

func newOrchestrator(ctx context.Context, cfg config.AIConfig, chatService *chat.Service, registry *tools.Registry, logger logr.Logger) (*orchestrator.Orchestrator, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, err
	}
	reply, err := ai.NewService(ctx, chatModel, registry.Infos(), cfg, logger.WithName("ai"))
	if err != nil {
		return nil, err
	}
	return orchestrator.New(chatService, reply, registry, logger), nil
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("coinchat backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
