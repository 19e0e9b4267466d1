package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"akort/internal/auth"
	"akort/internal/commands"
	"akort/internal/config"
	"akort/internal/hub"
	"akort/internal/push"
	"akort/internal/server"
	"akort/internal/storage"
)

func run(ctx context.Context) error {
	addUser := flag.String("add-user", "", "Username to create (creates user with random password and prints details)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if *addUser != "" {
		return commands.AddUser(*addUser, cfg)
	}

	logger := slog.Default()

	st, err := storage.NewBboltStorage(cfg.DBFile)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	authService, err := auth.NewService(ctx, auth.Config{TokenExpiry: cfg.TokenExpiry})
	if err != nil {
		return err
	}
	users, err := st.ListUsers()
	if err != nil {
		return err
	}
	authService.Bootstrap(users)

	notifier := push.NewNotifier(push.Config{
		VAPIDPublicKey:  cfg.VAPIDPublicKey,
		VAPIDPrivateKey: cfg.VAPIDPrivateKey,
		Subscriber:      cfg.VAPIDSubscriber,
	}, st, logger)

	h := hub.NewHub(st, notifier, logger)
	srv := server.New(authService, h, st, cfg.Addr, logger)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := srv.Start()
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		log.Println("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
		return nil
	})

	return g.Wait()
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Application error: %v", err)
	}
}
