package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"taskdeck/internal/api"
	"taskdeck/internal/bot"
	"taskdeck/internal/config"
	"taskdeck/internal/model"
	"taskdeck/internal/repository"
	"taskdeck/internal/service"
	"taskdeck/internal/session"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	db, err := repository.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	sqlDB, err := db.DB()
	if err == nil {
		defer sqlDB.Close()
	}

	prefsRepo := repository.NewPrefsRepository(db)

	account := model.Account{UserID: cfg.APIUserID, Token: cfg.APIToken}
	client := api.NewClient(cfg.APIBaseURL, cfg.RequestTimeout)
	sess := session.New(account, client)
	digestSvc := service.NewDigestService(sess.Store())

	telegramBot, err := bot.New(cfg.TelegramToken, sess, digestSvc, prefsRepo, &cfg)
	if err != nil {
		log.Fatalf("bot: %v", err)
	}

	loadCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	if err := sess.Refresh(loadCtx); err != nil {
		log.Printf("initial load: %v", err)
	}
	cancel()

	scheduler := service.NewSchedulerService(time.Local)
	if cfg.RefreshInterval > 0 {
		if _, err := scheduler.ScheduleInterval(cfg.RefreshInterval, func() {
			jobCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := sess.Refresh(jobCtx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("background refresh: %v", err)
			}
		}); err != nil {
			log.Fatalf("schedule refresh: %v", err)
		}
	}
	if cfg.DigestTime != "" {
		if _, err := scheduler.ScheduleDaily(cfg.DigestTime, func() {
			jobCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := telegramBot.SendDailyDigests(jobCtx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("digest: %v", err)
			}
		}); err != nil {
			log.Fatalf("schedule digest: %v", err)
		}
	}
	scheduler.Start()
	defer scheduler.Stop()

	log.Println("taskdeck bot started.")
	if err := telegramBot.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("bot stopped with error: %v", err)
	}
	log.Println("Shutdown complete.")
}
