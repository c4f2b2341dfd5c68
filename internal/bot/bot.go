package bot

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/redis/go-redis/v9"
	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/moriyamalab/tokuten/internal/app"
	"github.com/moriyamalab/tokuten/internal/evaluation"
	"github.com/moriyamalab/tokuten/internal/store"
)

// Bot is the teacher-side Telegram frontend: it binds chats to
// classrooms and answers standings queries in place.
type Bot struct {
	config   *Config
	store    store.Store
	rankings *evaluation.Engine
	tokens   *app.TokenManager
	api      *tgbotapi.BotAPI
	admins   map[int64]bool
}

func New(config *Config, st store.Store) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(config.Bot.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot API: %w", err)
	}

	opt, err := redis.ParseURL(config.Auth.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	admins := make(map[int64]bool)
	for _, id := range config.Bot.AdminIDs {
		admins[id] = true
	}

	return &Bot{
		config:   config,
		store:    st,
		rankings: evaluation.NewEngine(st),
		tokens:   app.NewTokenManager(redis.NewClient(opt)),
		api:      api,
		admins:   admins,
	}, nil
}

func (b *Bot) Start() error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case update := <-updates:
			if update.Message == nil {
				continue
			}

			go b.handleMessage(update.Message)

		case <-sigChan:
			logger.Info.Println("Shutting down bot...")
			return b.tokens.Close()
		}
	}
}
