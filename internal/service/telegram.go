package service

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"dca-trading-bot/internal/core"
	"dca-trading-bot/internal/logger"
	"dca-trading-bot/internal/repository"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// telegramMessageLimit is the hard cap the Bot API enforces per message.
const telegramMessageLimit = 4096

// pairPattern extracts ticker-looking tokens from free-form whitelist
// input, so "btcusdt, ethusdt; adausdt" all parse.
var pairPattern = regexp.MustCompile(`[A-Z0-9._:-]{1,20}`)

const (
	btnStart      = "▶️ Start"
	btnPause      = "⏸ Pause"
	btnStop       = "⏹ Stop"
	btnRestart    = "🔄 Restart"
	btnPositions  = "📊 Open Positions"
	btnWhitelist  = "📋 Whitelist"
	btnParams     = "⚙️ Trade Parameters"
	btnStats      = "📈 Stats"
	btnShowList   = "Show Whitelist"
	btnAddPairs   = "Add Pairs"
	btnRemovePair = "Remove Pairs"
	btnBack       = "⬅️ Back"
)

const (
	pendingNone = iota
	pendingAdd
	pendingRemove
)

// TelegramService is the operator's control panel: a reply-keyboard menu
// driving the engine lifecycle, the whitelist and the displays. It also
// implements core.Notifier so trade events land in the same chat.
type TelegramService struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	engine *core.Engine
	store  *repository.Store

	mu      sync.Mutex
	pending int
}

func NewTelegramService(token string, chatID int64, engine *core.Engine, store *repository.Store) (*TelegramService, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Telegram: %w", err)
	}
	logger.Info("Telegram bot authorized", "username", bot.Self.UserName)

	return &TelegramService{
		bot:    bot,
		chatID: chatID,
		engine: engine,
		store:  store,
	}, nil
}

// Deliver implements core.Notifier. Long texts are split so nothing is
// silently truncated by the API.
func (s *TelegramService) Deliver(text string) error {
	for _, chunk := range splitMessage(text, telegramMessageLimit) {
		msg := tgbotapi.NewMessage(s.chatID, chunk)
		if _, err := s.bot.Send(msg); err != nil {
			return fmt.Errorf("failed to send Telegram message: %w", err)
		}
	}
	return nil
}

// Run consumes updates until the context is cancelled. Messages from
// other chats are ignored outright.
func (s *TelegramService) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := s.bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			s.bot.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil {
				continue
			}
			if s.chatID != 0 && update.Message.Chat.ID != s.chatID {
				logger.Warn("Ignoring message from unknown chat", "chat_id", update.Message.Chat.ID)
				continue
			}
			s.handle(ctx, update.Message)
		}
	}
}

func (s *TelegramService) handle(ctx context.Context, msg *tgbotapi.Message) {
	text := strings.TrimSpace(msg.Text)

	switch text {
	case "/start", btnBack:
		s.setPending(pendingNone)
		s.sendMenu("Control panel", mainMenu())

	case btnStart:
		s.engine.Start()
		s.reply("▶️ Engine: " + s.engine.State())

	case btnPause:
		s.engine.Pause()
		s.reply("⏸ Engine: " + s.engine.State())

	case btnStop:
		s.engine.Stop()
		s.reply("⏹ Engine: " + s.engine.State())

	case btnRestart:
		s.engine.Restart()
		s.reply("🔄 Engine: " + s.engine.State())

	case btnPositions:
		s.reply(s.formatPositions(ctx))

	case btnWhitelist:
		s.setPending(pendingNone)
		s.sendMenu("Whitelist menu", whitelistMenu())

	case btnShowList:
		s.reply(s.formatWhitelist(ctx))

	case btnAddPairs:
		s.setPending(pendingAdd)
		s.reply("Send the pairs to add, e.g. BTCUSDT ETHUSDT")

	case btnRemovePair:
		s.setPending(pendingRemove)
		s.reply("Send the pairs to remove")

	case btnParams:
		s.reply(s.formatProfile(ctx))

	case btnStats:
		s.reply(s.formatStats())

	default:
		s.handleFreeText(ctx, text)
	}
}

func (s *TelegramService) handleFreeText(ctx context.Context, text string) {
	pending := s.setPending(pendingNone)

	pairs := parsePairs(text)
	if len(pairs) == 0 {
		if pending != pendingNone {
			s.reply("No valid pairs found in that message")
		}
		return
	}

	switch pending {
	case pendingAdd:
		added, existed, err := s.store.AddPairs(ctx, pairs)
		if err != nil {
			logger.Error("Failed to add whitelist pairs", "error", err)
			s.reply("⚠️ Failed to update the whitelist")
			return
		}
		s.reply(fmt.Sprintf("✅ Added %d, already present %d", added, existed))

	case pendingRemove:
		removed, err := s.store.RemovePairs(ctx, pairs)
		if err != nil {
			logger.Error("Failed to remove whitelist pairs", "error", err)
			s.reply("⚠️ Failed to update the whitelist")
			return
		}
		s.reply(fmt.Sprintf("✅ Removed %d", removed))
	}
}

// setPending swaps the pending input state and returns the previous one.
func (s *TelegramService) setPending(state int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.pending
	s.pending = state
	return prev
}

func (s *TelegramService) formatPositions(ctx context.Context) string {
	positions, err := s.store.OpenPositions(ctx)
	if err != nil {
		logger.Error("Failed to load open positions", "error", err)
		return "⚠️ Failed to load positions"
	}
	if len(positions) == 0 {
		return "No open positions"
	}

	var b strings.Builder
	b.WriteString("📊 Open positions\n")
	for _, p := range positions {
		fmt.Fprintf(&b, "\n%s: %s @ %s (last %s)",
			p.Symbol, p.Quantity, p.AvgCost.Round(2), p.Last.Round(2))
	}
	return b.String()
}

func (s *TelegramService) formatWhitelist(ctx context.Context) string {
	pairs, err := s.store.Whitelist(ctx)
	if err != nil {
		logger.Error("Failed to load whitelist", "error", err)
		return "⚠️ Failed to load the whitelist"
	}
	if len(pairs) == 0 {
		return "Whitelist is empty"
	}
	return "📋 Whitelist\n\n" + strings.Join(pairs, "\n")
}

func (s *TelegramService) formatProfile(ctx context.Context) string {
	p := s.engine.ActiveProfile(ctx)

	var b strings.Builder
	fmt.Fprintf(&b,
		"⚙️ Trade parameters\n\n"+
			"Base qty: %s\n"+
			"Averaging trigger: %s%%\n"+
			"Averaging multiplier: %s\n"+
			"Take profit: %s%%\n"+
			"Poll interval: %s\n"+
			"Whole units: %t\n"+
			"Standing exit: %t",
		p.BaseQty, p.AveragingTriggerPct, p.AveragingMultiplier,
		p.TakeProfitPct, p.PollInterval, p.WholeUnits, p.MaintainExit)

	if len(p.Aux) > 0 {
		keys := make([]string, 0, len(p.Aux))
		for k := range p.Aux {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("\n\nAux toggles:")
		for _, k := range keys {
			fmt.Fprintf(&b, "\n%s = %s", k, p.Aux[k])
		}
	}
	return b.String()
}

func (s *TelegramService) formatStats() string {
	m := s.engine.Metrics()
	return fmt.Sprintf(
		"📈 Stats\n\n"+
			"State: %s\n"+
			"Iterations: %d\n"+
			"Cycle min/avg/max: %s / %s / %s\n"+
			"Orders placed: %d\n"+
			"Uptime: %s",
		s.engine.State(), m.Iterations,
		m.Min.Round(time.Millisecond), m.Avg.Round(time.Millisecond), m.Max.Round(time.Millisecond),
		m.OrdersPlaced, m.Uptime.Round(time.Second))
}

func (s *TelegramService) reply(text string) {
	if err := s.Deliver(text); err != nil {
		logger.Error("Failed to reply on Telegram", "error", err)
	}
}

func (s *TelegramService) sendMenu(text string, keyboard tgbotapi.ReplyKeyboardMarkup) {
	msg := tgbotapi.NewMessage(s.chatID, text)
	msg.ReplyMarkup = keyboard
	if _, err := s.bot.Send(msg); err != nil {
		logger.Error("Failed to send Telegram menu", "error", err)
	}
}

func mainMenu() tgbotapi.ReplyKeyboardMarkup {
	return tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnStart),
			tgbotapi.NewKeyboardButton(btnPause),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnStop),
			tgbotapi.NewKeyboardButton(btnRestart),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnPositions),
			tgbotapi.NewKeyboardButton(btnWhitelist),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnParams),
			tgbotapi.NewKeyboardButton(btnStats),
		),
	)
}

func whitelistMenu() tgbotapi.ReplyKeyboardMarkup {
	return tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnShowList),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnAddPairs),
			tgbotapi.NewKeyboardButton(btnRemovePair),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnBack),
		),
	)
}

// parsePairs normalizes free-form input to an upper-case, duplicate-free
// pair list, preserving input order.
func parsePairs(text string) []string {
	matches := pairPattern.FindAllString(strings.ToUpper(text), -1)

	seen := make(map[string]struct{}, len(matches))
	var pairs []string
	for _, m := range matches {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		pairs = append(pairs, m)
	}
	return pairs
}

func splitMessage(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}

	var chunks []string
	for len(text) > limit {
		cut := strings.LastIndex(text[:limit], "\n")
		if cut <= 0 {
			cut = limit
		}
		chunks = append(chunks, text[:cut])
		text = strings.TrimPrefix(text[cut:], "\n")
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}
