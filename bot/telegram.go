package bot

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TELEGRAM NOTIFIER - Closed-trade announcements
// ═══════════════════════════════════════════════════════════════════════════════

// Notifier pushes closed-trade messages to a Telegram chat. A nil
// *Notifier is safe to call; it does nothing.
type Notifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// New creates a notifier, or nil when token/chat id are not configured.
func New(token string, chatID int64) (*Notifier, error) {
	if token == "" || chatID == 0 {
		return nil, nil
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	log.Info().Str("bot", bot.Self.UserName).Msg("🤖 Telegram notifier ready")
	return &Notifier{bot: bot, chatID: chatID}, nil
}

// NotifyTradeClosed announces one realised trade.
func (n *Notifier) NotifyTradeClosed(symbol, side string, pnl decimal.Decimal) {
	if n == nil {
		return
	}

	emoji := "✅"
	if pnl.IsNegative() {
		emoji = "🔻"
	}
	text := fmt.Sprintf("%s %s %s closed, PnL %s USDT", emoji, symbol, side, pnl.StringFixed(2))

	if _, err := n.bot.Send(tgbotapi.NewMessage(n.chatID, text)); err != nil {
		log.Debug().Err(err).Msg("Telegram send failed")
	}
}
