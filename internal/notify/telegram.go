package notify

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"
	_ "time/tzdata"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/richoz-sanitaire/intervention-service/internal/config"
	"github.com/richoz-sanitaire/intervention-service/internal/model"
	"go.uber.org/zap"
)

// Notifier сообщает секретариату о срочных заявках. Ошибки не возвращаются — только лог.
type Notifier interface {
	UrgentRequest(ctx context.Context, e *model.EmailInbox, regieName string)
}

type Nop struct{}

func (Nop) UrgentRequest(context.Context, *model.EmailInbox, string) {}

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Telegram struct {
	bot    sender
	chatID int64
	log    *zap.Logger
}

// NewTelegram: без токена или chat id возвращает Nop.
func NewTelegram(cfg config.TelegramConfig, log *zap.Logger) (Notifier, error) {
	if cfg.Token == "" || cfg.ChatID == 0 {
		return Nop{}, nil
	}
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("notify: init telegram bot: %w", err)
	}
	return &Telegram{bot: bot, chatID: cfg.ChatID, log: log}, nil
}

func (t *Telegram) UrgentRequest(ctx context.Context, e *model.EmailInbox, regieName string) {
	text := UrgentRequestText(e, regieName)
	done := make(chan struct{})
	go func() {
		defer close(done)
		msg := tgbotapi.NewMessage(t.chatID, text)
		msg.ParseMode = tgbotapi.ModeHTML
		msg.DisableWebPagePreview = true
		if _, err := t.bot.Send(msg); err != nil {
			t.log.Warn("notify: telegram send", zap.String("email_id", e.ID.String()), zap.Error(err))
		}
	}()
	select {
	case <-done:
	case <-ctx.Done():
		t.log.Warn("notify: telegram send abandoned", zap.String("email_id", e.ID.String()), zap.Error(ctx.Err()))
	}
}

// UrgentRequestText — текст уведомления в HTML-разметке Telegram.
func UrgentRequestText(e *model.EmailInbox, regieName string) string {
	x := e.ExtractedData.Data()
	title := firstNonEmpty(x.Title, e.Subject, "(sans objet)")
	var b strings.Builder
	fmt.Fprintf(&b, "🚨 <b>Demande urgente</b>\n<b>%s</b>\n", html.EscapeString(title))
	if regieName != "" {
		fmt.Fprintf(&b, "🏢 %s\n", html.EscapeString(regieName))
	}
	if x.Address != "" {
		fmt.Fprintf(&b, "📍 %s\n", html.EscapeString(x.Address))
	}
	if tenant := firstNonEmpty(x.TenantName, x.ClientName); tenant != "" {
		phone := firstNonEmpty(x.TenantPhone, x.Phone)
		fmt.Fprintf(&b, "👤 %s %s\n", html.EscapeString(tenant), html.EscapeString(phone))
	}
	if e.WorkOrderNumber != "" {
		fmt.Fprintf(&b, "🧾 Bon %s\n", html.EscapeString(e.WorkOrderNumber))
	}
	fmt.Fprintf(&b, "✉️ %s · %s", html.EscapeString(e.FromEmail), e.ReceivedAt.In(zurich).Format("02.01.2006 15:04"))
	return b.String()
}

var zurich = loadZurich()

func loadZurich() *time.Location {
	loc, err := time.LoadLocation("Europe/Zurich")
	if err != nil {
		return time.UTC
	}
	return loc
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
