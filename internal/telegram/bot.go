package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"intercheck/internal/runtime/supervisor"
	logx "intercheck/pkg/logx"
)

// SummaryDays are the windows reported by /summary.
var SummaryDays = []int{1, 30}

type Config struct {
	Token string
	// APIURL points at a self-hosted Bot API server. Empty uses Telegram's.
	APIURL      string
	PollTimeout time.Duration
	// AllowedChats restricts who may talk to the bot. Empty allows everyone.
	AllowedChats []int64
}

type Bot struct {
	cfg  Config
	log  logx.Logger
	cmds *Commands
	bot  *tele.Bot

	allowed map[int64]struct{}

	runMu sync.Mutex
	sup   *supervisor.Supervisor
}

func New(cfg Config, cmds *Commands, log logx.Logger) (*Bot, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cmds == nil {
		return nil, errors.New("telegram commands are required")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	// Offline skips getMe so the bot can be built while the network is
	// down; identify runs it from the poll task instead.
	tb, err := tele.NewBot(tele.Settings{
		URL:     strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/"),
		Token:   cfg.Token,
		Poller:  &tele.LongPoller{Timeout: timeout},
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	b := &Bot{cfg: cfg, log: log, cmds: cmds, bot: tb, allowed: allowSet(cfg.AllowedChats)}
	b.registerHandlers()
	return b, nil
}

func allowSet(ids []int64) map[int64]struct{} {
	if len(ids) == 0 {
		return nil
	}
	m := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return m
}

// chatAllowed reports whether id may use the bot.
func (b *Bot) chatAllowed(id int64) bool {
	if b.allowed == nil {
		return true
	}
	_, ok := b.allowed[id]
	return ok
}

func (b *Bot) registerHandlers() {
	b.bot.Use(func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			chat := c.Chat()
			if chat == nil || !b.chatAllowed(chat.ID) {
				id := int64(0)
				if chat != nil {
					id = chat.ID
				}
				b.log.Warn("ignoring command from unlisted chat", logx.Int64("chat_id", id))
				return nil
			}
			return next(c)
		}
	})

	reply := func(render func(ctx context.Context) string) tele.HandlerFunc {
		return func(c tele.Context) error {
			ctx := context.Background()
			if sup := b.supervisor(); sup != nil {
				ctx = sup.Context()
			}
			ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
			defer cancel()
			return c.Send(render(ctx), &tele.SendOptions{DisableWebPagePreview: true})
		}
	}

	help := reply(func(context.Context) string { return b.cmds.Help() })
	b.bot.Handle("/start", help)
	b.bot.Handle("/help", help)
	b.bot.Handle("/status", reply(func(context.Context) string { return b.cmds.Status() }))
	b.bot.Handle("/last", reply(b.cmds.Last))
	b.bot.Handle("/summary", reply(func(ctx context.Context) string { return b.cmds.Summary(ctx, SummaryDays) }))
	b.bot.Handle("/force", reply(func(context.Context) string {
		b.log.Info("probe forced via telegram")
		return b.cmds.Force()
	}))
	b.bot.Handle("/health", reply(func(context.Context) string { return b.cmds.Health() }))
}

func (b *Bot) supervisor() *supervisor.Supervisor {
	b.runMu.Lock()
	defer b.runMu.Unlock()
	return b.sup
}

// Start begins long polling. Fetching the bot identity and polling restart
// with backoff while ctx is live, so an unreachable API only delays replies.
func (b *Bot) Start(ctx context.Context) {
	b.runMu.Lock()
	if b.sup != nil {
		b.runMu.Unlock()
		return
	}
	b.sup = supervisor.New(ctx,
		supervisor.WithLogger(b.log),
		supervisor.WithCancelOnError(false),
	)
	sup := b.sup
	b.runMu.Unlock()

	sup.GoRestart("telebot.poll", b.poll,
		supervisor.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		supervisor.WithStopOnCleanExit(false),
	)
}

func (b *Bot) poll(ctx context.Context) error {
	if err := b.identify(ctx); err != nil {
		return err
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		b.bot.Start()
	}()
	b.log.Info("polling started", logx.String("bot", b.bot.Me.Username))

	select {
	case <-ctx.Done():
		b.bot.Stop()
		<-done
		b.log.Info("polling stopped")
		return ctx.Err()
	case <-done:
		return errors.New("polling ended")
	}
}

// identify loads the bot's own user, needed to match /cmd@botname in groups.
// A request still in flight when ctx ends is abandoned.
func (b *Bot) identify(ctx context.Context) error {
	if b.bot.Me != nil && b.bot.Me.ID != 0 {
		return nil
	}
	type result struct {
		me  *tele.User
		err error
	}
	ch := make(chan result, 1)
	go func() {
		data, err := b.bot.Raw("getMe", nil)
		if err != nil {
			ch <- result{err: err}
			return
		}
		var resp struct {
			Result *tele.User `json:"result"`
		}
		if err := json.Unmarshal(data, &resp); err != nil {
			ch <- result{err: err}
			return
		}
		if resp.Result == nil {
			ch <- result{err: errors.New("getMe returned no user")}
			return
		}
		ch <- result{me: resp.Result}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return fmt.Errorf("getMe: %w", r.err)
		}
		b.bot.Me = r.me
		return nil
	}
}

// Stop ends polling. It waits at most two seconds, or until ctx is done,
// whichever is sooner; a long poll in flight is abandoned.
func (b *Bot) Stop(ctx context.Context) {
	b.runMu.Lock()
	sup := b.sup
	b.sup = nil
	b.runMu.Unlock()
	if sup == nil {
		return
	}
	sup.Cancel()

	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			b.log.Warn("telegram stop timed out", logx.Err(err))
			return
		}
		b.log.Debug("telegram stopped with error", logx.Err(err))
	}
}
