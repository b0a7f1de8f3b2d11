package automation

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pinnlo/service_layer/internal/app/domain/card"
	"github.com/pinnlo/service_layer/internal/app/services/cards"
	"github.com/pinnlo/service_layer/internal/logging"
	"github.com/pinnlo/service_layer/internal/supabase"
)

// ChangeSource is a realtime feed of row changes.
type ChangeSource interface {
	Subscribe(sub supabase.Subscription, handler supabase.ChangeHandler)
	Run(ctx context.Context) error
}

// CardListener feeds card inserts observed through Supabase Realtime into
// card_event rules. Inserts from any writer are seen, including other
// instances and direct database clients.
type CardListener struct {
	source ChangeSource
	svc    *Service
	log    *logging.Logger
	queue  chan supabase.Change

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCardListener creates a listener; it subscribes on Start.
func NewCardListener(source ChangeSource, svc *Service, log *logging.Logger) *CardListener {
	if log == nil {
		log = logging.NewDefault("automation-realtime")
	}
	return &CardListener{source: source, svc: svc, log: log, queue: make(chan supabase.Change, 256)}
}

func (l *CardListener) Name() string { return "automation-realtime" }

func (l *CardListener) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel

	l.source.Subscribe(supabase.Subscription{Event: "INSERT", Schema: "public", Table: "cards"}, l.enqueue)

	l.wg.Add(2)
	go func() {
		defer l.wg.Done()
		if err := l.source.Run(runCtx); err != nil {
			l.log.WithError(err).Error("realtime listener stopped")
		}
	}()
	go func() {
		defer l.wg.Done()
		l.work(runCtx)
	}()
	return nil
}

func (l *CardListener) Stop(ctx context.Context) error {
	if l.cancel == nil {
		return nil
	}
	l.cancel()
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// enqueue runs on the realtime read loop and must not block.
func (l *CardListener) enqueue(ch supabase.Change) {
	select {
	case l.queue <- ch:
	default:
		l.log.WithField("table", ch.Table).Warn("realtime queue full, dropping change")
	}
}

func (l *CardListener) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ch := <-l.queue:
			l.handle(ctx, ch)
		}
	}
}

func (l *CardListener) handle(ctx context.Context, ch supabase.Change) {
	c, err := decodeCard(ch.Record)
	if err != nil {
		l.log.WithError(err).Warn("decode realtime card failed")
		return
	}
	if c.ID == "" || cards.FromAutomation(c) {
		return
	}
	ctx = logging.WithTraceID(ctx, logging.NewTraceID())
	l.svc.HandleCardInsert(ctx, cards.InsertEvent{UserID: c.UserID, StrategyID: c.StrategyID, Cards: []card.Card{c}})
}

// decodeCard converts a realtime row into a card. Timestamps are dropped since
// rules never read them and their textual form varies by column type.
func decodeCard(record map[string]interface{}) (card.Card, error) {
	row := make(map[string]interface{}, len(record))
	for k, v := range record {
		if k != "created_at" && k != "updated_at" {
			row[k] = v
		}
	}
	data, err := json.Marshal(row)
	if err != nil {
		return card.Card{}, err
	}
	var c card.Card
	if err := json.Unmarshal(data, &c); err != nil {
		return card.Card{}, err
	}
	return c, nil
}
