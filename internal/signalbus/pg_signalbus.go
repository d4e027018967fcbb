package signalbus

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gridport-io/gridport/internal/models"
	"github.com/gridport-io/gridport/internal/util"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/lib/pq"
)

const pgChannel = "gridport_changes"

var _ SignalBus = &PgSignalBus{} // type check the interface is implemented.

// PgSignalBus implements a signalbus.SignalBus that is clustered using
// postgresql notify events. Events published on one apiserver replica are
// delivered to the in-memory bus of every replica, this one included.
type PgSignalBus struct {
	db         *gorm.DB
	signalBus  SignalBus // typically an in memory signal bus.
	connectDSN string
	logger     *zap.SugaredLogger
}

type pgEnvelope struct {
	Topic string             `json:"topic"`
	Event models.ChangeEvent `json:"event"`
}

// NewPgSignalBus creates a new PgSignalBus
func NewPgSignalBus(signalBus SignalBus, db *gorm.DB, connectDSN string, logger *zap.SugaredLogger) *PgSignalBus {
	return &PgSignalBus{
		db:         db,
		connectDSN: connectDSN,
		signalBus:  signalBus,
		logger:     logger,
	}
}

// Publish sends the event through the DB with pg_notify. The DB sends it
// back to us and all other processes listening on the channel; delivery to
// local subscribers happens when the listener receives it.
func (pgsb *PgSignalBus) Publish(topic string, event models.ChangeEvent) {
	payload, err := json.Marshal(pgEnvelope{Topic: topic, Event: event})
	if err != nil {
		pgsb.logger.Errorw("marshal change event failed", "topic", topic, "error", err)
		return
	}
	if err := pgsb.db.Exec("SELECT pg_notify(?, ?)", pgChannel, string(payload)).Error; err != nil {
		pgsb.logger.Infow("notify failed", "error", err.Error())
	}
}

// Subscribe creates a subscription for the named topic.
// Subscriptions are held on the in memory bus.
func (pgsb *PgSignalBus) Subscribe(topic string) *Subscription {
	return pgsb.signalBus.Subscribe(topic)
}

// ResyncAll queues a resync event on every local subscription.
func (pgsb *PgSignalBus) ResyncAll() {
	pgsb.signalBus.ResyncAll()
}

// Start starts the background worker that listens for events sent from this
// process and all other processes publishing to the channel.
func (pgsb *PgSignalBus) Start(ctx context.Context, wg *sync.WaitGroup) {
	util.GoWithWaitGroup(wg, func() {
		resyncOnConnect := false
		for {
			if err := pgsb.listen(ctx, resyncOnConnect); err != nil {
				pgsb.logger.Infow("pg listener error", "error", err.Error())
			}
			// notifications sent before the next listener is up are lost
			resyncOnConnect = true
			select {
			case <-ctx.Done():
				return // the context was canceled.. let's exit..
			case <-time.After(5 * time.Second):
				// lets retry connecting to the db...
			}
		}
	})
}

func (pgsb *PgSignalBus) listen(ctx context.Context, resyncOnConnect bool) error {
	listener := pq.NewListener(pgsb.connectDSN, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			pgsb.logger.Infow("pq listener event error", "error", err.Error())
		}
	})
	defer listener.Close() // clean up connections on return..

	if err := listener.Listen(pgChannel); err != nil {
		return err
	}
	if resyncOnConnect {
		pgsb.signalBus.ResyncAll()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-listener.Notify:
			if n == nil {
				// pq dropped and re-established the connection, any
				// notification sent in the gap is gone
				pgsb.signalBus.ResyncAll()
				continue
			}
			var envelope pgEnvelope
			if err := json.Unmarshal([]byte(n.Extra), &envelope); err != nil {
				pgsb.logger.Infow("received invalid change event payload", "error", err.Error())
				continue
			}
			pgsb.signalBus.Publish(envelope.Topic, envelope.Event)
		case <-time.After(90 * time.Second):
			// in case the connection is dead and we don't know it..
			if err := listener.Ping(); err != nil {
				return err
			}
		}
	}
}
