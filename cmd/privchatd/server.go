package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/privchat/privchat/internal/auth/jwttoken"
	"github.com/privchat/privchat/internal/cache"
	"github.com/privchat/privchat/internal/channel"
	"github.com/privchat/privchat/internal/config"
	"github.com/privchat/privchat/internal/conn"
	"github.com/privchat/privchat/internal/devicestate"
	"github.com/privchat/privchat/internal/eventbus"
	"github.com/privchat/privchat/internal/gateway"
	"github.com/privchat/privchat/internal/ids"
	"github.com/privchat/privchat/internal/loginrisk"
	"github.com/privchat/privchat/internal/message"
	"github.com/privchat/privchat/internal/metrics"
	"github.com/privchat/privchat/internal/offlinequeue"
	"github.com/privchat/privchat/internal/push/apns"
	"github.com/privchat/privchat/internal/push/fcm"
	"github.com/privchat/privchat/internal/pushplanner"
	"github.com/privchat/privchat/internal/session"
	"github.com/privchat/privchat/internal/store"
	"github.com/privchat/privchat/internal/store/postgres"
	syncsvc "github.com/privchat/privchat/internal/sync"
	"github.com/privchat/privchat/internal/transport/ws"
	"github.com/privchat/privchat/internal/wire"
)

const (
	sessionIdleTimeout = 5 * time.Minute
	cacheTTLFloor      = 30 * time.Second
)

// server bundles every live component wired together for the gateway's
// lifetime, plus what's needed to shut them down in order.
type server struct {
	cfg     config.Config
	store   *postgres.Store
	redis   *redis.Client
	gateway *gateway.Gateway
	connReg *conn.Registry
	httpSrv *http.Server
}

// buildServer wires the full dependency graph: store -> repositories ->
// cache -> ids/channel/message/sync -> event bus -> push planner ->
// gateway -> websocket transport. This is the only place in the
// repository where every package is assembled together.
func buildServer(ctx context.Context, cfg config.Config) (*server, error) {
	db, err := postgres.Open(ctx, cfg.Postgres.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	ttl := cfg.Cache.TTL
	if ttl < cacheTTLFloor {
		ttl = cacheTTLFloor
	}
	c, err := cache.New(cfg.Cache.L1Size, redisClient, ttl)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("build cache: %w", err)
	}

	tokens, err := jwttoken.New(cfg.Auth.Key, "privchatd", "privchat-clients", time.Duration(cfg.Auth.ExpireIn)*time.Second)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("build token authenticator: %w", err)
	}
	devices := devicestate.New(db.Devices(), tokens)
	risk := loginrisk.New(db.Devices(), db.LoginLogs())

	generator, err := ids.NewGenerator(1, 1, db.Messages())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("build id generator: %w", err)
	}

	channels := channel.New(db.Channels(), c)
	connReg := conn.NewRegistry()
	sessions := session.NewRegistry(sessionIdleTimeout)
	bus := eventbus.New()

	var offline *offlinequeue.Queue
	if redisClient != nil {
		offline = offlinequeue.New(redisClient)
	}

	pipeline := message.New(message.Config{
		Channels:  channels,
		Messages:  db.Messages(),
		Members:   db.Channels(),
		Generator: generator,
		Cache:     c,
		Conn:      connReg,
		Sessions:  sessions,
		Offline:   offlineAdapter{offline},
		Bus:       bus,
	})

	syncService := syncsvc.New(db.Messages(), db.UserSettings(), sessions)

	providers := map[string]pushplanner.Provider{}
	if cfg.Push.FCM.CredentialsFile != "" {
		p, err := fcm.New(ctx, cfg.Push.FCM.CredentialsFile, fcm.AndroidConfig{})
		if err != nil {
			log.Printf("privchatd: fcm provider disabled: %v", err)
		} else {
			providers["fcm"] = p
		}
	}
	if cfg.Push.APNs.KeyPath != "" {
		p, err := apns.New(apns.Config{
			KeyPath: cfg.Push.APNs.KeyPath,
			KeyID:   cfg.Push.APNs.KeyID,
			TeamID:  cfg.Push.APNs.TeamID,
			Topic:   cfg.Push.APNs.Topic,
			Sandbox: cfg.Push.APNs.Sandbox,
		})
		if err != nil {
			log.Printf("privchatd: apns provider disabled: %v", err)
		} else {
			providers["apns"] = p
		}
	}
	planner := pushplanner.New(providers, deviceLookup{devices: db.Devices(), connReg: connReg})
	go relayCommitsToPlanner(bus, planner)

	handlers := gateway.Handlers{
		Authorization: authorizationHandler(devices, risk, db.LoginLogs(), sessions, connReg),
		Ping:          pingHandler(),
		Disconnect:    disconnectHandler(sessions, connReg),
		Subscribe:     subscribeHandler(channels),
		SendMessage:   sendMessageHandler(pipeline),
		RPC:           rpcHandler(syncService, channels, sessions, pipeline),
	}
	gw := gateway.New(handlers, cfg.Gateway.MaxInFlight)

	dispatcher := newConnDispatcher()
	connReg.SetTransportSink(dispatcher)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws.Accept(w, r, gw, dispatcher.register, func(sessionID string) {
			dispatcher.unregister(sessionID)
			if _, _, ok := connReg.Unregister(sessionID); ok {
				metrics.LiveSessions.Add(-1)
			}
			sessions.Unbind(sessionID)
		})
	})

	debugMux := http.NewServeMux()
	registerDebugHandlers(debugMux)

	httpSrv := &http.Server{Addr: cfg.Gateway.ListenAddr, Handler: mux}
	go func() {
		if err := http.ListenAndServe(cfg.DebugAddr, debugMux); err != nil && err != http.ErrServerClosed {
			log.Printf("privchatd: debug mux: %v", err)
		}
	}()

	return &server{cfg: cfg, store: db, redis: redisClient, gateway: gw, connReg: connReg, httpSrv: httpSrv}, nil
}

func (s *server) run() error {
	log.Printf("privchatd: listening on %s", s.cfg.Gateway.ListenAddr)
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// shutdown drains the gateway's HTTP listener and closes every owned
// resource, mirroring the teacher's own "stop accepting, then tear down
// dependents" ordering in server/shutdown.go.
func (s *server) shutdown(ctx context.Context) {
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		log.Printf("privchatd: http shutdown: %v", err)
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			log.Printf("privchatd: redis close: %v", err)
		}
	}
	if err := s.store.Close(); err != nil {
		log.Printf("privchatd: postgres close: %v", err)
	}
}

// offlineAdapter adapts *offlinequeue.Queue (which returns richer errors
// and supports batch fan-out) to message.OfflineQueue's narrower
// single-recipient contract. A nil Queue (no Redis configured) makes
// Enqueue a no-op, so the pipeline still runs without an offline tier.
type offlineAdapter struct{ q *offlinequeue.Queue }

func (a offlineAdapter) Enqueue(ctx context.Context, userID uint64, packet []byte) error {
	if a.q == nil {
		return nil
	}
	return a.q.Enqueue(ctx, userID, packet)
}

func (a offlineAdapter) RemoveMessageByID(ctx context.Context, userID, messageID uint64) error {
	if a.q == nil {
		return nil
	}
	return a.q.RemoveMessageByID(ctx, userID, messageID)
}

// deviceLookup adapts store.DeviceRepository to pushplanner.DeviceLookup,
// resolving only devices that are still in an active session and, when
// connReg is set, have no connection registered in it.
type deviceLookup struct {
	devices store.DeviceRepository
	connReg *conn.Registry
}

func (d deviceLookup) PushEligibleDevices(ctx context.Context, userID uint64) ([]pushplanner.DeviceTarget, error) {
	devices, err := d.devices.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	var out []pushplanner.DeviceTarget
	for _, dev := range devices {
		if dev.SessionState != store.SessionActive {
			continue
		}
		if d.connReg != nil {
			if _, connected := d.connReg.GetSessionsForDevice(userID, dev.DeviceID); connected {
				continue
			}
		}
		provider := "fcm"
		if dev.DeviceType == store.DeviceIOS {
			provider = "apns"
		}
		out = append(out, pushplanner.DeviceTarget{DeviceID: dev.DeviceID, ProviderName: provider})
	}
	return out, nil
}

// relayCommitsToPlanner subscribes the push planner to the event bus: a
// commit plans a push per eligible device, a realtime delivery cancels
// that device's intent (message.Pipeline's fan-out already reached it),
// and a revoke cancels every intent still pending for the message.
func relayCommitsToPlanner(bus *eventbus.Bus, planner *pushplanner.Planner) {
	ch := bus.Subscribe("push-planner")
	for evt := range ch {
		switch evt.Type {
		case eventbus.EventMessageCommitted:
			planner.Plan(context.Background(), evt, pushplanner.ProviderPayload{
				Title: "New message",
				Body:  "$content",
				Data:  map[string]string{"channel_id": strconv.FormatUint(evt.ChannelID, 10)},
			})
		case eventbus.EventMessageDelivered:
			planner.Cancel(evt.MessageID, evt.DeviceID)
		case eventbus.EventMessageRevoked:
			planner.CancelMessage(evt.MessageID)
		}
	}
}

func pingHandler() func(context.Context, *gateway.Session, wire.PingRequest) wire.PongResponse {
	return func(ctx context.Context, sess *gateway.Session, req wire.PingRequest) wire.PongResponse {
		return wire.PongResponse{Timestamp: time.Now().Unix()}
	}
}

func disconnectHandler(sessions *session.Registry, connReg *conn.Registry) func(context.Context, *gateway.Session, wire.DisconnectRequest) wire.DisconnectResponse {
	return func(ctx context.Context, sess *gateway.Session, req wire.DisconnectRequest) wire.DisconnectResponse {
		if _, _, ok := connReg.Unregister(sess.ID); ok {
			metrics.LiveSessions.Add(-1)
		}
		sessions.Unbind(sess.ID)
		return wire.DisconnectResponse{Ack: true}
	}
}

func subscribeHandler(channels *channel.Service) func(context.Context, *gateway.Session, wire.SubscribeRequest) wire.SubscribeResponse {
	return func(ctx context.Context, sess *gateway.Session, req wire.SubscribeRequest) wire.SubscribeResponse {
		var ok []uint64
		for _, chID := range req.ChannelIDs {
			if _, isMember, err := channels.IsParticipant(ctx, chID, sess.UserID); err == nil && isMember {
				ok = append(ok, chID)
			}
		}
		return wire.SubscribeResponse{Subscribed: ok}
	}
}

func sendMessageHandler(pipeline *message.Pipeline) func(context.Context, *gateway.Session, wire.SendMessageRequest) wire.SendMessageResponse {
	return func(ctx context.Context, sess *gateway.Session, req wire.SendMessageRequest) wire.SendMessageResponse {
		return pipeline.SendMessage(ctx, req)
	}
}
