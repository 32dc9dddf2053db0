package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/centrifugal/centrifuge"

	"github.com/pscheid92/fanout/internal/app"
	"github.com/pscheid92/fanout/internal/domain"
	"github.com/pscheid92/fanout/internal/metrics"
	"github.com/pscheid92/fanout/internal/platform/correlation"
)

const personalChannelPrefix = "conn:"

var errNoSubscriber = errors.New("no subscriber on personal channel")

// connectData is the payload a centrifuge client sends with its connect command.
type connectData struct {
	Admin    string `json:"admin"`
	AppName  string `json:"appname"`
	Password string `json:"password"`
}

// NodeLifecycle is the part of app.Lifecycle the centrifuge node drives. The
// login is checked while connecting, but the record is only stored once the
// client sits on its personal channel, so a broadcast never sees a record
// whose channel has no subscriber yet.
type NodeLifecycle interface {
	Authorize(ctx context.Context, req app.ConnectRequest) (domain.ConnectionRecord, error)
	Register(ctx context.Context, record domain.ConnectionRecord) (*domain.ConnectionRecord, error)
	Disconnect(ctx context.Context, key domain.ConnectionKey) error
}

// NewNode creates a centrifuge node whose clients are registered through
// lifecycle. Every client is subscribed server-side to its personal channel.
func NewNode(lifecycle NodeLifecycle, logLevel string) (*centrifuge.Node, error) {
	conf := centrifuge.Config{LogLevel: parseCentrifugeLogLevel(logLevel), LogHandler: slogHandler}
	node, err := centrifuge.New(conf)
	if err != nil {
		return nil, fmt.Errorf("create centrifuge node: %w", err)
	}

	node.OnConnecting(onConnecting(lifecycle))
	node.OnConnect(onConnect(lifecycle))

	return node, nil
}

func onConnecting(lifecycle NodeLifecycle) func(ctx context.Context, e centrifuge.ConnectEvent) (centrifuge.ConnectReply, error) {
	return func(ctx context.Context, e centrifuge.ConnectEvent) (centrifuge.ConnectReply, error) {
		login, err := loginFromConnectData(e.Data)
		if err != nil {
			slog.WarnContext(ctx, "Malformed connect data", "client_id", e.ClientID, "error", err)
			return centrifuge.ConnectReply{}, centrifuge.DisconnectBadRequest
		}

		record, err := lifecycle.Authorize(ctx, app.ConnectRequest{ConnectionID: e.ClientID, Tenant: login})
		if err != nil {
			metrics.WebSocketConnectionsRejected.WithLabelValues("connect_failed").Inc()
			slog.WarnContext(ctx, "Centrifuge connect rejected", "client_id", e.ClientID, "error", err)
			if app.IsAuthFailure(err) {
				return centrifuge.ConnectReply{}, centrifuge.ErrorUnauthorized
			}
			return centrifuge.ConnectReply{}, centrifuge.ErrorInternal
		}

		reply := centrifuge.ConnectReply{
			Credentials: &centrifuge.Credentials{UserID: record.TenantKey},
			Subscriptions: map[string]centrifuge.SubscribeOptions{
				personalChannelPrefix + record.ConnectionID: {
					EmitPresence: true,
				},
			},
		}
		return reply, nil
	}
}

// onConnect runs after the personal subscription is in place and stores the
// record. A client whose record cannot be stored is disconnected.
func onConnect(lifecycle NodeLifecycle) func(client *centrifuge.Client) {
	return func(client *centrifuge.Client) {
		key := domain.ConnectionKey{Tenant: client.UserID(), ID: client.ID()}
		ctx := correlation.Detach(client.Context())

		if err := registerClient(ctx, lifecycle, key); err != nil {
			metrics.WebSocketConnectionsRejected.WithLabelValues("connect_failed").Inc()
			slog.WarnContext(ctx, "Centrifuge connect not registered", "client_id", key.ID, "error", err)
			client.Disconnect(centrifuge.DisconnectServerError)
			return
		}

		slog.Debug("Client connected", "client_id", key.ID, "tenant", key.Tenant)
		metrics.WebSocketConnectionsCurrent.Inc()

		client.OnDisconnect(func(e centrifuge.DisconnectEvent) {
			metrics.WebSocketConnectionsCurrent.Dec()

			ctx, cancel := context.WithTimeout(ctx, lifecycleTimeout)
			defer cancel()

			if err := lifecycle.Disconnect(ctx, key); err != nil {
				slog.Warn("Failed to remove connection record", "client_id", key.ID, "error", err)
				return
			}
			slog.Debug("Client disconnected", "client_id", key.ID, "reason", e.Reason)
		})
	}
}

func registerClient(ctx context.Context, lifecycle NodeLifecycle, key domain.ConnectionKey) error {
	ctx, cancel := context.WithTimeout(ctx, lifecycleTimeout)
	defer cancel()

	_, err := lifecycle.Register(ctx, domain.ConnectionRecord{ConnectionID: key.ID, TenantKey: key.Tenant})
	return err
}

func loginFromConnectData(data []byte) (*domain.TenantLogin, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var cd connectData
	if err := json.Unmarshal(data, &cd); err != nil {
		return nil, fmt.Errorf("decode connect data: %w", err)
	}
	if cd.Admin == "" {
		return nil, nil
	}
	return &domain.TenantLogin{Admin: cd.Admin, AppName: cd.AppName, Password: cd.Password}, nil
}

// SetupRedis moves the node's broker and presence manager to Redis so
// deliveries reach clients connected to other instances.
func SetupRedis(node *centrifuge.Node, redisAddr string) error {
	shardConfig := centrifuge.RedisShardConfig{Address: redisAddr}
	shard, err := centrifuge.NewRedisShard(node, shardConfig)
	if err != nil {
		return fmt.Errorf("create redis shard: %w", err)
	}

	brokerConfig := centrifuge.RedisBrokerConfig{Prefix: "fanout", Shards: []*centrifuge.RedisShard{shard}}
	broker, err := centrifuge.NewRedisBroker(node, brokerConfig)
	if err != nil {
		return fmt.Errorf("create redis broker: %w", err)
	}
	node.SetBroker(broker)

	pmConfig := centrifuge.RedisPresenceManagerConfig{Prefix: "fanout", Shards: []*centrifuge.RedisShard{shard}}
	presenceManager, err := centrifuge.NewRedisPresenceManager(node, pmConfig)
	if err != nil {
		return fmt.Errorf("create redis presence manager: %w", err)
	}
	node.SetPresenceManager(presenceManager)

	return nil
}

// NodeSender delivers payloads by publishing to a client's personal channel.
type NodeSender struct {
	node *centrifuge.Node
}

var _ domain.Sender = (*NodeSender)(nil)

func NewNodeSender(node *centrifuge.Node) *NodeSender {
	return &NodeSender{node: node}
}

func (s *NodeSender) Deliver(ctx context.Context, connectionID string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return domain.OtherError(connectionID, err)
	}

	channel := personalChannelPrefix + connectionID
	stats, err := s.node.PresenceStats(channel)
	if err != nil {
		return domain.OtherError(connectionID, fmt.Errorf("presence stats %s: %w", channel, err))
	}
	if stats.NumClients == 0 {
		return domain.GoneError(connectionID, errNoSubscriber)
	}

	if _, err := s.node.Publish(channel, payload); err != nil {
		return domain.OtherError(connectionID, fmt.Errorf("publish to channel %s: %w", channel, err))
	}
	return nil
}

func slogHandler(entry centrifuge.LogEntry) {
	attrs := make([]any, 0, len(entry.Fields)*2)
	for k, v := range entry.Fields {
		attrs = append(attrs, k, v)
	}
	switch entry.Level {
	case centrifuge.LogLevelDebug, centrifuge.LogLevelTrace:
		slog.Debug(entry.Message, attrs...)
	case centrifuge.LogLevelInfo:
		slog.Info(entry.Message, attrs...)
	case centrifuge.LogLevelWarn:
		slog.Warn(entry.Message, attrs...)
	case centrifuge.LogLevelError:
		slog.Error(entry.Message, attrs...)
	case centrifuge.LogLevelNone:
		// EMPTY
	}
}

func parseCentrifugeLogLevel(level string) centrifuge.LogLevel {
	switch level {
	case "debug":
		return centrifuge.LogLevelDebug
	case "warn":
		return centrifuge.LogLevelWarn
	case "error":
		return centrifuge.LogLevelError
	default:
		return centrifuge.LogLevelInfo
	}
}
