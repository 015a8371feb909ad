package mqtlistener

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	config "gitlab.com/maplesense1/mpt.claim_agent/src/production/CLM.Config"
	logger "gitlab.com/maplesense1/mpt.claim_agent/src/production/CLM.Logger"
	clmmodels "gitlab.com/maplesense1/mpt.claim_agent/src/production/CLM.Models"
	api_models "gitlab.com/maplesense1/mpt.claim_agent/src/production/CLM.Models/api"
)

const (
	// publishTimeout bounds the QoS-1 audit publish; a half-open broker
	// connection must not park the caller.
	publishTimeout = 5 * time.Second

	// connectReportTimeout is how long the connect token is watched for a
	// permanent options-level failure before the background retry takes over.
	connectReportTimeout = 30 * time.Second
)

// RevokeHandler is the slice of the claim engine the listener dispatches to
type RevokeHandler interface {
	HandleRevokeMessage(token, reason string)
}

// Listener maintains the device's MQTT connection while claimed. It
// subscribes the per-device claim topic for revoke instructions and
// forwards audit entries, both using the committed broker credential.
// Unclaimed devices have no credential and therefore no connection.
type Listener struct {
	cfg    config.MQTTConfig
	engine RevokeHandler
	logger *logger.Logger

	mu     sync.Mutex
	cred   clmmodels.Credential
	client mqtt.Client
}

// New creates a listener; no connection is made until ApplyCredential
func New(cfg config.MQTTConfig, engine RevokeHandler, log *logger.Logger) *Listener {
	return &Listener{
		cfg:    cfg,
		engine: engine,
		logger: log.WithComponent("listener"),
	}
}

// ApplyCredential (re)connects with the given broker credential. Called
// at boot for an already-claimed device and after every claim commit.
func (l *Listener) ApplyCredential(cred clmmodels.Credential) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.client != nil && l.client.IsConnected() {
		l.client.Disconnect(500)
	}
	l.cred = cred

	opts := mqtt.NewClientOptions().
		AddBroker(cred.BrokerURL(l.cfg.UseTLS)).
		SetClientID(cred.BrokerClientID).
		SetUsername(cred.BrokerUsername).
		SetPassword(cred.BrokerPassword).
		SetOrderMatters(false).
		SetKeepAlive(l.cfg.KeepAlive).
		SetPingTimeout(l.cfg.PingTimeout).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(l.cfg.RetryInterval).
		SetCleanSession(false)

	if l.cfg.UseTLS {
		tlsCfg, err := l.tlsConfig(l.cfg.CACertPath)
		if err != nil {
			l.logger.ErrorWithError(err, "Bad broker TLS configuration, staying offline")
			return
		}
		opts.SetTLSConfig(tlsCfg)
	}

	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		// An auth failure here is NOT a revocation; only a verified
		// revoke token may clear the credential.
		l.logger.Logger.Error().Err(err).Msg("MQTT connection lost")
	}
	opts.OnConnect = func(c mqtt.Client) {
		topic := l.claimTopic()
		l.logger.Logger.Info().Str("topic", topic).Msg("MQTT connected, subscribing to claim topic")
		if token := c.Subscribe(topic, 1, l.onMessage); token.Wait() && token.Error() != nil {
			l.logger.Logger.Error().Err(token.Error()).Str("topic", topic).Msg("Failed to subscribe to claim topic")
		}
	}

	l.client = mqtt.NewClient(opts)
	// ConnectRetry keeps trying in the background; don't block the caller.
	// The token is still watched so an options-level failure is visible.
	tk := l.client.Connect()
	go func() {
		if tk.WaitTimeout(connectReportTimeout) && tk.Error() != nil {
			l.logger.ErrorWithError(tk.Error(), "Broker connect failed")
		}
	}()
}

// Drop disconnects and discards the credential. Called after a clear.
func (l *Listener) Drop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.client != nil && l.client.IsConnected() {
		l.client.Disconnect(500)
	}
	l.client = nil
	l.cred = clmmodels.Credential{}
	l.logger.Info("MQTT connection dropped after credential clear")
}

// IsConnected reports broker connectivity for the health surface
func (l *Listener) IsConnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.client != nil && l.client.IsConnected()
}

// ForwardAudit publishes an audit entry to the per-device audit topic.
// Best effort: callers treat any error as "retained locally only".
func (l *Listener) ForwardAudit(entry clmmodels.AuditEntry) error {
	l.mu.Lock()
	client := l.client
	topic := fmt.Sprintf("%s/%s/audit", l.cfg.TopicPrefix, l.cred.BrokerClientID)
	l.mu.Unlock()

	if client == nil || !client.IsConnected() {
		return fmt.Errorf("not connected to broker")
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}
	token := client.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("timed out publishing audit entry")
	}
	if token.Error() != nil {
		return fmt.Errorf("failed to publish audit entry: %w", token.Error())
	}
	return nil
}

func (l *Listener) claimTopic() string {
	return fmt.Sprintf("%s/%s/claim", l.cfg.TopicPrefix, l.cred.BrokerClientID)
}

func (l *Listener) onMessage(_ mqtt.Client, m mqtt.Message) {
	l.logger.Logger.Debug().Str("topic", m.Topic()).Msg("Received claim topic message")

	var msg api_models.RevokeMessage
	if err := json.Unmarshal(m.Payload(), &msg); err != nil {
		l.logger.WithError(err).Warn("Discarding malformed claim topic message")
		return
	}
	if msg.Action != api_models.RevokeAction {
		l.logger.Logger.Warn().Str("action", msg.Action).Msg("Ignoring unknown claim topic action")
		return
	}

	// The engine resolves the token through the verification callback;
	// a missing or stale token leaves the credential untouched.
	l.engine.HandleRevokeMessage(msg.Token, msg.Reason)
}

func (l *Listener) tlsConfig(caFile string) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if caFile == "" {
		return cfg, nil
	}
	ca, err := os.ReadFile(caFile)
	if err != nil {
		return nil, err
	}
	cp := x509.NewCertPool()
	if !cp.AppendCertsFromPEM(ca) {
		return nil, fmt.Errorf("bad CA file")
	}
	cfg.RootCAs = cp
	return cfg, nil
}
