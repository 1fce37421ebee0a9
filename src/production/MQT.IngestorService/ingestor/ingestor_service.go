package mqtingestor

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	config "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Config"
	mqterrors "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Errors"
	ingestion "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Ingestor"
	logger "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Logger"
	mqtmodels "gitlab.com/maplesense1/mpt.telemetry_server/src/production/MQT.Models"
)

// State of the listener connection
type State int32

const (
	StateStopped State = iota
	StateConnecting
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	}
	return "stopped"
}

// MessageProcessor turns one raw payload into a stored reading
type MessageProcessor interface {
	Process(ctx context.Context, source ingestion.Source, payload []byte) (*mqtmodels.TelemetryReading, error)
}

// ClientFactory builds the paho client. Tests replace it with a fake.
type ClientFactory func(opts *mqtt.ClientOptions) mqtt.Client

const (
	minReconnectDelay = 1 * time.Second
	maxReconnectDelay = 60 * time.Second
	disconnectQuiesce = 250 // ms
	publishTimeout    = 2 * time.Second
)

type inbound struct {
	topic   string
	payload []byte
}

// session is one Start/Stop cycle. wg covers the worker and the connect loop.
type session struct {
	client mqtt.Client
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Ingestor subscribes to the telemetry topic and feeds each message, in
// arrival order, to the processor on a single worker goroutine.
type Ingestor struct {
	cfg       config.MQTTConfig
	brokerURL string
	processor MessageProcessor
	logger    *logger.Logger
	newClient ClientFactory

	// backoff between failed initial connect attempts
	retryDelay    time.Duration
	maxRetryDelay time.Duration

	mu      sync.Mutex
	session *session
	state   atomic.Int32
}

func New(cfg *config.Config, processor MessageProcessor, log *logger.Logger) *Ingestor {
	brokerURL := ""
	if cfg.MQTTActive() {
		brokerURL = cfg.GetMQTTBrokerURL()
	}
	return &Ingestor{
		cfg:       cfg.MQTT,
		brokerURL: brokerURL,
		processor: processor,
		logger:    log.WithComponent("mqtt-ingestor"),
		newClient: mqtt.NewClient,

		retryDelay:    minReconnectDelay,
		maxRetryDelay: maxReconnectDelay,
	}
}

// WithClientFactory replaces the paho client constructor
func (i *Ingestor) WithClientFactory(f ClientFactory) *Ingestor {
	i.newClient = f
	return i
}

// State returns the current connection state
func (i *Ingestor) State() State {
	return State(i.state.Load())
}

func (i *Ingestor) IsConnected() bool {
	return i.State() == StateConnected
}

// Running reports whether Start has been called without a matching Stop
func (i *Ingestor) Running() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.session != nil
}

// setSessionState applies st only while s is the attached session, so
// callbacks of a stopped session cannot overwrite StateStopped
func (i *Ingestor) setSessionState(s *session, st State) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.session != s {
		return false
	}
	i.setState(st)
	return true
}

func (i *Ingestor) setState(s State) {
	old := State(i.state.Swap(int32(s)))
	if old != s {
		i.logger.Logger.Debug().Str("from", old.String()).Str("to", s.String()).Msg("MQTT state change")
	}
}

// Start connects asynchronously and returns. It does nothing when MQTT is
// disabled, no broker is configured, or the listener is already running.
func (i *Ingestor) Start() error {
	if !i.cfg.Enabled {
		i.logger.Info("MQTT ingestion disabled via settings")
		return nil
	}
	if i.brokerURL == "" {
		i.logger.Warn("No MQTT broker configured; ingestion skipped")
		return nil
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if i.session != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	msgCh := make(chan inbound, i.cfg.QueueSize)
	s := &session{cancel: cancel}

	opts, err := i.clientOptions(ctx, s, msgCh)
	if err != nil {
		cancel()
		return err
	}

	s.client = i.newClient(opts)
	i.session = s
	i.setState(StateConnecting)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		i.worker(ctx, msgCh)
	}()
	go func() {
		defer s.wg.Done()
		i.connectLoop(ctx, s)
	}()

	i.logger.Logger.Info().
		Str("broker", i.brokerURL).
		Str("topic", i.cfg.Topic).
		Str("client_id", opts.ClientID).
		Msg("MQTT ingest connecting")
	return nil
}

// Stop disconnects and waits for the worker to exit. Safe to call repeatedly
// or before Start; Start may be called again afterwards.
func (i *Ingestor) Stop() {
	i.mu.Lock()
	s := i.session
	i.session = nil
	i.mu.Unlock()

	if s == nil {
		i.setState(StateStopped)
		return
	}

	s.client.Disconnect(disconnectQuiesce)
	s.cancel()
	s.wg.Wait()
	i.setState(StateStopped)
	i.logger.Info("MQTT ingest stopped")
}

// connectLoop makes the first connection, doubling the delay between failed
// attempts up to maxRetryDelay. Once connected, paho's auto reconnect applies
// the same bounds.
func (i *Ingestor) connectLoop(ctx context.Context, s *session) {
	delay := i.retryDelay
	for attempt := 1; ; attempt++ {
		token := s.client.Connect()
		select {
		case <-token.Done():
		case <-ctx.Done():
			return
		}
		err := token.Error()
		if err == nil {
			return
		}
		if !i.setSessionState(s, StateDisconnected) {
			return
		}
		i.logger.Logger.Error().Err(err).
			Str("broker", i.brokerURL).
			Int("attempt", attempt).
			Dur("retry_in", delay).
			Msg("MQTT connect failed")

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}
		if !i.setSessionState(s, StateConnecting) {
			return
		}
		delay = nextRetryDelay(delay, i.maxRetryDelay)
	}
}

func nextRetryDelay(d, limit time.Duration) time.Duration {
	d *= 2
	if d > limit {
		return limit
	}
	return d
}

func (i *Ingestor) clientOptions(ctx context.Context, s *session, msgCh chan<- inbound) (*mqtt.ClientOptions, error) {
	clientID := i.cfg.ClientID
	if clientID == "" {
		clientID = "telemetry-ingestor-" + uuid.NewString()[:8]
	}

	opts := mqtt.NewClientOptions().
		AddBroker(i.brokerURL).
		SetClientID(clientID).
		SetOrderMatters(true).
		SetKeepAlive(i.cfg.KeepAlive).
		SetPingTimeout(i.cfg.PingTimeout).
		SetAutoReconnect(true).
		// the initial connect is retried by connectLoop
		SetConnectRetry(false).
		SetMaxReconnectInterval(maxReconnectDelay).
		// a generated client id cannot resume a session
		SetCleanSession(i.cfg.ClientID == "")

	if i.cfg.BrokerUser != "" {
		opts.SetUsername(i.cfg.BrokerUser)
		opts.SetPassword(i.cfg.BrokerPass)
	}

	if i.cfg.UseTLS {
		tlsCfg, err := tlsConfig(i.cfg.CACertPath)
		if err != nil {
			return nil, fmt.Errorf("mqtt tls: %w", err)
		}
		opts.SetTLSConfig(tlsCfg)
	}

	onMessage := func(_ mqtt.Client, m mqtt.Message) {
		payload := make([]byte, len(m.Payload()))
		copy(payload, m.Payload())
		select {
		case msgCh <- inbound{topic: m.Topic(), payload: payload}:
		case <-ctx.Done():
		}
	}

	opts.OnConnect = func(c mqtt.Client) {
		if !i.setSessionState(s, StateConnected) {
			// connected after Stop
			c.Disconnect(disconnectQuiesce)
			return
		}
		topic := i.subscriptionTopic()
		i.logger.Logger.Info().Str("topic", topic).Msg("MQTT connected, subscribing to topic")
		if token := c.Subscribe(topic, i.cfg.QoS, onMessage); token.Wait() && token.Error() != nil {
			i.logger.Logger.Error().Err(token.Error()).Str("topic", topic).Msg("Failed to subscribe to MQTT topic")
		}
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		if !i.setSessionState(s, StateDisconnected) {
			return
		}
		i.logger.Logger.Warn().Err(err).Msg("MQTT connection lost")
	}
	opts.OnReconnecting = func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		if !i.setSessionState(s, StateConnecting) {
			return
		}
		i.logger.Info("MQTT reconnecting")
	}

	return opts, nil
}

func (i *Ingestor) subscriptionTopic() string {
	if i.cfg.SharedGroup != "" {
		return fmt.Sprintf("$share/%s/%s", i.cfg.SharedGroup, i.cfg.Topic)
	}
	return i.cfg.Topic
}

func (i *Ingestor) worker(ctx context.Context, msgCh <-chan inbound) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-msgCh:
			i.handle(m)
		}
	}
}

// handle processes one message to completion. Nothing escapes it.
func (i *Ingestor) handle(m inbound) {
	defer func() {
		if r := recover(); r != nil {
			i.logger.Logger.Error().Interface("panic", r).Str("topic", m.topic).Msg("Recovered from panic while handling MQTT message")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), i.cfg.MessageTimeout)
	defer cancel()

	reading, err := i.processor.Process(ctx, ingestion.SourceMQTT, m.payload)
	if err != nil {
		i.logger.Logger.Warn().Err(err).Str("topic", m.topic).Msg("MQTT message rejected")
		var failure *mqterrors.IngestFailure
		if errors.As(err, &failure) {
			i.publishError(failure)
		}
		return
	}
	i.logger.Logger.Debug().Str("topic", m.topic).Str("device_id", reading.DeviceID).Int64("ts", reading.Ts).Msg("MQTT reading stored")
}

func (i *Ingestor) currentClient() mqtt.Client {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.session == nil {
		return nil
	}
	return i.session.client
}

// publishError reports a rejected message on <error topic>/<device id> for device feedback
func (i *Ingestor) publishError(failure *mqterrors.IngestFailure) {
	if i.cfg.ErrorTopic == "" {
		return
	}
	c := i.currentClient()
	if c == nil || !c.IsConnected() {
		return
	}

	deviceID := "unknown"
	if failure.DeviceID != nil {
		deviceID = *failure.DeviceID
	}

	payloadJSON, err := json.Marshal(map[string]interface{}{
		"reason":   failure.Reason,
		"deviceId": failure.DeviceID,
		"ts":       time.Now().UTC().Unix(),
	})
	if err != nil {
		i.logger.Logger.Error().Err(err).Msg("Failed to marshal error payload")
		return
	}

	errorTopic := fmt.Sprintf("%s/%s", i.cfg.ErrorTopic, deviceID)
	token := c.Publish(errorTopic, i.cfg.QoS, false, payloadJSON)
	if !token.WaitTimeout(publishTimeout) {
		i.logger.Logger.Warn().Str("topic", errorTopic).Msg("Timed out publishing ingest error")
		return
	}
	if token.Error() != nil {
		i.logger.Logger.Error().Err(token.Error()).Str("topic", errorTopic).Msg("Failed to publish ingest error")
	}
}

func tlsConfig(caFile string) (*tls.Config, error) {
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
		return nil, fmt.Errorf("bad CA file %s", caFile)
	}
	cfg.RootCAs = cp
	return cfg, nil
}
