// Package telemetry publishes rehearsal analytics over MQTT: session starts,
// manual skips and stops, and analysis outcomes. The publisher is optional;
// a nil *Publisher is safe to call and does nothing.
package telemetry

import (
	"encoding/json"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// Options configure the MQTT publisher.
type Options struct {
	BrokerURL string
	ClientID  string
	Topic     string
	Username  string
	Password  string
	Log       zerolog.Logger
}

// Publisher sends fire-and-forget telemetry messages at QoS 0.
type Publisher struct {
	conn      mqtt.Client
	topic     string
	connected atomic.Bool
	log       zerolog.Logger
}

// Connect dials the broker. Returns an error only when the initial connect
// fails outright; subsequent drops auto-reconnect.
func Connect(opts Options) (*Publisher, error) {
	p := &Publisher{
		topic: opts.Topic,
		log:   opts.Log.With().Str("component", "telemetry").Logger(),
	}

	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(false).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(p.onConnectionLost)

	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		clientOpts.SetPassword(opts.Password)
	}

	p.conn = mqtt.NewClient(clientOpts)
	token := p.conn.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, err
	}

	return p, nil
}

// Message is the telemetry payload shape on the wire.
type Message struct {
	Event      string         `json:"event"`
	SessionID  string         `json:"session_id,omitempty"`
	QuestionID string         `json:"question_id,omitempty"`
	Timestamp  string         `json:"timestamp"`
	Fields     map[string]any `json:"fields,omitempty"`
}

// Publish sends one telemetry message. Nil receivers and disconnected
// publishers drop the message silently.
func (p *Publisher) Publish(event, sessionID, questionID string, fields map[string]any) {
	if p == nil || !p.connected.Load() {
		return
	}
	msg := Message{
		Event:      event,
		SessionID:  sessionID,
		QuestionID: questionID,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Fields:     fields,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	p.conn.Publish(p.topic, 0, false, payload)
}

// IsConnected reports broker connectivity.
func (p *Publisher) IsConnected() bool {
	return p != nil && p.connected.Load()
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	if p == nil {
		return
	}
	p.log.Info().Msg("disconnecting telemetry publisher")
	p.conn.Disconnect(1000)
}

func (p *Publisher) onConnect(mqtt.Client) {
	p.connected.Store(true)
	p.log.Info().Str("topic", p.topic).Msg("mqtt connected")
}

func (p *Publisher) onConnectionLost(_ mqtt.Client, err error) {
	p.connected.Store(false)
	p.log.Warn().Err(err).Msg("mqtt connection lost, will auto-reconnect")
}
