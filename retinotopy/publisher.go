package retinotopy

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// StageEvent is the payload published for each completed pipeline stage.
type StageEvent struct {
	Subject   string `json:"subject"`
	Stage     string `json:"stage"`
	Detail    int    `json:"detail,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// RunSummary is published once at the end of a registration run.
type RunSummary struct {
	Subject       string  `json:"subject"`
	Registration  string  `json:"registration"`
	Anchors       int     `json:"anchors"`
	Steps         int     `json:"steps"`
	InitialEnergy float64 `json:"initialEnergy"`
	FinalEnergy   float64 `json:"finalEnergy"`
	Converged     bool    `json:"converged"`
	Timestamp     int64   `json:"timestamp"`
}

// ProgressPublisher publishes pipeline progress to MQTT. A nil publisher or a
// nil client disables publishing, so callers never need to guard their calls.
type ProgressPublisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte
	retain        bool
}

// NewProgressPublisher creates a progress publisher.
// If client is nil, publishing is disabled (for testing and offline runs).
func NewProgressPublisher(client mqtt.Client, prefix string) *ProgressPublisher {
	if prefix == "" {
		prefix = os.Getenv("MQTT_PUBLISH_PREFIX")
	}
	if prefix == "" {
		prefix = "retinotopy"
	}
	return &ProgressPublisher{
		client:        client,
		publishPrefix: prefix,
		qos:           0,    // fire and forget for progress events
		retain:        true, // retain the latest stage per subject
	}
}

// PublishStage publishes a stage-completion event to
// {prefix}/{subject}/stage.
func (p *ProgressPublisher) PublishStage(subject string, stage Stage, detail int) {
	if p == nil || p.client == nil || !p.client.IsConnected() {
		return
	}
	event := StageEvent{
		Subject:   subject,
		Stage:     stage.String(),
		Detail:    detail,
		Timestamp: time.Now().Unix(),
	}
	if err := p.publish(fmt.Sprintf("%s/%s/stage", p.publishPrefix, subject), event); err != nil {
		log.Printf("Error publishing stage event for %s: %v", subject, err)
	}
}

// PublishResult publishes the run summary to {prefix}/{subject}/result.
func (p *ProgressPublisher) PublishResult(subject, registrationName string, result *RegisterResult) {
	if p == nil || p.client == nil || !p.client.IsConnected() {
		return
	}
	summary := RunSummary{
		Subject:       subject,
		Registration:  registrationName,
		Anchors:       result.Anchors.Len(),
		Steps:         result.Minimize.Steps,
		InitialEnergy: result.Minimize.InitialEnergy,
		FinalEnergy:   result.Minimize.FinalEnergy,
		Converged:     result.Minimize.Converged,
		Timestamp:     time.Now().Unix(),
	}
	if err := p.publish(fmt.Sprintf("%s/%s/result", p.publishPrefix, subject), summary); err != nil {
		log.Printf("Error publishing run summary for %s: %v", subject, err)
	}
}

func (p *ProgressPublisher) publish(topic string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}

// NewMQTTClient builds and connects an MQTT client from config. Environment
// variables override config fields. Returns nil with no error when no broker
// is configured, which disables progress publishing.
func NewMQTTClient(cfg MQTTConfig) (mqtt.Client, error) {
	broker := os.Getenv("MQTT_BROKER")
	if broker == "" {
		broker = cfg.Broker
	}
	if broker == "" {
		log.Println("MQTT disabled: no broker configured")
		return nil, nil
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)

	clientID := os.Getenv("MQTT_CLIENT_ID")
	if clientID == "" {
		clientID = cfg.ClientID
	}
	if clientID == "" {
		clientID = "retinotopy"
	}
	opts.SetClientID(clientID)

	username := os.Getenv("MQTT_USERNAME")
	if username == "" {
		username = cfg.Username
	}
	if username != "" {
		opts.SetUsername(username)
		password := os.Getenv("MQTT_PASSWORD")
		if password == "" {
			password = cfg.Password
		}
		opts.SetPassword(password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("MQTT connection timeout to %s", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connecting to MQTT broker %s: %w", broker, err)
	}
	log.Printf("Connected to MQTT broker %s", broker)
	return client, nil
}
