package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"croprec/pipeline"
	"croprec/recommend"
)

// Default topics. {device_id} in the reply topic is replaced per message.
const (
	DefaultReadingsTopic = "crop/+/readings"
	DefaultReplyTopic    = "crop/{device_id}/recommendation"
)

// Recommender is the part of recommend.Service the bridge needs.
type Recommender interface {
	Recommend(ctx context.Context, r pipeline.Readings, source string) (*recommend.Recommendation, error)
}

type BridgeConfig struct {
	ReadingsTopic string
	ReplyTopic    string
	QoS           byte
	Timeout       time.Duration
}

// Reply is published back to the device for every readings message.
type Reply struct {
	DeviceID       string                    `json:"device_id"`
	Recommendation *recommend.Recommendation `json:"recommendation,omitempty"`
	Error          string                    `json:"error,omitempty"`
	Fields         []pipeline.FieldError     `json:"fields,omitempty"`
}

// Bridge subscribes to sensor readings and answers each message with a
// recommendation.
type Bridge struct {
	client      mqtt.Client
	config      BridgeConfig
	recommender Recommender
	fields      []pipeline.FieldSpec
	logger      *zap.Logger
}

func NewBridge(client mqtt.Client, config BridgeConfig, rec Recommender, fields []pipeline.FieldSpec, logger *zap.Logger) *Bridge {
	if config.ReadingsTopic == "" {
		config.ReadingsTopic = DefaultReadingsTopic
	}
	if config.ReplyTopic == "" {
		config.ReplyTopic = DefaultReplyTopic
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	if fields == nil {
		fields = pipeline.DefaultFields()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{client: client, config: config, recommender: rec, fields: fields, logger: logger}
}

// Start subscribes to the readings topic.
func (b *Bridge) Start() error {
	token := b.client.Subscribe(b.config.ReadingsTopic, b.config.QoS, b.onMessage)
	if !token.WaitTimeout(b.config.Timeout) {
		return fmt.Errorf("subscribe %s: timed out", b.config.ReadingsTopic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.config.ReadingsTopic, err)
	}
	b.logger.Info("mqtt bridge subscribed", zap.String("topic", b.config.ReadingsTopic))
	return nil
}

func (b *Bridge) Stop() error {
	token := b.client.Unsubscribe(b.config.ReadingsTopic)
	if token.WaitTimeout(b.config.Timeout) {
		return token.Error()
	}
	return fmt.Errorf("unsubscribe %s: timed out", b.config.ReadingsTopic)
}

func (b *Bridge) onMessage(_ mqtt.Client, msg mqtt.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), b.config.Timeout)
	defer cancel()

	topic, reply, err := b.Handle(ctx, msg.Topic(), msg.Payload())
	if err != nil {
		b.logger.Warn("dropping sensor message", zap.String("topic", msg.Topic()), zap.Error(err))
		return
	}
	token := b.client.Publish(topic, b.config.QoS, false, reply)
	if !token.WaitTimeout(b.config.Timeout) {
		b.logger.Warn("publish recommendation timed out", zap.String("topic", topic))
		return
	}
	if err := token.Error(); err != nil {
		b.logger.Warn("publish recommendation failed", zap.String("topic", topic), zap.Error(err))
	}
}

// Handle turns one readings payload into the reply topic and body. An error
// means the message cannot be answered at all because no device id is known.
func (b *Bridge) Handle(ctx context.Context, topic string, payload []byte) (string, []byte, error) {
	var raw map[string]any
	decodeErr := json.Unmarshal(payload, &raw)

	deviceID, _ := raw["device_id"].(string)
	if deviceID == "" {
		deviceID = deviceFromTopic(topic)
	}
	if deviceID == "" {
		return "", nil, fmt.Errorf("no device id in topic %q or payload", topic)
	}

	reply := Reply{DeviceID: deviceID}
	if decodeErr != nil {
		reply.Error = "payload is not a JSON object"
	} else if r, err := b.readings(raw); err != nil {
		b.fail(&reply, err)
	} else if rec, err := b.recommender.Recommend(ctx, r, recommend.SourceMQTT); err != nil {
		b.fail(&reply, err)
	} else {
		reply.Recommendation = rec
	}

	body, err := json.Marshal(reply)
	if err != nil {
		return "", nil, fmt.Errorf("marshal reply: %w", err)
	}
	return strings.ReplaceAll(b.config.ReplyTopic, "{device_id}", deviceID), body, nil
}

func (b *Bridge) readings(raw map[string]any) (pipeline.Readings, error) {
	values := make(map[string]float64, len(raw))
	var bad []pipeline.FieldError
	for key, v := range raw {
		if key == "device_id" {
			continue
		}
		n, ok := v.(float64)
		if !ok {
			bad = append(bad, pipeline.FieldError{Field: key, Message: "must be a number"})
			continue
		}
		values[key] = n
	}
	if len(bad) > 0 {
		return pipeline.Readings{}, &pipeline.ValidationError{Fields: bad}
	}
	return pipeline.ReadingsFromValues(values, b.fields)
}

func (b *Bridge) fail(reply *Reply, err error) {
	var verr *pipeline.ValidationError
	if errors.As(err, &verr) {
		reply.Fields = verr.Fields
	}
	switch {
	case errors.Is(err, pipeline.ErrArtifactLoad):
		reply.Error = "recommendations are unavailable: model artifacts failed to load"
	default:
		reply.Error = err.Error()
	}
}

// deviceFromTopic extracts the device segment of crop/{device_id}/readings.
func deviceFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) >= 3 {
		return parts[1]
	}
	return ""
}
