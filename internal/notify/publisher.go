// Package notify announces finished scans on a Redis pub/sub channel.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/bl4ck0w1/scorelynx/internal/evaluation"
	"github.com/bl4ck0w1/scorelynx/pkg/models"
)

// Message is the JSON payload published for every terminal scan.
type Message struct {
	ScanID       string     `json:"scan_id"`
	SiteURL      string     `json:"site_url"`
	Status       string     `json:"status"`
	Start        time.Time  `json:"start"`
	End          *time.Time `json:"end,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	Rating       string     `json:"rating,omitempty"`
}

// publisher is the part of a Redis client used here.
type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

type Publisher struct {
	client    publisher
	channel   string
	evaluator *evaluation.Evaluator
	logger    *logrus.Logger
}

// NewPublisher publishes to channel. With an evaluator, finished scans carry
// their overall rating.
func NewPublisher(client publisher, channel string, evaluator *evaluation.Evaluator, logger *logrus.Logger) *Publisher {
	if logger == nil {
		logger = logrus.New()
	}
	return &Publisher{client: client, channel: channel, evaluator: evaluator, logger: logger}
}

func (p *Publisher) message(scan *models.Scan) Message {
	msg := Message{
		ScanID:       scan.ID,
		SiteURL:      scan.SiteURL,
		Status:       scan.Status(),
		Start:        scan.Start,
		End:          scan.End,
		ErrorMessage: scan.ErrorMessage,
	}
	if p.evaluator != nil && !scan.Aborted && scan.Result != nil {
		eval, _ := p.evaluator.Evaluate(scan.Result)
		if eval.Rateable {
			msg.Rating = eval.Rating().Level.String()
		} else {
			msg.Rating = "unrateable"
		}
	}
	return msg
}

// ScanFinished publishes the scan. The number of receiving subscribers is
// only logged.
func (p *Publisher) ScanFinished(ctx context.Context, scan *models.Scan) error {
	payload, err := json.Marshal(p.message(scan))
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}
	receivers, err := p.client.Publish(ctx, p.channel, payload).Result()
	if err != nil {
		return fmt.Errorf("failed to publish scan %s: %w", scan.ID, err)
	}
	p.logger.Debugf("Scan %s announced on %s to %d subscribers", scan.ID, p.channel, receivers)
	return nil
}

// Subscribe delivers decoded messages until ctx is done. Undecodable
// payloads are logged and skipped.
func Subscribe(ctx context.Context, client *redis.Client, channel string, logger *logrus.Logger, handle func(Message)) error {
	if logger == nil {
		logger = logrus.New()
	}
	sub := client.Subscribe(ctx, channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var msg Message
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				logger.Warnf("Ignoring malformed notification on %s: %v", channel, err)
				continue
			}
			handle(msg)
		}
	}
}
