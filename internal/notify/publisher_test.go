package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/bl4ck0w1/scorelynx/internal/evaluation"
	"github.com/bl4ck0w1/scorelynx/pkg/models"
)

type published struct {
	channel string
	payload []byte
}

type fakeRedis struct {
	sent []published
	err  error
}

func (f *fakeRedis) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx, "publish", channel, message)
	if f.err != nil {
		cmd.SetErr(f.err)
		return cmd
	}
	f.sent = append(f.sent, published{channel: channel, payload: message.([]byte)})
	cmd.SetVal(1)
	return cmd
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestScanFinishedPublishesMessage(t *testing.T) {
	end := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	scan := &models.Scan{
		ID:      "scan-1",
		SiteURL: "https://example.com/",
		Start:   end.Add(-time.Minute),
		End:     &end,
		Result:  models.ResultMap{"reachable": false},
	}
	client := &fakeRedis{}
	p := NewPublisher(client, "scorelynx:scans", evaluation.NewEvaluator(nil, nil), quietLogger())

	if err := p.ScanFinished(context.Background(), scan); err != nil {
		t.Fatal(err)
	}
	if len(client.sent) != 1 || client.sent[0].channel != "scorelynx:scans" {
		t.Fatalf("sent = %+v", client.sent)
	}
	var msg Message
	if err := json.Unmarshal(client.sent[0].payload, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.ScanID != "scan-1" || msg.Status != models.ScanStatusFinished || msg.Rating != "unrateable" {
		t.Errorf("message = %+v", msg)
	}
}

func TestAbortedScanHasNoRating(t *testing.T) {
	end := time.Now()
	scan := &models.Scan{ID: "scan-2", SiteURL: "https://example.com/", Start: end, End: &end, Aborted: true, ErrorMessage: "scan timed out"}
	p := NewPublisher(&fakeRedis{}, "c", evaluation.NewEvaluator(nil, nil), quietLogger())

	msg := p.message(scan)
	if msg.Status != models.ScanStatusAborted || msg.Rating != "" || msg.ErrorMessage != "scan timed out" {
		t.Errorf("message = %+v", msg)
	}
}

func TestScanFinishedReportsPublishErrors(t *testing.T) {
	boom := errors.New("connection refused")
	p := NewPublisher(&fakeRedis{err: boom}, "c", nil, quietLogger())
	err := p.ScanFinished(context.Background(), &models.Scan{ID: "scan-3"})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v", err)
	}
}
