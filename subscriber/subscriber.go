package subscriber

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/valkey-io/valkey-go"
	"go.uber.org/zap"

	"video-tagging-api/analyzer"
	"video-tagging-api/runs"
	valkeystore "video-tagging-api/valkey"
)

const deleteTimeout = 30 * time.Second

// Cleaner deletes analyzers named in cleanup requests.
type Cleaner struct {
	deleter analyzer.Deleter
	ledger  runs.Store
	logger  *zap.Logger
}

func NewCleaner(deleter analyzer.Deleter, ledger runs.Store, logger *zap.Logger) *Cleaner {
	return &Cleaner{deleter: deleter, ledger: ledger, logger: logger}
}

// StartSubscribers starts the analyzer cleanup subscriber
func StartSubscribers(ctx context.Context, client valkey.Client, cleaner *Cleaner, logger *zap.Logger) {
	go startSubscriber(ctx, logger, client, valkeystore.AnalyzerCleanupChannel, cleaner.Process)
}

// startSubscriber receives messages on channel until ctx is done,
// resubscribing after connection errors.
func startSubscriber(ctx context.Context, logger *zap.Logger, client valkey.Client, channel string, processor func(context.Context, string)) {
	sugar := logger.Sugar()
	sugar.Infow("Message subscriber started",
		"channel", channel)

	for ctx.Err() == nil {
		err := client.Receive(ctx, client.B().Subscribe().Channel(channel).Build(), func(msg valkey.PubSubMessage) {
			// Ensure message is not empty
			if strings.TrimSpace(msg.Message) == "" {
				sugar.Warn("Received empty message from pub/sub")
				return
			}
			go processor(ctx, msg.Message)
		})
		if ctx.Err() != nil {
			break
		}
		sugar.Errorw("Failed to receive message",
			"channel", channel,
			"error", err)

		select {
		case <-ctx.Done():
		case <-time.After(5 * time.Second): // Wait before retrying
		}
	}

	sugar.Infow("Message subscriber stopped",
		"channel", channel)
}

// Process handles one cleanup message: a JSON CleanupRequest or a bare
// analyzer ID.
func (c *Cleaner) Process(ctx context.Context, message string) {
	sugar := c.logger.Sugar()

	analyzerID := parseAnalyzerID(message)
	if analyzerID == "" {
		sugar.Error("Received empty analyzer cleanup message")
		return
	}
	// Only analyzers this service created are ever deleted
	if !strings.HasPrefix(analyzerID, analyzer.AnalyzerPrefix) {
		sugar.Warnw("Ignoring cleanup request for foreign analyzer",
			"analyzer_id", analyzerID)
		return
	}

	sugar.Infow("Processing analyzer cleanup request",
		"analyzer_id", analyzerID)

	ctx, cancel := context.WithTimeout(ctx, deleteTimeout)
	defer cancel()
	if err := analyzer.ReleaseAnalyzer(ctx, c.deleter, c.ledger, analyzerID, c.logger); err != nil {
		if lerr := c.ledger.SetAnalyzerState(ctx, analyzerID, runs.AnalyzerDeleteFailed); lerr != nil {
			sugar.Debugw("Run ledger write failed",
				"analyzer_id", analyzerID,
				"error", lerr)
		}
	}
}

func parseAnalyzerID(message string) string {
	var req valkeystore.CleanupRequest
	if err := json.Unmarshal([]byte(message), &req); err == nil {
		return strings.TrimSpace(req.AnalyzerID)
	}
	// Not JSON: treat as a plain analyzer id, quoted or not
	if unquoted, err := strconv.Unquote(message); err == nil {
		return strings.TrimSpace(unquoted)
	}
	return strings.TrimSpace(message)
}
