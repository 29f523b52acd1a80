package copilot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/jholhewres/penny/pkg/penny/channels"
)

// HistoryCollector turns a triggering message into a bounded, oldest-first
// history. Window modes read the channel's recent messages; mention replies
// walk the reply chain back from the trigger.
type HistoryCollector struct {
	limit  int
	logger *slog.Logger
}

// NewHistoryCollector creates a collector that returns at most limit messages.
func NewHistoryCollector(limit int, logger *slog.Logger) *HistoryCollector {
	if logger == nil {
		logger = slog.Default()
	}
	if limit <= 0 {
		limit = 8
	}
	return &HistoryCollector{limit: limit, logger: logger}
}

// Collect returns the history for a turn, oldest first. For window modes the
// result holds only ordinary messages; for chain mode the last element is
// always the trigger.
func (h *HistoryCollector) Collect(ctx context.Context, gw channels.HistoryChannel, msg *channels.Message, ch *channels.ChannelInfo, mode Mode) ([]*channels.Message, error) {
	switch {
	case mode.usesWindow():
		return h.window(ctx, gw, ch.ID)
	case mode == ModeMentionReply:
		return h.chain(ctx, gw, msg), nil
	default:
		return nil, fmt.Errorf("collect history: unsupported mode %s", mode)
	}
}

func (h *HistoryCollector) window(ctx context.Context, gw channels.HistoryChannel, channelID string) ([]*channels.Message, error) {
	recent, err := gw.FetchRecent(ctx, channelID, h.limit)
	if err != nil {
		return nil, fmt.Errorf("fetch recent history: %w", err)
	}

	out := make([]*channels.Message, 0, len(recent))
	seen := make(map[string]bool, len(recent))
	for _, m := range recent {
		if !m.IsOrdinary() || seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		out = append(out, m)
	}
	slices.Reverse(out)
	return out, nil
}

// chain walks reply references from the trigger. A missing, non-ordinary or
// already visited parent ends the walk, as does any fetch failure.
func (h *HistoryCollector) chain(ctx context.Context, gw channels.HistoryChannel, trigger *channels.Message) []*channels.Message {
	out := []*channels.Message{trigger}
	seen := map[string]bool{trigger.ID: true}

	cur := trigger
	for len(out) < h.limit && cur.Reference != nil {
		ref := cur.Reference
		channelID := ref.ChannelID
		if channelID == "" {
			channelID = cur.ChannelID
		}
		if seen[ref.MessageID] {
			break
		}

		parent, err := gw.FetchMessage(ctx, channelID, ref.MessageID)
		if err != nil {
			if !errors.Is(err, channels.ErrMessageNotFound) {
				h.logger.Warn("reply chain fetch failed, truncating history",
					"msg_id", ref.MessageID, "error", err)
			}
			break
		}
		if !parent.IsOrdinary() {
			break
		}

		seen[parent.ID] = true
		out = append(out, parent)
		cur = parent
	}

	slices.Reverse(out)
	return out
}
