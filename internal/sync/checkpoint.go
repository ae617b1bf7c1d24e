package sync

import (
	"github.com/matheus3301/dmsync/internal/model"
	"go.uber.org/zap"
)

// CheckpointStore persists sync checkpoints.
type CheckpointStore interface {
	SetCheckpoint(key, value string) error
	Checkpoint(key string) (string, bool, error)
}

// Checkpoints remembers the newest server id seen per conversation so a
// restart resumes polling where it left off.
type Checkpoints struct {
	store  CheckpointStore
	logger *zap.Logger
}

// NewCheckpoints creates a checkpoint tracker. A nil store keeps nothing.
func NewCheckpoints(st CheckpointStore, logger *zap.Logger) *Checkpoints {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checkpoints{store: st, logger: logger}
}

func checkpointKey(recipient string) string {
	return "last_message_id:" + recipient
}

// LastMessageID returns the stored id, or "" if none.
func (c *Checkpoints) LastMessageID(recipient string) model.MessageID {
	if c == nil || c.store == nil {
		return ""
	}
	v, ok, err := c.store.Checkpoint(checkpointKey(recipient))
	if err != nil {
		c.logger.Warn("read checkpoint", zap.String("recipient", recipient), zap.Error(err))
		return ""
	}
	if !ok {
		return ""
	}
	return model.MessageID(v)
}

// SetLastMessageID stores id for recipient. Placeholder ids are ignored.
func (c *Checkpoints) SetLastMessageID(recipient string, id model.MessageID) {
	if c == nil || c.store == nil || !id.IsServer() {
		return
	}
	if err := c.store.SetCheckpoint(checkpointKey(recipient), id.String()); err != nil {
		c.logger.Warn("write checkpoint", zap.String("recipient", recipient), zap.Error(err))
	}
}
