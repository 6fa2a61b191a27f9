package mesh

import (
	"fmt"
	"regexp"
	"strings"
)

// Every chain gets exactly one gossipsub topic, namespaced by its
// chain key, carrying committed-event broadcasts; this stack has no
// fixed topic set the way the reference node does (one topic per
// event category) because chains are created dynamically at runtime.
const (
	broadcastPrefix = "chainvault/events/"
	controlPrefix   = "chainvault/control/"
)

var chainKeyPattern = regexp.MustCompile(`^[a-zA-Z0-9._:-]{1,256}$`)

// TopicManager validates chain keys and derives their gossipsub topic
// names, grounded on the reference node's TopicManager but collapsed
// from a fixed topic enum to a single pattern-validated namespace.
type TopicManager struct{}

// NewTopicManager builds a TopicManager.
func NewTopicManager() *TopicManager { return &TopicManager{} }

// BroadcastTopic returns the gossipsub topic a chain's committed
// events are rebroadcast on.
func (tm *TopicManager) BroadcastTopic(chainKey string) string {
	return broadcastPrefix + chainKey
}

// ControlTopic returns the topic used for out-of-band control
// announcements (root-authority changes, lock contention notices) for
// chainKey.
func (tm *TopicManager) ControlTopic(chainKey string) string {
	return controlPrefix + chainKey
}

// IsValidChainKey reports whether key is safe to embed in a topic name.
func (tm *TopicManager) IsValidChainKey(key string) bool {
	return chainKeyPattern.MatchString(key)
}

// ChainKeyFromTopic recovers the chain key from one of this mesh's
// topic names, or ("", false) if topic isn't one of ours.
func (tm *TopicManager) ChainKeyFromTopic(topic string) (string, bool) {
	switch {
	case strings.HasPrefix(topic, broadcastPrefix):
		return strings.TrimPrefix(topic, broadcastPrefix), true
	case strings.HasPrefix(topic, controlPrefix):
		return strings.TrimPrefix(topic, controlPrefix), true
	default:
		return "", false
	}
}

// ValidateTopicMessage rejects empty or oversized payloads before
// they're handed to the wire decoder.
func (tm *TopicManager) ValidateTopicMessage(data []byte, maxSize int) error {
	if len(data) == 0 {
		return fmt.Errorf("mesh: empty topic message")
	}
	if len(data) > maxSize {
		return fmt.Errorf("mesh: message too large: %d bytes (max %d)", len(data), maxSize)
	}
	return nil
}
