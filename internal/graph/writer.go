package graph

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/yungbote/metagraph-backend/internal/platform/apierr"
	"github.com/yungbote/metagraph-backend/internal/platform/logger"
	"github.com/yungbote/metagraph-backend/internal/platform/neo4jdb"
)

// Writer is the narrow persistence API. Every mutation funnels through it;
// each exported operation is one transaction against the graph store.
type Writer struct {
	run   cypherRunner
	log   *logger.Logger
	retry RetryPolicy
	nowMS func() int64
}

// AspectRecord is a persisted aspect row as read back from the store.
type AspectRecord struct {
	Name      string                 `json:"name"`
	Version   int64                  `json:"version,omitempty"`
	Timestamp int64                  `json:"timestamp,omitempty"`
	Latest    bool                   `json:"latest,omitempty"`
	Kind      string                 `json:"kind"`
	Payload   map[string]interface{} `json:"payload"`
	CreatedAt int64                  `json:"created_at"`
}

func NewWriter(client *neo4jdb.Client, log *logger.Logger) *Writer {
	return newWriter(&neo4jRunner{client: client}, log)
}

func newWriter(run cypherRunner, log *logger.Logger) *Writer {
	return &Writer{
		run:   run,
		log:   log.With("component", "GraphWriter"),
		retry: DefaultRetryPolicy(),
		nowMS: func() int64 { return time.Now().UTC().UnixMilli() },
	}
}

func marshalPayload(payload map[string]interface{}) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", apierr.Newf(apierr.KindValidation, "payload is not JSON-serializable: %v", err)
	}
	return string(raw), nil
}

func unmarshalPayload(raw interface{}) map[string]interface{} {
	s, ok := raw.(string)
	if !ok || s == "" {
		return map[string]interface{}{}
	}
	var out map[string]interface{}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return map[string]interface{}{}
	}
	return out
}

func aspectID(urn, aspectName string, discriminator interface{}) string {
	return fmt.Sprintf("%s|%s|%v", urn, aspectName, discriminator)
}

func asInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	default:
		return 0
	}
}
