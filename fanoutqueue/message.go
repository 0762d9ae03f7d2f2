// Package fanoutqueue implements the Async Fanout Queue and its Queue
// Consumer (spec §4.6, §6): a durable work queue of batches of estuary
// ids plus a payload, and the consumer that drains it, re-dispatches
// through the Fanout Dispatcher, and decides ack vs. retry.
package fanoutqueue

import (
	"encoding/base64"
	"encoding/json"

	"github.com/commoncurriculum/estuary-fanout/streamcore"
)

// Message is one unit of queued fanout work. At most
// FANOUT_QUEUE_BATCH_SIZE estuary ids are carried per message (spec §3, §6).
type Message struct {
	ProjectID       string
	StreamID        string
	EstuaryIDs      []string
	Payload         []byte
	ContentType     string
	ProducerHeaders streamcore.ProducerHeaders
}

// wireMessage mirrors spec §6's literal JSON shape.
type wireMessage struct {
	ProjectID       string          `json:"projectId"`
	StreamID        string          `json:"streamId"`
	EstuaryIDs      []string        `json:"estuaryIds"`
	Payload         string          `json:"payload"`
	ContentType     string          `json:"contentType"`
	ProducerHeaders wireHeaders     `json:"producerHeaders"`
}

type wireHeaders struct {
	ProducerID    string `json:"producerId"`
	ProducerEpoch string `json:"producerEpoch"`
	ProducerSeq   string `json:"producerSeq"`
}

// MarshalJSON renders the wire format of spec §6, base64-encoding the payload.
func (m Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireMessage{
		ProjectID:   m.ProjectID,
		StreamID:    m.StreamID,
		EstuaryIDs:  m.EstuaryIDs,
		Payload:     base64.StdEncoding.EncodeToString(m.Payload),
		ContentType: m.ContentType,
		ProducerHeaders: wireHeaders{
			ProducerID:    m.ProducerHeaders.ProducerID,
			ProducerEpoch: m.ProducerHeaders.ProducerEpoch,
			ProducerSeq:   m.ProducerHeaders.ProducerSeq,
		},
	})
}

// UnmarshalJSON parses the wire format, base64-decoding the payload
// byte-exact (spec §4.6 step 1).
func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	payload, err := base64.StdEncoding.DecodeString(w.Payload)
	if err != nil {
		return err
	}
	*m = Message{
		ProjectID:   w.ProjectID,
		StreamID:    w.StreamID,
		EstuaryIDs:  w.EstuaryIDs,
		Payload:     payload,
		ContentType: w.ContentType,
		ProducerHeaders: streamcore.ProducerHeaders{
			ProducerID:    w.ProducerHeaders.ProducerID,
			ProducerEpoch: w.ProducerHeaders.ProducerEpoch,
			ProducerSeq:   w.ProducerHeaders.ProducerSeq,
		},
	}
	return nil
}

// Chunk splits estuaryIDs into groups of at most batchSize, matching the
// FANOUT_QUEUE_BATCH_SIZE chunking spec §3, §4.4 require of every enqueue.
func Chunk(estuaryIDs []string, batchSize int) [][]string {
	if batchSize <= 0 {
		batchSize = 50
	}
	var chunks [][]string
	for start := 0; start < len(estuaryIDs); start += batchSize {
		var end = start + batchSize
		if end > len(estuaryIDs) {
			end = len(estuaryIDs)
		}
		chunks = append(chunks, estuaryIDs[start:end])
	}
	return chunks
}
