package event

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"strconv"

	"golang.org/x/crypto/sha3"

	"github.com/R3E-Network/integration_layer/domain/shared"
)

const bodyHashPrefix = "\x19Buildable Signed Message:\n"

// HashType names one of the three content hashes computed per event.
type HashType string

const (
	HashTypeBody      HashType = "body"
	HashTypeEvent     HashType = "event"
	HashTypeModelBody HashType = "model::body"
)

// HashValue pairs a hash type with its hex digest.
type HashValue struct {
	Type HashType `json:"type" bson:"type"`
	Hash string   `json:"hash" bson:"hash"`
}

// ComputeHashes derives the three per-event digests: the raw body, the
// topic+environment+body envelope, and the type:group:body composite.
func ComputeHashes(topic string, environment shared.Environment, body, eventType, group string) [3]HashValue {
	return [3]HashValue{
		{Type: HashTypeBody, Hash: keccakHash(body)},
		{Type: HashTypeEvent, Hash: keccakHash(eventEnvelope(topic, environment, body))},
		{Type: HashTypeModelBody, Hash: keccakHash(eventType + ":" + group + ":" + body)},
	}
}

// eventEnvelope renders the exact JSON the event hash commits to. The field
// order and lack of HTML escaping are part of the wire contract.
func eventEnvelope(topic string, environment shared.Environment, body string) string {
	var buf bytes.Buffer
	buf.WriteString(`{"topic":`)
	buf.WriteString(jsonString(topic))
	buf.WriteString(`,"environment":`)
	buf.WriteString(jsonString(string(environment)))
	buf.WriteString(`,"body":`)
	buf.WriteString(jsonString(body))
	buf.WriteString(`}`)
	return buf.String()
}

func jsonString(s string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// Encode never fails for a plain string; the trailing newline is the
	// encoder's framing, not part of the value.
	_ = enc.Encode(s)
	return string(bytes.TrimRight(buf.Bytes(), "\n"))
}

func keccakHash(message string) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(bodyHashPrefix))
	h.Write([]byte(strconv.Itoa(len(message))))
	h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil))
}
