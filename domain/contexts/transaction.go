package contexts

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/integration_layer/domain/event"
	"github.com/R3E-Network/integration_layer/domain/id"
	"github.com/R3E-Network/integration_layer/domain/shared"
)

// TxState is the recorded outcome of one dispatch stage.
type TxState string

const (
	TxCompleted TxState = "completed"
	TxFailed    TxState = "failed"
	TxPanicked  TxState = "panicked"
	TxThrottled TxState = "throttled"
)

const throttledKeyMarker = "::throttled-"

// Transaction is the durable record of one stage's input and output.
type Transaction struct {
	ID          id.ID              `json:"_id" bson:"_id"`
	TxKey       string             `json:"txKey" bson:"txKey"`
	Input       string             `json:"input" bson:"input"`
	Output      string             `json:"output" bson:"output"`
	Txn         string             `json:"txn" bson:"txn"`
	State       TxState            `json:"state" bson:"state"`
	Environment shared.Environment `json:"environment" bson:"environment"`
	StartedAt   time.Time          `json:"startedAt" bson:"startedAt"`
	Ownership   shared.Ownership   `json:"ownership" bson:"ownership"`
	EventID     id.ID              `json:"eventId" bson:"eventId"`

	shared.RecordMetadata `bson:",inline"`
}

func newTransaction(evt *event.Event, key, input, output string, state TxState) Transaction {
	now := time.Now().UTC()
	return Transaction{
		ID:             id.New(id.PrefixTransaction, now),
		TxKey:          key,
		Input:          input,
		Output:         output,
		Txn:            strings.ReplaceAll(uuid.NewString(), "-", ""),
		State:          state,
		Environment:    evt.Environment,
		StartedAt:      now,
		Ownership:      evt.Ownership,
		EventID:        evt.ID,
		RecordMetadata: shared.NewRecordMetadata(),
	}
}

// CompletedTransaction records a successful stage.
func CompletedTransaction(evt *event.Event, key, input, output string) Transaction {
	return newTransaction(evt, key, input, output, TxCompleted)
}

// FailedTransaction records a stage that exhausted its retries.
func FailedTransaction(evt *event.Event, key, input, output string) Transaction {
	return newTransaction(evt, key, input, output, TxFailed)
}

// PanickedTransaction records a stage aborted by a recovered panic.
func PanickedTransaction(evt *event.Event, key, input, output string) Transaction {
	return newTransaction(evt, key, input, output, TxPanicked)
}

// ThrottledTransaction records an event deferred by throughput admission.
func ThrottledTransaction(evt *event.Event, key string) Transaction {
	return newTransaction(evt, key, "", "", TxThrottled)
}

// NextThrottleKey derives the tx key for the next deferral of an event:
// "{event.key}::throttled-{n}" where n counts consecutive deferrals. The
// previous transaction, when present and throttled, supplies the count.
func NextThrottleKey(evt *event.Event, previous *Transaction) string {
	count := 1
	if previous != nil {
		if i := strings.LastIndex(previous.TxKey, throttledKeyMarker); i >= 0 {
			if n, err := strconv.Atoi(previous.TxKey[i+len(throttledKeyMarker):]); err == nil {
				count = n + 1
			}
		}
	}
	return evt.Key.String() + throttledKeyMarker + strconv.Itoa(count)
}
