package ipfslab

import (
	"errors"
	"sync"
	"time"

	"github.com/hannahhoward/go-pubsub"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("ipfslab")

// EventCode is a name for something the driver did to the cluster
type EventCode int

const (
	// TopologyStarted occurs when a topology build begins
	TopologyStarted EventCode = iota

	// Connected occurs when a single edge attempt succeeds
	Connected

	// ConnectFailed occurs when a single edge attempt fails
	ConnectFailed

	// TopologyCompleted occurs when a topology build finishes with every
	// edge attempted
	TopologyCompleted

	// MatrixRead occurs when a connectivity snapshot has been assembled
	MatrixRead

	// WorkloadStarted occurs when a workload run begins
	WorkloadStarted

	// OperationStarted occurs when a scheduled task wakes up and picks its
	// action
	OperationStarted

	// OperationCompleted occurs when a storage operation succeeds
	OperationCompleted

	// OperationFailed occurs when a storage operation fails or times out
	OperationFailed

	// WorkloadCompleted occurs when every scheduled task has finished
	WorkloadCompleted
)

// EventNames are human readable names for driver events
var EventNames = map[EventCode]string{
	TopologyStarted:    "TopologyStarted",
	Connected:          "Connected",
	ConnectFailed:      "ConnectFailed",
	TopologyCompleted:  "TopologyCompleted",
	MatrixRead:         "MatrixRead",
	WorkloadStarted:    "WorkloadStarted",
	OperationStarted:   "OperationStarted",
	OperationCompleted: "OperationCompleted",
	WorkloadCompleted:  "WorkloadCompleted",
	OperationFailed:    "OperationFailed",
}

func (ec EventCode) String() string {
	s, ok := EventNames[ec]
	if !ok {
		return "unknown"
	}
	return s
}

// Event is a description of something that happened, sent to subscribers as
// it happens
type Event struct {
	Code      EventCode // What type of event it is
	Message   string    // Any clarifying information about the event
	Timestamp time.Time // when the event happened
}

// Subscriber is a callback that is called when events are emitted
type Subscriber func(event Event)

// Unsubscribe is a function that gets called to unsubscribe from driver events
type Unsubscribe func()

func dispatcher(evt pubsub.Event, subscriberFn pubsub.SubscriberFn) error {
	e, ok := evt.(Event)
	if !ok {
		return errors.New("wrong type of event")
	}
	cb, ok := subscriberFn.(Subscriber)
	if !ok {
		return errors.New("wrong type of event")
	}
	cb(e)
	return nil
}

// Bus fans driver events out to subscribers. Publish dispatches inline, so
// subscribers observe events in the order they were emitted.
type Bus struct {
	pubSub *pubsub.PubSub

	lk            sync.Mutex
	nextID        uint64
	unsubscribers map[uint64]pubsub.Unsubscribe
}

// NewBus initializes an event bus with no subscribers
func NewBus() *Bus {
	return &Bus{
		pubSub:        pubsub.New(dispatcher),
		unsubscribers: make(map[uint64]pubsub.Unsubscribe),
	}
}

// Publish emits an event, stamping it with the current time if the caller
// left the timestamp zero
func (b *Bus) Publish(code EventCode, message string) {
	evt := Event{Code: code, Message: message, Timestamp: time.Now()}
	err := b.pubSub.Publish(evt)
	if err != nil {
		log.Warnf("publishing event %s: %s", code, err)
	}
}

// Subscribe registers a callback for all subsequent events
func (b *Bus) Subscribe(subscriber Subscriber) Unsubscribe {
	unsub := b.pubSub.Subscribe(subscriber)
	b.lk.Lock()
	id := b.nextID
	b.nextID++
	b.unsubscribers[id] = unsub
	b.lk.Unlock()
	return func() {
		b.lk.Lock()
		delete(b.unsubscribers, id)
		b.lk.Unlock()
		unsub()
	}
}

// Shutdown disconnects all subscribers
func (b *Bus) Shutdown() {
	b.lk.Lock()
	unsubs := make([]pubsub.Unsubscribe, 0, len(b.unsubscribers))
	for id, unsub := range b.unsubscribers {
		unsubs = append(unsubs, unsub)
		delete(b.unsubscribers, id)
	}
	b.lk.Unlock()
	for _, unsub := range unsubs {
		unsub()
	}
}
