package port

import "context"

// Binding routes messages published under RoutingKey into Queue.
type Binding struct {
	Queue      string
	RoutingKey string
}

// Topology is a topic exchange with durable queues and their bindings.
type Topology struct {
	Exchange string
	Queues   []string
	Bindings []Binding
}

// MessageHandler processes one delivery. The broker acknowledges after the
// handler returns regardless of the error: there is no redelivery.
type MessageHandler func(ctx context.Context, routingKey string, body []byte) error

type MessageBroker interface {
	DeclareTopology(ctx context.Context, top Topology) error

	Publish(ctx context.Context, exchange, routingKey string, body []byte) error

	// Consume delivers messages from queue strictly one at a time (prefetch
	// of 1), invoking handler and acknowledging after it returns. Blocks
	// until ctx is cancelled or the delivery stream closes.
	Consume(ctx context.Context, queue string, handler MessageHandler) error
}
