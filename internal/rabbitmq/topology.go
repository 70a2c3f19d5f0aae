package rabbitmq

import (
	amqp "github.com/rabbitmq/amqp091-go"
)

// Declarer is the part of *amqp.Channel used to declare topology
type Declarer interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
}

// ExchangeDeclaration defines an exchange to be declared
type ExchangeDeclaration struct {
	Name       string
	Type       string
	Durable    bool
	AutoDelete bool
	Arguments  amqp.Table
}

// QueueDeclaration defines a queue to be declared
type QueueDeclaration struct {
	Name       string
	Durable    bool
	AutoDelete bool
	Exclusive  bool
	Arguments  amqp.Table
}

// Binding defines a queue-to-exchange binding
type Binding struct {
	Queue      string
	Exchange   string
	RoutingKey string
	Arguments  amqp.Table
}

// Topology is a set of declarations applied in order: exchanges, queues, bindings
type Topology struct {
	Exchanges []ExchangeDeclaration
	Queues    []QueueDeclaration
	Bindings  []Binding
}

// RelayTopology is the layout used by the container relay: a topic
// exchange and one durable queue bound for each message type pattern.
// Without patterns the queue receives every message type ("#").
func RelayTopology(exchange, queue string, patterns ...string) Topology {
	if len(patterns) == 0 {
		patterns = []string{"#"}
	}
	t := Topology{
		Exchanges: []ExchangeDeclaration{{Name: exchange, Type: amqp.ExchangeTopic, Durable: true}},
	}
	if queue == "" {
		return t
	}
	t.Queues = []QueueDeclaration{{Name: queue, Durable: true}}
	for _, p := range patterns {
		t.Bindings = append(t.Bindings, Binding{Queue: queue, Exchange: exchange, RoutingKey: p})
	}
	return t
}

// Declare applies t on ch, stopping at the first failure
func Declare(ch Declarer, t Topology) error {
	for _, ex := range t.Exchanges {
		if err := ch.ExchangeDeclare(ex.Name, ex.Type, ex.Durable, ex.AutoDelete, false, false, ex.Arguments); err != nil {
			return &TopologyError{Component: "exchange", Name: ex.Name, Err: err}
		}
	}
	for _, q := range t.Queues {
		if _, err := ch.QueueDeclare(q.Name, q.Durable, q.AutoDelete, q.Exclusive, false, q.Arguments); err != nil {
			return &TopologyError{Component: "queue", Name: q.Name, Err: err}
		}
	}
	for _, b := range t.Bindings {
		if err := ch.QueueBind(b.Queue, b.RoutingKey, b.Exchange, false, b.Arguments); err != nil {
			return &TopologyError{Component: "binding", Name: b.Queue + "->" + b.Exchange, Err: err}
		}
	}
	return nil
}
