// Package rabbitmq holds the AMQP plumbing behind the container relay.
//
// This package includes:
//   - ConnectionManager: one broker connection, re-dialed with a retry policy
//   - Topology: exchange, queue and binding declarations applied with Declare
package rabbitmq
