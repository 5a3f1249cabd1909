package mq

import amqp "github.com/rabbitmq/amqp091-go"

const ExchangeEvents = "jobboard.events"

func NewConnection(url string) (*amqp.Connection, error) {
	return amqp.Dial(url)
}

// DeclareExchange declares the durable topic exchange shared by the job board services.
func DeclareExchange(ch *amqp.Channel) error {
	return ch.ExchangeDeclare(ExchangeEvents, "topic", true, false, false, false, nil)
}
