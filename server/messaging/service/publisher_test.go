package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAMQPPublisherAfterCloseReturnsError(t *testing.T) {
	p := &AMQPPublisher{}
	p.Close()

	err := p.Publish(context.Background(), RoutingMessageCreated, map[string]string{"id": "m-1"})
	assert.ErrorIs(t, err, errPublisherClosed)
}
