package stream

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/marionette/pkg/helpers"
)

// Router carries response chunks between a producer (whatever talks to the
// model provider) and the decode loop over an in-process pub/sub.
type Router struct {
	logger     watermill.LoggerAdapter
	Publisher  message.Publisher
	Subscriber message.Subscriber
	router     *message.Router
}

type RouterOption func(*Router)

func WithRouterLogger(logger watermill.LoggerAdapter) RouterOption {
	return func(r *Router) {
		r.logger = logger
	}
}

func WithVerbose(verbose bool) RouterOption {
	return func(r *Router) {
		if verbose {
			r.logger = helpers.NewWatermill(log.Logger)
		}
	}
}

func NewRouter(options ...RouterOption) (*Router, error) {
	ret := &Router{
		logger: watermill.NopLogger{},
	}

	for _, o := range options {
		o(ret)
	}

	goPubSub := gochannel.NewGoChannel(gochannel.Config{
		BlockPublishUntilSubscriberAck: true,
	}, ret.logger)
	ret.Publisher = goPubSub
	ret.Subscriber = goPubSub

	router, err := message.NewRouter(message.RouterConfig{}, ret.logger)
	if err != nil {
		return nil, err
	}
	ret.router = router

	return ret, nil
}

// PublishChunk sends one decoded-form chunk onto a topic using its raw
// payload.
func (r *Router) PublishChunk(topic string, c Chunk) error {
	msg := message.NewMessage(watermill.NewUUID(), c.Payload())
	return r.Publisher.Publish(topic, msg)
}

// PublishEndOfResponse closes out a response stream on a topic.
func (r *Router) PublishEndOfResponse(topic string) error {
	msg := message.NewMessage(watermill.NewUUID(), nil)
	msg.Metadata.Set(EndOfResponseMetadataKey, "true")
	return r.Publisher.Publish(topic, msg)
}

func (r *Router) AddHandler(name string, topic string, f func(msg *message.Message) error) {
	r.router.AddNoPublisherHandler(name, topic, r.Subscriber, f)
}

func (r *Router) Run(ctx context.Context) error {
	return r.router.Run(ctx)
}

func (r *Router) Running() chan struct{} {
	return r.router.Running()
}

func (r *Router) Close() error {
	log.Debug().Msg("Closing publisher")
	if err := r.Publisher.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close pubsub")
		// not returning just yet
	}

	log.Debug().Msg("Closing router")
	if err := r.router.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close router")
		// not returning just yet
	}

	return nil
}
