package mq

import (
	"afl-sancov/config"
	"context"
	"errors"
	"math/rand"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	ConnectionPoolSize = 2
)

var ErrNoConnection = errors.New("no active RabbitMQ connections")

type RabbitMQ interface {
	GetChannel() (*amqp.Channel, error)
	// Publish sends body to the durable queue name on the default exchange.
	Publish(ctx context.Context, queue string, body []byte) error
}

type rabbitMQImpl struct {
	logger      *zap.Logger
	rabbitmqUrl string
	context     context.Context
	connections []*MQConnection
	declared    map[string]bool
	mu          sync.Mutex
}

type MQConnection struct {
	conn      *amqp.Connection
	closeChan chan *amqp.Error
	logger    *zap.Logger

	closed bool
	mu     sync.Mutex
}

type RabbitMQParams struct {
	fx.In

	Config    *config.AppConfig
	Logger    *zap.Logger
	Lifecycle fx.Lifecycle
}

// NewRabbitMQ returns nil when RABBITMQ_URL is not configured.
func NewRabbitMQ(p RabbitMQParams) RabbitMQ {
	if p.Config.Sinks.RabbitMQURL == "" {
		return nil
	}
	mqCtx, cancel := context.WithCancel(context.Background())

	svc := &rabbitMQImpl{
		logger:      p.Logger.Named("mq"),
		rabbitmqUrl: p.Config.Sinks.RabbitMQURL,
		context:     mqCtx,
		connections: make([]*MQConnection, 0, ConnectionPoolSize),
		declared:    make(map[string]bool),
	}

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			svc.logger.Debug("Initializing RabbitMQ connection pool", zap.Int("pool_size", ConnectionPoolSize))
			for range ConnectionPoolSize {
				mConn, err := svc.newMQConnection()
				if err != nil {
					svc.logger.Error("Failed to create initial RabbitMQ connection", zap.Error(err))
					return err
				}
				svc.mu.Lock()
				svc.connections = append(svc.connections, mConn)
				svc.mu.Unlock()
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			return nil
		},
	})
	return svc
}

func (r *rabbitMQImpl) getActiveConnection() (*MQConnection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	candidates := make([]*MQConnection, 0, len(r.connections))
	for _, c := range r.connections {
		if !c.isClosed() {
			candidates = append(candidates, c)
		}
	}

	// replenish the pool when connections were lost
	for needed := ConnectionPoolSize - len(candidates); needed > 0; needed-- {
		mConn, err := r.newMQConnection()
		if err != nil {
			r.logger.Error("Failed to create new RabbitMQ connection", zap.Error(err))
			continue
		}
		r.connections = append(r.connections, mConn)
		candidates = append(candidates, mConn)
	}

	if len(candidates) == 0 {
		return nil, ErrNoConnection
	}
	return candidates[rand.Intn(len(candidates))], nil
}

func (r *rabbitMQImpl) newMQConnection() (*MQConnection, error) {
	conn, err := amqp.Dial(r.rabbitmqUrl)
	if err != nil {
		return nil, err
	}

	mConn := &MQConnection{
		conn:      conn,
		closeChan: make(chan *amqp.Error, 1),
		logger:    r.logger,
	}
	go mConn.monitor(r.context)
	return mConn, nil
}

// monitor blocks until the connection drops or ctx is done.
func (c *MQConnection) monitor(ctx context.Context) {
	c.conn.NotifyClose(c.closeChan)

	select {
	case err := <-c.closeChan:
		c.logger.Error("RabbitMQ connection closed", zap.Error(err))
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
	case <-ctx.Done():
	}

	c.conn.Close()
}

func (c *MQConnection) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (r *rabbitMQImpl) GetChannel() (*amqp.Channel, error) {
	conn, err := r.getActiveConnection()
	if err != nil {
		return nil, err
	}
	return conn.conn.Channel()
}

func (r *rabbitMQImpl) Publish(ctx context.Context, queue string, body []byte) error {
	channel, err := r.GetChannel()
	if err != nil {
		return err
	}
	defer channel.Close()

	if err := r.declare(channel, queue); err != nil {
		return err
	}
	return channel.PublishWithContext(ctx,
		"",    // exchange
		queue, // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
}

func (r *rabbitMQImpl) declare(channel *amqp.Channel, queue string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.declared[queue] {
		return nil
	}
	if _, err := channel.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return err
	}
	r.declared[queue] = true
	return nil
}
