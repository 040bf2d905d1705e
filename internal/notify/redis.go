package notify

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisConfig addresses the pub/sub channel shared by daemons on one database.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// Redis fans wake-ups out to every daemon subscribed to the same channel.
type Redis struct {
	client  *redis.Client
	channel string
	local   *Local
	log     *logrus.Entry

	sub    *redis.PubSub
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRedis connects, subscribes and starts forwarding messages to Wake.
func NewRedis(ctx context.Context, cfg RedisConfig, log *logrus.Entry) (*Redis, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis: address is empty")
	}
	if cfg.Channel == "" {
		cfg.Channel = "flightops:wake"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: failed to ping server: %w", err)
	}

	sub := client.Subscribe(ctx, cfg.Channel)
	// Wait for the subscription confirmation so no wake-up published after
	// NewRedis returns is missed.
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		client.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", cfg.Channel, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	r := &Redis{
		client:  client,
		channel: cfg.Channel,
		local:   NewLocal(),
		log:     log,
		sub:     sub,
		cancel:  cancel,
	}

	r.wg.Add(1)
	go r.forward(loopCtx)
	return r, nil
}

func (r *Redis) forward(ctx context.Context) {
	defer r.wg.Done()
	msgs := r.sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-msgs:
			if !ok {
				return
			}
			r.local.Notify(ctx)
		}
	}
}

// Notify publishes a wake-up. A publish failure still wakes the local scheduler.
func (r *Redis) Notify(ctx context.Context) {
	if err := r.client.Publish(ctx, r.channel, "wake").Err(); err != nil {
		r.log.WithError(err).Warn("publish wake-up failed")
		r.local.Notify(ctx)
	}
}

func (r *Redis) Wake() <-chan struct{} {
	return r.local.Wake()
}

// Close stops forwarding and closes the connection.
func (r *Redis) Close() error {
	r.cancel()
	err := r.sub.Close()
	r.wg.Wait()
	if cerr := r.client.Close(); err == nil {
		err = cerr
	}
	return err
}
