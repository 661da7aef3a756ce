package amqp

import (
	"context"

	goamqp "github.com/Azure/go-amqp"
)

// The go-amqp types are wrapped behind these interfaces so the transport
// can run against in-memory links in tests.

type receiver interface {
	Receive(ctx context.Context, opts *goamqp.ReceiveOptions) (*goamqp.Message, error)
	AcceptMessage(ctx context.Context, msg *goamqp.Message) error
	Address() string
	Close(ctx context.Context) error
}

type sender interface {
	Send(ctx context.Context, msg *goamqp.Message, opts *goamqp.SendOptions) error
	Close(ctx context.Context) error
}

type session interface {
	newReceiver(ctx context.Context, source string, opts *goamqp.ReceiverOptions) (receiver, error)
	newSender(ctx context.Context, target string) (sender, error)
	Close(ctx context.Context) error
}

type connection interface {
	newSession(ctx context.Context) (session, error)
	Close() error
}

// dialFunc opens a connection to the broker.
type dialFunc func(ctx context.Context, addr string, opts *goamqp.ConnOptions) (connection, error)

func dialBroker(ctx context.Context, addr string, opts *goamqp.ConnOptions) (connection, error) {
	conn, err := goamqp.Dial(ctx, addr, opts)
	if err != nil {
		return nil, err
	}
	return amqpConn{conn}, nil
}

type amqpConn struct {
	conn *goamqp.Conn
}

func (c amqpConn) newSession(ctx context.Context) (session, error) {
	s, err := c.conn.NewSession(ctx, nil)
	if err != nil {
		return nil, err
	}
	return amqpSession{s}, nil
}

func (c amqpConn) Close() error {
	return c.conn.Close()
}

type amqpSession struct {
	s *goamqp.Session
}

func (s amqpSession) newReceiver(ctx context.Context, source string, opts *goamqp.ReceiverOptions) (receiver, error) {
	r, err := s.s.NewReceiver(ctx, source, opts)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (s amqpSession) newSender(ctx context.Context, target string) (sender, error) {
	snd, err := s.s.NewSender(ctx, target, nil)
	if err != nil {
		return nil, err
	}
	return snd, nil
}

func (s amqpSession) Close(ctx context.Context) error {
	return s.s.Close(ctx)
}
