package port

import "time"

// Message 总线上的一条标准化事件
type Message struct {
	Topic   string
	Payload map[string]any
	Ts      time.Time
}

// Publisher is the write side of the publish bus.
type Publisher interface {
	Publish(topic string, payload map[string]any)
}

// Bridge forwards bus messages to an out-of-process transport (redis, kafka).
type Bridge interface {
	Name() string
	Forward(msg Message) error
	Close() error
}
