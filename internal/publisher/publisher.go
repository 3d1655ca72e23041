// Package publisher defines how task lifecycle notifications leave the
// process. Implementations live in the subpackages.
package publisher

import "context"

// Publisher delivers a payload to a named topic and returns the broker's
// message id.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Attributer is implemented by payloads that carry routing metadata. Brokers
// that support message attributes or headers copy them onto the message.
type Attributer interface {
	Attributes() map[string]string
}

// AttributesOf returns the payload's attributes, or nil.
func AttributesOf(payload any) map[string]string {
	if a, ok := payload.(Attributer); ok {
		return a.Attributes()
	}
	return nil
}
