package redisstream

import "strings"

const DefaultTopicPrefix = "chat:ws:"

// Settings holds Redis Streams transport configuration for the live channel.
// An empty Group subscribes in fan-out mode.
type Settings struct {
	Addr        string `mapstructure:"redis-addr" validate:"required,hostname_port"`
	Group       string `mapstructure:"redis-group"`
	Consumer    string `mapstructure:"redis-consumer"`
	TopicPrefix string `mapstructure:"redis-topic-prefix"`
}

// Defaults used by the config layer; keys match the mapstructure tags.
var Defaults = map[string]any{
	"redis-addr":         "localhost:6379",
	"redis-group":        "",
	"redis-consumer":     "palaver",
	"redis-topic-prefix": DefaultTopicPrefix,
}

// Topic is the stream key carrying messages for partner.
func (s Settings) Topic(partner string) string {
	prefix := s.TopicPrefix
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return prefix + strings.TrimSpace(partner)
}
