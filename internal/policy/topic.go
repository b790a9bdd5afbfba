package policy

import (
	"strings"
	"unicode/utf8"
)

const (
	TopicPrefix = "sys/agents/"
	TopicSuffix = "/metrics/v2"

	// DiscoveryTopic subscribes to every sender in open mode.
	DiscoveryTopic = TopicPrefix + "+" + TopicSuffix

	// MaxHostBytes is the longest identifier kept from a topic.
	MaxHostBytes = 31
)

// SenderTopic returns the topic a sender publishes its metrics on.
func SenderTopic(host string) string {
	return TopicPrefix + host + TopicSuffix
}

// ValidSenderTopic reports whether topic has the prefix/<host>/suffix shape
// with a host segment free of separators, wildcards and NUL bytes.
func ValidSenderTopic(topic string) bool {
	host, ok := hostSegment(topic)
	if !ok {
		return false
	}
	return !strings.ContainsAny(host, "/+#\x00")
}

// ValidDiscoveryTopic reports whether topic is a single-level wildcard over
// the host segment and nothing else.
func ValidDiscoveryTopic(topic string) bool {
	host, ok := hostSegment(topic)
	return ok && host == "+"
}

// HostFromTopic extracts the sender identifier from a metrics topic. Long
// identifiers are truncated to MaxHostBytes on a rune boundary.
func HostFromTopic(topic string) (string, bool) {
	if !ValidSenderTopic(topic) {
		return "", false
	}
	host, _ := hostSegment(topic)
	return TruncateHost(host), true
}

// TruncateHost shortens host to at most MaxHostBytes without splitting a rune.
func TruncateHost(host string) string {
	if len(host) <= MaxHostBytes {
		return host
	}
	cut := MaxHostBytes
	for cut > 0 && !utf8.RuneStart(host[cut]) {
		cut--
	}
	return host[:cut]
}

func hostSegment(topic string) (string, bool) {
	if len(topic) <= len(TopicPrefix)+len(TopicSuffix) {
		return "", false
	}
	if !strings.HasPrefix(topic, TopicPrefix) || !strings.HasSuffix(topic, TopicSuffix) {
		return "", false
	}
	return topic[len(TopicPrefix) : len(topic)-len(TopicSuffix)], true
}
