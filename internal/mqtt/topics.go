package mqtt

import (
	"strings"
)

// Values published to the retained status topic.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Topics builds the topic layout under one prefix:
//
//	<prefix>/status
//	<prefix>/<device>/state
//	<prefix>/<device>/set
type Topics struct {
	prefix string
}

func NewTopics(prefix string) Topics {
	return Topics{prefix: strings.Trim(prefix, "/")}
}

func (t Topics) Status() string {
	return t.prefix + "/status"
}

func (t Topics) State(device string) string {
	return t.prefix + "/" + escape(device) + "/state"
}

func (t Topics) Set(device string) string {
	return t.prefix + "/" + escape(device) + "/set"
}

// AllSet matches the command topic of every device.
func (t Topics) AllSet() string {
	return t.prefix + "/+/set"
}

// DeviceFromSet extracts the device segment of a command topic.
func (t Topics) DeviceFromSet(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, t.prefix+"/")
	if !ok {
		return "", false
	}
	device, ok := strings.CutSuffix(rest, "/set")
	if !ok || device == "" || strings.Contains(device, "/") {
		return "", false
	}
	return unescape(device), true
}

// Device names are user-chosen; MQTT reserves '/', '+' and '#'.
var topicEscaper = strings.NewReplacer("%", "%25", "/", "%2F", "+", "%2B", "#", "%23")
var topicUnescaper = strings.NewReplacer("%2F", "/", "%2B", "+", "%23", "#", "%25", "%")

func escape(segment string) string {
	return topicEscaper.Replace(segment)
}

func unescape(segment string) string {
	return topicUnescaper.Replace(segment)
}
