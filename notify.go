package mediasoup

import "encoding/json"

// unmarshalNotification decodes a notification's data payload into v,
// tolerating an empty payload (some notifications, e.g. producer_close,
// carry none).
func unmarshalNotification(data []byte, v interface{}) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}
