package cache

import "fmt"

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}

func EventSeenKey(eventID string) string {
	return fmt.Sprintf("event:seen:%s", eventID)
}
