package firewall

import "time"

// withRetry runs fn up to attempts times with exponential backoff between
// tries. Netlink hiccups under load are transient more often than not.
func withRetry(attempts int, delay time.Duration, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i < attempts-1 {
			time.Sleep(delay)
			delay *= 2
		}
	}
	return err
}
