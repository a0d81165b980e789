// Package instance names the running replica for lock tokens and logs.
package instance

import (
	"os"
	"strings"
	"sync"
)

const fallbackID = "worker-0"

var resolveID = sync.OnceValue(func() string {
	return pick(os.Getenv("WORKER_ID"), hostname())
})

// GetID prefers WORKER_ID, then the hostname (the pod name on Kubernetes).
// The value is read once per process.
func GetID() string {
	return resolveID()
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return ""
	}
	return name
}

func pick(candidates ...string) string {
	for _, c := range candidates {
		if c = strings.TrimSpace(c); c != "" {
			return c
		}
	}
	return fallbackID
}
