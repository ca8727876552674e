package redis

import (
	"strconv"

	"github.com/evanramirez88/restaurant-consulting-site/automation/job"
)

// tierKey returns the Sorted Set key of a tier: {prefix}job_queue:{priority}
func (x *Index) tierKey(p job.Priority) string {
	return x.prefix + "job_queue:" + strconv.Itoa(int(p))
}

// seqKey is the counter that scores enqueued members.
func (x *Index) seqKey() string { return x.prefix + "job_queue:seq" }

// tierKeys returns every tier key in claim order.
func (x *Index) tierKeys() []string {
	keys := make([]string, len(job.Tiers))
	for i, p := range job.Tiers {
		keys[i] = x.tierKey(p)
	}
	return keys
}
