package redis

// Redis key naming conventions for conveyor data.
// All keys are prefixed with "conveyor:" to avoid collisions.

const keyPrefix = "conveyor:"

// jobKeyPrefix prefixes job hashes. Scripts build job keys from it.
const jobKeyPrefix = keyPrefix + "job:"

// jobKey returns the key for a job hash: conveyor:job:{id}
func jobKey(id string) string { return jobKeyPrefix + id }

// queueKey returns the Sorted Set of claimable jobs for a name, scored by
// run_at in Unix milliseconds: conveyor:queue:{name}
func queueKey(name string) string { return keyPrefix + "queue:" + name }

// runningKey returns the Sorted Set of running jobs for a name, scored by
// lock_at in Unix milliseconds: conveyor:running:{name}
func runningKey(name string) string { return keyPrefix + "running:" + name }

// namesKey is the Set of every job name ever enqueued.
const namesKey = keyPrefix + "names"

// jobIDsKey is the Set tracking all job IDs for enumeration.
const jobIDsKey = keyPrefix + "job_ids"
