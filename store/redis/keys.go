package redis

// Redis key naming conventions for loom data.
// All keys are prefixed with "loom:" to avoid collisions.

const keyPrefix = "loom:"

// threadsKey is the Set tracking all thread ids for enumeration.
const threadsKey = keyPrefix + "threads"

// threadKey returns the List holding a thread's checkpoint ids,
// newest first: loom:thread:{threadID}
func threadKey(threadID string) string { return keyPrefix + "thread:" + threadID }

// checkpointKey returns the Hash holding one checkpoint entry:
// loom:ckpt:{threadID}:{checkpointID}
func checkpointKey(threadID, checkpointID string) string {
	return keyPrefix + "ckpt:" + threadID + ":" + checkpointID
}

// writesKey returns the Hash holding one checkpoint's pending-write
// ledger: loom:writes:{threadID}:{checkpointID}
func writesKey(threadID, checkpointID string) string {
	return keyPrefix + "writes:" + threadID + ":" + checkpointID
}
