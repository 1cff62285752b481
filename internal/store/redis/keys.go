package redis

import "strings"

// Key prefix for all lobby data
const keyPrefix = "lobbysync"

// dataKey returns the Redis key holding the JSON value at a logical path
func dataKey(path string) string {
	return keyPrefix + ":data:" + path
}

// indexKey returns the Redis key for the SET of a branch's child segments
func indexKey(path string) string {
	return keyPrefix + ":idx:" + path
}

// channelKey returns the pub/sub channel carrying change notifications
// for a logical path
func channelKey(path string) string {
	return keyPrefix + ":ch:" + path
}

// seqKey returns the Redis key of the push-id counter for a branch
func seqKey(path string) string {
	return keyPrefix + ":seq:" + path
}

// splitParent splits a path into its parent branch and last segment.
// ok is false for single-segment paths.
func splitParent(path string) (parent, segment string, ok bool) {
	idx := strings.LastIndexByte(path, '/')
	if idx < 0 {
		return "", path, false
	}
	return path[:idx], path[idx+1:], true
}

// ancestry returns the path itself followed by each ancestor branch,
// innermost first
func ancestry(path string) []string {
	out := []string{path}
	for {
		parent, _, ok := splitParent(path)
		if !ok {
			return out
		}
		out = append(out, parent)
		path = parent
	}
}
