package pvs

import "strings"

// PathSeparator delimits instance ids in a supplied id.
const PathSeparator = "/"

// JoinPath appends an instance id to a traversal path.
func JoinPath(path, instanceID string) string {
	return path + PathSeparator + instanceID
}

// PathIdentity derives the supplied id, parent id and depth for a traversal
// path. The empty path is the root: supplied id "/", depth 0, no parent.
func PathIdentity(path string) (suppliedID string, parentID *string, depth int) {
	suppliedID = path
	if path == "" {
		suppliedID = PathSeparator
	}
	depth = len(strings.Split(path, PathSeparator)) - 1
	if suppliedID == PathSeparator {
		return suppliedID, nil, depth
	}
	parts := strings.Split(suppliedID, PathSeparator)
	parent := strings.Join(parts[:len(parts)-1], PathSeparator)
	if parent == "" {
		parent = PathSeparator
	}
	return suppliedID, &parent, depth
}
