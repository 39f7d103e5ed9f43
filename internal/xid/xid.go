package xid

import "github.com/google/uuid"

// New returns a random identifier such as "sale_3f0c…". The prefix keeps ids
// of different entities apart in logs.
func New(prefix string) string {
	if prefix == "" {
		return uuid.NewString()
	}
	return prefix + "_" + uuid.NewString()
}
