// Package storage holds the types shared by the object storage drivers.
package storage

import "errors"

// ErrObjectNotFound is returned by Download when the key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// DeleteResult is the outcome of deleting one key. Deleting a missing key
// is a success.
type DeleteResult struct {
	Path string
	Err  error
}

// Failed returns the results that carry an error.
func Failed(results []DeleteResult) []DeleteResult {
	var out []DeleteResult
	for _, r := range results {
		if r.Err != nil {
			out = append(out, r)
		}
	}
	return out
}
