package logging

import (
	"fmt"
	"log"
	"os"
)

// New returns a logger for a distributed worker. Single-process runs get a
// plain logger; multi-process runs prefix every line with the worker's rank
// so interleaved output stays attributable.
func New(rank, worldSize int) *log.Logger {
	prefix := ""
	if worldSize > 1 {
		prefix = fmt.Sprintf("[rank %d/%d] ", rank, worldSize)
	}
	return log.New(os.Stderr, prefix, log.LstdFlags)
}
