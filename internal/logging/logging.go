package logging

import (
	"io"
	"log"
)

// New returns a logger that prefixes every message with "[name] ".
func New(w io.Writer, name string) *log.Logger {
	return log.New(w, "["+name+"] ", log.LstdFlags|log.Lmsgprefix)
}

// Debug returns a logger for verbose output. When disabled it writes nowhere.
func Debug(enabled bool, w io.Writer, name string) *log.Logger {
	if !enabled {
		return Discard()
	}
	return log.New(w, "["+name+"] debug: ", log.LstdFlags|log.Lmsgprefix|log.Lshortfile)
}

func Discard() *log.Logger {
	return log.New(io.Discard, "", 0)
}
