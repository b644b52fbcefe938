package monitoring

import (
	"fmt"
	"testing"
)

func TestSetLoggerCapturesOutput(t *testing.T) {
	defer SetLogger(nil)

	var got []string
	SetLogger(func(format string, v ...interface{}) {
		got = append(got, fmt.Sprintf(format, v...))
	})

	Logf("hello %s", "world")
	if len(got) != 1 || got[0] != "hello world" {
		t.Errorf("captured %v, want [hello world]", got)
	}
}

func TestSetLoggerNilIsNoOp(t *testing.T) {
	SetLogger(nil)
	Logf("should not panic %d", 1)
}

func TestDebugfGating(t *testing.T) {
	defer SetLogger(nil)
	defer SetDebug(false)

	var got []string
	SetLogger(func(format string, v ...interface{}) {
		got = append(got, fmt.Sprintf(format, v...))
	})

	SetDebug(false)
	Debugf("muted")
	if len(got) != 0 {
		t.Fatalf("Debugf logged while disabled: %v", got)
	}

	SetDebug(true)
	Debugf("visible %d", 7)
	if len(got) != 1 || got[0] != "debug: visible 7" {
		t.Errorf("captured %v, want [debug: visible 7]", got)
	}
}
