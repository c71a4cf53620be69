package logging

import "testing"

type countingLogger struct {
	debug, info, warn, errs int
}

func (c *countingLogger) Debug(string, ...any) { c.debug++ }
func (c *countingLogger) Info(string, ...any)  { c.info++ }
func (c *countingLogger) Warn(string, ...any)  { c.warn++ }
func (c *countingLogger) Error(string, ...any) { c.errs++ }

func TestOrNop(t *testing.T) {
	if OrNop(nil) == nil {
		t.Fatal("OrNop(nil) returned nil")
	}
	var typed *countingLogger
	if OrNop(typed) == nil {
		t.Fatal("OrNop(typed nil) returned nil")
	}

	real := &countingLogger{}
	got := OrNop(real)
	got.Info("hello")
	if real.info != 1 {
		t.Fatalf("expected wrapped logger to receive call, got %d", real.info)
	}
}

func TestMultiFansOut(t *testing.T) {
	a := &countingLogger{}
	b := &countingLogger{}
	logger := Multi(a, nil, b)

	logger.Debug("d")
	logger.Warn("w")
	logger.Error("e")

	for name, c := range map[string]*countingLogger{"a": a, "b": b} {
		if c.debug != 1 || c.warn != 1 || c.errs != 1 {
			t.Fatalf("logger %s missed calls: %+v", name, c)
		}
	}
}

func TestMultiFlattensNested(t *testing.T) {
	a := &countingLogger{}
	inner := Multi(a)
	outer := Multi(inner).(*multiLogger)
	_ = outer

	b := &countingLogger{}
	nested := Multi(Multi(a, b), a)
	ml, ok := nested.(*multiLogger)
	if !ok {
		t.Fatalf("expected multiLogger, got %T", nested)
	}
	if len(ml.loggers) != 3 {
		t.Fatalf("expected 3 flattened loggers, got %d", len(ml.loggers))
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		"info":    LevelInfo,
		"warn":    LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
		"bogus":   LevelInfo,
	}
	for input, want := range cases {
		if got := ParseLevel(input); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", input, got, want)
		}
	}
}
