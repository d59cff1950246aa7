package logger

// nopLogger discards everything. Used by tests and tools that do not want
// log output.
type nopLogger struct{}

func NewNopLogger() Logger { return nopLogger{} }

func (nopLogger) InitLogger()                              {}
func (nopLogger) Debug(args ...interface{})                {}
func (nopLogger) Debugf(template string, args ...interface{}) {}
func (nopLogger) Info(args ...interface{})                 {}
func (nopLogger) Infof(template string, args ...interface{})  {}
func (nopLogger) Warn(args ...interface{})                 {}
func (nopLogger) Warnf(template string, args ...interface{})  {}
func (nopLogger) Error(args ...interface{})                {}
func (nopLogger) Errorf(template string, args ...interface{}) {}
func (nopLogger) Fatal(args ...interface{})                {}
func (nopLogger) Fatalf(template string, args ...interface{}) {}
