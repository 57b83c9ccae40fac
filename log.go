package freight

import "github.com/sirupsen/logrus"

// logger carries structured diagnostics for skipped codecs and decode
// failures. Loading never fails on a single bad cell; it logs here instead.
var logger logrus.FieldLogger = logrus.StandardLogger().WithField("lib", "freight")

// SetLogger replaces the package logger
func SetLogger(l logrus.FieldLogger) {
	if l != nil {
		logger = l
	}
}
