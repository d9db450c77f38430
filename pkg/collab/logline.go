package collab

import "github.com/sirupsen/logrus"

// LogLineDriver is a development/demo LineDriver: it has no physical
// keying relay or ATU trigger wired up, so it logs every key transition at
// debug level and every ATU pulse at info level. Real deployments supply a LineDriver backed by GPIO or a
// serial interface to the transceiver; this one exists so the server
// binary is runnable without that hardware.
type LogLineDriver struct {
	log *logrus.Entry
}

// NewLogLineDriver builds a LineDriver that logs instead of asserting a
// physical line.
func NewLogLineDriver(log *logrus.Entry) *LogLineDriver {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &LogLineDriver{log: log}
}

// SetKey implements LineDriver.
func (l *LogLineDriver) SetKey(down bool) error {
	if down {
		l.log.Debug("key down")
	} else {
		l.log.Debug("key up")
	}
	return nil
}

// PulseATU implements LineDriver.
func (l *LogLineDriver) PulseATU() error {
	l.log.Info("ATU trigger pulse")
	return nil
}

// NoopATUButton is an ATUButton that never reports a press, for nodes
// with no auxiliary button wired.
type NoopATUButton struct{}

// PollShortPress implements ATUButton.
func (NoopATUButton) PollShortPress() bool { return false }
