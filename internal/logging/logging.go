// Package logging configures the shared logrus logger every process uses.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Setup parses level and points logrus at stdout with a text formatter
// showing full timestamps; an unparsable level falls back to Info rather
// than failing process startup over a logging misconfiguration.
func Setup(level string) {
	lv, err := logrus.ParseLevel(level)
	if err != nil {
		lv = logrus.InfoLevel
	}
	logrus.SetLevel(lv)
	logrus.SetOutput(os.Stdout)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}
