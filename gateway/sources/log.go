package sources

import "github.com/sirupsen/logrus"

var log = logrus.WithField("prefix", "sources")
