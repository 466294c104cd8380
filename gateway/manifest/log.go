package manifest

import "github.com/sirupsen/logrus"

var log = logrus.WithField("prefix", "manifest")
