package arns

import "github.com/sirupsen/logrus"

var log = logrus.WithField("prefix", "arns")
