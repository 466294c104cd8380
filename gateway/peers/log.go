package peers

import "github.com/sirupsen/logrus"

var log = logrus.WithField("prefix", "peers")
