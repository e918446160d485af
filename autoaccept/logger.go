package autoaccept

import (
	"github.com/sirupsen/logrus"
)

var logger = logrus.WithFields(logrus.Fields{"prefix": "autoaccept"})

func SetLogger(l *logrus.Entry) {
	logger = l
}
