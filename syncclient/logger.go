package syncclient

import "github.com/sirupsen/logrus"

// log 同步客户端模块的日志记录器
var log = logrus.WithField("module", "syncclient")
