package main

import (
	"context"
	"encoding/base64"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	easy "git.fiblab.net/utils/logrus-easy-formatter"
	"github.com/sirupsen/logrus"
	"github.com/tsinghua-fib-lab/roadside-agent/api"
	"github.com/tsinghua-fib-lab/roadside-agent/clock"
	"github.com/tsinghua-fib-lab/roadside-agent/event"
	"github.com/tsinghua-fib-lab/roadside-agent/recorder"
	sig "github.com/tsinghua-fib-lab/roadside-agent/signal"
	"github.com/tsinghua-fib-lab/roadside-agent/syncclient"
	"github.com/tsinghua-fib-lab/roadside-agent/utils/config"
	"github.com/tsinghua-fib-lab/roadside-agent/utils/randengine"
	"gopkg.in/yaml.v2"
)

var (
	// 配置文件路径
	configPath = flag.String("config", "", "config file path")
	// 配置文件Base64编码后的数据
	configData = flag.String("config-data", "", "config file base64 encoded data")
	// 随机数种子
	seed = flag.Uint64("seed", 43, "random seed")

	// log
	logLevels = map[string]logrus.Level{
		"trace":    logrus.TraceLevel,
		"debug":    logrus.DebugLevel,
		"info":     logrus.InfoLevel,
		"warn":     logrus.WarnLevel,
		"error":    logrus.ErrorLevel,
		"critical": logrus.FatalLevel,
		"off":      logrus.PanicLevel,
	}
	logLevel = flag.String("log.level", "info", "日志级别（可选项：trace debug info warn error critical off）")

	log = logrus.WithField("module", "agent")
)

func main() {
	flag.Parse()
	logrus.SetFormatter(&easy.Formatter{
		TimestampFormat: "2006-01-02 15:04:05.0000",
		LogFormat:       "[%module%] [%time%] [%lvl%] %msg%\n",
	})
	// log: 运行时才修改
	if level, ok := logLevels[*logLevel]; ok {
		logrus.SetLevel(level)
	} else {
		log.Panicf("log.level must be one of %v", logLevels)
	}
	// 获取配置
	var c config.Config
	var file []byte
	var err error
	if *configPath != "" {
		file, err = os.ReadFile(*configPath)
		if err != nil {
			log.Panicf("config file load err: %v", err)
		}
	} else if *configData != "" {
		file, err = base64.StdEncoding.DecodeString(*configData)
		if err != nil {
			log.Panicf("config data load err: %v", err)
		}
	} else {
		log.Panic("config file or config data must be specified")
	}
	if err := yaml.UnmarshalStrict(file, &c); err != nil {
		log.Panicf("config file load err: %v", err)
	}
	rc, err := config.NewRuntimeConfig(c)
	if err != nil {
		log.Panicf("config check err: %v", err)
	}
	log.Infof("%+v", rc.All)

	engine := randengine.New(*seed)
	bus := event.NewBus(64)
	controller := sig.New(bus)
	clk := clock.New(rc.C.Step)

	rec, err := recorder.New(context.Background(), rc.All.Output)
	if err != nil {
		log.Panicf("recorder init err: %v", err)
	}
	defer rec.Close()

	client := syncclient.New(syncclient.Options{
		BaseURL:      rc.All.Coordinator.URL,
		Device:       rc.All.Device,
		VectorSize:   rc.All.Model.VectorSize,
		ModelVersion: rc.All.Model.Version,
		Engine:       engine,
		Bus:          bus,
		Controller:   controller,
	})

	// 事件消费：落库与遥测日志
	go func() {
		for e := range bus.Events() {
			rec.Record(e)
			log.Debugf("event %v: %s", e.Kind, e.Message)
		}
	}()

	// 注册是一切网络活动的前置条件，失败直接退出由运维重试
	if err := client.Register(context.Background()); err != nil {
		log.Panicf("registration err: %v", err)
	}
	if rc.All.Coordinator.AutoConnect {
		if err := client.Connect(); err != nil {
			log.Panicf("connect err: %v", err)
		}
	}

	// 本地控制API
	if rc.All.API.Addr != "" {
		srv := api.New(rc.All.API.Addr, controller, client, clk)
		go func() {
			if err := srv.Serve(); err != nil {
				log.Panicf("local api err: %v", err)
			}
		}()
	}

	// tick循环：每个tick读取最新计数、推进状态机、上报状态
	// 循环内无阻塞I/O，通道故障不会阻塞安全关键的相位决策
	simDetector := rc.All.Detector.Mode == "sim"
	ticker := time.NewTicker(time.Duration(clk.DT * float64(time.Second)))
	defer ticker.Stop()
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	for {
		select {
		case <-quit:
			log.Infof("shutting down at step %d (%s)", clk.Step(), clk)
			client.Disconnect()
			return
		case <-ticker.C:
			if simDetector {
				controller.SetSelfCount(int32(30 + engine.IntnSafe(71)))
			}
			step := clk.Tick()
			controller.Update(step)
			client.PushStatus(controller.SelfSignal(), controller.SelfCount())
		}
	}
}
