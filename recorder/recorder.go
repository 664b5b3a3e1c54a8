// 本地运行记录，将相位切换与模型更新轮次落库到MongoDB
package recorder

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tsinghua-fib-lab/roadside-agent/event"
	"github.com/tsinghua-fib-lab/roadside-agent/utils/config"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// log 记录模块的日志记录器
var log = logrus.WithField("module", "recorder")

// Recorder 运行记录器
// 功能：将事件总线上的相位切换与更新轮次事件写入MongoDB
// 说明：写入为尽力而为（独立协程+超时），失败只记日志，绝不向
// tick循环或通道协程传播；未配置URI时所有操作为空操作
type Recorder struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// New 创建运行记录器
// 参数：ctx-上下文，cfg-输出配置
// 返回：记录器实例；URI为空时返回禁用的记录器，连接失败返回错误
func New(ctx context.Context, cfg config.Output) (*Recorder, error) {
	if cfg.URI == "" {
		return &Recorder{}, nil
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("recorder: connect mongodb: %w", err)
	}
	db := cfg.DB
	if db == "" {
		db = "roadside"
	}
	col := cfg.Col
	if col == "" {
		col = "records"
	}
	return &Recorder{client: client, coll: client.Database(db).Collection(col)}, nil
}

// Enabled 记录器是否启用
func (r *Recorder) Enabled() bool {
	return r.coll != nil
}

// Record 记录一个事件
// 功能：将相位切换与更新轮次事件转换为文档写入，其余事件忽略
// 参数：e-事件总线上的事件
func (r *Recorder) Record(e event.Event) {
	if r.coll == nil {
		return
	}
	switch e.Kind {
	case event.KindSignalChanged:
		r.insert(bson.M{
			"class":  "transition",
			"step":   e.Step,
			"states": e.States,
			"counts": e.Counts,
			"t":      e.Time,
		})
	case event.KindUpdateAccepted:
		r.insert(bson.M{
			"class":    "update_round",
			"digest":   e.Digest,
			"verified": true,
			"t":        e.Time,
		})
	case event.KindUpdateRejected:
		r.insert(bson.M{
			"class":       "update_round",
			"digest":      e.Digest,
			"verified":    false,
			"server_hash": e.ServerHash,
			"t":           e.Time,
		})
	}
}

// insert 尽力而为地写入一个文档
func (r *Recorder) insert(doc bson.M) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := r.coll.InsertOne(ctx, doc); err != nil {
			log.Warnf("insert failed: %v", err)
		}
	}()
}

// Close 关闭记录器
func (r *Recorder) Close() {
	if r.client != nil {
		if err := r.client.Disconnect(context.Background()); err != nil {
			log.Warnf("disconnect failed: %v", err)
		}
	}
}
