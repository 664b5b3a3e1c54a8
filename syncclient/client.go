// 协调服务器同步客户端
// 负责设备注册、可自动重连的双工通道、状态上报与下行指令处理，
// 网络任何异常都不会回灌到安全关键的tick循环
package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tsinghua-fib-lab/roadside-agent/event"
	"github.com/tsinghua-fib-lab/roadside-agent/signal"
	"github.com/tsinghua-fib-lab/roadside-agent/utils/config"
	"github.com/tsinghua-fib-lab/roadside-agent/utils/randengine"
)

var (
	ErrNotRegistered = errors.New("syncclient: not registered")
	ErrRegistered    = errors.New("syncclient: already registered")
)

// ConnectionState 双工通道连接状态
type ConnectionState int32

const (
	StateIdle       ConnectionState = iota // 未连接（无重连意图）
	StateConnecting                        // 正在建立通道
	StateOpen                              // 通道已建立
	StateClosed                            // 通道已断开（等待重连）
)

// String 获取连接状态的字符串表示
func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "idle"
	}
}

// Options 同步客户端构造参数
type Options struct {
	BaseURL      string             // 协调服务器HTTP地址
	Device       config.Device      // 设备身份
	VectorSize   int                // 本地合成权重向量长度
	ModelVersion string             // 上报metadata中的model_version
	Engine       *randengine.Engine // 随机数引擎
	Bus          *event.Bus         // 事件总线，可为nil
	Controller   *signal.Controller // 信号控制器（写入邻居计数）
	HTTPClient   *http.Client       // HTTP客户端，nil则使用默认超时客户端
}

// Client 协调服务器同步客户端
// 并发说明：注册在任何网络活动之前完成，clientID与weights此后仅被
// 更新协程读写（weightsMtx保护）；连接状态为原子变量；通道生命周期
// （cancel）由mtx保护，Connect/Disconnect可从任意协程调用
type Client struct {
	opts Options
	http *http.Client

	clientID   string       // 注册后由协调服务器分配，断线不丢失
	weights    WeightVector // 本地权重向量，断线不丢失
	weightsMtx sync.Mutex

	state     atomic.Int32 // ConnectionState
	reconnect atomic.Bool  // 重连标志，Disconnect清除

	mtx    sync.Mutex
	cancel context.CancelFunc // 当前通道会话的取消函数，nil表示无会话

	outbound chan statusFrame // 状态上报缓冲，写协程消费

	neighborsMtx sync.Mutex
	neighbors    []Neighbor // 最近一次邻居广播（位置序）

	lastMtx        sync.Mutex
	lastDigest     string    // 最近一次被接受更新的摘要
	lastUpdateTime time.Time // 最近一次被接受更新的时间
}

// New 创建同步客户端
// 参数：opts-构造参数
// 返回：初始化完成的客户端实例，处于Idle状态
func New(opts Options) *Client {
	c := &Client{
		opts:     opts,
		http:     opts.HTTPClient,
		outbound: make(chan statusFrame, 8),
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 10 * time.Second}
	}
	c.opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return c
}

// Register 向协调服务器注册设备
// 功能：上报设备身份，获取客户端ID并初始化本地权重向量
// 参数：ctx-上下文
// 返回：注册失败时返回错误（本次尝试终止，不自动重试）
// 算法说明：
// 1. POST /register，携带{name, intersection_type, position}
// 2. 响应携带initial_weights时以其为初始向量
// 3. 否则按配置长度合成[0,1)均匀随机向量
// 说明：注册成功是建立双工通道的前置条件；重复注册返回ErrRegistered
func (c *Client) Register(ctx context.Context) error {
	if c.ClientID() != "" {
		return ErrRegistered
	}
	body, err := json.Marshal(RegistrationRequest{
		Name:             c.opts.Device.Name,
		IntersectionType: c.opts.Device.IntersectionType,
		Position:         c.opts.Device.Position,
	})
	if err != nil {
		return fmt.Errorf("syncclient: marshal registration: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+"/register", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("syncclient: build registration request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("syncclient: registration request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("syncclient: registration rejected with status %s", resp.Status)
	}
	var rr RegistrationResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return fmt.Errorf("syncclient: decode registration response: %w", err)
	}
	if rr.ClientID == "" {
		return fmt.Errorf("syncclient: registration response without client_id")
	}

	c.weightsMtx.Lock()
	if len(rr.InitialWeights) > 0 {
		c.weights = WeightVector(rr.InitialWeights)
	} else {
		c.weights = synthesizeWeights(c.opts.Engine, c.opts.VectorSize)
	}
	vectorSize := len(c.weights)
	c.clientID = rr.ClientID
	c.weightsMtx.Unlock()

	log.Infof("registered as %s (%d weights)", rr.ClientID, vectorSize)
	c.publish(event.Event{Kind: event.KindRegistered, Message: rr.Message})
	return nil
}

// ClientID 获取协调服务器分配的客户端ID
// 返回：客户端ID，未注册时为空串
func (c *Client) ClientID() string {
	c.weightsMtx.Lock()
	defer c.weightsMtx.Unlock()
	return c.clientID
}

// State 获取当前连接状态
func (c *Client) State() ConnectionState {
	return ConnectionState(c.state.Load())
}

// PushStatus 上报本机状态（每tick调用，发后不管）
// 功能：将{signal, count}帧放入发送缓冲
// 参数：sig-本机信号状态，count-本机车流计数
// 说明：通道非Open或缓冲已满时静默丢弃，绝不阻塞tick循环
func (c *Client) PushStatus(sig signal.LightState, count int32) {
	if c.State() != StateOpen {
		return
	}
	select {
	case c.outbound <- statusFrame{Type: frameTypeStatus, Signal: sig.String(), Count: count}:
	default:
	}
}

// Neighbors 获取最近一次邻居广播的副本
func (c *Client) Neighbors() []Neighbor {
	c.neighborsMtx.Lock()
	defer c.neighborsMtx.Unlock()
	out := make([]Neighbor, len(c.neighbors))
	copy(out, c.neighbors)
	return out
}

// LastUpdate 获取最近一次被接受更新的摘要与时间
func (c *Client) LastUpdate() (digest string, t time.Time) {
	c.lastMtx.Lock()
	defer c.lastMtx.Unlock()
	return c.lastDigest, c.lastUpdateTime
}

// setState 写入连接状态
func (c *Client) setState(s ConnectionState) {
	c.state.Store(int32(s))
}

// publish 发布事件（总线为nil时忽略）
func (c *Client) publish(e event.Event) {
	if c.opts.Bus != nil {
		c.opts.Bus.Publish(e)
	}
}

// drainBody 读尽并关闭响应体，便于连接复用
func drainBody(r io.ReadCloser) {
	_, _ = io.Copy(io.Discard, r)
	_ = r.Close()
}
