package syncclient

import (
	"context"
	"encoding/json"
	"flag"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tsinghua-fib-lab/roadside-agent/event"
	"github.com/tsinghua-fib-lab/roadside-agent/signal"
)

var (
	// 固定重连间隔。对本设备类别而言，失去信号协同的代价高于多余的
	// 重连流量，因此不采用指数退避
	reconnectDelay = flag.Duration("sync.reconnect_delay", 5*time.Second, "双工通道重连间隔")
)

// Connect 建立双工通道
// 功能：置位重连标志并启动通道会话协程
// 返回：未注册时返回ErrNotRegistered；会话已存在时幂等返回nil
// 说明：通道建立失败或中途断开后，只要重连标志仍置位，会话协程
// 会按固定间隔无限重试
func (c *Client) Connect() error {
	if c.ClientID() == "" {
		return ErrNotRegistered
	}
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if c.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.reconnect.Store(true)
	go c.run(ctx)
	return nil
}

// Disconnect 主动断开双工通道
// 功能：清除重连标志、关闭存活或正在建立的通道、取消挂起的重连定时
// 说明：三个动作通过先清标志再取消上下文完成，上下文取消覆盖拨号、
// 读循环与重连等待，晚触发的定时器会在行动前重查标志，因此显式断开
// 之后不会再出现任何自动重连
func (c *Client) Disconnect() {
	c.reconnect.Store(false)
	c.mtx.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mtx.Unlock()
	if cancel != nil {
		cancel()
	}
	c.setState(StateIdle)
}

// run 通道会话协程
// 功能：循环执行 拨号→服务→固定间隔等待，直至重连标志被清除
// 算法说明：
// 1. 每轮开始重查重连标志与上下文
// 2. 拨号成功进入Open并发布connected事件，服务至通道出错或被关闭
// 3. 通道关闭进入Closed并发布disconnected事件
// 4. 等待固定间隔后回到循环顶部（等待可被上下文取消打断）
func (c *Client) run(ctx context.Context) {
	defer c.setState(StateIdle)
	for {
		if !c.reconnect.Load() || ctx.Err() != nil {
			return
		}
		c.setState(StateConnecting)
		conn, resp, err := websocket.DefaultDialer.DialContext(ctx, c.wsURL(), nil)
		if err != nil {
			if resp != nil {
				drainBody(resp.Body)
			}
			c.setState(StateClosed)
			if ctx.Err() == nil {
				log.Warnf("channel dial failed: %v", err)
			}
		} else {
			c.setState(StateOpen)
			log.Infof("channel open")
			c.publish(event.Event{Kind: event.KindConnected})
			c.serve(ctx, conn)
			c.setState(StateClosed)
			log.Warnf("channel closed")
			c.publish(event.Event{Kind: event.KindDisconnected})
		}
		if !c.reconnect.Load() || ctx.Err() != nil {
			return
		}
		c.publish(event.Event{Kind: event.KindReconnecting})
		select {
		case <-ctx.Done():
			return
		case <-time.After(*reconnectDelay):
			// 定时器到期后在循环顶部重查重连标志
		}
	}
}

// serve 服务一条已建立的通道
// 功能：启动写协程消费状态上报缓冲，在本协程读取并分发下行帧
// 说明：读出错即返回（由run负责状态迁移与重连），上下文取消通过
// 关闭连接解除读阻塞
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-ctx.Done():
				conn.Close()
				return
			case <-done:
				conn.Close()
				return
			case f := <-c.outbound:
				if err := conn.WriteJSON(f); err != nil {
					log.Warnf("status write failed: %v", err)
					conn.Close()
					return
				}
			}
		}
	}()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.Warnf("channel read failed: %v", err)
			}
			return
		}
		c.handleFrame(ctx, data)
	}
}

// handleFrame 分发一条下行帧
// 功能：按type字段分发request_update与neighbor_update
// 说明：解析失败或未知类型的帧记录日志后丢弃，通道保持打开
func (c *Client) handleFrame(ctx context.Context, data []byte) {
	var f inboundFrame
	if err := json.Unmarshal(data, &f); err != nil {
		log.Warnf("drop malformed frame: %v", err)
		return
	}
	switch f.Type {
	case frameTypeRequestUpdate:
		// 更新生产含HTTP调用，放入独立协程避免阻塞读循环
		go c.produceUpdate(ctx)
	case frameTypeNeighborUpdate:
		c.applyNeighborUpdate(f)
	default:
		log.Debugf("drop unknown frame type %q", f.Type)
	}
}

// applyNeighborUpdate 处理邻居状态广播
// 功能：按位置覆盖本地邻居缓存，将刷新后的计数写入信号控制器
// 说明：列表第0项对应邻居方向1，依此类推；超出3个的邻居忽略
func (c *Client) applyNeighborUpdate(f inboundFrame) {
	c.neighborsMtx.Lock()
	c.neighbors = f.Neighbors
	c.neighborsMtx.Unlock()
	if c.opts.Controller != nil {
		for i, nb := range f.Neighbors {
			if i >= signal.ApproachCount-1 {
				break
			}
			if err := c.opts.Controller.SetNeighborCount(i+1, nb.Count); err != nil {
				log.Warnf("neighbor %d count rejected: %v", i, err)
			}
		}
	}
	c.publish(event.Event{Kind: event.KindNeighborUpdate, ActiveDevices: f.ActiveDevices})
}

// wsURL 推导双工通道地址
// 功能：由HTTP基地址推导ws地址，路径为/ws/{client_id}
func (c *Client) wsURL() string {
	u := c.opts.BaseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws/" + c.ClientID()
}
