package syncclient

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/roadside-agent/event"
	"github.com/tsinghua-fib-lab/roadside-agent/signal"
	"github.com/tsinghua-fib-lab/roadside-agent/utils/config"
	"github.com/tsinghua-fib-lab/roadside-agent/utils/randengine"
)

// testCoordinator 模拟协调服务器
// 提供/register、/fl-update与/ws/{client_id}三个端点
type testCoordinator struct {
	t   *testing.T
	srv *httptest.Server

	mtx            sync.Mutex
	dials          int  // websocket握手次数
	conns          []*websocket.Conn
	closeOnAccept  bool      // 握手后立即断开，用于重连测试
	rejectUpdates  bool      // 强制更新校验失败
	initialWeights []float64 // 注册响应携带的初始权重

	statusCh chan statusFrame   // 收到的状态上报
	updateCh chan UpdateRequest // 收到的模型更新
	hashCh   chan string        // 服务器侧计算的哈希
}

func newTestCoordinator(t *testing.T) *testCoordinator {
	tc := &testCoordinator{
		t:        t,
		statusCh: make(chan statusFrame, 16),
		updateCh: make(chan UpdateRequest, 16),
		hashCh:   make(chan string, 16),
	}
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/register", func(w http.ResponseWriter, r *http.Request) {
		tc.mtx.Lock()
		weights := tc.initialWeights
		tc.mtx.Unlock()
		json.NewEncoder(w).Encode(RegistrationResponse{
			ClientID:       "abc123def456",
			InitialWeights: weights,
			Message:        "Registration successful",
		})
	})
	mux.HandleFunc("/fl-update", func(w http.ResponseWriter, r *http.Request) {
		var req UpdateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		// 协调服务器对收到的子集字节重算哈希做接受校验
		sum := sha256.Sum256(req.UpdatedWeights)
		serverHash := hex.EncodeToString(sum[:])
		verified := serverHash == req.Signature
		tc.mtx.Lock()
		if tc.rejectUpdates {
			verified = false
			serverHash = "0badc0de"
		}
		tc.mtx.Unlock()
		tc.updateCh <- req
		tc.hashCh <- serverHash
		json.NewEncoder(w).Encode(UpdateResponse{
			Status:     "accepted",
			Verified:   verified,
			ServerHash: serverHash,
		})
	})
	mux.HandleFunc("/ws/", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		tc.mtx.Lock()
		tc.dials++
		closeNow := tc.closeOnAccept
		if !closeNow {
			tc.conns = append(tc.conns, conn)
		}
		tc.mtx.Unlock()
		if closeNow {
			conn.Close()
			return
		}
		for {
			var f statusFrame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			tc.statusCh <- f
		}
	})
	tc.srv = httptest.NewServer(mux)
	t.Cleanup(tc.srv.Close)
	return tc
}

// dialCount 获取握手次数
func (tc *testCoordinator) dialCount() int {
	tc.mtx.Lock()
	defer tc.mtx.Unlock()
	return tc.dials
}

// send 向最近一条通道下发一帧
func (tc *testCoordinator) send(raw string) error {
	tc.mtx.Lock()
	conn := tc.conns[len(tc.conns)-1]
	tc.mtx.Unlock()
	return conn.WriteMessage(websocket.TextMessage, []byte(raw))
}

// eventSink 收集事件总线上的事件
type eventSink struct {
	mtx    sync.Mutex
	events []event.Event
}

func collect(bus *event.Bus) *eventSink {
	s := &eventSink{}
	go func() {
		for e := range bus.Events() {
			s.mtx.Lock()
			s.events = append(s.events, e)
			s.mtx.Unlock()
		}
	}()
	return s
}

// find 查找指定类型的最近一个事件
func (s *eventSink) find(k event.Kind) (event.Event, bool) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].Kind == k {
			return s.events[i], true
		}
	}
	return event.Event{}, false
}

// has 是否收到过指定类型的事件
func (s *eventSink) has(k event.Kind) bool {
	_, ok := s.find(k)
	return ok
}

func newTestClient(tc *testCoordinator, ctrl *signal.Controller, bus *event.Bus) *Client {
	return New(Options{
		BaseURL: tc.srv.URL,
		Device: config.Device{
			Name:             "Edge-1",
			IntersectionType: "4-way",
			Position:         "Signal 1",
		},
		VectorSize:   64,
		ModelVersion: "v1",
		Engine:       randengine.New(1),
		Bus:          bus,
		Controller:   ctrl,
	})
}

// shortReconnectDelay 将重连间隔调短以加速测试
func shortReconnectDelay(t *testing.T, d time.Duration) {
	old := *reconnectDelay
	*reconnectDelay = d
	t.Cleanup(func() { *reconnectDelay = old })
}

func TestRegisterSeedsFromServerWeights(t *testing.T) {
	tc := newTestCoordinator(t)
	tc.initialWeights = []float64{0.1, 0.2, 0.3}
	c := newTestClient(tc, nil, nil)

	require.NoError(t, c.Register(context.Background()))
	assert.Equal(t, "abc123def456", c.ClientID())
	assert.Equal(t, WeightVector{0.1, 0.2, 0.3}, c.weights)

	// 重复注册被拒绝，身份不可变
	assert.ErrorIs(t, c.Register(context.Background()), ErrRegistered)
}

func TestRegisterSynthesizesWeights(t *testing.T) {
	tc := newTestCoordinator(t)
	c := newTestClient(tc, nil, nil)

	require.NoError(t, c.Register(context.Background()))
	assert.Len(t, c.weights, 64)
	for _, v := range c.weights {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.Less(t, v, 1.0)
	}
}

func TestRegisterFailureIsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	c := New(Options{BaseURL: srv.URL, Engine: randengine.New(1)})

	assert.Error(t, c.Register(context.Background()))
	assert.Empty(t, c.ClientID())
	// 注册失败时不允许建立通道
	assert.ErrorIs(t, c.Connect(), ErrNotRegistered)
}

func TestStatusPushNoopWhenNotOpen(t *testing.T) {
	tc := newTestCoordinator(t)
	c := newTestClient(tc, nil, nil)
	// 通道未建立时静默丢弃，不阻塞不panic
	for i := 0; i < 100; i++ {
		c.PushStatus(signal.LightStateGreen, 1)
	}
	assert.Equal(t, StateIdle, c.State())
}

func TestStatusPushDeliversFrame(t *testing.T) {
	tc := newTestCoordinator(t)
	bus := event.NewBus(64)
	sink := collect(bus)
	c := newTestClient(tc, nil, bus)
	require.NoError(t, c.Register(context.Background()))
	require.NoError(t, c.Connect())
	defer c.Disconnect()

	require.Eventually(t, func() bool { return c.State() == StateOpen }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, sink.has(event.KindConnected))

	c.PushStatus(signal.LightStateGreen, 42)
	select {
	case f := <-tc.statusCh:
		assert.Equal(t, "status", f.Type)
		assert.Equal(t, "GREEN", f.Signal)
		assert.Equal(t, int32(42), f.Count)
	case <-time.After(2 * time.Second):
		t.Fatal("status frame not received")
	}
}

func TestReconnectAfterChannelError(t *testing.T) {
	shortReconnectDelay(t, 50*time.Millisecond)
	tc := newTestCoordinator(t)
	tc.closeOnAccept = true
	bus := event.NewBus(64)
	sink := collect(bus)
	c := newTestClient(tc, nil, bus)
	require.NoError(t, c.Register(context.Background()))
	require.NoError(t, c.Connect())

	// 服务器每次握手后立即断开，固定间隔后应不断重试
	require.Eventually(t, func() bool { return tc.dialCount() >= 3 }, 3*time.Second, 10*time.Millisecond)
	assert.True(t, sink.has(event.KindDisconnected))
	assert.True(t, sink.has(event.KindReconnecting))

	// 显式断开后不得再出现任何自动重连
	c.Disconnect()
	time.Sleep(100 * time.Millisecond)
	base := tc.dialCount()
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, base, tc.dialCount())
	assert.Equal(t, StateIdle, c.State())
}

func TestConnectIsIdempotent(t *testing.T) {
	tc := newTestCoordinator(t)
	c := newTestClient(tc, nil, nil)
	require.NoError(t, c.Register(context.Background()))
	require.NoError(t, c.Connect())
	defer c.Disconnect()
	require.NoError(t, c.Connect()) // 会话已存在，幂等
	require.Eventually(t, func() bool { return c.State() == StateOpen }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, tc.dialCount())
}

func TestNeighborUpdateFeedsController(t *testing.T) {
	tc := newTestCoordinator(t)
	bus := event.NewBus(64)
	sink := collect(bus)
	ctrl := signal.New(nil)
	c := newTestClient(tc, ctrl, bus)
	require.NoError(t, c.Register(context.Background()))
	require.NoError(t, c.Connect())
	defer c.Disconnect()
	require.Eventually(t, func() bool { return c.State() == StateOpen }, 2*time.Second, 10*time.Millisecond)

	// 畸形帧只应被丢弃，通道保持打开
	require.NoError(t, tc.send("{not json"))
	require.NoError(t, tc.send(`{"type":"neighbor_update","neighbors":[`+
		`{"pos":"Signal 2","name":"Sim-Node-2","ip":"10.10.0.0","signal":"RED","count":7},`+
		`{"pos":"Signal 3","name":"Sim-Node-3","ip":"10.10.0.0","signal":"GREEN","count":8},`+
		`{"pos":"Signal 4","name":"Sim-Node-4","ip":"10.10.0.0","signal":"RED","count":9}],`+
		`"active_devices":2}`))

	require.Eventually(t, func() bool {
		return ctrl.Count(1) == 7 && ctrl.Count(2) == 8 && ctrl.Count(3) == 9
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, StateOpen, c.State())

	nbs := c.Neighbors()
	require.Len(t, nbs, 3)
	assert.Equal(t, "Sim-Node-2", nbs[0].Name)
	e, ok := sink.find(event.KindNeighborUpdate)
	require.True(t, ok)
	assert.Equal(t, int32(2), e.ActiveDevices)
}

func TestUpdateRoundAccepted(t *testing.T) {
	tc := newTestCoordinator(t)
	tc.initialWeights = make([]float64, 200)
	bus := event.NewBus(64)
	sink := collect(bus)
	c := newTestClient(tc, nil, bus)
	require.NoError(t, c.Register(context.Background()))
	require.NoError(t, c.Connect())
	defer c.Disconnect()
	require.Eventually(t, func() bool { return c.State() == StateOpen }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, tc.send(`{"type":"request_update"}`))

	var req UpdateRequest
	select {
	case req = <-tc.updateCh:
	case <-time.After(2 * time.Second):
		t.Fatal("update not received")
	}
	serverHash := <-tc.hashCh
	assert.Equal(t, "abc123def456", req.ClientID)
	assert.Equal(t, "v1", req.Metadata.ModelVersion)
	// 传输的子集是固定长度前缀，哈希范围与传输字节严格一致
	var subset []float64
	require.NoError(t, json.Unmarshal(req.UpdatedWeights, &subset))
	assert.Len(t, subset, 100)
	assert.Equal(t, serverHash, req.Signature)

	require.Eventually(t, func() bool { return sink.has(event.KindUpdateAccepted) }, 2*time.Second, 10*time.Millisecond)
	digest, when := c.LastUpdate()
	assert.Equal(t, req.Signature, digest)
	assert.False(t, when.IsZero())
}

func TestUpdateRoundRejected(t *testing.T) {
	tc := newTestCoordinator(t)
	tc.rejectUpdates = true
	tc.initialWeights = make([]float64, 200)
	bus := event.NewBus(64)
	sink := collect(bus)
	c := newTestClient(tc, nil, bus)
	require.NoError(t, c.Register(context.Background()))
	require.NoError(t, c.Connect())
	defer c.Disconnect()
	require.Eventually(t, func() bool { return c.State() == StateOpen }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, tc.send(`{"type":"request_update"}`))
	require.Eventually(t, func() bool { return sink.has(event.KindUpdateRejected) }, 2*time.Second, 10*time.Millisecond)

	// 拒绝不影响通道，也不记录最近更新
	e, _ := sink.find(event.KindUpdateRejected)
	assert.Equal(t, "0badc0de", e.ServerHash)
	assert.Equal(t, StateOpen, c.State())
	digest, _ := c.LastUpdate()
	assert.Empty(t, digest)
}
