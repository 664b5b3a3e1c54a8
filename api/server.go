// 本地控制API，面向UI与检测管线提供HTTP JSON接口
// 路由：POST /connect、POST /disconnect、GET /state、POST /count
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tsinghua-fib-lab/roadside-agent/clock"
	"github.com/tsinghua-fib-lab/roadside-agent/signal"
	"github.com/tsinghua-fib-lab/roadside-agent/syncclient"
)

// log 本地API模块的日志记录器
var log = logrus.WithField("module", "api")

// Server 本地控制HTTP服务
// 功能：对外暴露连接控制、状态查询与本机计数写入接口
// 说明：UI属于外部协作方，这里只提供其下发connect/disconnect指令
// 与读取遥测所需的最小表面
type Server struct {
	addr       string
	mux        *http.ServeMux
	controller *signal.Controller
	client     *syncclient.Client
	clk        *clock.Clock
}

// New 创建本地控制服务
// 参数：addr-监听地址，ctrl-信号控制器，cli-同步客户端，clk-时钟
func New(addr string, ctrl *signal.Controller, cli *syncclient.Client, clk *clock.Clock) *Server {
	s := &Server{
		addr:       addr,
		mux:        http.NewServeMux(),
		controller: ctrl,
		client:     cli,
		clk:        clk,
	}
	s.mux.HandleFunc("/connect", s.handleConnect)
	s.mux.HandleFunc("/disconnect", s.handleDisconnect)
	s.mux.HandleFunc("/state", s.handleState)
	s.mux.HandleFunc("/count", s.handleCount)
	return s
}

// Handler 获取HTTP处理器（测试用）
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Serve 启动本地控制服务（阻塞）
func (s *Server) Serve() error {
	log.Infof("local api listening on %s", s.addr)
	return http.ListenAndServe(s.addr, s.mux)
}

// approachState 单个方向的状态描述
type approachState struct {
	Approach string `json:"approach"` // 方向名（self|n1|n2|n3）
	Signal   string `json:"signal"`   // 信号状态
	Count    int32  `json:"count"`    // 车流计数
}

// stateResponse /state响应
type stateResponse struct {
	ClientID   string                `json:"client_id"`
	Connection string                `json:"connection"`
	Step       int32                 `json:"step"`
	Time       string                `json:"time"`
	Approaches []approachState       `json:"approaches"`
	Neighbors  []syncclient.Neighbor `json:"neighbors"`
	LastDigest string                `json:"last_digest,omitempty"`
	LastUpdate *time.Time            `json:"last_update,omitempty"`
}

// handleState 状态查询
// 功能：返回全局信号状态、各方向计数、连接状态与最近更新摘要
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	states := s.controller.Snapshot()
	approaches := make([]approachState, signal.ApproachCount)
	for i, st := range states {
		approaches[i] = approachState{
			Approach: signal.ApproachName(i),
			Signal:   st.String(),
			Count:    s.controller.Count(i),
		}
	}
	digest, updateT := s.client.LastUpdate()
	resp := stateResponse{
		ClientID:   s.client.ClientID(),
		Connection: s.client.State().String(),
		Step:       s.clk.Step(),
		Time:       s.clk.String(),
		Approaches: approaches,
		Neighbors:  s.client.Neighbors(),
		LastDigest: digest,
	}
	if !updateT.IsZero() {
		resp.LastUpdate = &updateT
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleConnect 连接指令
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.client.Connect(); err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "connecting"})
}

// handleDisconnect 断开指令
func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.client.Disconnect()
	writeJSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
}

// countRequest /count请求体
type countRequest struct {
	Count int32 `json:"count"` // 本机方向最新车流计数（非负）
}

// handleCount 本机计数写入
// 功能：供检测管线在real模式下按tick粒度写入本机车流计数
func (s *Server) handleCount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req countRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.Count < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "count must be non-negative"})
		return
	}
	s.controller.SetSelfCount(req.Count)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON 写出JSON响应
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warnf("write response failed: %v", err)
	}
}
