package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/tsinghua-fib-lab/roadside-agent/event"
)

// produceUpdate 执行一轮模型更新
// 功能：扰动本地权重向量并向协调服务器提交更新
// 算法说明：
// 1. 无放回抽取10%比例的随机索引，逐个加上有界零均值扰动
//   （模拟一次本地训练步，不做真实学习）
// 2. 取扰动后向量的固定长度前缀作为传输子集（带宽上限，
//    完整向量永不传输）
// 3. 对子集的序列化字节计算sha256作为签名，请求体中放入
//    完全相同的字节
// 4. POST /fl-update提交；接受则记录摘要与时间并发布事件，
//    拒绝则携带服务器哈希发布诊断事件
// 说明：任何失败只记录日志与事件，本轮不重试，不影响后续轮次，
// 也不影响通道本身
func (c *Client) produceUpdate(ctx context.Context) {
	c.weightsMtx.Lock()
	if len(c.weights) == 0 {
		c.weightsMtx.Unlock()
		log.Warnf("update requested before weights are seeded")
		return
	}
	c.weights.perturb(c.opts.Engine, *mutateRatio, *mutateDelta)
	subset := c.weights.leadingSubset(*subsetSize)
	clientID := c.clientID
	c.weightsMtx.Unlock()

	raw, digest, err := encodeSubset(subset)
	if err != nil {
		log.Errorf("encode subset failed: %v", err)
		c.publish(event.Event{Kind: event.KindUpdateFailed, Message: err.Error()})
		return
	}
	now := time.Now()
	body, err := json.Marshal(UpdateRequest{
		ClientID:       clientID,
		UpdatedWeights: raw,
		Metadata: UpdateMetadata{
			Timestamp:    now.Unix(),
			ModelVersion: c.opts.ModelVersion,
		},
		Signature: digest,
	})
	if err != nil {
		log.Errorf("marshal update request failed: %v", err)
		c.publish(event.Event{Kind: event.KindUpdateFailed, Message: err.Error()})
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+"/fl-update", bytes.NewReader(body))
	if err != nil {
		log.Errorf("build update request failed: %v", err)
		c.publish(event.Event{Kind: event.KindUpdateFailed, Message: err.Error()})
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		log.Warnf("update submit failed: %v", err)
		c.publish(event.Event{Kind: event.KindUpdateFailed, Message: err.Error()})
		return
	}
	defer resp.Body.Close()
	var ur UpdateResponse
	if err := json.NewDecoder(resp.Body).Decode(&ur); err != nil {
		log.Warnf("decode update response failed: %v", err)
		c.publish(event.Event{Kind: event.KindUpdateFailed, Message: err.Error()})
		return
	}

	if ur.Status == "accepted" && ur.Verified {
		c.lastMtx.Lock()
		c.lastDigest = digest
		c.lastUpdateTime = now
		c.lastMtx.Unlock()
		log.Infof("update accepted, digest %s", digest)
		c.publish(event.Event{Kind: event.KindUpdateAccepted, Digest: digest, Time: now})
	} else {
		log.Warnf("update rejected, status %q verified %v, server hash %s", ur.Status, ur.Verified, ur.ServerHash)
		c.publish(event.Event{
			Kind:       event.KindUpdateRejected,
			Digest:     digest,
			ServerHash: ur.ServerHash,
			Message:    ur.Status,
		})
	}
}
