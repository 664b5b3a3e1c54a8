package syncclient

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"flag"

	"github.com/tsinghua-fib-lab/roadside-agent/utils/randengine"
)

var (
	mutateRatio = flag.Float64("fl.mutate_ratio", 0.1, "每轮更新扰动的权重比例")
	mutateDelta = flag.Float64("fl.mutate_delta", 0.05, "权重扰动幅度上界（零均值均匀分布）")
	subsetSize  = flag.Int("fl.subset_size", 100, "每轮更新传输的权重子集长度")
)

// WeightVector 本地权重向量
// 说明：注册时一次性产生，长度此后不变，每轮更新原地扰动
type WeightVector []float64

// synthesizeWeights 合成权重向量
// 功能：生成n个[0,1)均匀分布的独立随机值
// 说明：注册响应未携带initial_weights时使用
func synthesizeWeights(e *randengine.Engine, n int) WeightVector {
	w := make(WeightVector, n)
	for i := range w {
		w[i] = e.Float64Safe()
	}
	return w
}

// perturb 原地扰动权重向量
// 功能：无放回抽取ratio比例的索引，每个对应权重加上[-delta, delta)
// 范围内的零均值随机增量，模拟一次本地训练步
// 说明：向量长度不变，至少扰动1个索引
func (w WeightVector) perturb(e *randengine.Engine, ratio, delta float64) {
	if len(w) == 0 {
		return
	}
	n := int(float64(len(w)) * ratio)
	if n < 1 {
		n = 1
	}
	if n > len(w) {
		n = len(w)
	}
	for _, idx := range e.PermSafe(len(w))[:n] {
		w[idx] += e.UniformSafe(-delta, delta)
	}
}

// leadingSubset 取权重向量的固定长度前缀
// 功能：返回前n个元素的副本作为传输子集
// 说明：无论本轮扰动了哪些索引，传输的始终是前缀切片——这是与
// 协调服务器约定的带宽上限行为，不随扰动索引变化
func (w WeightVector) leadingSubset(n int) []float64 {
	if n > len(w) {
		n = len(w)
	}
	out := make([]float64, n)
	copy(out, w[:n])
	return out
}

// encodeSubset 序列化传输子集并计算内容摘要
// 功能：将子集编码为JSON数组字节，并对这些字节计算sha256
// 返回：JSON字节（原样放入更新请求）、十六进制摘要
// 说明：协调服务器对收到的子集字节重算同一摘要做接受校验，
// 摘要范围严格限定为传输的子集本身，不含完整向量
func encodeSubset(subset []float64) (json.RawMessage, string, error) {
	raw, err := json.Marshal(subset)
	if err != nil {
		return nil, "", err
	}
	sum := sha256.Sum256(raw)
	return raw, hex.EncodeToString(sum[:]), nil
}
