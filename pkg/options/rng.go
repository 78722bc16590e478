package options

import (
	"math/rand/v2"
)

// NormalSource 标准正态随机数来源 (*rand.Rand 满足该接口)
type NormalSource interface {
	NormFloat64() float64
}

// StreamFactory 按路径序号派生独立随机流。
// 同一个 factory 对同一个 path 必须返回相同序列，这样并行执行也能复现。
type StreamFactory interface {
	Stream(path int) NormalSource
}

// PCGStreams 以 (seed, path) 为种子的 PCG 随机流
type PCGStreams struct {
	seed uint64
}

func NewPCGStreams(seed uint64) PCGStreams {
	return PCGStreams{seed: seed}
}

func (s PCGStreams) Seed() uint64 { return s.seed }

// Stream 第 path 条路径的随机流。
// 相邻 path 的初始状态先经过 splitmix64 打散，避免 PCG 状态相关。
func (s PCGStreams) Stream(path int) NormalSource {
	idx := uint64(path)
	return rand.New(rand.NewPCG(mix64(s.seed^mix64(idx)), mix64(s.seed+idx*0x9e3779b97f4a7c15)))
}

// freshSeed 未指定种子时使用，每次调用都不同
func freshSeed() uint64 {
	return rand.Uint64()
}

// mix64 splitmix64 的 finalizer
func mix64(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}
