package llm

import (
	"context"
	"sync/atomic"

	"homeroom/services/homeroom/internal/domain"
)

// Fake answers every request with canned, task shaped text. It is used for
// offline development when USE_FAKE_LLM is set.
type Fake struct {
	calls atomic.Int64
}

func NewFake() *Fake {
	return &Fake{}
}

func (f *Fake) Calls() int64 {
	return f.calls.Load()
}

func (f *Fake) Call(ctx context.Context, req Request) Result {
	f.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return Result{Failure: FailureTransport, Detail: err.Error(), Attempts: 1}
	}
	switch req.Task {
	case domain.TaskExplain:
		return Result{Text: "1. 問題文を読んで、分かっていることを書き出そう\n2. 求めるものを式で表そう\n3. 計算して、答えを確かめよう", Attempts: 1}
	case domain.TaskDigest:
		return Result{Text: "まずは締め切りが一番近いものを5分だけ進めよう。", Attempts: 1}
	default:
		return Result{Text: "うん、分かった。まず5分だけやってみる？", Attempts: 1}
	}
}
