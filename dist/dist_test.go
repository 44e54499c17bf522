package dist

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/djeday123/gotune/model"
)

func TestLocalStrategy(t *testing.T) {
	var s Strategy = Local{}
	if !s.IsMaster() {
		t.Error("local strategy must be the master")
	}
	if s.Rank() != 0 || s.WorldSize() != 1 {
		t.Errorf("rank/world = %d/%d, want 0/1", s.Rank(), s.WorldSize())
	}

	p := &model.Param{Name: "w", Shape: []int{2}, Data: []float32{1, 2}, Grad: []float32{3, 4}}
	if err := s.SyncGradients([]*model.Param{p}); err != nil {
		t.Fatalf("SyncGradients failed: %v", err)
	}
	if p.Grad[0] != 3 || p.Grad[1] != 4 {
		t.Errorf("local sync changed gradients: %v", p.Grad)
	}
}

func TestAllReduceSums(t *testing.T) {
	groups, err := NewInProcWorld(3)
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	bufs := [][]float32{
		{1, 10},
		{2, 20},
		{3, 30},
	}
	for i, g := range groups {
		wg.Add(1)
		go func(g ProcessGroup, buf []float32) {
			defer wg.Done()
			if err := g.AllReduceSum(buf); err != nil {
				t.Errorf("AllReduceSum failed: %v", err)
			}
		}(g, bufs[i])
	}
	wg.Wait()

	for i, buf := range bufs {
		if buf[0] != 6 || buf[1] != 60 {
			t.Errorf("rank %d result = %v, want [6 60]", i, buf)
		}
	}
}

func TestAllReduceConsecutiveRounds(t *testing.T) {
	groups, err := NewInProcWorld(2)
	if err != nil {
		t.Fatal(err)
	}

	results := make([][]float32, 2)
	var wg sync.WaitGroup
	for i, g := range groups {
		wg.Add(1)
		go func(rank int, g ProcessGroup) {
			defer wg.Done()
			for round := 0; round < 4; round++ {
				buf := []float32{float32(rank + 1)}
				if err := g.AllReduceSum(buf); err != nil {
					t.Errorf("round %d: %v", round, err)
					return
				}
				results[rank] = append(results[rank], buf[0])
			}
		}(i, g)
	}
	wg.Wait()

	for rank, got := range results {
		for round, v := range got {
			if v != 3 {
				t.Errorf("rank %d round %d = %f, want 3", rank, round, v)
			}
		}
	}
}

func TestDataParallelAveragesGradients(t *testing.T) {
	groups, err := NewInProcWorld(2)
	if err != nil {
		t.Fatal(err)
	}

	params := []*model.Param{
		{Name: "w", Shape: []int{2}, Data: make([]float32, 2), Grad: []float32{2, 4}},
		{Name: "w", Shape: []int{2}, Data: make([]float32, 2), Grad: []float32{4, 8}},
	}
	var wg sync.WaitGroup
	for i := range groups {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			dp := NewDataParallel(groups[i])
			if err := dp.SyncGradients([]*model.Param{params[i]}); err != nil {
				t.Errorf("SyncGradients failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	// Mean of {2,4} and {4,8} on both workers.
	for i, p := range params {
		if p.Grad[0] != 3 || p.Grad[1] != 6 {
			t.Errorf("worker %d grad = %v, want [3 6]", i, p.Grad)
		}
	}
}

func TestDataParallelMaster(t *testing.T) {
	groups, err := NewInProcWorld(2)
	if err != nil {
		t.Fatal(err)
	}
	if !NewDataParallel(groups[0]).IsMaster() {
		t.Error("rank 0 must be the master")
	}
	if NewDataParallel(groups[1]).IsMaster() {
		t.Error("rank 1 must not be the master")
	}
}

func TestCollectiveBlocksOnMissingPeer(t *testing.T) {
	groups, err := NewInProcWorld(2)
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		buf := []float32{1}
		groups[0].AllReduceSum(buf)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("all-reduce completed without the second member")
	case <-time.After(50 * time.Millisecond):
	}

	// The peer arriving releases the collective.
	go groups[1].AllReduceSum([]float32{1})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("all-reduce did not complete after peer joined")
	}
}

func TestBarrier(t *testing.T) {
	groups, err := NewInProcWorld(3)
	if err != nil {
		t.Fatal(err)
	}

	var passed sync.WaitGroup
	for _, g := range groups {
		passed.Add(1)
		go func(g ProcessGroup) {
			defer passed.Done()
			if err := g.Barrier(); err != nil {
				t.Errorf("Barrier failed: %v", err)
			}
		}(g)
	}
	done := make(chan struct{})
	go func() { passed.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("barrier did not release")
	}
}

func TestClosedMemberRejectsCollectives(t *testing.T) {
	groups, err := NewInProcWorld(1)
	if err != nil {
		t.Fatal(err)
	}
	groups[0].Close()
	if err := groups[0].AllReduceSum([]float32{1}); err == nil {
		t.Fatal("expected error after Close")
	}
}

func TestNewWithoutLauncherEnvIsLocal(t *testing.T) {
	t.Setenv("RANK", "0") // registers restoration, then drop the variable
	os.Unsetenv("RANK")
	s, err := New("nccl")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, ok := s.(Local); !ok {
		t.Errorf("strategy = %T, want Local", s)
	}
}

func TestNewRejectsUnknownBackend(t *testing.T) {
	t.Setenv("RANK", "1")
	t.Setenv("WORLD_SIZE", "2")
	if _, err := New("nccl"); err == nil {
		t.Fatal("expected unsupported-backend error under a launcher environment")
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("RANK", "2")
	t.Setenv("LOCAL_RANK", "1")
	t.Setenv("WORLD_SIZE", "4")

	env, ok := FromEnv()
	if !ok {
		t.Fatal("FromEnv did not detect the launcher environment")
	}
	if env.Rank != 2 || env.LocalRank != 1 || env.WorldSize != 4 {
		t.Errorf("env = %+v", env)
	}
}
