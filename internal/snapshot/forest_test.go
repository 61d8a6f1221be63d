package snapshot

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dicklesworthstone/zek/internal/model"
)

func ptr(v int32) *int32 { return &v }

func pidCounts(forest []model.ProcessNode) map[int32]int {
	counts := map[int32]int{}
	for i := range forest {
		forest[i].Walk(func(n *model.ProcessNode) { counts[n.PID]++ })
	}
	return counts
}

func TestBuildForest_SimpleTree(t *testing.T) {
	procs := []model.RawProcess{
		{PID: 1, Name: "init"},
		{PID: 20, ParentPID: ptr(1), Name: "sshd"},
		{PID: 10, ParentPID: ptr(1), Name: "cron"},
		{PID: 30, ParentPID: ptr(20), Name: "bash"},
	}
	forest := BuildForest(procs)

	require.Len(t, forest, 1)
	root := forest[0]
	assert.Equal(t, int32(1), root.PID)
	assert.Nil(t, root.ParentPID)
	require.Len(t, root.Children, 2)
	assert.Equal(t, int32(10), root.Children[0].PID)
	assert.Equal(t, int32(20), root.Children[1].PID)
	require.Len(t, root.Children[1].Children, 1)

	bash := root.Children[1].Children[0]
	assert.Equal(t, int32(30), bash.PID)
	require.NotNil(t, bash.ParentPID)
	assert.Equal(t, int32(20), *bash.ParentPID)
}

func TestBuildForest_OrphanBecomesRoot(t *testing.T) {
	procs := []model.RawProcess{
		{PID: 1},
		{PID: 500, ParentPID: ptr(499)}, // parent already exited
		{PID: 501, ParentPID: ptr(500)},
	}
	forest := BuildForest(procs)

	require.Len(t, forest, 2)
	assert.Equal(t, int32(500), forest[1].PID)
	assert.Nil(t, forest[1].ParentPID)
	require.Len(t, forest[1].Children, 1)
	assert.Equal(t, int32(501), forest[1].Children[0].PID)
}

func TestBuildForest_CycleStillCoversEveryPid(t *testing.T) {
	procs := []model.RawProcess{
		{PID: 7, ParentPID: ptr(8)},
		{PID: 8, ParentPID: ptr(7)},
		{PID: 9, ParentPID: ptr(9)},
	}
	forest := BuildForest(procs)

	counts := pidCounts(forest)
	assert.Equal(t, map[int32]int{7: 1, 8: 1, 9: 1}, counts)
}

func TestBuildForest_DuplicatePidKeepsFirst(t *testing.T) {
	forest := BuildForest([]model.RawProcess{{PID: 3, Name: "a"}, {PID: 3, Name: "b"}})

	require.Len(t, forest, 1)
	assert.Equal(t, "a", forest[0].Name)
}

func TestBuildForest_RandomListsCoverEveryPidOnce(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 50; round++ {
		n := 1 + rng.Intn(300)
		perm := rng.Perm(n)
		procs := make([]model.RawProcess, n)
		for i, p := range perm {
			pid := int32(p + 1)
			var ppid *int32
			switch r := rng.Intn(10); {
			case r < 6 && p > 0:
				ppid = ptr(int32(rng.Intn(p) + 1)) // earlier pid: acyclic
			case r < 8:
				ppid = ptr(int32(n + 1 + rng.Intn(50))) // missing parent
			}
			procs[i] = model.RawProcess{PID: pid, ParentPID: ppid}
		}

		forest := BuildForest(procs)
		counts := pidCounts(forest)
		require.Len(t, counts, n, "round %d", round)
		for pid, c := range counts {
			require.Equal(t, 1, c, "pid %d seen %d times", pid, c)
		}
		assert.Equal(t, n, CountNodes(forest))

		for _, root := range forest {
			if root.ParentPID != nil {
				t.Fatalf("root %d carries a parent pid", root.PID)
			}
		}
	}
}

func TestBuildForest_PidZeroCanBeAParent(t *testing.T) {
	// darwin lists kernel_task as pid 0 (ppid 0) and launchd as its child.
	forest := BuildForest([]model.RawProcess{
		{PID: 0, ParentPID: ptr(0), Name: "kernel_task"},
		{PID: 1, ParentPID: ptr(0), Name: "launchd"},
		{PID: 80, ParentPID: ptr(1), Name: "sshd"},
	})

	require.Len(t, forest, 1)
	root := forest[0]
	assert.Equal(t, "kernel_task", root.Name)
	assert.Nil(t, root.ParentPID)
	require.Len(t, root.Children, 1)
	launchd := root.Children[0]
	assert.Equal(t, "launchd", launchd.Name)
	require.NotNil(t, launchd.ParentPID)
	assert.Equal(t, int32(0), *launchd.ParentPID)
	require.Len(t, launchd.Children, 1)
}

func TestBuildForest_UnknownParentIsRoot(t *testing.T) {
	forest := BuildForest([]model.RawProcess{{PID: 5}, {PID: 6, ParentPID: ptr(5)}})

	require.Len(t, forest, 1)
	assert.Equal(t, int32(5), forest[0].PID)
	require.Len(t, forest[0].Children, 1)
}
