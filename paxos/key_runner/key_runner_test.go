package key_runner

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"testing"
	"testing/synctest"

	"github.com/stretchr/testify/assert"
)

type peerValue struct {
	id   int
	addr string
}

func (p peerValue) getKey() int {
	return p.id
}

func clearContexts(list []startEntry[peerValue]) []peerValue {
	result := make([]peerValue, 0, len(list))
	for _, e := range list {
		result = append(result, e.val)
	}
	return result
}

func getKeys[K cmp.Ordered, V any](m map[K]V) []K {
	result := make([]K, 0, len(m))
	for k := range m {
		result = append(result, k)
	}
	slices.Sort(result)
	return result
}

func TestKeyRunner__Upsert_With_Remove(t *testing.T) {
	r := New(peerValue.getKey, nil)

	startList, updated := r.upsertInternal([]peerValue{
		{id: 1, addr: "host:7001"},
		{id: 2, addr: "host:7002"},
		{id: 3, addr: "host:7003"},
	})
	assert.Equal(t, true, updated)

	assert.Equal(t, []peerValue{
		{id: 1, addr: "host:7001"},
		{id: 2, addr: "host:7002"},
		{id: 3, addr: "host:7003"},
	}, clearContexts(startList))

	// no context is canceled
	assert.Equal(t, nil, startList[0].ctx.Err())
	assert.Equal(t, nil, startList[2].ctx.Err())

	// remove peer 1 & 2
	startList2, updated := r.upsertInternal([]peerValue{
		{id: 3, addr: "host:7003"},
	})
	assert.Equal(t, 0, len(startList2))
	assert.Equal(t, true, updated)

	assert.Equal(t, context.Canceled, startList[0].ctx.Err())
	assert.Equal(t, context.Canceled, startList[1].ctx.Err())
	assert.Equal(t, nil, startList[2].ctx.Err())

	assert.Equal(t, map[int]struct{}{3: {}}, r.activeKeys)

	// removed runners have not returned yet
	assert.Equal(t, []int{1, 2, 3}, getKeys(r.running))
}

func TestKeyRunner__Remove__Then_Finish(t *testing.T) {
	r := New(peerValue.getKey, nil)

	startList, _ := r.upsertInternal([]peerValue{
		{id: 1, addr: "host:7001"},
		{id: 2, addr: "host:7002"},
	})

	r.upsertInternal([]peerValue{
		{id: 2, addr: "host:7002"},
	})
	assert.Equal(t, context.Canceled, startList[0].ctx.Err())

	entry, ok := r.finishInternal(1)
	assert.Equal(t, false, ok)
	assert.Equal(t, nil, entry.ctx)

	assert.Equal(t, []int{2}, getKeys(r.running))
}

func TestKeyRunner__Update_Value__Then_Finish(t *testing.T) {
	r := New(peerValue.getKey, nil)

	startList, _ := r.upsertInternal([]peerValue{
		{id: 1, addr: "host:7001"},
		{id: 2, addr: "host:7002"},
	})

	// address changed
	startList2, updated := r.upsertInternal([]peerValue{
		{id: 1, addr: "other:7001"},
		{id: 2, addr: "host:7002"},
	})
	assert.Equal(t, 0, len(startList2))
	assert.Equal(t, true, updated)

	assert.Equal(t, context.Canceled, startList[0].ctx.Err())
	assert.Equal(t, nil, startList[1].ctx.Err())

	// the runner of peer 1 is restarted with the new address
	entry, ok := r.finishInternal(1)
	assert.Equal(t, true, ok)
	assert.Equal(t, nil, entry.ctx.Err())
	assert.Equal(t, peerValue{id: 1, addr: "other:7001"}, entry.val)
}

func TestKeyRunner__Remove_Then_Add_Again__Before_Finish(t *testing.T) {
	r := New(peerValue.getKey, nil)

	startList, _ := r.upsertInternal([]peerValue{
		{id: 1, addr: "host:7001"},
	})

	r.upsertInternal(nil)

	startList3, updated := r.upsertInternal([]peerValue{
		{id: 1, addr: "host:8001"},
	})
	assert.Equal(t, 0, len(startList3))
	assert.Equal(t, true, updated)
	assert.Equal(t, context.Canceled, startList[0].ctx.Err())

	entry, ok := r.finishInternal(1)
	assert.Equal(t, true, ok)
	assert.Equal(t, peerValue{id: 1, addr: "host:8001"}, entry.val)
}

func TestKeyRunner__Upsert_Same_Not_Updated(t *testing.T) {
	r := New(peerValue.getKey, nil)

	values := []peerValue{
		{id: 1, addr: "host:7001"},
		{id: 2, addr: "host:7002"},
	}

	_, updated := r.upsertInternal(values)
	assert.Equal(t, true, updated)

	startList, updated := r.upsertInternal(values)
	assert.Equal(t, false, updated)
	assert.Equal(t, 0, len(startList))
}

func TestKeyRunner_Public(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		var runningMut sync.Mutex
		runningSet := map[int]peerValue{}

		r := New(
			peerValue.getKey,
			func(ctx context.Context, val peerValue) {
				runningMut.Lock()
				runningSet[val.id] = val
				runningMut.Unlock()

				<-ctx.Done()

				runningMut.Lock()
				delete(runningSet, val.id)
				runningMut.Unlock()
			},
		)

		getRunning := func() map[int]peerValue {
			runningMut.Lock()
			defer runningMut.Unlock()
			result := map[int]peerValue{}
			for k, v := range runningSet {
				result[k] = v
			}
			return result
		}

		r.Upsert([]peerValue{
			{id: 1, addr: "host:7001"},
			{id: 2, addr: "host:7002"},
		})
		synctest.Wait()

		assert.Equal(t, map[int]peerValue{
			1: {id: 1, addr: "host:7001"},
			2: {id: 2, addr: "host:7002"},
		}, getRunning())
		assert.Equal(t, 2, r.NumRunning())

		// remove peer 1, change peer 2, add peer 3
		r.Upsert([]peerValue{
			{id: 2, addr: "other:7002"},
			{id: 3, addr: "host:7003"},
		})
		synctest.Wait()

		assert.Equal(t, map[int]peerValue{
			2: {id: 2, addr: "other:7002"},
			3: {id: 3, addr: "host:7003"},
		}, getRunning())

		r.Shutdown()
		synctest.Wait()

		assert.Equal(t, map[int]peerValue{}, getRunning())
		assert.Equal(t, 0, r.NumRunning())
	})
}
