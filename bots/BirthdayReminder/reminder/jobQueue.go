package reminder

import "container/heap"

type jobQueue struct {
	backingArray []*job          // jobs ordered as a heap by time
	jobs         map[string]*job // queued jobs by name
}

func newJobQueue() *jobQueue {
	q := &jobQueue{
		backingArray: []*job{},
		jobs:         make(map[string]*job),
	}
	heap.Init(q)
	return q
}

func (q jobQueue) Len() int {
	return len(q.backingArray)
}

func (q jobQueue) Less(i, j int) bool {
	return q.backingArray[i].at.Before(q.backingArray[j].at)
}

func (q jobQueue) Swap(i, j int) {
	q.backingArray[j], q.backingArray[i] = q.backingArray[i], q.backingArray[j]
}

func (q *jobQueue) Push(x any) {
	j, ok := x.(*job)
	if !ok {
		return
	}

	q.jobs[j.name] = j
	q.backingArray = append(q.backingArray, j)
}

func (q *jobQueue) Pop() any {
	if len(q.backingArray) == 0 {
		return nil
	}

	n := len(q.backingArray)
	popped := q.backingArray[n-1]
	q.backingArray[n-1] = nil
	q.backingArray = q.backingArray[:n-1]
	delete(q.jobs, popped.name)

	return popped
}

func (q *jobQueue) Has(name string) bool {
	_, ok := q.jobs[name]
	return ok
}

func (q *jobQueue) Peek() (*job, bool) {
	if len(q.backingArray) == 0 {
		return nil, false
	}

	return q.backingArray[0], true
}
