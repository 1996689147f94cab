package jobqueue

import "container/heap"

// order is the pending-job container behind a Queue
type order interface {
	Len() int
	Peek() *Job
	Push(j *Job)
	PopHead() *Job
	RotateHead(seq uint64)
	RemoveIf(match func(*Job) bool) []*Job
	Jobs() []*Job
}

// fifo keeps jobs in enqueue order
type fifo struct {
	jobs []*Job
}

func (f *fifo) Len() int { return len(f.jobs) }

func (f *fifo) Peek() *Job {
	if len(f.jobs) == 0 {
		return nil
	}
	return f.jobs[0]
}

func (f *fifo) Push(j *Job) {
	f.jobs = append(f.jobs, j)
}

func (f *fifo) PopHead() *Job {
	if len(f.jobs) == 0 {
		return nil
	}
	j := f.jobs[0]
	f.jobs[0] = nil
	f.jobs = f.jobs[1:]
	return j
}

func (f *fifo) RotateHead(seq uint64) {
	j := f.PopHead()
	if j == nil {
		return
	}
	j.seq = seq
	f.Push(j)
}

func (f *fifo) RemoveIf(match func(*Job) bool) []*Job {
	var removed []*Job
	kept := f.jobs[:0]
	for _, j := range f.jobs {
		if match(j) {
			removed = append(removed, j)
			continue
		}
		kept = append(kept, j)
	}
	for i := len(kept); i < len(f.jobs); i++ {
		f.jobs[i] = nil
	}
	f.jobs = kept
	return removed
}

func (f *fifo) Jobs() []*Job {
	out := make([]*Job, len(f.jobs))
	copy(out, f.jobs)
	return out
}

// jobHeap orders by priority (highest first), then enqueue sequence
type jobHeap []*Job

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, k int) bool {
	if h[i].priority == h[k].priority {
		return h[i].seq < h[k].seq
	}
	return h[i].priority > h[k].priority
}

func (h jobHeap) Swap(i, k int) {
	h[i], h[k] = h[k], h[i]
	h[i].index = i
	h[k].index = k
}

func (h *jobHeap) Push(x any) {
	j := x.(*Job)
	j.index = len(*h)
	*h = append(*h, j)
}

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	j := old[n-1]
	old[n-1] = nil
	j.index = -1
	*h = old[:n-1]
	return j
}

type priority struct {
	h jobHeap
}

func (p *priority) Len() int { return p.h.Len() }

func (p *priority) Peek() *Job {
	if len(p.h) == 0 {
		return nil
	}
	return p.h[0]
}

func (p *priority) Push(j *Job) {
	heap.Push(&p.h, j)
}

func (p *priority) PopHead() *Job {
	if len(p.h) == 0 {
		return nil
	}
	return heap.Pop(&p.h).(*Job)
}

func (p *priority) RotateHead(seq uint64) {
	if len(p.h) == 0 {
		return
	}
	p.h[0].seq = seq
	heap.Fix(&p.h, 0)
}

func (p *priority) RemoveIf(match func(*Job) bool) []*Job {
	var removed []*Job
	for _, j := range p.h {
		if match(j) {
			removed = append(removed, j)
		}
	}
	for _, j := range removed {
		heap.Remove(&p.h, j.index)
	}
	return removed
}

func (p *priority) Jobs() []*Job {
	out := make([]*Job, len(p.h))
	copy(out, p.h)
	return out
}
