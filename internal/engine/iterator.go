package engine

import (
	"container/heap"
	"fmt"
	"sort"

	"quant_go/internal/domain"
)

// ChunkFunc produces the next chunk of a streamed data source. Returning
// an empty chunk with a nil error marks the stream exhausted.
type ChunkFunc func() ([]domain.Data, error)

// GenFunc yields one item at a time from a streamed data source. ok false
// marks exhaustion.
type GenFunc func() (d domain.Data, ok bool, err error)

// EmptyDataCallback is invoked once when a named stream runs out of data,
// with the ts_init of its last yielded item.
type EmptyDataCallback func(name string, lastTs int64)

type dataStream struct {
	name     string
	priority int
	data     []domain.Data
	index    int

	next      ChunkFunc // nil for static streams
	exhausted bool      // chunk source returned an empty chunk
	notified  bool      // empty-data callback already fired
	lastTs    int64
}

func (s *dataStream) head() (domain.Data, bool) {
	if s.index < len(s.data) {
		return s.data[s.index], true
	}
	return nil, false
}

// streamHeap orders streams by the ts_init of their current head item,
// breaking ties by stream priority (lower wins).
type streamHeap []*dataStream

func (h streamHeap) Len() int { return len(h) }
func (h streamHeap) Less(i, j int) bool {
	di, _ := h[i].head()
	dj, _ := h[j].head()
	if di.DataTsInit() != dj.DataTsInit() {
		return di.DataTsInit() < dj.DataTsInit()
	}
	return h[i].priority < h[j].priority
}
func (h streamHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *streamHeap) Push(x any)        { *h = append(*h, x.(*dataStream)) }
func (h *streamHeap) Pop() any {
	old := *h
	n := len(old)
	s := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return s
}

// DataIterator merges named, individually sorted data streams into one
// chronologically ordered sequence keyed on ts_init. Streams added with
// prepend win ties against streams added with append; among streams of
// the same kind, the earlier-registered one wins. Each stream's own
// ordering is taken as given and never re-sorted across streams.
type DataIterator struct {
	streams      map[string]*dataStream
	heap         streamHeap
	nextAppend   int
	nextPrepend  int
	emptyCb      EmptyDataCallback
}

// NewDataIterator creates an empty iterator.
func NewDataIterator() *DataIterator {
	return &DataIterator{streams: make(map[string]*dataStream)}
}

// SetEmptyDataCallback registers a callback fired once per stream when
// that stream is exhausted.
func (it *DataIterator) SetEmptyDataCallback(cb EmptyDataCallback) {
	it.emptyCb = cb
}

// AddData registers a static data stream under name. Items must already
// be sorted by ts_init. An empty slice is a no-op. Re-adding a name
// replaces the previous stream and resets its cursor, keeping the
// original priority so tie-breaking stays stable.
func (it *DataIterator) AddData(name string, data []domain.Data, prepend bool) error {
	if len(data) == 0 {
		return nil
	}
	for _, d := range data {
		if err := domain.ValidateData(d); err != nil {
			return fmt.Errorf("stream %q: %w", name, err)
		}
	}
	for i := 1; i < len(data); i++ {
		if data[i].DataTsInit() < data[i-1].DataTsInit() {
			return fmt.Errorf("stream %q: %w: unsorted at index %d", name, domain.ErrInvalidData, i)
		}
	}

	prio := it.assignPriority(name, prepend)
	it.streams[name] = &dataStream{name: name, priority: prio, data: data}
	it.rebuild()
	return nil
}

// AddStream registers a chunked stream fed by next. The first chunk is
// pulled immediately; an empty first chunk registers nothing.
func (it *DataIterator) AddStream(name string, next ChunkFunc, prepend bool) error {
	chunk, err := next()
	if err != nil {
		return fmt.Errorf("stream %q: %w", name, err)
	}
	if len(chunk) == 0 {
		return nil
	}
	for _, d := range chunk {
		if err := domain.ValidateData(d); err != nil {
			return fmt.Errorf("stream %q: %w", name, err)
		}
	}
	prio := it.assignPriority(name, prepend)
	it.streams[name] = &dataStream{name: name, priority: prio, data: chunk, next: next}
	it.rebuild()
	return nil
}

// AddStreamIterator registers an item-level generator, buffered into
// chunks whose time span covers at least chunkDurationNs. Items within a
// pulled chunk are re-sorted if the generator yields them out of order;
// ordering across chunk boundaries is the generator's responsibility.
func (it *DataIterator) AddStreamIterator(name string, gen GenFunc, chunkDurationNs int64, prepend bool) error {
	if gen == nil {
		return fmt.Errorf("stream %q: nil generator", name)
	}
	if chunkDurationNs <= 0 {
		return fmt.Errorf("stream %q: chunk duration must be positive, got %d", name, chunkDurationNs)
	}

	var pending domain.Data
	next := func() ([]domain.Data, error) {
		var chunk []domain.Data
		if pending != nil {
			chunk = append(chunk, pending)
			pending = nil
		}
		for {
			d, ok, err := gen()
			if err != nil {
				return chunk, err
			}
			if !ok {
				return chunk, nil
			}
			if len(chunk) > 0 && d.DataTsInit()-chunk[0].DataTsInit() > chunkDurationNs {
				// Past the window; hold it for the next chunk.
				pending = d
				break
			}
			chunk = append(chunk, d)
		}
		sort.SliceStable(chunk, func(i, j int) bool {
			return chunk[i].DataTsInit() < chunk[j].DataTsInit()
		})
		return chunk, nil
	}
	return it.AddStream(name, next, prepend)
}

func (it *DataIterator) assignPriority(name string, prepend bool) int {
	if prev, ok := it.streams[name]; ok {
		return prev.priority
	}
	if prepend {
		it.nextPrepend--
		return it.nextPrepend
	}
	it.nextAppend++
	return it.nextAppend
}

// RemoveData deregisters a stream. Unknown names are ignored.
func (it *DataIterator) RemoveData(name string) {
	if _, ok := it.streams[name]; !ok {
		return
	}
	delete(it.streams, name)
	it.rebuild()
}

// SetIndex moves a stream's cursor, rewinding or skipping ahead.
func (it *DataIterator) SetIndex(name string, index int) error {
	s, ok := it.streams[name]
	if !ok {
		return fmt.Errorf("unknown stream %q", name)
	}
	if index < 0 || index > len(s.data) {
		return fmt.Errorf("stream %q: index %d out of range [0, %d]", name, index, len(s.data))
	}
	s.index = index
	s.notified = false
	it.rebuild()
	return nil
}

// Reset rewinds every stream to its first item.
func (it *DataIterator) Reset() {
	for _, s := range it.streams {
		s.index = 0
		s.notified = false
	}
	it.rebuild()
}

func (it *DataIterator) rebuild() {
	it.heap = it.heap[:0]
	for _, s := range it.streams {
		if _, ok := s.head(); ok {
			it.heap = append(it.heap, s)
		}
	}
	heap.Init(&it.heap)
}

// Next returns the next item in merged order, or nil when all streams
// are exhausted. A chunk source error is returned after every item
// already buffered from that source has been yielded.
func (it *DataIterator) Next() (domain.Data, error) {
	if len(it.heap) == 0 {
		return nil, nil
	}
	s := it.heap[0]
	d, _ := s.head()
	s.index++
	s.lastTs = d.DataTsInit()

	if _, ok := s.head(); ok {
		heap.Fix(&it.heap, 0)
		return d, nil
	}

	// Stream drained its buffer: refill chunked streams, retire the rest.
	if s.next != nil && !s.exhausted {
		chunk, err := s.next()
		if err != nil {
			heap.Pop(&it.heap)
			it.retire(s)
			return d, fmt.Errorf("stream %q: %w", s.name, err)
		}
		if len(chunk) > 0 {
			for _, item := range chunk {
				if verr := domain.ValidateData(item); verr != nil {
					heap.Pop(&it.heap)
					it.retire(s)
					return d, fmt.Errorf("stream %q: %w", s.name, verr)
				}
			}
			s.data = chunk
			s.index = 0
			heap.Fix(&it.heap, 0)
			return d, nil
		}
		s.exhausted = true
	}

	heap.Pop(&it.heap)
	it.retire(s)
	return d, nil
}

// retire fires the empty-data callback and drops exhausted chunked
// streams from the registry so AllData no longer reports them.
func (it *DataIterator) retire(s *dataStream) {
	if !s.notified {
		s.notified = true
		if it.emptyCb != nil {
			it.emptyCb(s.name, s.lastTs)
		}
	}
	if s.next != nil {
		delete(it.streams, s.name)
	}
}

// IsDone reports whether every stream is exhausted.
func (it *DataIterator) IsDone() bool { return len(it.heap) == 0 }

// HasStreamDataRemaining reports whether any generator-backed stream may
// still pull more chunks.
func (it *DataIterator) HasStreamDataRemaining() bool {
	for _, s := range it.streams {
		if s.next != nil && !s.exhausted {
			return true
		}
	}
	return false
}

// AllData returns each registered stream's full data, keyed by name.
// Exhausted chunked streams are absent; static streams remain until
// removed.
func (it *DataIterator) AllData() map[string][]domain.Data {
	out := make(map[string][]domain.Data, len(it.streams))
	for name, s := range it.streams {
		out[name] = s.data
	}
	return out
}

// Data returns the buffered data for one stream.
func (it *DataIterator) Data(name string) []domain.Data {
	s, ok := it.streams[name]
	if !ok {
		return nil
	}
	return s.data
}

// StreamNames returns registered stream names, sorted.
func (it *DataIterator) StreamNames() []string {
	names := make([]string, 0, len(it.streams))
	for name := range it.streams {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
