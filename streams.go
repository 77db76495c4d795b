package quill

import "sort"

// Streams is a sorted-by-id tracker of the live streams on one connection,
// kept almost verbatim from the teacher's streams.go: a sorted slice with
// O(log n) binary-search lookup (Insert and Del also shift the slice's
// tail), which is independent of any
// HTTP/2-specific detail and works just as well for Quill's transport-
// agnostic stream ids.
type Streams struct {
	list []*Stream
}

func (s *Streams) search(id uint32) int {
	return sort.Search(len(s.list), func(i int) bool {
		return s.list[i].ID >= id
	})
}

// Get returns the stream with the given id, or nil.
func (s *Streams) Get(id uint32) *Stream {
	i := s.search(id)
	if i < len(s.list) && s.list[i].ID == id {
		return s.list[i]
	}
	return nil
}

// Insert adds strm in sorted position. Returns false without modifying the
// tracker if a stream with the same id already exists.
func (s *Streams) Insert(strm *Stream) bool {
	i := s.search(strm.ID)
	if i < len(s.list) && s.list[i].ID == strm.ID {
		return false
	}
	s.list = append(s.list, nil)
	copy(s.list[i+1:], s.list[i:])
	s.list[i] = strm
	return true
}

// Del removes the stream with the given id, if present.
func (s *Streams) Del(id uint32) {
	i := s.search(id)
	if i < len(s.list) && s.list[i].ID == id {
		s.list = append(s.list[:i], s.list[i+1:]...)
	}
}

// Len reports the number of live streams currently tracked.
func (s *Streams) Len() int { return len(s.list) }

// Each calls fn for every tracked stream, ascending by id. fn must not
// mutate the tracker.
func (s *Streams) Each(fn func(*Stream)) {
	for _, strm := range s.list {
		fn(strm)
	}
}

// FirstOf returns the first stream (ascending id) for which pred returns
// true, or nil. Mirrors the teacher's GetFirstOf helper used to find the
// oldest stream still awaiting a request-timeout check.
func (s *Streams) FirstOf(pred func(*Stream) bool) *Stream {
	for _, strm := range s.list {
		if pred(strm) {
			return strm
		}
	}
	return nil
}
