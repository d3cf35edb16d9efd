package history

// DefaultMaxSize bounds the undo stack when Options.MaxSize is not positive.
const DefaultMaxSize = 50

// Options configures a Store.
type Options[T any] struct {
	// MaxSize caps the undo stack. Oldest entries are evicted first.
	MaxSize int
	// Clone copies a snapshot. Values crossing the store boundary are cloned
	// so callers can never mutate recorded entries. Nil means plain assignment.
	Clone func(T) T
	// CollapseBatches makes Undo and Redo move all contiguous entries sharing
	// one non-empty batch id as a single step.
	CollapseBatches bool
}

// subscription holds one registered listener.
type subscription[T any] struct {
	id int
	fn func(T)
}

// Store keeps the live value and its bounded undo/redo stacks.
type Store[T any] struct {
	undoStack []Entry[T]
	redoStack []Entry[T]
	current   T

	maxSize  int
	clone    func(T) T
	collapse bool

	subs    []subscription[T]
	nextSub int
}

// NewStore creates a store whose live value starts at initial.
func NewStore[T any](initial T, opts Options[T]) *Store[T] {
	clone := opts.Clone
	if clone == nil {
		clone = func(v T) T { return v }
	}
	maxSize := opts.MaxSize
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Store[T]{
		current:  clone(initial),
		maxSize:  maxSize,
		clone:    clone,
		collapse: opts.CollapseBatches,
	}
}

// Push records entry, makes its After value current and drops redo history.
func (s *Store[T]) Push(entry Entry[T]) {
	entry.Before = s.clone(entry.Before)
	entry.After = s.clone(entry.After)

	s.undoStack = append(s.undoStack, entry)
	s.redoStack = nil
	if len(s.undoStack) > s.maxSize {
		excess := len(s.undoStack) - s.maxSize
		// Copy so evicted entries are released with the old backing array.
		s.undoStack = append([]Entry[T](nil), s.undoStack[excess:]...)
	}
	s.current = s.clone(entry.After)
	s.notify()
}

// Undo reverts the most recent entry (or batch, when collapsing).
func (s *Store[T]) Undo() Result[T] {
	if len(s.undoStack) == 0 {
		return Result[T]{Value: s.Current()}
	}
	steps := 0
	batchID := s.undoStack[len(s.undoStack)-1].BatchID
	for len(s.undoStack) > 0 {
		top := s.undoStack[len(s.undoStack)-1]
		if steps > 0 && (!s.collapse || batchID == "" || top.BatchID != batchID) {
			break
		}
		s.undoOne()
		steps++
	}
	s.notify()
	return Result[T]{OK: true, Value: s.Current(), Steps: steps}
}

// Redo reapplies the most recently undone entry (or batch, when collapsing).
func (s *Store[T]) Redo() Result[T] {
	if len(s.redoStack) == 0 {
		return Result[T]{Value: s.Current()}
	}
	steps := 0
	batchID := s.redoStack[len(s.redoStack)-1].BatchID
	for len(s.redoStack) > 0 {
		top := s.redoStack[len(s.redoStack)-1]
		if steps > 0 && (!s.collapse || batchID == "" || top.BatchID != batchID) {
			break
		}
		s.redoOne()
		steps++
	}
	s.notify()
	return Result[T]{OK: true, Value: s.Current(), Steps: steps}
}

// JumpTo undoes or redoes single entries until entryID is the most recently
// applied entry. Batches are not collapsed so every entry is reachable. An
// empty entryID undoes every entry, back to the state before the oldest one.
func (s *Store[T]) JumpTo(entryID string) Result[T] {
	if entryID == "" {
		steps := len(s.undoStack)
		for len(s.undoStack) > 0 {
			s.undoOne()
		}
		if steps > 0 {
			s.notify()
		}
		return Result[T]{OK: true, Value: s.Current(), Steps: steps}
	}
	if idx := s.undoIndex(entryID); idx >= 0 {
		steps := 0
		for len(s.undoStack)-1 > idx {
			s.undoOne()
			steps++
		}
		if steps > 0 {
			s.notify()
		}
		return Result[T]{OK: true, Value: s.Current(), Steps: steps}
	}
	if idx := s.redoIndex(entryID); idx >= 0 {
		steps := 0
		for len(s.redoStack) > idx {
			s.redoOne()
			steps++
		}
		s.notify()
		return Result[T]{OK: true, Value: s.Current(), Steps: steps}
	}
	return Result[T]{Value: s.Current()}
}

// Clear empties both stacks. The live value is kept.
func (s *Store[T]) Clear() {
	s.undoStack = nil
	s.redoStack = nil
}

// Current returns a copy of the live value.
func (s *Store[T]) Current() T {
	return s.clone(s.current)
}

// CanUndo reports whether Undo would do anything.
func (s *Store[T]) CanUndo() bool {
	return len(s.undoStack) > 0
}

// CanRedo reports whether Redo would do anything.
func (s *Store[T]) CanRedo() bool {
	return len(s.redoStack) > 0
}

// UndoLen returns the undo stack length.
func (s *Store[T]) UndoLen() int {
	return len(s.undoStack)
}

// RedoLen returns the redo stack length.
func (s *Store[T]) RedoLen() int {
	return len(s.redoStack)
}

// MaxSize returns the undo stack bound.
func (s *Store[T]) MaxSize() int {
	return s.maxSize
}

// UndoEntries lists undo entries, most recent last.
func (s *Store[T]) UndoEntries() []Info {
	return infos(s.undoStack)
}

// Timeline lists applied entries oldest first, followed by undone entries in
// the order Redo would reapply them.
func (s *Store[T]) Timeline() []TimelineItem {
	out := make([]TimelineItem, 0, len(s.undoStack)+len(s.redoStack))
	for _, entry := range s.undoStack {
		out = append(out, TimelineItem{Info: entry.Info(), Applied: true})
	}
	for i := len(s.redoStack) - 1; i >= 0; i-- {
		out = append(out, TimelineItem{Info: s.redoStack[i].Info()})
	}
	return out
}

// Subscribe registers fn to receive the live value after every change to it.
func (s *Store[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	s.nextSub++
	id := s.nextSub
	s.subs = append(s.subs, subscription[T]{id: id, fn: fn})
	return func() {
		for i, sub := range s.subs {
			if sub.id == id {
				s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
				return
			}
		}
	}
}

// undoOne moves the top undo entry to the redo stack.
func (s *Store[T]) undoOne() {
	entry := s.undoStack[len(s.undoStack)-1]
	s.undoStack = s.undoStack[:len(s.undoStack)-1]
	s.redoStack = append(s.redoStack, entry)
	s.current = s.clone(entry.Before)
}

// redoOne moves the top redo entry back to the undo stack.
func (s *Store[T]) redoOne() {
	entry := s.redoStack[len(s.redoStack)-1]
	s.redoStack = s.redoStack[:len(s.redoStack)-1]
	s.undoStack = append(s.undoStack, entry)
	s.current = s.clone(entry.After)
}

func (s *Store[T]) undoIndex(id string) int {
	for i := len(s.undoStack) - 1; i >= 0; i-- {
		if s.undoStack[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store[T]) redoIndex(id string) int {
	for i := len(s.redoStack) - 1; i >= 0; i-- {
		if s.redoStack[i].ID == id {
			return i
		}
	}
	return -1
}

// notify pushes the live value to every subscriber.
func (s *Store[T]) notify() {
	if len(s.subs) == 0 {
		return
	}
	subs := append([]subscription[T](nil), s.subs...)
	for _, sub := range subs {
		sub.fn(s.clone(s.current))
	}
}

func infos[T any](entries []Entry[T]) []Info {
	out := make([]Info, len(entries))
	for i, entry := range entries {
		out[i] = entry.Info()
	}
	return out
}
