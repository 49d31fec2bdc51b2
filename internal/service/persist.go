package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/freeeve/stagecraft/internal/model"
	"github.com/freeeve/stagecraft/internal/repository"
)

// PersistKind classifies a persistence failure.
type PersistKind string

const (
	PersistLoadFailed PersistKind = "load_failed"
	PersistSaveFailed PersistKind = "save_failed"
	PersistCorrupt    PersistKind = "corrupt_document"
)

// PersistResult is the outcome of a save or load. Gameplay continues in
// memory on failure; the caller decides whether to retry or warn the player.
type PersistResult struct {
	OK   bool        `json:"ok"`
	Kind PersistKind `json:"kind,omitempty"`
	Err  error       `json:"-"`
}

func persistFailure(kind PersistKind, err error) PersistResult {
	if errors.Is(err, repository.ErrCorruptSlot) {
		kind = PersistCorrupt
	}
	return PersistResult{Kind: kind, Err: err}
}

const (
	slotQueueDepth = 32
	writeTimeout   = 10 * time.Second
)

// slotJob is one queued write. done, if set, is closed once the job is no
// longer counted as pending.
type slotJob struct {
	fn   func()
	done chan struct{}
}

// slotWriter runs the writes of one save slot in order. pending is guarded
// by the Persister's mutex.
type slotWriter struct {
	jobs    chan slotJob
	pending int
}

func (p *Persister) run(w *slotWriter) {
	for job := range w.jobs {
		if job.fn != nil {
			job.fn()
		}
		p.mu.Lock()
		w.pending--
		p.mu.Unlock()
		if job.done != nil {
			close(job.done)
		}
	}
}

// Persister serializes save slot writes per slot. Writes are fire-and-forget
// for the caller; a load of a slot waits until every write queued before it
// has finished. Writers of idle slots are stopped by Retire.
type Persister struct {
	store   repository.SlotStore
	mu      sync.Mutex
	writers map[string]*slotWriter
}

// NewPersister creates a Persister over a slot store.
func NewPersister(store repository.SlotStore) *Persister {
	return &Persister{store: store, writers: make(map[string]*slotWriter)}
}

// enqueue hands job to the slot's writer, starting one when the slot has
// none. The job counts as pending before it is sent, so Retire never closes
// a writer a job is headed for.
func (p *Persister) enqueue(ctx context.Context, slotID string, job slotJob) error {
	p.mu.Lock()
	w, ok := p.writers[slotID]
	if !ok {
		w = &slotWriter{jobs: make(chan slotJob, slotQueueDepth)}
		p.writers[slotID] = w
		go p.run(w)
	}
	w.pending++
	p.mu.Unlock()

	select {
	case w.jobs <- job:
		return nil
	case <-ctx.Done():
		p.mu.Lock()
		w.pending--
		p.mu.Unlock()
		return ctx.Err()
	}
}

// Retire stops the writers of slots with nothing queued and returns how many
// it stopped. The next write to such a slot starts a fresh writer.
func (p *Persister) Retire() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for id, w := range p.writers {
		if w.pending > 0 {
			continue
		}
		delete(p.writers, id)
		close(w.jobs)
		n++
	}
	return n
}

// Writers returns the number of running slot writers.
func (p *Persister) Writers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.writers)
}

// Update queues a read-modify-write of a slot. A slot that was never saved
// starts empty. done, if set, is called from the writer goroutine.
func (p *Persister) Update(slotID string, mutate func(*model.SaveSlot), done func(PersistResult)) {
	_ = p.enqueue(context.Background(), slotID, slotJob{fn: func() {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()

		res := p.update(ctx, slotID, mutate)
		if !res.OK {
			log.Error().Err(res.Err).Str("slotId", slotID).Str("kind", string(res.Kind)).Msg("Save slot write failed")
		}
		if done != nil {
			done(res)
		}
	}})
}

func (p *Persister) update(ctx context.Context, slotID string, mutate func(*model.SaveSlot)) PersistResult {
	slot, err := p.store.LoadSlot(ctx, slotID)
	if err != nil {
		return persistFailure(PersistLoadFailed, fmt.Errorf("load slot %s: %w", slotID, err))
	}
	if slot == nil {
		slot = model.NewSaveSlot(slotID)
	}
	mutate(slot)
	if err := p.store.SaveSlot(ctx, slot); err != nil {
		return persistFailure(PersistSaveFailed, fmt.Errorf("save slot %s: %w", slotID, err))
	}
	return PersistResult{OK: true}
}

// LoadSlot waits for pending writes to the slot, then reads it. A slot that
// was never saved is returned empty.
func (p *Persister) LoadSlot(ctx context.Context, slotID string) (*model.SaveSlot, PersistResult) {
	if err := p.wait(ctx, slotID); err != nil {
		return nil, persistFailure(PersistLoadFailed, err)
	}
	slot, err := p.store.LoadSlot(ctx, slotID)
	if err != nil {
		return nil, persistFailure(PersistLoadFailed, fmt.Errorf("load slot %s: %w", slotID, err))
	}
	if slot == nil {
		slot = model.NewSaveSlot(slotID)
	}
	return slot, PersistResult{OK: true}
}

// Flush waits for every queued write on every slot.
func (p *Persister) Flush(ctx context.Context) error {
	p.mu.Lock()
	ids := make([]string, 0, len(p.writers))
	for id := range p.writers {
		ids = append(ids, id)
	}
	p.mu.Unlock()
	for _, id := range ids {
		if err := p.wait(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (p *Persister) wait(ctx context.Context, slotID string) error {
	barrier := make(chan struct{})
	if err := p.enqueue(ctx, slotID, slotJob{done: barrier}); err != nil {
		return err
	}
	select {
	case <-barrier:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
