// Copyright (C) 2021 Storj Labs, Inc.
// See LICENSE for copying information.

package failrate

import (
	"context"
	"sync"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"storj.io/authlimit/pkg/failrate/statedb"
)

var (
	mon = monkit.Package()

	// Error is the default error class for the failrate package.
	Error = errs.Class("failrate")

	// ErrNothingToLoad is returned by Load when the storage holds no state.
	ErrNothingToLoad = Error.New("nothing to load")

	// ErrNoStorage is returned by Save when the Limiter has no storage.
	ErrNoStorage = Error.New("no storage configured")
)

// Option configures optional collaborators of a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now as the Limiter's time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithNotifier adds n to the observers of lockout transitions.
func WithNotifier(n Notifier) Option {
	return func(l *Limiter) { l.notifiers = append(l.notifiers, n) }
}

// Limiter tracks failed authentication attempts for a global subject and for
// any number of identities, and locks them out with exponential backoff.
//
// One mutex covers all of the state, so recording is linearizable and only
// one caller observes each lockout edge. Storage I/O and notifications happen
// after the mutex is released.
type Limiter struct {
	log       *zap.Logger
	config    Config
	storage   statedb.Storage
	now       func() time.Time
	notifiers []Notifier

	// warn limits warnings about persistence failures.
	warn *rate.Limiter

	mu         sync.Mutex
	global     Bucket
	identities *Registry
	generation uint64

	saveMu          sync.Mutex
	savedGeneration uint64
}

// New returns a Limiter that persists its state to storage and restores the
// state previously saved there. A nil storage keeps the state in memory only.
//
// Failing to restore the state is not an error: it is logged and the Limiter
// starts fresh.
func New(ctx context.Context, log *zap.Logger, config Config, storage statedb.Storage, opts ...Option) *Limiter {
	l := newLimiter(log, config, storage, opts...)
	if err := l.restore(ctx); err != nil {
		l.log.Warn("failed to load rate limit state; starting fresh", zap.Error(err))
	}
	return l
}

// Open is like New but returns the error restoring the state instead of
// starting fresh. An empty storage is not an error.
func Open(ctx context.Context, log *zap.Logger, config Config, storage statedb.Storage, opts ...Option) (*Limiter, error) {
	l := newLimiter(log, config, storage, opts...)
	if err := l.restore(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

func newLimiter(log *zap.Logger, config Config, storage statedb.Storage, opts ...Option) *Limiter {
	if log == nil {
		log = zap.NewNop()
	}

	config = config.Normalize()

	l := &Limiter{
		log:        log,
		config:     config,
		storage:    storage,
		now:        time.Now,
		warn:       rate.NewLimiter(rate.Every(time.Minute), 1),
		global:     NewBucket(),
		identities: NewRegistry(config.MaxIdentities),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Limiter) restore(ctx context.Context) error {
	if l.storage == nil {
		return nil
	}
	if err := l.Load(ctx); err != nil && !errs.Is(err, ErrNothingToLoad) {
		return err
	}
	return nil
}

// Config returns the normalized configuration.
func (l *Limiter) Config() Config { return l.config }

// CheckGlobal returns the status of the global bucket.
func (l *Limiter) CheckGlobal() Status {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	status, _ := l.global.Check(now, l.config)
	return status
}

// CheckIdentity returns the status of identity and how long it has to wait
// when it is not allowed. An empty identity is always allowed.
func (l *Limiter) CheckIdentity(identity string) (Status, time.Duration) {
	if identity == "" {
		return Allowed, 0
	}

	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, _ := l.identities.Get(identity)
	return b.Check(now, l.config)
}

// RecordGlobal records the outcome of an authentication attempt against the
// global bucket.
func (l *Limiter) RecordGlobal(ctx context.Context, success bool) {
	now := l.now()

	l.mu.Lock()
	t := record(&l.global, "", success, now, l.config)
	snap := l.snapshotLocked()
	l.mu.Unlock()

	l.deliver(t)
	l.persist(ctx, snap)
}

// RecordIdentity records the outcome of an authentication attempt by
// identity. Recording for an empty identity does nothing, and a success only
// affects identities that are already tracked.
func (l *Limiter) RecordIdentity(ctx context.Context, identity string, success bool) {
	if identity == "" {
		return
	}

	now := l.now()

	l.mu.Lock()
	if success {
		if _, ok := l.identities.Get(identity); !ok {
			l.mu.Unlock()
			return
		}
	}
	b := l.identities.GetOrCreate(identity, now.Unix())
	t := record(b, identity, success, now, l.config)
	snap := l.snapshotLocked()
	l.mu.Unlock()

	l.deliver(t)
	l.persist(ctx, snap)
}

func record(b *Bucket, identity string, success bool, now time.Time, config Config) transition {
	if success {
		if b.RecordSuccess(now) {
			return transition{kind: expired, identity: identity}
		}
		return transition{}
	}

	lockout, locked := b.RecordFailure(now, config)
	if !locked {
		return transition{}
	}
	return transition{
		kind:       exceeded,
		identity:   identity,
		lockout:    lockout,
		failed:     b.FailedAttempts,
		multiplier: b.BackoffMultiplier,
	}
}

// ResetGlobal clears the global bucket without recording an attempt.
func (l *Limiter) ResetGlobal(ctx context.Context) {
	l.mu.Lock()
	l.global.Reset()
	snap := l.snapshotLocked()
	l.mu.Unlock()

	l.log.Info("global rate limit reset")
	l.persist(ctx, snap)
}

// ResetIdentity forgets identity. Resetting an untracked identity does
// nothing.
func (l *Limiter) ResetIdentity(ctx context.Context, identity string) {
	l.mu.Lock()
	if !l.identities.Remove(identity) {
		l.mu.Unlock()
		return
	}
	snap := l.snapshotLocked()
	l.mu.Unlock()

	l.log.Info("identity rate limit reset", zap.String("identity", identity))
	l.persist(ctx, snap)
}

// ClearIdentities forgets every identity and returns how many were tracked.
func (l *Limiter) ClearIdentities(ctx context.Context) int {
	l.mu.Lock()
	n := l.identities.Clear()
	snap := l.snapshotLocked()
	l.mu.Unlock()

	l.log.Info("identity rate limits cleared", zap.Int("count", n))
	l.persist(ctx, snap)
	return n
}

// AttemptsRemainingGlobal returns how many failures the global bucket
// tolerates before a lockout.
func (l *Limiter) AttemptsRemainingGlobal() uint32 {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.global.AttemptsRemaining(now, l.config)
}

// AttemptsRemainingIdentity returns how many failures identity tolerates
// before a lockout.
func (l *Limiter) AttemptsRemainingIdentity(identity string) uint32 {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, _ := l.identities.Get(identity)
	return b.AttemptsRemaining(now, l.config)
}

// IsLockedOutGlobal reports whether the global lockout is active.
func (l *Limiter) IsLockedOutGlobal() bool {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.global.IsLockedOut(now)
}

// IsLockedOutIdentity reports whether identity is locked out. An empty
// identity never is.
func (l *Limiter) IsLockedOutIdentity(identity string) bool {
	if identity == "" {
		return false
	}

	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, _ := l.identities.Get(identity)
	return b.IsLockedOut(now)
}

// RemainingLockoutGlobal returns the remaining global lockout in whole
// seconds.
func (l *Limiter) RemainingLockoutGlobal() time.Duration {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.global.RemainingLockout(now)
}

// RemainingLockoutIdentity returns the remaining lockout of identity in whole
// seconds.
func (l *Limiter) RemainingLockoutIdentity(identity string) time.Duration {
	if identity == "" {
		return 0
	}

	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, _ := l.identities.Get(identity)
	return b.RemainingLockout(now)
}

// LockoutMultiplierGlobal returns the multiplier the next global lockout
// will use.
func (l *Limiter) LockoutMultiplierGlobal() uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.global.BackoffMultiplier
}

// GlobalInfo returns a copy of the global bucket.
func (l *Limiter) GlobalInfo() Bucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.global
}

// IdentityInfo returns the state of identity and false when it is not
// tracked.
func (l *Limiter) IdentityInfo(identity string) (Info, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.identities.Get(identity)
	if !ok {
		return Info{}, false
	}
	return Info{Identity: identity, Bucket: b}, true
}

// ListIdentities returns the state of every tracked identity.
func (l *Limiter) ListIdentities() []Info {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.identities.List()
}

// State returns a snapshot of the Limiter in its persisted form.
func (l *Limiter) State() State {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.stateLocked(now)
}

func (l *Limiter) stateLocked(now time.Time) State {
	return State{
		Version:     StateVersion,
		SavedAtUnix: now.Unix(),
		Global:      l.global,
		Identities:  l.identities.List(),
	}
}

// Save writes the current state to the storage. It does nothing when the
// write that followed the latest mutation succeeded, so calling Save after a
// mutation reports the error of that best-effort write without writing twice.
func (l *Limiter) Save(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	if l.storage == nil {
		return ErrNoStorage
	}

	l.saveMu.Lock()
	saved := l.savedGeneration
	l.saveMu.Unlock()

	l.mu.Lock()
	if l.generation > 0 && l.generation == saved {
		l.mu.Unlock()
		return nil
	}
	snap := l.snapshotLocked()
	l.mu.Unlock()

	return l.write(ctx, snap)
}

// Load replaces the current state with the state read from the storage. It
// returns ErrNothingToLoad when the storage is empty.
//
// On any other error, including a corrupt or unsupported blob, Load returns
// the error and leaves the current state untouched rather than resetting
// it, so a damaged storage cannot wipe active lockouts. New starts fresh in
// that case; Open reports it.
func (l *Limiter) Load(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	if l.storage == nil {
		return ErrNothingToLoad
	}

	data, err := l.storage.Load(ctx)
	if err != nil {
		if errs.Is(err, statedb.ErrNotFound) {
			return ErrNothingToLoad
		}
		return Error.Wrap(err)
	}

	var state State
	if err := state.UnmarshalBinary(data); err != nil {
		return err
	}

	l.mu.Lock()
	l.global = normalizeLoaded(state.Global)
	l.identities.Clear()
	for _, info := range state.Identities {
		if info.Identity == "" {
			continue
		}
		l.identities.put(info.Identity, normalizeLoaded(info.Bucket))
	}
	l.mu.Unlock()

	l.log.Debug("rate limit state loaded",
		zap.Int("identities", len(state.Identities)),
		zap.Time("saved_at", time.Unix(state.SavedAtUnix, 0)))

	return nil
}

func normalizeLoaded(b Bucket) Bucket {
	if b.BackoffMultiplier < 1 {
		b.BackoffMultiplier = 1
	}
	return b
}

// snapshot is a state copy taken inside the critical section.
type snapshot struct {
	generation uint64
	state      State
}

// snapshotLocked must be called with l.mu held. It returns nil when there
// is no storage to write to.
func (l *Limiter) snapshotLocked() *snapshot {
	if l.storage == nil {
		return nil
	}
	l.generation++
	return &snapshot{
		generation: l.generation,
		state:      l.stateLocked(l.now()),
	}
}

// write saves snap unless a newer snapshot has already been saved.
func (l *Limiter) write(ctx context.Context, snap *snapshot) error {
	data, err := snap.state.MarshalBinary()
	if err != nil {
		return Error.Wrap(err)
	}

	l.saveMu.Lock()
	defer l.saveMu.Unlock()

	if snap.generation <= l.savedGeneration {
		return nil
	}
	if err := l.storage.Save(ctx, data); err != nil {
		return Error.Wrap(err)
	}
	l.savedGeneration = snap.generation
	return nil
}

// persist is the best-effort write that follows every mutation.
func (l *Limiter) persist(ctx context.Context, snap *snapshot) {
	if snap == nil {
		return
	}
	if err := l.write(ctx, snap); err != nil {
		mon.Event("failrate_persist_failed")
		if l.warn.Allow() {
			l.log.Warn("failed to persist rate limit state", zap.Error(err))
		}
	}
}

func (l *Limiter) deliver(t transition) {
	switch t.kind {
	case exceeded:
		mon.Event("failrate_lockout", monkit.NewSeriesTag("scope", t.scope()))
		mon.Counter("failrate_lockouts", monkit.NewSeriesTag("scope", t.scope())).Inc(1)
		mon.IntVal("failrate_lockout_seconds").Observe(int64(t.lockout / time.Second))

		l.log.Info("rate limit exceeded",
			zap.String("scope", t.scope()),
			zap.String("identity", t.identity),
			zap.Duration("lockout", t.lockout),
			zap.Uint32("failed_attempts", t.failed),
			zap.Uint32("multiplier", t.multiplier))

		for _, n := range l.notifiers {
			if t.identity == "" {
				n.GlobalExceeded(t.lockout)
			} else {
				n.IdentityExceeded(t.identity, t.lockout)
			}
		}
	case expired:
		mon.Event("failrate_lockout_cleared", monkit.NewSeriesTag("scope", t.scope()))

		l.log.Info("lockout cleared by successful attempt",
			zap.String("scope", t.scope()),
			zap.String("identity", t.identity))

		for _, n := range l.notifiers {
			if t.identity == "" {
				n.GlobalExpired()
			} else {
				n.IdentityExpired(t.identity)
			}
		}
	}
}
